// Package think implements the adaptive Think Loop: one think-evaluate-
// execute cycle at a time, gated by a non-reentrant mutex and the LLM
// recommendation schema described in spec.md §4.6.
package think

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/broker"
	"github.com/antigravity-dev/orchestrator/internal/config"
	ctxasm "github.com/antigravity-dev/orchestrator/internal/context"
	"github.com/antigravity-dev/orchestrator/internal/executor"
	"github.com/antigravity-dev/orchestrator/internal/model"
	"github.com/antigravity-dev/orchestrator/internal/policy"
	"github.com/antigravity-dev/orchestrator/internal/resource"
)

const (
	defaultThinkInterval = 10 * time.Minute
	minNextThinkSec      = 60
	maxNextThinkSec       = 1800
	defaultLLMTimeout    = 60 * time.Second
)

// LLM is the narrow slice of broker.Broker the Think Loop invokes.
type LLM interface {
	InvokeLLM(ctx context.Context, prompt string, opts broker.LLMOptions) (string, error)
}

// DocumentStore is the narrow slice of store.Document the Think Loop reads
// and writes each cycle.
type DocumentStore interface {
	AutonomyLevel() model.AutonomyLevel
	LogDecision(rec model.DecisionRecord) error
	GetErrorRetryCount(project string) int
}

// Notifier is the narrow slice of the Notifier the Think Loop drives.
type Notifier interface {
	Notify(tier model.NotificationTier, text string) error
	FormatObserveBatch(evaluated []model.EvaluatedRecommendation) (text, hash string, ok bool)
	NotifyDeduped(tier model.NotificationTier, text, hash string) error
}

// resourceProber adapts a resource.Snapshot to executor.ResourceProber.
type resourceProber struct{ snap resource.Snapshot }

func (p resourceProber) FreeMemoryMB() int64 { return p.snap.MemAvailableMB }

// Loop is the Think Loop described in spec.md §4.6.
type Loop struct {
	cfgMgr    config.ConfigManager
	assembler *ctxasm.Assembler
	llm       LLM
	policy    *policy.Policy
	executor  *executor.Executor
	doc       DocumentStore
	notifier  Notifier
	log       *slog.Logger

	thinking          sync.Mutex
	mu                sync.Mutex
	lastThinkAt       time.Time
	nextThinkOverride time.Duration
}

// New constructs a Loop.
func New(cfgMgr config.ConfigManager, assembler *ctxasm.Assembler, llm LLM, pol *policy.Policy, exec *executor.Executor, doc DocumentStore, notifier Notifier, log *slog.Logger) *Loop {
	return &Loop{cfgMgr: cfgMgr, assembler: assembler, llm: llm, policy: pol, executor: exec, doc: doc, notifier: notifier, log: log}
}

// Run blocks until ctx is cancelled, driving think cycles on an adaptive
// timer. A cycle already in progress when the timer fires is not
// reentered — the tick is simply dropped, per spec.md's ordering rule.
func (l *Loop) Run(ctx context.Context) {
	timer := time.NewTimer(l.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.drain()
			return
		case <-timer.C:
			l.tick(ctx)
			timer.Reset(l.nextInterval())
		}
	}
}

// drain waits up to the LLM timeout for an in-flight cycle to finish, so a
// graceful shutdown never cuts off a cycle that's already invoking the LLM.
func (l *Loop) drain() {
	done := make(chan struct{})
	go func() {
		l.thinking.Lock()
		l.thinking.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(defaultLLMTimeout):
	}
}

func (l *Loop) nextInterval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.nextThinkOverride > 0 {
		interval := l.nextThinkOverride
		l.nextThinkOverride = 0
		return interval
	}
	return defaultThinkInterval
}

// tick runs one think-evaluate-execute cycle on the regular timer. step 1:
// acquire the non-reentrant mutex; a concurrent caller is skipped, not
// queued.
func (l *Loop) tick(ctx context.Context) {
	if !l.thinking.TryLock() {
		l.log.Debug("think: cycle already in progress, skipping tick")
		return
	}
	defer l.thinking.Unlock()
	l.runCycle(ctx, false)
}

// TriggerNow runs one think cycle on demand, from the operator command
// surface. Unlike the timer-driven tick, it blocks for the mutex rather
// than skipping, and marks its LLM call as operator-initiated, so the
// broker posts a preempt signal when its semaphore is full; the call still
// waits for a free slot.
func (l *Loop) TriggerNow(ctx context.Context) {
	l.thinking.Lock()
	defer l.thinking.Unlock()
	l.runCycle(ctx, true)
}

func (l *Loop) runCycle(ctx context.Context, operator bool) {
	started := time.Now()
	cfg := l.cfgMgr.Get()
	if !cfg.AI.Enabled {
		return
	}

	snap, err := resource.Collect(ctx, 200*time.Millisecond)
	if err != nil || !snap.HasHeadroom(cfg.AI.ResourceLimits.MinFreeMemoryMB) {
		l.log.Debug("think: insufficient resources, skipping cycle")
		return
	}

	level := l.doc.AutonomyLevel()
	prompt := l.assembler.Assemble(started, level, snap)

	raw, err := l.llm.InvokeLLM(ctx, prompt, broker.LLMOptions{
		Model:    cfg.AI.Model,
		Schema:   responseSchema,
		Timeout:  defaultLLMTimeout,
		Operator: operator,
	})
	if err != nil {
		l.logAndNotifyError(started, fmt.Sprintf("LLM invocation failed: %v", err))
		return
	}

	resp, err := parseResponse(raw)
	if err != nil {
		l.logAndNotifyError(started, fmt.Sprintf("failed to parse LLM response: %v", err))
		return
	}

	evaluated := l.policy.Evaluate(cfg, l.doc, level, resp.Recommendations, started)

	decision := model.DecisionRecord{
		TS:              started,
		Summary:         resp.Summary,
		Recommendations: resp.Recommendations,
		Evaluated:       evaluated,
		DurationMs:      time.Since(started).Milliseconds(),
		NextThinkInSec:  resp.NextThinkInSec,
	}

	if level == model.LevelObserve {
		if text, hash, ok := l.notifier.FormatObserveBatch(evaluated); ok {
			_ = l.notifier.NotifyDeduped(model.TierSummary, text, hash)
		}
	} else {
		records := l.executor.ExecuteBatch(ctx, cfg, resourceProber{snap: snap}, evaluated)
		_ = records
	}

	if err := l.doc.LogDecision(decision); err != nil {
		l.log.Error("think: failed to log decision", "error", err)
	}

	l.setNextThinkOverride(resp.NextThinkInSec)
	l.mu.Lock()
	l.lastThinkAt = started
	l.mu.Unlock()
}

func (l *Loop) logAndNotifyError(ts time.Time, msg string) {
	decision := model.DecisionRecord{TS: ts, Error: msg, DurationMs: time.Since(ts).Milliseconds()}
	if err := l.doc.LogDecision(decision); err != nil {
		l.log.Error("think: failed to log error decision", "error", err)
	}
	_ = l.notifier.Notify(model.TierSummary, msg)
}

func (l *Loop) setNextThinkOverride(nextSec *int) {
	if nextSec == nil {
		return
	}
	clamped := *nextSec
	if clamped < minNextThinkSec {
		clamped = minNextThinkSec
	}
	if clamped > maxNextThinkSec {
		clamped = maxNextThinkSec
	}
	l.mu.Lock()
	l.nextThinkOverride = time.Duration(clamped) * time.Second
	l.mu.Unlock()
}

// llmResponse is the constrained-decoding shape the LLM brain must return.
type llmResponse struct {
	Summary         string                  `json:"summary"`
	Recommendations []model.Recommendation `json:"recommendations"`
	NextThinkInSec  *int                    `json:"nextThinkInSec,omitempty"`
}

func parseResponse(raw string) (llmResponse, error) {
	var resp llmResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return llmResponse{}, fmt.Errorf("think: unmarshal llm response: %w", err)
	}
	for _, rec := range resp.Recommendations {
		if !model.ValidAction(rec.Action) {
			return llmResponse{}, fmt.Errorf("think: recommendation for %q has invalid action %q", rec.Project, rec.Action)
		}
	}
	return resp, nil
}

var responseSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "summary": {"type": "string"},
    "recommendations": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "project": {"type": "string"},
          "action": {"type": "string", "enum": ["start", "stop", "restart", "notify", "skip"]},
          "reason": {"type": "string"},
          "prompt": {"type": "string"},
          "confidence": {"type": "number"},
          "notificationTier": {"type": "integer"}
        },
        "required": ["project", "action", "reason"]
      }
    },
    "nextThinkInSec": {"type": "integer"}
  },
  "required": ["summary", "recommendations"]
}`)
