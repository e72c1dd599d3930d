// Package executor runs the just-in-time preconditions and side effects
// for an EvaluatedRecommendation the Autonomy Policy already allowed.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/config"
	"github.com/antigravity-dev/orchestrator/internal/git"
	"github.com/antigravity-dev/orchestrator/internal/model"
	"github.com/antigravity-dev/orchestrator/internal/policy"
	"github.com/antigravity-dev/orchestrator/internal/session"
)

// Notifier is the narrow slice of the Notifier component the Executor needs.
type Notifier interface {
	Notify(tier model.NotificationTier, text string) error
}

// StateStore is the narrow slice of store.Document the Executor mutates.
type StateStore interface {
	LogExecution(rec model.ExecutionRecord) error
	RecordErrorRetry(project string) error
	ResetErrorRetry(project string) error
	AutonomyLevel() model.AutonomyLevel
}

// ResourceProber reports current free memory for the start precondition.
type ResourceProber interface {
	FreeMemoryMB() int64
}

// Executor dispatches side effects for allowed recommendations, serialized
// per think cycle by the caller (spec.md requires sequential execution
// within a batch, not across it).
type Executor struct {
	registry  *session.Registry
	cooldowns *policy.CooldownTracker
	store     StateStore
	notifier  Notifier
}

// New constructs an Executor sharing a cooldown tracker with the Policy so
// a successful execution is immediately visible to the next Evaluate call.
func New(registry *session.Registry, cooldowns *policy.CooldownTracker, store StateStore, notifier Notifier) *Executor {
	return &Executor{registry: registry, cooldowns: cooldowns, store: store, notifier: notifier}
}

// ExecuteBatch runs execute() for each allowed, non-observe-only entry, in
// order, and returns one ExecutionRecord per attempt (skipping entries that
// aren't eligible to execute at all).
func (e *Executor) ExecuteBatch(ctx context.Context, cfg *config.Config, resources ResourceProber, evaluated []model.EvaluatedRecommendation) []model.ExecutionRecord {
	records := make([]model.ExecutionRecord, 0, len(evaluated))
	for _, ev := range evaluated {
		if !ev.Allowed || ev.ObserveOnly {
			continue
		}
		records = append(records, e.execute(ctx, cfg, resources, ev))
	}
	return records
}

// execute runs just-in-time preconditions and the side effect itself,
// then logs and notifies according to the outcome.
func (e *Executor) execute(ctx context.Context, cfg *config.Config, resources ResourceProber, ev model.EvaluatedRecommendation) model.ExecutionRecord {
	now := time.Now()
	level := e.store.AutonomyLevel()

	if blocked := e.checkPrecondition(cfg, resources, ev); blocked != "" {
		rec := model.ExecutionRecord{
			TS:            now,
			Action:        ev.Action,
			Project:       ev.Project,
			Result:        model.ExecutionBlocked,
			Error:         blocked,
			AutonomyLevel: level,
		}
		e.store.LogExecution(rec)
		e.notifier.Notify(model.TierSummary, fmt.Sprintf("blocked: %s %s (%s)", ev.Action, ev.Project, blocked))
		return rec
	}

	err := e.dispatch(ctx, cfg, ev)

	rec := model.ExecutionRecord{
		TS:            now,
		Action:        ev.Action,
		Project:       ev.Project,
		AutonomyLevel: level,
	}

	if err != nil {
		rec.Result = model.ExecutionFailed
		rec.Error = err.Error()
		e.store.LogExecution(rec)
		if ev.Action == model.ActionStart {
			e.store.RecordErrorRetry(ev.Project)
		}
		e.notifier.Notify(model.TierAction, fmt.Sprintf("%s %s failed: %v", ev.Action, ev.Project, err))
		return rec
	}

	rec.Result = model.ExecutionOK
	e.cooldowns.Record(ev.Project, ev.Action, now)
	if ev.Action == model.ActionStart {
		e.store.ResetErrorRetry(ev.Project)
	}
	e.store.LogExecution(rec)
	e.notifier.Notify(model.TierAction, fmt.Sprintf("%s %s succeeded", ev.Action, ev.Project))
	return rec
}

// checkPrecondition runs the just-in-time checks that evaluate() can't,
// because they depend on state at the instant of execution, not at
// evaluation time. Returns a non-empty reason string when blocked.
func (e *Executor) checkPrecondition(cfg *config.Config, resources ResourceProber, ev model.EvaluatedRecommendation) string {
	switch ev.Action {
	case model.ActionStart:
		if e.registry.IsRunning(ev.Project) {
			return "session already running"
		}
		if maxSessions := cfg.AI.MaxConcurrentSessions; maxSessions > 0 && e.registry.Count() >= maxSessions {
			return "concurrent session cap reached"
		}
		if resources != nil {
			minFree := cfg.AI.ResourceLimits.MinFreeMemoryMB
			if minFree > 0 && resources.FreeMemoryMB() < minFree {
				return "insufficient free memory"
			}
		}
	case model.ActionStop, model.ActionRestart:
		if !e.registry.IsRunning(ev.Project) {
			return "no session running"
		}
	}
	return ""
}

func (e *Executor) dispatch(ctx context.Context, cfg *config.Config, ev model.EvaluatedRecommendation) error {
	switch ev.Action {
	case model.ActionStart:
		return e.startSession(ctx, cfg, ev)
	case model.ActionStop:
		return e.registry.Stop(ev.Project)
	case model.ActionRestart:
		if err := e.registry.Stop(ev.Project); err != nil {
			return err
		}
		return e.startSession(ctx, cfg, ev)
	case model.ActionNotify:
		return e.notifier.Notify(model.TierAction, ev.Reason)
	case model.ActionSkip:
		return nil
	default:
		return fmt.Errorf("executor: unhandled action %q", ev.Action)
	}
}

func (e *Executor) startSession(ctx context.Context, cfg *config.Config, ev model.EvaluatedRecommendation) error {
	project := cfg.Projects[ev.Project]
	agent := cfg.SessionAgent
	prompt := ev.Prompt
	if prompt == "" {
		prompt = ev.Reason
	}

	agentCmd, err := session.BuildAgentShellCommand(agent.Command, agent.Model, prompt, agent.Flags)
	if err != nil {
		return fmt.Errorf("executor: build agent command: %w", err)
	}

	var headBefore string
	if git.IsGitRepo(project.Workspace) {
		headBefore, _ = git.HeadCommit(project.Workspace)
	}
	_, err = e.registry.Start(ctx, ev.Project, agentCmd, project.Workspace, prompt, headBefore)
	return err
}
