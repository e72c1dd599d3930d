// Package evaluator scores a just-ended coding session against objective
// git evidence and captured output, producing an EvaluationRecord.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/broker"
	"github.com/antigravity-dev/orchestrator/internal/git"
	"github.com/antigravity-dev/orchestrator/internal/learner"
	"github.com/antigravity-dev/orchestrator/internal/model"
)

const (
	scrollbackLines    = 200
	outputCharLimit    = 2000
	promptCharLimit    = 500
	llmTimeout         = 30 * time.Second
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes terminal control sequences from captured scrollback.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// SessionCapture is the narrow slice of the session manager the Evaluator
// needs to pull scrollback from an ended session.
type SessionCapture interface {
	CaptureOutput(sessionName string) (string, error)
}

// LLM is the narrow slice of broker.Broker the Evaluator invokes.
type LLM interface {
	InvokeLLM(ctx context.Context, prompt string, opts broker.LLMOptions) (string, error)
}

// RelationalStore is the dual-write target for the session-learner table.
// Its failure is non-fatal to the evaluation itself.
type RelationalStore interface {
	RecordSessionEvaluation(row SessionEvaluationInput) (int64, error)
}

// SessionEvaluationInput mirrors store.SessionEvaluationRow's writable
// fields, kept here so this package doesn't need to import internal/store
// just for a struct literal.
type SessionEvaluationInput struct {
	SessionID       string
	ProjectName     string
	StartedAt       time.Time
	StoppedAt       time.Time
	DurationMinutes float64
	CommitCount     int
	Insertions      int
	Deletions       int
	FilesChanged    int
	Score           int
	Recommendation  string
	PromptSnippet   string
	PromptStyle     string
	EvaluatedAt     time.Time
}

// DocumentStore is the narrow slice of store.Document the Evaluator appends
// the capped evaluation history to.
type DocumentStore interface {
	LogEvaluation(rec model.EvaluationRecord) error
}

// Notifier is the narrow slice of the Notifier a low score alerts through.
type Notifier interface {
	Notify(tier model.NotificationTier, text string) error
}

// Evaluator is the Session Evaluator described in spec.md §4.4.
type Evaluator struct {
	capture    SessionCapture
	llm        LLM
	doc        DocumentStore
	relational RelationalStore
	notifier   Notifier
	model      string

	// artifactsDir is the root under which each project's latest
	// evaluation artifact is written, at <artifactsDir>/<project>/latest-evaluation.json.
	artifactsDir string
}

// New constructs an Evaluator.
func New(capture SessionCapture, llm LLM, doc DocumentStore, relational RelationalStore, notifier Notifier, model, artifactsDir string) *Evaluator {
	return &Evaluator{capture: capture, llm: llm, doc: doc, relational: relational, notifier: notifier, model: model, artifactsDir: artifactsDir}
}

// Evaluate runs the full 8-step pipeline for a just-ended session and
// returns the resulting EvaluationRecord. Sessions already evaluated (an
// artifact exists with evaluatedAt > startedAt) are skipped: Evaluate
// checks the artifact first and returns the stored record without
// capturing output or calling the LLM, so it is safe to call
// unconditionally.
func (e *Evaluator) Evaluate(ctx context.Context, sess model.Session, workspace string) (model.EvaluationRecord, error) {
	if existing, ok := e.readArtifact(sess.ProjectName); ok && existing.EvaluatedAt.After(sess.StartedAt) {
		return existing, nil
	}

	rawOutput, _ := e.capture.CaptureOutput(sess.SessionName)
	output := truncate(lastLines(StripANSI(rawOutput), scrollbackLines), outputCharLimit)

	progress := git.ProgressSince(workspace, sess.StartedAt)

	stoppedAt := time.Now()
	duration := stoppedAt.Sub(sess.StartedAt).Minutes()

	rec := model.EvaluationRecord{
		SessionID:   sess.SessionName,
		ProjectName: sess.ProjectName,
		StartedAt:   sess.StartedAt,
		StoppedAt:   stoppedAt,
		DurationMinutes: duration,
		GitProgress: progress,
		EvaluatedAt: stoppedAt,
	}

	result, err := e.invokeRubric(ctx, sess, progress, duration, output)
	if err != nil {
		result = heuristicFallback(progress)
	}
	rec.Score = result.Score
	rec.Recommendation = result.Recommendation
	rec.Accomplishments = result.Accomplishments
	rec.Failures = result.Failures
	rec.Reasoning = result.Reasoning

	if err := e.writeArtifact(sess.ProjectName, rec); err != nil {
		return rec, fmt.Errorf("evaluator: write artifact: %w", err)
	}
	if err := e.doc.LogEvaluation(rec); err != nil {
		return rec, fmt.Errorf("evaluator: log evaluation: %w", err)
	}

	// Dual-write to the relational session-learner table; non-fatal.
	if e.relational != nil {
		_, _ = e.relational.RecordSessionEvaluation(SessionEvaluationInput{
			SessionID:       sess.SessionName,
			ProjectName:     sess.ProjectName,
			StartedAt:       sess.StartedAt,
			StoppedAt:       stoppedAt,
			DurationMinutes: duration,
			CommitCount:     progress.CommitCount,
			Insertions:      progress.Insertions,
			Deletions:       progress.Deletions,
			FilesChanged:    progress.FilesChanged,
			Score:           rec.Score,
			Recommendation:  string(rec.Recommendation),
			PromptSnippet:   truncate(sess.Prompt, promptCharLimit),
			PromptStyle:     string(learner.ClassifyPrompt(sess.Prompt)),
			EvaluatedAt:     stoppedAt,
		})
	}

	if rec.Score <= 2 && e.notifier != nil {
		e.notifier.Notify(model.TierAction, fmt.Sprintf("%s evaluated %d/5: %s", sess.ProjectName, rec.Score, truncate(rec.Reasoning, 200)))
	}

	return rec, nil
}

type rubricResult struct {
	Score           int                      `json:"score"`
	Recommendation  model.EvalRecommendation `json:"recommendation"`
	Accomplishments []string                 `json:"accomplishments"`
	Failures        []string                 `json:"failures"`
	Reasoning       string                   `json:"reasoning"`
}

func (e *Evaluator) invokeRubric(ctx context.Context, sess model.Session, progress model.GitProgress, duration float64, output string) (rubricResult, error) {
	prompt := buildRubricPrompt(sess, progress, duration, output)
	raw, err := e.llm.InvokeLLM(ctx, prompt, broker.LLMOptions{
		Model:   e.model,
		Schema:  rubricSchema,
		Timeout: llmTimeout,
	})
	if err != nil {
		return rubricResult{}, err
	}

	var result rubricResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return rubricResult{}, fmt.Errorf("evaluator: parse rubric response: %w", err)
	}
	if result.Score < 1 || result.Score > 5 {
		return rubricResult{}, fmt.Errorf("evaluator: rubric score %d out of range", result.Score)
	}
	return result, nil
}

var rubricSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "score": {"type": "integer", "minimum": 1, "maximum": 5},
    "recommendation": {"type": "string", "enum": ["continue", "retry", "escalate", "complete"]},
    "accomplishments": {"type": "array", "items": {"type": "string"}},
    "failures": {"type": "array", "items": {"type": "string"}},
    "reasoning": {"type": "string"}
  },
  "required": ["score", "recommendation", "reasoning"]
}`)

func buildRubricPrompt(sess model.Session, progress model.GitProgress, duration float64, output string) string {
	evidence := "no git repository; judge on output alone"
	if !progress.NoGit {
		evidence = fmt.Sprintf(
			"commits=%d insertions=%d deletions=%d filesChanged=%d lastCommit=%q",
			progress.CommitCount, progress.Insertions, progress.Deletions, progress.FilesChanged, progress.LastCommitMsg,
		)
	}
	return fmt.Sprintf(`Score this coding session from 1 to 5:
1 = no progress or actively harmful changes
2 = minimal progress, likely incomplete or broken
3 = some progress, partial completion
4 = solid progress, mostly complete
5 = task fully completed with clean evidence

Duration: %.1f minutes
Objective evidence: %s

Original prompt (truncated):
%s

Captured session output (truncated):
%s`,
		duration, evidence, truncate(sess.Prompt, promptCharLimit), output,
	)
}

// heuristicFallback is used when the LLM call fails or returns an invalid
// object: commit count alone decides the score.
func heuristicFallback(progress model.GitProgress) rubricResult {
	score := 1
	switch {
	case progress.CommitCount >= 3:
		score = 4
	case progress.CommitCount >= 1:
		score = 3
	}
	return rubricResult{
		Score:          score,
		Recommendation: model.EvalContinue,
		Reasoning:      "heuristic fallback: scored from commit count alone",
	}
}

func (e *Evaluator) artifactPath(project string) string {
	return filepath.Join(e.artifactsDir, project, "latest-evaluation.json")
}

func (e *Evaluator) readArtifact(project string) (model.EvaluationRecord, bool) {
	data, err := os.ReadFile(e.artifactPath(project))
	if err != nil {
		return model.EvaluationRecord{}, false
	}
	var rec model.EvaluationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.EvaluationRecord{}, false
	}
	return rec, true
}

func (e *Evaluator) writeArtifact(project string, rec model.EvaluationRecord) error {
	path := e.artifactPath(project)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".evaluation-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// lastLines keeps at most the final n lines of s, the bound most recent
// terminal scrollback a reviewer (or a rubric prompt) actually needs.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
