package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

const (
	decisionHistoryCap   = 50
	executionHistoryCap  = 100
	evaluationHistoryCap = 100
	conversationCap      = 200
)

// State is the high-churn, low-cardinality document persisted as JSON.
type State struct {
	StateVersion      int64                     `json:"stateVersion"`
	AutonomyLevel     model.AutonomyLevel       `json:"autonomyLevel"`
	Decisions         []model.DecisionRecord    `json:"decisions"`
	Executions        []model.ExecutionRecord   `json:"executions"`
	Evaluations       []model.EvaluationRecord  `json:"evaluations"`
	ErrorRetryCounts  map[string]int            `json:"errorRetryCounts"`
	Conversation      []model.ConversationEntry `json:"conversation"`
}

func newState() *State {
	return &State{
		AutonomyLevel:    model.LevelObserve,
		ErrorRetryCounts: make(map[string]int),
	}
}

// Document is the atomic-write JSON half of the Persistent State Store.
type Document struct {
	mu   sync.Mutex
	path string
	s    *State
}

// OpenDocument loads path if it exists, or starts from defaults.
func OpenDocument(path string) (*Document, error) {
	d := &Document{path: path, s: newState()}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

// load materializes the document with defaults for any missing fields,
// so older documents written by a previous version remain readable.
func (d *Document) load() error {
	data, err := os.ReadFile(d.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read state document: %w", err)
	}

	loaded := newState()
	if err := json.Unmarshal(data, loaded); err != nil {
		return fmt.Errorf("store: parse state document: %w", err)
	}
	if loaded.ErrorRetryCounts == nil {
		loaded.ErrorRetryCounts = make(map[string]int)
	}
	d.s = loaded
	return nil
}

// save writes the document atomically via write-to-temp + rename.
func (d *Document) save() error {
	data, err := json.MarshalIndent(d.s, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal state document: %w", err)
	}

	dir := filepath.Dir(d.path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, d.path); err != nil {
		return fmt.Errorf("store: rename temp state file: %w", err)
	}
	return nil
}

// Load returns a copy of the current in-memory state.
func (d *Document) Load() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cloneLocked()
}

func (d *Document) cloneLocked() State {
	out := *d.s
	out.Decisions = append([]model.DecisionRecord(nil), d.s.Decisions...)
	out.Executions = append([]model.ExecutionRecord(nil), d.s.Executions...)
	out.Evaluations = append([]model.EvaluationRecord(nil), d.s.Evaluations...)
	out.Conversation = append([]model.ConversationEntry(nil), d.s.Conversation...)
	out.ErrorRetryCounts = make(map[string]int, len(d.s.ErrorRetryCounts))
	for k, v := range d.s.ErrorRetryCounts {
		out.ErrorRetryCounts[k] = v
	}
	return out
}

// mutate runs one read-modify-save cycle: it applies mutateFn to the
// in-memory state, increments StateVersion and saves, all while holding
// the document mutex. Writers are serialized by that mutex, so there is
// no version-conflict check and no retry.
func (d *Document) mutate(mutateFn func(s *State)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	startVersion := d.s.StateVersion
	mutateFn(d.s)
	d.s.StateVersion++

	if err := d.save(); err != nil {
		// Save failed: keep the in-memory mutation (callers see it
		// applied) but surface the failure so the caller can notify
		// tier-2 and rely on the next write to retry persistence.
		return fmt.Errorf("store: save state (version %d -> %d): %w", startVersion, d.s.StateVersion, err)
	}
	return nil
}

// SetAutonomyLevel validates and persists the runtime autonomy level.
// Never called by anything except the operator command path.
func (d *Document) SetAutonomyLevel(level model.AutonomyLevel) error {
	if level < model.LevelObserve || level > model.LevelFull {
		return fmt.Errorf("store: invalid autonomy level %d", int(level))
	}
	return d.mutate(func(s *State) {
		s.AutonomyLevel = level
	})
}

// AutonomyLevel reads the runtime level fresh, so policy evaluation always
// sees operator overrides immediately.
func (d *Document) AutonomyLevel() model.AutonomyLevel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.AutonomyLevel
}

// LogDecision appends a capped decision record.
func (d *Document) LogDecision(rec model.DecisionRecord) error {
	return d.mutate(func(s *State) {
		s.Decisions = appendCapped(s.Decisions, rec, decisionHistoryCap)
	})
}

// LogExecution appends a capped execution record, stamping it with the
// state version the write will produce.
func (d *Document) LogExecution(rec model.ExecutionRecord) error {
	return d.mutate(func(s *State) {
		rec.StateVersion = s.StateVersion + 1
		s.Executions = appendCapped(s.Executions, rec, executionHistoryCap)
	})
}

// LogEvaluation appends a capped evaluation record.
func (d *Document) LogEvaluation(rec model.EvaluationRecord) error {
	return d.mutate(func(s *State) {
		s.Evaluations = appendCapped(s.Evaluations, rec, evaluationHistoryCap)
	})
}

// RecordErrorRetry increments the per-project error-retry counter.
func (d *Document) RecordErrorRetry(project string) error {
	return d.mutate(func(s *State) {
		s.ErrorRetryCounts[project]++
	})
}

// GetErrorRetryCount reads the per-project counter without mutating.
func (d *Document) GetErrorRetryCount(project string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.ErrorRetryCounts[project]
}

// ResetErrorRetry clears the per-project counter (e.g. on a successful start).
func (d *Document) ResetErrorRetry(project string) error {
	return d.mutate(func(s *State) {
		delete(s.ErrorRetryCounts, project)
	})
}

// AppendConversation appends a TTL/cap-pruned conversation entry.
func (d *Document) AppendConversation(entry model.ConversationEntry, ttl time.Duration) error {
	return d.mutate(func(s *State) {
		now := entry.TS
		pruned := s.Conversation[:0]
		for _, e := range s.Conversation {
			if ttl <= 0 || now.Sub(e.TS) <= ttl {
				pruned = append(pruned, e)
			}
		}
		s.Conversation = appendCapped(pruned, entry, conversationCap)
	})
}

// RecentDecisions returns up to the last n decision records, newest last.
func (d *Document) RecentDecisions(n int) []model.DecisionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lastN(d.s.Decisions, n)
}

// ExecutionsSince returns execution records timestamped at or after since.
func (d *Document) ExecutionsSince(since time.Time) []model.ExecutionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.ExecutionRecord
	for _, e := range d.s.Executions {
		if !e.TS.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

// EvaluationsSince returns evaluation records evaluated at or after since.
func (d *Document) EvaluationsSince(since time.Time) []model.EvaluationRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.EvaluationRecord
	for _, e := range d.s.Evaluations {
		if !e.EvaluatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

// RecentConversation returns up to the last n conversation entries, newest last.
func (d *Document) RecentConversation(n int) []model.ConversationEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lastN(d.s.Conversation, n)
}

func lastN[T any](slice []T, n int) []T {
	if n <= 0 || len(slice) <= n {
		return append([]T(nil), slice...)
	}
	return append([]T(nil), slice[len(slice)-n:]...)
}

func appendCapped[T any](slice []T, item T, limit int) []T {
	slice = append(slice, item)
	if len(slice) > limit {
		slice = slice[len(slice)-limit:]
	}
	return slice
}
