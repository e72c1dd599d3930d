package policy

import (
	"sync"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

// CooldownTracker enforces a minimum gap between executions, both per
// project and per (project, action) pair. It is shared between Evaluate
// (the read side) and the Decision Executor (the write side, via Record)
// so a successful execution is immediately visible to the next think cycle.
type CooldownTracker struct {
	mu             sync.Mutex
	lastByProject  map[string]time.Time
	lastByPair     map[string]time.Time
}

// NewCooldownTracker returns an empty, ready-to-use tracker.
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{
		lastByProject: make(map[string]time.Time),
		lastByPair:    make(map[string]time.Time),
	}
}

func pairKey(project string, action model.Action) string {
	return project + "\x00" + string(action)
}

// Ready reports whether enough time has elapsed since the last execution
// for this project (sameProject window) and for this exact (project,
// action) pair (sameAction window).
func (c *CooldownTracker) Ready(project string, action model.Action, sameProject, sameAction time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.lastByProject[project]; ok && now.Sub(last) < sameProject {
		return false
	}
	if last, ok := c.lastByPair[pairKey(project, action)]; ok && now.Sub(last) < sameAction {
		return false
	}
	return true
}

// Record stamps project and (project, action) as having just run, so the
// next Evaluate call observes the new cooldown window.
func (c *CooldownTracker) Record(project string, action model.Action, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastByProject[project] = at
	c.lastByPair[pairKey(project, action)] = at
}
