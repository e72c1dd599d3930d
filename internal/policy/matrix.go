// Package policy implements the autonomy matrix: the single gate between a
// recommendation the LLM brain proposes and a side effect the supervisor is
// actually permitted to perform.
package policy

import "github.com/antigravity-dev/orchestrator/internal/model"

// matrix[level][action] reports whether the action is permitted at that
// autonomy level. observe permits only "skip"; cautious adds start/notify;
// moderate and full permit everything in the allowlist.
var matrix = map[model.AutonomyLevel]map[model.Action]bool{
	model.LevelObserve: {
		model.ActionStart:   false,
		model.ActionStop:    false,
		model.ActionRestart: false,
		model.ActionNotify:  false,
		model.ActionSkip:    true,
	},
	model.LevelCautious: {
		model.ActionStart:   true,
		model.ActionStop:    false,
		model.ActionRestart: false,
		model.ActionNotify:  true,
		model.ActionSkip:    true,
	},
	model.LevelModerate: {
		model.ActionStart:   true,
		model.ActionStop:    true,
		model.ActionRestart: true,
		model.ActionNotify:  true,
		model.ActionSkip:    true,
	},
	model.LevelFull: {
		model.ActionStart:   true,
		model.ActionStop:    true,
		model.ActionRestart: true,
		model.ActionNotify:  true,
		model.ActionSkip:    true,
	},
}

// Allowed reports whether action may run at level per the autonomy matrix.
func Allowed(level model.AutonomyLevel, action model.Action) bool {
	row, ok := matrix[level]
	if !ok {
		return false
	}
	return row[action]
}
