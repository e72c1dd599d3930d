package policy

import (
	"time"

	"github.com/antigravity-dev/orchestrator/internal/config"
	"github.com/antigravity-dev/orchestrator/internal/model"
)

// RetryCounter is the narrow slice of store.Document that Evaluate needs
// for the retry-cap check. A separate interface (rather than depending on
// *store.Document directly) keeps this package from ever being tempted to
// mutate autonomy state — it can only read a count.
type RetryCounter interface {
	GetErrorRetryCount(project string) int
}

// Policy is the autonomy gate. It holds no mutable state of its own beyond
// the cooldown tracker; everything else is read fresh from config and the
// state document on every Evaluate call.
type Policy struct {
	cooldowns *CooldownTracker
}

// New returns a Policy backed by cooldowns, a tracker shared with the
// Decision Executor so a just-executed action is immediately visible.
func New(cooldowns *CooldownTracker) *Policy {
	return &Policy{cooldowns: cooldowns}
}

// Evaluate runs each recommendation through the seven-step gate: unknown
// project, unknown action, protected project, cooldown, retry cap and
// autonomy matrix are checked in order, and the first failing check short
// circuits the rest for that recommendation. The seventh step, observe-only
// marking, applies to every recommendation, blocked or allowed.
func (p *Policy) Evaluate(cfg *config.Config, retries RetryCounter, level model.AutonomyLevel, recs []model.Recommendation, now time.Time) []model.EvaluatedRecommendation {
	out := make([]model.EvaluatedRecommendation, 0, len(recs))
	for _, rec := range recs {
		out = append(out, p.evaluateOne(cfg, retries, level, rec, now))
	}
	return out
}

func (p *Policy) evaluateOne(cfg *config.Config, retries RetryCounter, level model.AutonomyLevel, rec model.Recommendation, now time.Time) model.EvaluatedRecommendation {
	evaluated := model.EvaluatedRecommendation{
		Recommendation: rec,
		DecidedAt:      now,
		// 7. Observe-only marking: set from the runtime level alone, so a
		// recommendation blocked by an earlier step still carries it. At
		// observe nothing is executed; the decision is only logged.
		ObserveOnly: level == model.LevelObserve,
	}

	// 1. Unknown project. A free-form notify carries no project, so it
	// skips project resolution entirely rather than being rejected.
	if !(rec.Action == model.ActionNotify && rec.Project == "") {
		if _, known := cfg.Projects[rec.Project]; !known {
			evaluated.BlockedReason = model.BlockedUnknownProject
			return evaluated
		}
	}

	// 2. Unknown action.
	if !model.ValidAction(rec.Action) {
		evaluated.BlockedReason = model.BlockedUnknownAction
		return evaluated
	}

	// 3. Protected project: reject outright, no further checks.
	if isProtected(cfg.AI.ProtectedProjects, rec.Project) {
		evaluated.BlockedReason = model.BlockedProtected
		return evaluated
	}

	// 4. Cooldown.
	sameProject := time.Duration(cfg.AI.Cooldowns.SameProjectMs) * time.Millisecond
	sameAction := time.Duration(cfg.AI.Cooldowns.SameActionMs) * time.Millisecond
	if p.cooldowns != nil && !p.cooldowns.Ready(rec.Project, rec.Action, sameProject, sameAction, now) {
		evaluated.BlockedReason = model.BlockedCooldown
		return evaluated
	}

	// 5. Retry cap.
	maxRetries := cfg.AI.MaxErrorRetries
	if maxRetries > 0 && retries != nil && retries.GetErrorRetryCount(rec.Project) >= maxRetries {
		evaluated.BlockedReason = model.BlockedRetryCap
		return evaluated
	}

	// 6. Autonomy matrix.
	if !Allowed(level, rec.Action) {
		evaluated.Allowed = false
		evaluated.BlockedReason = model.BlockedAutonomy
		return evaluated
	}

	evaluated.Allowed = true
	return evaluated
}

func isProtected(protected []string, project string) bool {
	for _, p := range protected {
		if p == project {
			return true
		}
	}
	return false
}
