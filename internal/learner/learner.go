// Package learner classifies session prompts and aggregates historical
// evaluation outcomes into actionable patterns once enough data exists.
package learner

import (
	"regexp"
	"sync"

	"github.com/antigravity-dev/orchestrator/internal/store"
)

// PromptStyle is the keyword-classified category of a session's seed prompt.
type PromptStyle string

const (
	StyleFix       PromptStyle = "fix"
	StyleImplement PromptStyle = "implement"
	StyleExplore   PromptStyle = "explore"
	StyleResume    PromptStyle = "resume"
	StyleCustom    PromptStyle = "custom"
)

var styleKeywords = []struct {
	style    PromptStyle
	pattern  *regexp.Regexp
}{
	{StyleFix, regexp.MustCompile(`(?i)\b(fix|bug|error|crash|broken|repair)\b`)},
	{StyleImplement, regexp.MustCompile(`(?i)\b(implement|add|build|create|write)\b`)},
	{StyleExplore, regexp.MustCompile(`(?i)\b(explore|investigate|research|look into|understand)\b`)},
	{StyleResume, regexp.MustCompile(`(?i)\b(continue|resume|keep going|pick up)\b`)},
}

// ClassifyPrompt categorizes a session's seed prompt by keyword regex.
// The first matching category wins; unmatched prompts are "custom".
func ClassifyPrompt(prompt string) PromptStyle {
	for _, sk := range styleKeywords {
		if sk.pattern.MatchString(prompt) {
			return sk.style
		}
	}
	return StyleCustom
}

const minEvaluationsForPatterns = 50

// Patterns is the result of analyzePatterns(): aggregate statistics over
// historical session evaluations, used by the Context Assembler's
// session-learner insights section.
type Patterns struct {
	AvgScoreByProject map[string]float64
	AvgScoreByStyle   map[PromptStyle]float64
	OptimalDurationMin float64
	OptimalDurationMax float64
	HasOptimalDuration bool
	AvgScoreByHourBucket map[int]float64 // bucket = hour/4, 0..5
}

// Store is the narrow slice of store.Store the Learner needs.
type Store interface {
	CountSessionEvaluations() (int, error)
	RecentSessionEvaluations(n int) ([]store.SessionEvaluationRow, error)
}

// Learner caches analyzePatterns() results, invalidating every N new rows.
type Learner struct {
	store               Store
	invalidateInterval  int

	mu            sync.Mutex
	cached        *Patterns
	cachedAtCount int
}

// New constructs a Learner. invalidateInterval is how many new evaluation
// rows must accrue before the cached Patterns are recomputed (default 10).
func New(store Store, invalidateInterval int) *Learner {
	if invalidateInterval <= 0 {
		invalidateInterval = 10
	}
	return &Learner{store: store, invalidateInterval: invalidateInterval}
}

// AnalyzePatterns returns nil if fewer than 50 evaluation rows exist.
// Otherwise it returns cached results unless at least invalidateInterval
// new rows have accrued since the cache was built.
func (l *Learner) AnalyzePatterns() (*Patterns, error) {
	count, err := l.store.CountSessionEvaluations()
	if err != nil {
		return nil, err
	}
	if count < minEvaluationsForPatterns {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cached != nil && count-l.cachedAtCount < l.invalidateInterval {
		return l.cached, nil
	}

	rows, err := l.store.RecentSessionEvaluations(count)
	if err != nil {
		return nil, err
	}

	patterns := computePatterns(rows)
	l.cached = patterns
	l.cachedAtCount = count
	return patterns, nil
}

func computePatterns(rows []store.SessionEvaluationRow) *Patterns {
	byProject := make(map[string][]int)
	byStyle := make(map[PromptStyle][]int)
	byHourBucket := make(map[int][]int)
	var durations []struct {
		duration float64
		score    int
	}

	for _, r := range rows {
		byProject[r.ProjectName] = append(byProject[r.ProjectName], r.Score)
		byStyle[PromptStyle(r.PromptStyle)] = append(byStyle[PromptStyle(r.PromptStyle)], r.Score)
		bucket := r.StartedAt.Hour() / 4
		byHourBucket[bucket] = append(byHourBucket[bucket], r.Score)
		durations = append(durations, struct {
			duration float64
			score    int
		}{r.DurationMinutes, r.Score})
	}

	patterns := &Patterns{
		AvgScoreByProject:    avgByGroupMinCount(byProject, 3),
		AvgScoreByStyle:      avgByStyleMinCount(byStyle, 5),
		AvgScoreByHourBucket: avgByIntGroup(byHourBucket),
	}

	lo, hi, ok := optimalDurationRange(durations)
	patterns.OptimalDurationMin = lo
	patterns.OptimalDurationMax = hi
	patterns.HasOptimalDuration = ok

	return patterns
}

func avgByGroupMinCount(groups map[string][]int, minCount int) map[string]float64 {
	out := make(map[string]float64)
	for k, scores := range groups {
		if len(scores) < minCount {
			continue
		}
		out[k] = average(scores)
	}
	return out
}

func avgByStyleMinCount(groups map[PromptStyle][]int, minCount int) map[PromptStyle]float64 {
	out := make(map[PromptStyle]float64)
	for k, scores := range groups {
		if len(scores) < minCount {
			continue
		}
		out[k] = average(scores)
	}
	return out
}

func avgByIntGroup(groups map[int][]int) map[int]float64 {
	out := make(map[int]float64)
	for k, scores := range groups {
		out[k] = average(scores)
	}
	return out
}

func average(scores []int) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum int
	for _, s := range scores {
		sum += s
	}
	return float64(sum) / float64(len(scores))
}

// optimalDurationRange buckets sessions into 15-minute windows and finds
// the widest contiguous span of buckets whose average score is >= 4. Of
// equally wide spans, the one starting at the shortest duration wins.
func optimalDurationRange(durations []struct {
	duration float64
	score    int
}) (lo, hi float64, ok bool) {
	const bucketWidth = 15.0
	buckets := make(map[int][]int)
	for _, d := range durations {
		b := int(d.duration / bucketWidth)
		buckets[b] = append(buckets[b], d.score)
	}

	qualifying := make(map[int]bool)
	for b, scores := range buckets {
		if average(scores) >= 4.0 {
			qualifying[b] = true
		}
	}
	if len(qualifying) == 0 {
		return 0, 0, false
	}

	bestLo, bestHi := -1, -1
	for b := range qualifying {
		if qualifying[b-1] {
			continue // not the first bucket of its span
		}
		end := b
		for qualifying[end+1] {
			end++
		}
		if bestLo == -1 || end-b > bestHi-bestLo || (end-b == bestHi-bestLo && b < bestLo) {
			bestLo, bestHi = b, end
		}
	}
	return float64(bestLo) * bucketWidth, float64(bestHi+1) * bucketWidth, true
}
