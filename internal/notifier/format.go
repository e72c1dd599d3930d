package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

// FormatObserveBatch renders the observe-mode "would have done" summary
// for a batch of evaluated recommendations, filtering out any whose
// content hash was already sent within the dedup TTL. The bool return is
// false when every recommendation was a duplicate — callers must treat
// that as a skip, not an empty send.
func (n *Notifier) FormatObserveBatch(evaluated []model.EvaluatedRecommendation) (text string, hash string, ok bool) {
	n.mu.Lock()
	n.pruneDedupLocked(time.Now())
	var lines []string
	var hashes []string
	for _, ev := range evaluated {
		h := ContentHash(ev.Project, ev.Action, ev.Reason)
		if _, dup := n.dedup[h]; dup {
			continue
		}
		lines = append(lines, fmt.Sprintf("[observe] would %s %s: %s", ev.Action, ev.Project, ev.Reason))
		hashes = append(hashes, h)
	}
	n.mu.Unlock()

	if len(lines) == 0 {
		return "", "", false
	}
	// The batch itself is deduped under the hash of its first (oldest)
	// surviving entry — a repeat of the exact same leading recommendation
	// within the TTL window is treated as the same envelope.
	return strings.Join(lines, "\n"), hashes[0], true
}
