// Package notifier routes outbound operator communication through a
// four-tier dispatcher: urgent sends bypass every limit, action sends spend
// a daily budget, summary sends batch and flush on a timer, debug sends
// never leave the process.
package notifier

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

// InboundMessage is one operator-originated SMS, as read from the transport.
type InboundMessage struct {
	ID   string
	Text string
	At   time.Time
}

// SMSTransport is the narrow interface the Notifier sends through and
// polls inbound operator replies from. spec.md scopes the real carrier
// integration out of v1; LoggingTransport below is the shipped default.
type SMSTransport interface {
	Send(text string) error
	ReadInbound(after string) ([]InboundMessage, error)
}

// LoggingTransport is the null-path SMSTransport: it logs at tier-4 rather
// than reaching a real carrier, and reports no inbound traffic.
type LoggingTransport struct {
	Log *slog.Logger
}

func (t LoggingTransport) Send(text string) error {
	log := t.Log
	if log == nil {
		log = slog.Default()
	}
	log.Debug("notifier: sms (logging transport, not sent)", "text", text)
	return nil
}

func (t LoggingTransport) ReadInbound(after string) ([]InboundMessage, error) {
	return nil, nil
}

const (
	dedupTTL        = time.Hour
	batchCharLimit  = 1500
	reasonHashChars = 100
)

// Notifier is the four-tier dispatcher described in spec.md §4.3.
type Notifier struct {
	transport SMSTransport
	log       *slog.Logger

	dailyBudget int
	quietStart  string
	quietEnd    string
	quietTZ     *time.Location

	mu          sync.Mutex
	sentToday   int
	budgetDay   string
	dedup       map[string]time.Time
	batch       []string
	lastFlushAt time.Time
}

// Config holds the knobs New needs; kept separate from config.Config so
// this package doesn't import the config package's TOML tags.
type Config struct {
	DailyBudget   int
	QuietStart    string
	QuietEnd      string
	QuietTimezone string
}

// New constructs a Notifier. An invalid timezone falls back to UTC.
func New(transport SMSTransport, cfg Config, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	loc, err := time.LoadLocation(cfg.QuietTimezone)
	if err != nil {
		loc = time.UTC
	}
	return &Notifier{
		transport:   transport,
		log:         log,
		dailyBudget: cfg.DailyBudget,
		quietStart:  cfg.QuietStart,
		quietEnd:    cfg.QuietEnd,
		quietTZ:     loc,
		dedup:       make(map[string]time.Time),
	}
}

// ContentHash computes the djb2 hash over "project:action:reason",
// lowercased with reason truncated to its first 100 characters — the key
// used for at-most-once deduplication of near-identical envelopes.
func ContentHash(project string, action model.Action, reason string) string {
	reason = strings.ToLower(reason)
	if len(reason) > reasonHashChars {
		reason = reason[:reasonHashChars]
	}
	key := strings.ToLower(fmt.Sprintf("%s:%s:%s", project, action, reason))
	return fmt.Sprintf("%x", djb2(key))
}

func djb2(s string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(s); i++ {
		h = h*33 + uint32(s[i])
	}
	return h
}

// Notify dispatches text at the given tier, per the tier's own rules.
func (n *Notifier) Notify(tier model.NotificationTier, text string) error {
	return n.notifyHashed(tier, text, "")
}

// NotifyDeduped dispatches text at the given tier unless an envelope with
// the same content hash was sent within the last hour.
func (n *Notifier) NotifyDeduped(tier model.NotificationTier, text, hash string) error {
	return n.notifyHashed(tier, text, hash)
}

func (n *Notifier) notifyHashed(tier model.NotificationTier, text, hash string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if hash != "" && n.isDuplicateLocked(hash) {
		return nil
	}

	switch tier {
	case model.TierUrgent:
		if err := n.transport.Send(text); err != nil {
			return fmt.Errorf("notifier: urgent send: %w", err)
		}
		n.recordSentLocked(hash)
		n.flushBatchLocked()
		return nil

	case model.TierAction:
		if n.inQuietHoursLocked(time.Now()) || !n.budgetAvailableLocked() {
			n.batch = append(n.batch, text)
			return nil
		}
		if err := n.transport.Send(text); err != nil {
			return fmt.Errorf("notifier: action send: %w", err)
		}
		n.spendBudgetLocked()
		n.recordSentLocked(hash)
		n.flushBatchLocked()
		return nil

	case model.TierSummary:
		n.batch = append(n.batch, text)
		n.recordSentLocked(hash)
		return nil

	case model.TierDebug:
		n.log.Debug("notifier: tier-4 suppressed", "text", text)
		return nil

	default:
		return fmt.Errorf("notifier: unknown tier %d", tier)
	}
}

func (n *Notifier) isDuplicateLocked(hash string) bool {
	n.pruneDedupLocked(time.Now())
	_, ok := n.dedup[hash]
	return ok
}

func (n *Notifier) recordSentLocked(hash string) {
	if hash == "" {
		return
	}
	n.dedup[hash] = time.Now()
}

func (n *Notifier) pruneDedupLocked(now time.Time) {
	for h, at := range n.dedup {
		if now.Sub(at) > dedupTTL {
			delete(n.dedup, h)
		}
	}
}

func (n *Notifier) budgetAvailableLocked() bool {
	n.rolloverBudgetLocked(time.Now())
	if n.dailyBudget <= 0 {
		return true
	}
	return n.sentToday < n.dailyBudget
}

func (n *Notifier) spendBudgetLocked() {
	n.rolloverBudgetLocked(time.Now())
	n.sentToday++
}

func (n *Notifier) rolloverBudgetLocked(now time.Time) {
	day := now.In(n.quietTZ).Format("2006-01-02")
	if day != n.budgetDay {
		n.budgetDay = day
		n.sentToday = 0
	}
}

func (n *Notifier) inQuietHoursLocked(now time.Time) bool {
	if n.quietStart == "" || n.quietEnd == "" {
		return false
	}
	local := now.In(n.quietTZ)
	cur := local.Hour()*60 + local.Minute()

	start, okStart := parseHHMM(n.quietStart)
	end, okEnd := parseHHMM(n.quietEnd)
	if !okStart || !okEnd {
		return false
	}
	if start <= end {
		return cur >= start && cur < end
	}
	// Window wraps midnight (e.g. 22:00-07:00).
	return cur >= start || cur < end
}

func parseHHMM(s string) (minutes int, ok bool) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	return h*60 + m, true
}

// FlushBatch concatenates and sends the pending summary batch, bounded by
// the transport's 1500-character ceiling (trimming the oldest entries
// first if the batch doesn't fit). Called on a timer at the configured
// batch interval (started in cmd/orchestratord), as a piggyback from a
// tier-1/2 send, and on graceful shutdown.
func (n *Notifier) FlushBatch() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.flushBatchLocked()
}

func (n *Notifier) flushBatchLocked() error {
	if len(n.batch) == 0 {
		return nil
	}
	text := joinBounded(n.batch, batchCharLimit)
	n.batch = nil
	n.lastFlushAt = time.Now()
	if err := n.transport.Send(text); err != nil {
		return fmt.Errorf("notifier: batch flush: %w", err)
	}
	return nil
}

func joinBounded(entries []string, limit int) string {
	joined := strings.Join(entries, "\n")
	if len(joined) <= limit {
		return joined
	}
	// Trim the oldest entries until it fits, keeping the most recent ones.
	for len(entries) > 1 {
		entries = entries[1:]
		joined = strings.Join(entries, "\n")
		if len(joined) <= limit {
			break
		}
	}
	if len(joined) > limit {
		joined = joined[len(joined)-limit:]
	}
	return joined
}

// ReadInbound polls the transport for operator messages since the given
// cursor, sorted oldest-first.
func (n *Notifier) ReadInbound(after string) ([]InboundMessage, error) {
	msgs, err := n.transport.ReadInbound(after)
	if err != nil {
		return nil, fmt.Errorf("notifier: read inbound: %w", err)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].At.Before(msgs[j].At) })
	return msgs, nil
}
