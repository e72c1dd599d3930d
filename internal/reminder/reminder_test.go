package reminder

import (
	"errors"
	"testing"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

type fakeStore struct {
	reminders map[int64]model.Reminder
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{reminders: make(map[int64]model.Reminder)}
}

func (s *fakeStore) CreateReminder(text string, fireAt time.Time, source string) (int64, error) {
	s.nextID++
	s.reminders[s.nextID] = model.Reminder{ID: s.nextID, Text: text, FireAt: fireAt, SourceMessage: source}
	return s.nextID, nil
}

func (s *fakeStore) DuePendingReminders(now time.Time) ([]model.Reminder, error) {
	var due []model.Reminder
	for _, r := range s.reminders {
		if !r.Fired && !r.FireAt.After(now) {
			due = append(due, r)
		}
	}
	return due, nil
}

func (s *fakeStore) ListPendingReminders() ([]model.Reminder, error) {
	var pending []model.Reminder
	for _, r := range s.reminders {
		if !r.Fired {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

func (s *fakeStore) MarkReminderFired(id int64) (bool, error) {
	r, ok := s.reminders[id]
	if !ok || r.Fired {
		return false, nil
	}
	r.Fired = true
	s.reminders[id] = r
	return true, nil
}

func (s *fakeStore) CancelRemindersByText(pattern string) (int64, error) {
	var n int64
	for id, r := range s.reminders {
		if !r.Fired {
			r.Fired = true
			s.reminders[id] = r
			n++
		}
	}
	return n, nil
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (n *fakeNotifier) Notify(tier model.NotificationTier, text string) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, text)
	return nil
}

func TestCheckAndFireFiresDueOnce(t *testing.T) {
	store := newFakeStore()
	notif := &fakeNotifier{}
	tr := New(store, notif)

	now := time.Now()
	id, err := tr.Set("take a break", now.Add(-time.Minute), "sms")
	if err != nil {
		t.Fatal(err)
	}

	fired, err := tr.CheckAndFire(now)
	if err != nil {
		t.Fatal(err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if len(notif.sent) != 1 {
		t.Fatalf("notified = %d, want 1", len(notif.sent))
	}

	fired, err = tr.CheckAndFire(now)
	if err != nil {
		t.Fatal(err)
	}
	if fired != 0 {
		t.Errorf("second CheckAndFire fired = %d, want 0 (at-most-once)", fired)
	}
	if len(notif.sent) != 1 {
		t.Errorf("notified after second check = %d, want still 1", len(notif.sent))
	}
	_ = id
}

func TestCheckAndFireLeavesUnfiredOnNotifyFailure(t *testing.T) {
	store := newFakeStore()
	notif := &fakeNotifier{err: errors.New("sms transport down")}
	tr := New(store, notif)

	now := time.Now()
	id, err := tr.Set("renew domain", now.Add(-time.Minute), "sms")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tr.CheckAndFire(now); err == nil {
		t.Fatal("expected an error from the failing transport")
	}
	if store.reminders[id].Fired {
		t.Error("expected reminder to remain unfired after a notify failure")
	}

	notif.err = nil
	fired, err := tr.CheckAndFire(now)
	if err != nil {
		t.Fatal(err)
	}
	if fired != 1 {
		t.Fatalf("expected the retried reminder to fire once transport recovers, fired = %d", fired)
	}
	if !store.reminders[id].Fired {
		t.Error("expected reminder marked fired after a successful retry")
	}
}

func TestCancelByText(t *testing.T) {
	store := newFakeStore()
	tr := New(store, &fakeNotifier{})
	tr.Set("water the plants", time.Now().Add(time.Hour), "sms")

	n, err := tr.CancelByText("plant")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cancelled = %d, want 1", n)
	}
	pending, _ := tr.ListPending()
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}
