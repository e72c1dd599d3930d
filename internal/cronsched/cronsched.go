// Package cronsched wires the four scheduled jobs named in spec.md §6
// (morning digest, evening digest, weekly revenue, promotion check) onto
// github.com/robfig/cron, all pinned to the supervisor's configured
// timezone.
package cronsched

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron"
)

// Job is one scheduled unit of work. Name is used only for logging; the
// actual content (what a digest says, how a promotion check notifies) is
// assembled by the caller and handed in as fn.
type Job struct {
	Name string
	Spec string
	Fn   func() error
}

// Scheduler wraps a cron.Cron with the CRON_TZ-prefixing convention and
// per-job error logging, so a panicking or failing job never takes the
// process down with it.
type Scheduler struct {
	cron     *cron.Cron
	timezone string
	log      *slog.Logger
}

// New constructs a Scheduler. timezone is an IANA zone name (e.g.
// "America/Los_Angeles"); every job registered through AddJob runs in it.
func New(timezone string, log *slog.Logger) *Scheduler {
	return &Scheduler{cron: cron.New(), timezone: timezone, log: log}
}

// AddJob registers job, prefixing its cron spec with the scheduler's
// configured timezone per robfig/cron's CRON_TZ convention.
func (s *Scheduler) AddJob(job Job) error {
	spec := job.Spec
	if s.timezone != "" {
		spec = fmt.Sprintf("CRON_TZ=%s %s", s.timezone, job.Spec)
	}
	name := job.Name
	fn := job.Fn
	return s.cron.AddFunc(spec, func() {
		if err := fn(); err != nil {
			s.log.Error("cronsched: job failed", "job", name, "error", err)
		}
	})
}

// Start begins running registered jobs in their own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any job in progress to return.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
