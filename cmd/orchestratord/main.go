// Command orchestratord runs the personal compute host supervisor: the
// Think Loop, Scan Loop, operator command surface, scheduled digests, and
// optional read-only status API, all wired against one configuration file
// and one persistent state store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/api"
	"github.com/antigravity-dev/orchestrator/internal/broker"
	"github.com/antigravity-dev/orchestrator/internal/command"
	"github.com/antigravity-dev/orchestrator/internal/config"
	ctxasm "github.com/antigravity-dev/orchestrator/internal/context"
	"github.com/antigravity-dev/orchestrator/internal/cronsched"
	"github.com/antigravity-dev/orchestrator/internal/evaluator"
	"github.com/antigravity-dev/orchestrator/internal/executor"
	"github.com/antigravity-dev/orchestrator/internal/learner"
	"github.com/antigravity-dev/orchestrator/internal/model"
	"github.com/antigravity-dev/orchestrator/internal/notifier"
	"github.com/antigravity-dev/orchestrator/internal/policy"
	"github.com/antigravity-dev/orchestrator/internal/reminder"
	"github.com/antigravity-dev/orchestrator/internal/revenue"
	"github.com/antigravity-dev/orchestrator/internal/scan"
	"github.com/antigravity-dev/orchestrator/internal/session"
	"github.com/antigravity-dev/orchestrator/internal/signalfile"
	"github.com/antigravity-dev/orchestrator/internal/store"
	"github.com/antigravity-dev/orchestrator/internal/think"
	"github.com/antigravity-dev/orchestrator/internal/trust"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// acquireFlock opens (creating if needed) path and takes an exclusive,
// non-blocking lock, so a second supervisor instance against the same
// state directory fails fast instead of corrupting state.
func acquireFlock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("flock: open %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another orchestrator instance is running (lock: %s)", path)
	}
	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, nil
}

func releaseFlock(f *os.File) {
	if f == nil {
		return
	}
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	name := f.Name()
	f.Close()
	os.Remove(name)
}

// evaluationStoreAdapter adapts *store.Store's SessionEvaluationRow shape
// to evaluator.RelationalStore's input type, so the evaluator package
// doesn't need to import internal/store for a struct literal.
type evaluationStoreAdapter struct{ store *store.Store }

func (a evaluationStoreAdapter) RecordSessionEvaluation(row evaluator.SessionEvaluationInput) (int64, error) {
	return a.store.RecordSessionEvaluation(store.SessionEvaluationRow{
		SessionID:       row.SessionID,
		ProjectName:     row.ProjectName,
		StartedAt:       row.StartedAt,
		StoppedAt:       row.StoppedAt,
		DurationMinutes: row.DurationMinutes,
		CommitCount:     row.CommitCount,
		Insertions:      row.Insertions,
		Deletions:       row.Deletions,
		FilesChanged:    row.FilesChanged,
		Score:           row.Score,
		Recommendation:  model.EvalRecommendation(row.Recommendation),
		PromptSnippet:   row.PromptSnippet,
		PromptStyle:     row.PromptStyle,
		EvaluatedAt:     row.EvaluatedAt,
	})
}

func main() {
	configPath := flag.String("config", "orchestrator.toml", "path to config file")
	once := flag.Bool("once", false, "run a single scan+think tick then exit")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	dryRun := flag.Bool("dry-run", false, "log a dry-run notice at startup; recommendations are still executed")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("orchestrator starting", "config", *configPath)

	cfgMgr, err := config.LoadManager(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgMgr.Get()

	logger = configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	lockPath := config.ExpandHome(cfg.General.StateDoc + ".lock")
	lockFile, err := acquireFlock(lockPath)
	if err != nil {
		logger.Error("failed to acquire lock", "error", err)
		os.Exit(1)
	}
	defer releaseFlock(lockFile)

	doc, err := store.OpenDocument(config.ExpandHome(cfg.General.StateDoc))
	if err != nil {
		logger.Error("failed to open state document", "path", cfg.General.StateDoc, "error", err)
		os.Exit(1)
	}
	relStore, err := store.Open(config.ExpandHome(cfg.General.StateDB))
	if err != nil {
		logger.Error("failed to open relational store", "path", cfg.General.StateDB, "error", err)
		os.Exit(1)
	}
	defer relStore.Close()

	sessionMgr, err := session.NewManager(cfg.General.SessionBackend)
	if err != nil {
		logger.Error("failed to create session manager", "backend", cfg.General.SessionBackend, "error", err)
		os.Exit(1)
	}
	registry := session.NewRegistry(sessionMgr)

	shellBroker := broker.New(logger.With("component", "broker"), 2)

	smsTransport := notifier.LoggingTransport{Log: logger.With("component", "notifier")}
	notif := notifier.New(smsTransport, notifier.Config{
		DailyBudget:   cfg.Notifications.DailyBudget,
		QuietStart:    cfg.QuietHours.Start,
		QuietEnd:      cfg.QuietHours.End,
		QuietTimezone: cfg.QuietHours.Timezone,
	}, logger.With("component", "notifier"))

	evalStore := evaluationStoreAdapter{store: relStore}
	eval := evaluator.New(sessionMgr, shellBroker, doc, evalStore, notif, cfg.AI.Model, "artifacts")

	lrn := learner.New(relStore, cfg.Learning.AnalysisInterval)

	var revenueSources []revenue.Source
	revenueTracker := revenue.New(relStore, revenueSources)

	assembler := ctxasm.New(cfg, doc, relStore, revenueTracker, lrn, registry, signalfile.NewFileReader())

	cooldowns := policy.NewCooldownTracker()
	pol := policy.New(cooldowns)
	exec := executor.New(registry, cooldowns, doc, notif)

	thinkLoop := think.New(cfgMgr, assembler, shellBroker, pol, exec, doc, notif, logger.With("component", "think"))

	reminders := reminder.New(relStore, notif)

	thresholds := trust.Thresholds{
		model.LevelCautious: {
			MinSessions: cfg.Trust.CautiousToModerate.MinSessions,
			MinAvgScore: cfg.Trust.CautiousToModerate.MinAvgScore,
			MinDays:     cfg.Trust.CautiousToModerate.MinDays,
		},
		model.LevelModerate: {
			MinSessions: cfg.Trust.ModerateToFull.MinSessions,
			MinAvgScore: cfg.Trust.ModerateToFull.MinAvgScore,
			MinDays:     cfg.Trust.ModerateToFull.MinDays,
		},
	}
	bootTime := time.Now()
	trustTracker := trust.New(relStore, thresholds, bootTime)

	scanLoop := scan.New(cfgMgr, registry, sessionMgr, eval, reminders, trustTracker, revenueTracker, doc, notif, logger.With("component", "scan"), bootTime)

	dispatcher := command.New(cfgMgr, thinkLoop, doc, reminders, relStore)

	apiSrv := api.NewServer(cfgMgr, doc, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *dryRun {
		logger.Info("dry-run flag set: execution is unchanged; recommendations are still evaluated and executed")
	}

	if *once {
		logger.Info("running single scan+think tick (--once mode)")
		scanLoop.Tick(ctx)
		thinkLoop.TriggerNow(ctx)
		logger.Info("single tick complete, exiting")
		return
	}

	go scanLoop.Run(ctx)
	go thinkLoop.Run(ctx)
	go func() {
		if err := apiSrv.Start(ctx); err != nil {
			logger.Error("api server error", "error", err)
		}
	}()
	if interval := time.Duration(cfg.Notifications.BatchIntervalMs) * time.Millisecond; interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					_ = notif.FlushBatch()
				}
			}
		}()
	}

	cronSched := cronsched.New(cfg.Cron.Timezone, logger.With("component", "cron"))
	if cfg.Cron.MorningDigestEnabled {
		cronSched.AddJob(cronsched.Job{
			Name: "morning-digest",
			Spec: cfg.Cron.MorningDigest,
			Fn: func() error {
				return notif.Notify(model.TierSummary, dispatcher.Status())
			},
		})
	}
	if cfg.Cron.EveningDigestEnabled {
		cronSched.AddJob(cronsched.Job{
			Name: "evening-digest",
			Spec: cfg.Cron.EveningDigest,
			Fn: func() error {
				return notif.Notify(model.TierSummary, dispatcher.Status())
			},
		})
	}
	if cfg.Cron.WeeklyRevenueEnabled {
		cronSched.AddJob(cronsched.Job{
			Name: "weekly-revenue",
			Spec: cfg.Cron.WeeklyRevenue,
			Fn: func() error {
				summary, err := revenueTracker.FormatForContext()
				if err != nil {
					return err
				}
				return notif.Notify(model.TierSummary, summary)
			},
		})
	}
	cronSched.AddJob(cronsched.Job{
		Name: "promotion-check",
		Spec: cfg.Cron.PromotionCheck,
		Fn: func() error {
			level := doc.AutonomyLevel()
			rec, err := trustTracker.CheckPromotion(level, time.Now())
			if err != nil || rec == "" {
				return err
			}
			return notif.Notify(model.TierSummary, rec)
		},
	})
	cronSched.Start()
	defer cronSched.Stop()

	logger.Info("orchestrator running",
		"scan_interval", cfg.General.ScanInterval.Duration.String(),
		"autonomy_level", doc.AutonomyLevel().String(),
		"session_backend", cfg.General.SessionBackend,
	)

	var cfgMu sync.Mutex
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			cfgMu.Lock()
			if err := cfgMgr.Reload(*configPath); err != nil {
				logger.Error("config reload failed", "error", err)
			} else {
				logger.Info("config reloaded")
			}
			cfgMu.Unlock()
		default:
			shutdownStart := time.Now()
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			sessionMgr.GracefulShutdown(10 * time.Second)
			_ = notif.FlushBatch()
			logger.Info("orchestrator stopped", "shutdown_duration", time.Since(shutdownStart).String())
			return
		}
	}
}
