// Package config loads and validates the supervisor's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root of the supervisor's configuration.
type Config struct {
	General       General             `toml:"general"`
	Projects      map[string]Project  `toml:"projects"`
	AI            AI                  `toml:"ai"`
	Notifications Notifications       `toml:"notifications"`
	QuietHours    QuietHours          `toml:"quiet_hours"`
	Revenue       Revenue             `toml:"revenue"`
	Trust         Trust               `toml:"trust"`
	Reminders     Reminders           `toml:"reminders"`
	Learning      Learning            `toml:"learning"`
	Cron          Cron                `toml:"cron"`
	API           API                 `toml:"api"`
	SessionAgent  SessionAgent        `toml:"session_agent"`
	Priorities    Priorities          `toml:"priorities"`
}

// Priorities holds free-text operator guidance surfaced verbatim in the
// Context Assembler's priorities section, alongside the per-project
// focus/skip flags.
type Priorities struct {
	Notes string `toml:"notes"`
}

// SessionAgent configures the interactive coding agent launched inside each
// dispatched session. Distinct from ai.model, which is the brain's own LLM.
type SessionAgent struct {
	Command string   `toml:"command"`
	Model   string   `toml:"model"`
	Flags   []string `toml:"flags"`
}

// General holds process-wide knobs not specific to the AI brain.
type General struct {
	ScanInterval  Duration `toml:"scan_interval"`
	StateDoc      string   `toml:"state_doc"`
	StateDB       string   `toml:"state_db"`
	LogLevel      string   `toml:"log_level"`
	SessionBackend string  `toml:"session_backend"` // "tmux" | "docker"
	RevenueEveryNScans int `toml:"revenue_every_n_scans"`
}

// Project is one managed project directory.
type Project struct {
	Enabled   bool   `toml:"enabled"`
	Workspace string `toml:"workspace"`
	Priority  int    `toml:"priority"`
	Focus     bool   `toml:"focus"`
	Skip      bool   `toml:"skip"`
}

// AI holds Think Loop and brain-invocation knobs.
type AI struct {
	Enabled               bool              `toml:"enabled"`
	Model                 string            `toml:"model"`
	ThinkIntervalMs       int64             `toml:"think_interval_ms"`
	MaxPromptLength       int               `toml:"max_prompt_length"`
	AutonomyLevel         string            `toml:"autonomy_level"`
	ProtectedProjects     []string          `toml:"protected_projects"`
	Cooldowns             Cooldowns         `toml:"cooldowns"`
	ResourceLimits        ResourceLimits    `toml:"resource_limits"`
	MaxErrorRetries       int               `toml:"max_error_retries"`
	MaxSessionDurationMs  int64             `toml:"max_session_duration_ms"`
	StalenessDays         int               `toml:"staleness_days"`
	MaxConcurrentSessions int               `toml:"max_concurrent_sessions"`
}

type Cooldowns struct {
	SameProjectMs int64 `toml:"same_project_ms"`
	SameActionMs  int64 `toml:"same_action_ms"`
}

type ResourceLimits struct {
	MinFreeMemoryMB int64 `toml:"min_free_memory_mb"`
}

// Notifications holds Notifier knobs.
type Notifications struct {
	DailyBudget     int   `toml:"daily_budget"`
	BatchIntervalMs int64 `toml:"batch_interval_ms"`
}

// QuietHours suppresses tiers 2/3 within a local time window.
type QuietHours struct {
	Start    string `toml:"start"`
	End      string `toml:"end"`
	Timezone string `toml:"timezone"`
}

// Revenue holds Revenue Tracker knobs.
type Revenue struct {
	Enabled                bool     `toml:"enabled"`
	CollectionIntervalScans int     `toml:"collection_interval_scans"`
	RetentionDays          int      `toml:"retention_days"`
	Sources                []string `toml:"sources"`
}

// Trust holds Trust Tracker promotion thresholds.
type Trust struct {
	Enabled              bool             `toml:"enabled"`
	CautiousToModerate   PromotionThreshold `toml:"cautious_to_moderate"`
	ModerateToFull       PromotionThreshold `toml:"moderate_to_full"`
	PromotionCheckCron   string           `toml:"promotion_check_cron"`
}

type PromotionThreshold struct {
	MinSessions  int     `toml:"min_sessions"`
	MinAvgScore  float64 `toml:"min_avg_score"`
	MinDays      float64 `toml:"min_days"`
}

// Reminders toggles the reminder subsystem.
type Reminders struct {
	Enabled  bool   `toml:"enabled"`
	Timezone string `toml:"timezone"`
}

// Learning holds Session Learner gating knobs.
type Learning struct {
	MinEvaluations  int `toml:"min_evaluations"`
	AnalysisInterval int `toml:"analysis_interval"`
}

// Cron holds the cron expressions for the four scheduled digests/checks.
type Cron struct {
	MorningDigest string `toml:"morning_digest"`
	EveningDigest string `toml:"evening_digest"`
	WeeklyRevenue string `toml:"weekly_revenue"`
	PromotionCheck string `toml:"promotion_check"`
	Timezone      string `toml:"timezone"`
	MorningDigestEnabled bool `toml:"morning_digest_enabled"`
	EveningDigestEnabled bool `toml:"evening_digest_enabled"`
	WeeklyRevenueEnabled bool `toml:"weekly_revenue_enabled"`
}

// API holds the optional read-only status HTTP server bind address.
type API struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// ExpandHome expands a leading "~" to the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// Load reads and parses the TOML config at path, applying defaults for
// unset fields so older config files remain valid.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.ScanInterval.Duration == 0 {
		cfg.General.ScanInterval = Duration{60 * time.Second}
	}
	if cfg.General.StateDoc == "" {
		cfg.General.StateDoc = ".state.json"
	}
	if cfg.General.StateDB == "" {
		cfg.General.StateDB = "orchestrator.db"
	}
	if cfg.General.SessionBackend == "" {
		cfg.General.SessionBackend = "tmux"
	}
	if cfg.General.RevenueEveryNScans == 0 {
		cfg.General.RevenueEveryNScans = 5
	}
	if cfg.AI.ThinkIntervalMs == 0 {
		cfg.AI.ThinkIntervalMs = int64(10 * time.Minute / time.Millisecond)
	}
	if cfg.AI.MaxPromptLength == 0 {
		cfg.AI.MaxPromptLength = 8000
	}
	if cfg.AI.AutonomyLevel == "" {
		cfg.AI.AutonomyLevel = "observe"
	}
	if cfg.AI.Cooldowns.SameProjectMs == 0 {
		cfg.AI.Cooldowns.SameProjectMs = int64(10 * time.Minute / time.Millisecond)
	}
	if cfg.AI.Cooldowns.SameActionMs == 0 {
		cfg.AI.Cooldowns.SameActionMs = int64(5 * time.Minute / time.Millisecond)
	}
	if cfg.AI.MaxErrorRetries == 0 {
		cfg.AI.MaxErrorRetries = 3
	}
	if cfg.AI.MaxSessionDurationMs == 0 {
		cfg.AI.MaxSessionDurationMs = int64(45 * time.Minute / time.Millisecond)
	}
	if cfg.AI.StalenessDays == 0 {
		cfg.AI.StalenessDays = 3
	}
	if cfg.AI.MaxConcurrentSessions == 0 {
		cfg.AI.MaxConcurrentSessions = 3
	}
	if cfg.Notifications.DailyBudget == 0 {
		cfg.Notifications.DailyBudget = 20
	}
	if cfg.Notifications.BatchIntervalMs == 0 {
		cfg.Notifications.BatchIntervalMs = int64(30 * time.Minute / time.Millisecond)
	}
	if cfg.QuietHours.Timezone == "" {
		cfg.QuietHours.Timezone = "UTC"
	}
	if cfg.Revenue.CollectionIntervalScans == 0 {
		cfg.Revenue.CollectionIntervalScans = 5
	}
	if cfg.Revenue.RetentionDays == 0 {
		cfg.Revenue.RetentionDays = 90
	}
	if cfg.Trust.CautiousToModerate.MinSessions == 0 {
		cfg.Trust.CautiousToModerate = PromotionThreshold{MinSessions: 30, MinAvgScore: 3.5, MinDays: 7}
	}
	if cfg.Trust.ModerateToFull.MinSessions == 0 {
		cfg.Trust.ModerateToFull = PromotionThreshold{MinSessions: 50, MinAvgScore: 4.0, MinDays: 14}
	}
	if cfg.Trust.PromotionCheckCron == "" {
		cfg.Trust.PromotionCheckCron = "0 10 * * *"
	}
	if cfg.Learning.MinEvaluations == 0 {
		cfg.Learning.MinEvaluations = 50
	}
	if cfg.Learning.AnalysisInterval == 0 {
		cfg.Learning.AnalysisInterval = 10
	}
	if cfg.Cron.MorningDigest == "" {
		cfg.Cron.MorningDigest = "0 7 * * *"
	}
	if cfg.Cron.EveningDigest == "" {
		cfg.Cron.EveningDigest = "45 21 * * *"
	}
	if cfg.Cron.WeeklyRevenue == "" {
		cfg.Cron.WeeklyRevenue = "0 7 * * 0"
	}
	if cfg.Cron.PromotionCheck == "" {
		cfg.Cron.PromotionCheck = "0 10 * * *"
	}
	if cfg.Cron.Timezone == "" {
		cfg.Cron.Timezone = "UTC"
	}
	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1:8732"
	}
	if cfg.SessionAgent.Command == "" {
		cfg.SessionAgent.Command = "claude"
	}
	if len(cfg.SessionAgent.Flags) == 0 {
		cfg.SessionAgent.Flags = []string{"--dangerously-skip-permissions", "{prompt}"}
	}
}

// Clone returns a deep-enough copy of cfg suitable for snapshotting under
// a manager's read lock (maps are replaced, not shared).
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Projects = make(map[string]Project, len(c.Projects))
	for k, v := range c.Projects {
		clone.Projects[k] = v
	}
	clone.AI.ProtectedProjects = append([]string(nil), c.AI.ProtectedProjects...)
	clone.Revenue.Sources = append([]string(nil), c.Revenue.Sources...)
	return &clone
}
