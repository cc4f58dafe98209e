// Package engineconfig holds the engine's own configuration knobs
// (spec.md §6's Config knobs table), loaded the way the teacher's
// config.AppConfig is: JSON-decoded from disk, defaulted, then
// validated. It intentionally excludes everything that belongs to the
// outer HTTP API surface (auth, routing, secrets) — that layer is an
// out-of-scope external collaborator per spec.md §1.
package engineconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// JSRuntimeConfig bounds the Script Host (C2).
type JSRuntimeConfig struct {
	MaxHeapSize            int64         `json:"max_heap_size"`
	MaxScriptExecutionTime time.Duration `json:"max_script_execution_time"`
}

// SchedulerConfig configures the singleton jobs' own cron cadence (§4.6).
type SchedulerConfig struct {
	ScheduleTick string `json:"schedule_tick"`
	TaskTick     string `json:"task_tick"`
	TaskBatch    int    `json:"task_batch"`

	// TaskDispatchRate and TaskDispatchBurst throttle the Task-run job's
	// outbound Email/HTTP dispatch so a backlog drained in one tick
	// doesn't open a burst of SMTP connections or hammer a webhook
	// receiver. A zero (unset) value takes the setDefaults default of 5
	// per second with a burst of 5; a negative rate disables throttling.
	TaskDispatchRate  float64 `json:"task_dispatch_rate"`
	TaskDispatchBurst int     `json:"task_dispatch_burst"`
}

// SMTPConfig is the catch-all-error-email transport and the Email
// action's outbound transport (§7: "schedule an Email task using the
// configured catch-all recipient if SMTP is configured").
type SMTPConfig struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	From               string `json:"from"`
	UseTLS             bool   `json:"use_tls"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
	CatchAllRecipient  string `json:"catch_all_recipient"`
}

// Configured reports whether enough SMTP detail is present to attempt
// a send (§7: "otherwise only log").
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.CatchAllRecipient != ""
}

// Config is the full engine configuration (§6's Config knobs table).
type Config struct {
	MaxRevisions          int             `json:"max_revisions"`
	MaxTimeout            time.Duration   `json:"max_timeout"`
	MinScheduleInterval   time.Duration   `json:"min_schedule_interval"`
	RestrictToPublicURLs  bool            `json:"restrict_to_public_urls"`
	MaxScriptSize         int             `json:"max_script_size"`
	DiffContextRadius     int             `json:"diff_context_radius"`
	ScraperBaseURL        string          `json:"scraper_base_url"`
	TaskBatchSize         int             `json:"task_batch_size"`
	JSRuntime             JSRuntimeConfig `json:"js_runtime"`
	Scheduler             SchedulerConfig `json:"scheduler"`
	SMTP                  SMTPConfig      `json:"smtp"`
	WebhookRequestTimeout time.Duration   `json:"webhook_request_timeout"`
	LogLevel              string          `json:"log_level"`
	LogFormat             string          `json:"log_format"`
}

// MaxAllowedRetryInterval returns min(12h, MinScheduleInterval), the
// ceiling preserved from §9's open question about the retry "max
// interval" validation: the error message only names the 12h cap, but
// the actual comparison is against min(12h, min_schedule_interval).
func (c Config) MaxAllowedRetryInterval() time.Duration {
	const twelveHours = 12 * time.Hour
	if c.MinScheduleInterval > 0 && c.MinScheduleInterval < twelveHours {
		return c.MinScheduleInterval
	}
	return twelveHours
}

// Load reads JSON config from disk, applies defaults, validates, and
// returns the parsed Config. It never terminates the process; callers
// handle the returned error.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config JSON: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.MaxRevisions == 0 {
		c.MaxRevisions = 100
	}
	if c.MaxTimeout == 0 {
		c.MaxTimeout = 30 * time.Second
	}
	if c.MinScheduleInterval == 0 {
		c.MinScheduleInterval = 10 * time.Second
	}
	if c.MaxScriptSize == 0 {
		c.MaxScriptSize = 256 * 1024
	}
	if c.DiffContextRadius == 0 {
		c.DiffContextRadius = 3
	}
	if c.TaskBatchSize == 0 {
		c.TaskBatchSize = 50
	}
	if c.JSRuntime.MaxHeapSize == 0 {
		c.JSRuntime.MaxHeapSize = 10 * 1024 * 1024
	}
	if c.JSRuntime.MaxScriptExecutionTime == 0 {
		c.JSRuntime.MaxScriptExecutionTime = 5 * time.Second
	}
	if c.Scheduler.ScheduleTick == "" {
		c.Scheduler.ScheduleTick = "@every 1m"
	}
	if c.Scheduler.TaskTick == "" {
		c.Scheduler.TaskTick = "@every 1m"
	}
	if c.Scheduler.TaskBatch == 0 {
		c.Scheduler.TaskBatch = 50
	}
	if c.Scheduler.TaskDispatchRate == 0 {
		c.Scheduler.TaskDispatchRate = 5
	}
	if c.Scheduler.TaskDispatchBurst == 0 {
		c.Scheduler.TaskDispatchBurst = 5
	}
	if c.WebhookRequestTimeout == 0 {
		c.WebhookRequestTimeout = 30 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
}

func (c *Config) validate() error {
	if c.MaxRevisions < 0 {
		return fmt.Errorf("max_revisions cannot be negative")
	}
	if c.MinScheduleInterval < time.Second {
		return fmt.Errorf("min_schedule_interval must be at least 1s, got %s", c.MinScheduleInterval)
	}
	if c.MaxTimeout <= 0 {
		return fmt.Errorf("max_timeout must be positive")
	}
	if c.JSRuntime.MaxHeapSize <= 0 {
		return fmt.Errorf("js_runtime.max_heap_size must be positive")
	}
	if c.JSRuntime.MaxScriptExecutionTime <= 0 {
		return fmt.Errorf("js_runtime.max_script_execution_time must be positive")
	}
	return nil
}

// Default returns a Config with defaults applied and no validation,
// for tests that don't need a file on disk.
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}
