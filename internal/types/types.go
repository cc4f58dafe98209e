// Package types holds the Retrack domain model: trackers, targets,
// actions, job configuration, data revisions, scheduler job records
// and enqueued tasks. It generalizes the teacher's single email-job
// payload (CLIArgs/Job) into the full tracker data model of spec.md §3.
package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TargetKind discriminates the tagged Target variant.
type TargetKind string

const (
	TargetKindPage TargetKind = "page"
	TargetKindApi  TargetKind = "api"
)

// ActionKind discriminates the tagged Action variant.
type ActionKind string

const (
	ActionKindEmail     ActionKind = "email"
	ActionKindWebhook   ActionKind = "webhook"
	ActionKindServerLog ActionKind = "server_log"
)

// RetryStrategyKind discriminates the tagged RetryStrategy variant.
type RetryStrategyKind string

const (
	RetryStrategyConstant    RetryStrategyKind = "constant"
	RetryStrategyLinear      RetryStrategyKind = "linear"
	RetryStrategyExponential RetryStrategyKind = "exponential"
)

// TaskKind discriminates the tagged Task payload variant.
type TaskKind string

const (
	TaskKindEmail TaskKind = "email"
	TaskKindHTTP  TaskKind = "http"
)

// SchedulerJobType discriminates the tagged SchedulerJob variant and
// is also the job_type byte of the persisted metadata encoding (§6).
type SchedulerJobType uint8

const (
	SchedulerJobTypeSchedule SchedulerJobType = iota + 1
	SchedulerJobTypeRunDiscovery
	SchedulerJobTypeTaskRun
	SchedulerJobTypePerTrackerRun
)

// PageTarget is the Page target variant of Tracker.Target (§3).
type PageTarget struct {
	// ExtractorSource is either literal script source or a URL it is fetched from.
	ExtractorSource           string          `json:"extractorSource"`
	ExtractorSourceIsURL      bool            `json:"extractorSourceIsUrl"`
	ExtractorParams           json.RawMessage `json:"extractorParams,omitempty"`
	EngineTag                 string          `json:"engine,omitempty"`
	UserAgent                 string          `json:"userAgent,omitempty"`
	AcceptInvalidCertificates bool            `json:"acceptInvalidCertificates"`
}

// ApiRequest is a single request entry of an ApiTarget (§3).
type ApiRequest struct {
	URL                       string            `json:"url"`
	Method                    string            `json:"method,omitempty"`
	Headers                   map[string]string `json:"headers,omitempty"`
	Body                      json.RawMessage   `json:"body,omitempty"`
	MediaType                 string            `json:"mediaType,omitempty"`
	AcceptStatuses            []int             `json:"acceptStatuses,omitempty"`
	AcceptInvalidCertificates bool              `json:"acceptInvalidCertificates"`
}

// AcceptedStatuses returns the configured acceptance set, defaulting to {200}.
func (r ApiRequest) AcceptedStatuses() []int {
	if len(r.AcceptStatuses) == 0 {
		return []int{200}
	}
	return r.AcceptStatuses
}

// ApiTarget is the Api target variant of Tracker.Target (§3).
type ApiTarget struct {
	Requests []ApiRequest `json:"requests"`

	ConfiguratorSource      string `json:"configuratorSource,omitempty"`
	ConfiguratorSourceIsURL bool   `json:"configuratorSourceIsUrl,omitempty"`
	ExtractorSource         string `json:"extractorSource,omitempty"`
	ExtractorSourceIsURL    bool   `json:"extractorSourceIsUrl,omitempty"`
}

// Target is the tagged Page/Api union. Exactly one of Page/Api is set,
// discriminated by Kind (the "per-type enums with JSON tags" pattern
// described in spec.md §9).
type Target struct {
	Kind TargetKind  `json:"kind"`
	Page *PageTarget `json:"page,omitempty"`
	Api  *ApiTarget  `json:"api,omitempty"`
}

// RetryStrategy is the tagged Constant/Linear/Exponential union (§3).
type RetryStrategy struct {
	Kind RetryStrategyKind `json:"kind"`

	// Constant
	Interval time.Duration `json:"interval,omitempty"`

	// Linear
	Initial     time.Duration `json:"initial,omitempty"`
	Increment   time.Duration `json:"increment,omitempty"`
	MaxInterval time.Duration `json:"maxInterval,omitempty"`

	// Exponential
	Multiplier float64 `json:"multiplier,omitempty"`

	MaxAttempts int `json:"maxAttempts"`
}

// JobConfig is the tracker's cron + retry configuration (§3).
type JobConfig struct {
	Schedule string         `json:"schedule"`
	Retry    *RetryStrategy `json:"retry,omitempty"`
}

// TrackerConfig bundles revision retention, timeout and job config (§3).
type TrackerConfig struct {
	Revisions int            `json:"revisions"`
	Timeout   *time.Duration `json:"timeout,omitempty"`
	Job       *JobConfig     `json:"job,omitempty"`
}

// EmailAction is the Email Action variant (§3).
type EmailAction struct {
	Recipients      []string `json:"recipients"`
	FormatterSource string   `json:"formatterSource,omitempty"`
}

// WebhookAction is the Webhook Action variant (§3).
type WebhookAction struct {
	URL             string            `json:"url"`
	Method          string            `json:"method,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	FormatterSource string            `json:"formatterSource,omitempty"`
}

// ServerLogAction is the ServerLog Action variant (§3).
type ServerLogAction struct {
	FormatterSource string `json:"formatterSource,omitempty"`
}

// Action is the tagged Email/Webhook/ServerLog union.
type Action struct {
	Kind      ActionKind       `json:"kind"`
	Email     *EmailAction     `json:"email,omitempty"`
	Webhook   *WebhookAction   `json:"webhook,omitempty"`
	ServerLog *ServerLogAction `json:"serverLog,omitempty"`
}

// Formatter returns the formatter script source configured for this
// action, if any, and whether one is configured at all.
func (a Action) Formatter() (string, bool) {
	switch a.Kind {
	case ActionKindEmail:
		if a.Email != nil && a.Email.FormatterSource != "" {
			return a.Email.FormatterSource, true
		}
	case ActionKindWebhook:
		if a.Webhook != nil && a.Webhook.FormatterSource != "" {
			return a.Webhook.FormatterSource, true
		}
	case ActionKindServerLog:
		if a.ServerLog != nil && a.ServerLog.FormatterSource != "" {
			return a.ServerLog.FormatterSource, true
		}
	}
	return "", false
}

// Tracker is the primary user entity (§3).
type Tracker struct {
	ID        uuid.UUID     `json:"id"`
	Name      string        `json:"name"`
	Enabled   bool          `json:"enabled"`
	Target    Target        `json:"target"`
	Config    TrackerConfig `json:"config"`
	Tags      []string      `json:"tags"`
	Actions   []Action      `json:"actions"`
	JobID     *uuid.UUID    `json:"jobId,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// HasTag reports whether t carries the given (already-normalized) tag.
func (t Tracker) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if tg == tag {
			return true
		}
	}
	return false
}

// HasAllTags reports whether t carries every tag in tags (superset / AND match, §4.1).
func (t Tracker) HasAllTags(tags []string) bool {
	for _, tag := range tags {
		if !t.HasTag(tag) {
			return false
		}
	}
	return true
}

// TrackerDataValue is the (original, mods) pair described in §3.
// Mods grow append-only within one pipeline run; the effective value
// is the last of mods if present, else original.
type TrackerDataValue struct {
	Original json.RawMessage   `json:"original"`
	Mods     []json.RawMessage `json:"mods,omitempty"`
}

// Effective returns the last mod if present, else the original value.
func (v TrackerDataValue) Effective() json.RawMessage {
	if len(v.Mods) > 0 {
		return v.Mods[len(v.Mods)-1]
	}
	return v.Original
}

// WithMod returns a copy of v with payload appended to Mods.
func (v TrackerDataValue) WithMod(payload json.RawMessage) TrackerDataValue {
	mods := make([]json.RawMessage, len(v.Mods), len(v.Mods)+1)
	copy(mods, v.Mods)
	mods = append(mods, payload)
	return TrackerDataValue{Original: v.Original, Mods: mods}
}

// TrackerDataRevision is a captured snapshot of a tracker's value (§3).
type TrackerDataRevision struct {
	ID        uuid.UUID        `json:"id"`
	TrackerID uuid.UUID        `json:"trackerId"`
	Data      TrackerDataValue `json:"data"`
	CreatedAt time.Time        `json:"createdAt"`
}

// SchedulerJobMetadata is the persisted job metadata blob (§3, §6).
// It is encoded as a compact 3-byte binary record; see
// internal/scheduler for the codec.
type SchedulerJobMetadata struct {
	JobType      SchedulerJobType
	IsRunning    bool
	RetryAttempt uint8
}

// SchedulerJob is a scheduler job record (§3).
type SchedulerJob struct {
	ID        uuid.UUID            `json:"id"`
	CronExpr  string               `json:"cronExpr"`
	Metadata  SchedulerJobMetadata `json:"metadata"`
	NextTick  time.Time            `json:"nextTick,omitempty"`
	LastTick  time.Time            `json:"lastTick,omitempty"`
	Stopped   bool                 `json:"stopped"`
	TrackerID *uuid.UUID           `json:"trackerId,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
}

// Task is an enqueued side-effect (§3).
type Task struct {
	ID          uuid.UUID       `json:"id"`
	Kind        TaskKind        `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	ScheduledAt time.Time       `json:"scheduledAt"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// EmailTaskPayload is the JSON payload of a TaskKindEmail task.
type EmailTaskPayload struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

// HTTPTaskPayload is the JSON payload of a TaskKindHTTP task.
type HTTPTaskPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

