// Package tracker is the Tracker Admin (C7): validation, tag
// normalization, and CRUD over tracker definitions, generalized from
// the teacher's CLI-flag validation pattern (utils/valid/validation.go,
// cli/tasks.go's mutually-exclusive-flag checks) into the tracker data
// model of spec.md §3.
package tracker

import (
	"strings"
	"time"

	"github.com/retrack-dev/engine/internal/engineconfig"
	"github.com/retrack-dev/engine/internal/retrackerr"
	"github.com/retrack-dev/engine/internal/scheduler"
	"github.com/retrack-dev/engine/internal/types"
)

const (
	maxNameLength      = 100
	maxTags            = 20
	maxTagLength       = 50
	maxActions         = 10
	maxUserAgentLength = 200
	maxApiRequests     = 10
	maxHeaders         = 20
	maxEmailRecipients = 10
	minRetryInterval   = 60 * time.Second
)

// validate checks every invariant of spec.md §3 against t, given the
// engine-wide config knobs that bound revisions/timeout/script size.
// Each distinct cause gets its own message — deliberately not
// reproducing the "user-agent empty" / "extractor script empty"
// conflation bug present in the original (§9 Open Question, resolved
// in DESIGN.md).
func validate(t *types.Tracker, cfg *engineconfig.Config) error {
	if l := len(t.Name); l < 1 || l > maxNameLength {
		return retrackerr.Newf(retrackerr.KindValidation, "tracker name must be 1..%d characters, got %d", maxNameLength, l)
	}
	if err := validateTags(t.Tags); err != nil {
		return err
	}
	if len(t.Actions) > maxActions {
		return retrackerr.Newf(retrackerr.KindValidation, "tracker may declare at most %d actions, got %d", maxActions, len(t.Actions))
	}
	if err := validateConfig(t.Config, cfg); err != nil {
		return err
	}
	if err := validateTarget(t.Target, cfg); err != nil {
		return err
	}
	for i, a := range t.Actions {
		if err := validateAction(a); err != nil {
			return retrackerr.Wrapf(retrackerr.KindValidation, err, "action %d", i)
		}
	}
	return nil
}

func validateTags(tags []string) error {
	if len(tags) > maxTags {
		return retrackerr.Newf(retrackerr.KindValidation, "tracker may carry at most %d tags, got %d", maxTags, len(tags))
	}
	for _, tag := range tags {
		if l := len(tag); l < 1 || l > maxTagLength {
			return retrackerr.Newf(retrackerr.KindValidation, "tag %q must be 1..%d characters", tag, maxTagLength)
		}
	}
	return nil
}

func validateConfig(c types.TrackerConfig, cfg *engineconfig.Config) error {
	if c.Revisions < 0 || c.Revisions > cfg.MaxRevisions {
		return retrackerr.Newf(retrackerr.KindValidation, "config.revisions must be 0..%d, got %d", cfg.MaxRevisions, c.Revisions)
	}
	if c.Timeout != nil && (*c.Timeout <= 0 || *c.Timeout > cfg.MaxTimeout) {
		return retrackerr.Newf(retrackerr.KindValidation, "config.timeout must be 0 < timeout <= %s", cfg.MaxTimeout)
	}
	if c.Job == nil {
		return nil
	}
	if err := scheduler.ValidateFloor(c.Job.Schedule, cfg.MinScheduleInterval, time.Now().UTC()); err != nil {
		return retrackerr.Wrap(retrackerr.KindValidation, err, "config.job.schedule")
	}
	if c.Job.Retry != nil {
		if err := validateRetryStrategy(*c.Job.Retry, cfg); err != nil {
			return err
		}
	}
	return nil
}

func validateRetryStrategy(strategy types.RetryStrategy, cfg *engineconfig.Config) error {
	if strategy.MaxAttempts < 1 || strategy.MaxAttempts > 10 {
		return retrackerr.Newf(retrackerr.KindValidation, "retry.maxAttempts must be 1..10, got %d", strategy.MaxAttempts)
	}

	maxCeiling := cfg.MaxAllowedRetryInterval()

	switch strategy.Kind {
	case types.RetryStrategyConstant:
		if strategy.Interval < minRetryInterval {
			return retrackerr.Newf(retrackerr.KindValidation, "retry.interval must be >= %s, got %s", minRetryInterval, strategy.Interval)
		}
	case types.RetryStrategyLinear:
		if strategy.Initial < minRetryInterval {
			return retrackerr.Newf(retrackerr.KindValidation, "retry.initial must be >= %s, got %s", minRetryInterval, strategy.Initial)
		}
		if strategy.MaxInterval < minRetryInterval || strategy.MaxInterval > maxCeiling {
			return retrackerr.Newf(retrackerr.KindValidation, "retry.maxInterval must be %s..12h, got %s", minRetryInterval, strategy.MaxInterval)
		}
	case types.RetryStrategyExponential:
		if strategy.Initial < minRetryInterval {
			return retrackerr.Newf(retrackerr.KindValidation, "retry.initial must be >= %s, got %s", minRetryInterval, strategy.Initial)
		}
		if strategy.Multiplier <= 1 {
			return retrackerr.Newf(retrackerr.KindValidation, "retry.multiplier must be > 1, got %v", strategy.Multiplier)
		}
		if strategy.MaxInterval < minRetryInterval || strategy.MaxInterval > maxCeiling {
			return retrackerr.Newf(retrackerr.KindValidation, "retry.maxInterval must be %s..12h, got %s", minRetryInterval, strategy.MaxInterval)
		}
	default:
		return retrackerr.Newf(retrackerr.KindValidation, "unrecognized retry strategy kind %q", strategy.Kind)
	}
	return nil
}

func validateTarget(target types.Target, cfg *engineconfig.Config) error {
	switch target.Kind {
	case types.TargetKindPage:
		if target.Page == nil {
			return retrackerr.New(retrackerr.KindValidation, "page target requires target.page")
		}
		return validatePageTarget(*target.Page, cfg)
	case types.TargetKindApi:
		if target.Api == nil {
			return retrackerr.New(retrackerr.KindValidation, "api target requires target.api")
		}
		return validateApiTarget(*target.Api, cfg)
	default:
		return retrackerr.Newf(retrackerr.KindValidation, "unrecognized target kind %q", target.Kind)
	}
}

func validatePageTarget(p types.PageTarget, cfg *engineconfig.Config) error {
	if err := validateScriptSource(p.ExtractorSource, p.ExtractorSourceIsURL, cfg, "page.extractorSource"); err != nil {
		return err
	}
	if p.UserAgent != "" && len(p.UserAgent) > maxUserAgentLength {
		return retrackerr.Newf(retrackerr.KindValidation, "page.userAgent cannot be longer than %d characters", maxUserAgentLength)
	}
	return nil
}

func validateApiTarget(a types.ApiTarget, cfg *engineconfig.Config) error {
	if l := len(a.Requests); l < 1 || l > maxApiRequests {
		return retrackerr.Newf(retrackerr.KindValidation, "api.requests must contain 1..%d entries, got %d", maxApiRequests, l)
	}
	for i, req := range a.Requests {
		if req.URL == "" {
			return retrackerr.Newf(retrackerr.KindValidation, "api.requests[%d].url cannot be empty", i)
		}
		if len(req.Headers) > maxHeaders {
			return retrackerr.Newf(retrackerr.KindValidation, "api.requests[%d].headers cannot exceed %d entries", i, maxHeaders)
		}
	}
	if a.ConfiguratorSource != "" {
		if err := validateScriptSource(a.ConfiguratorSource, a.ConfiguratorSourceIsURL, cfg, "api.configuratorSource"); err != nil {
			return err
		}
	}
	if a.ExtractorSource != "" {
		if err := validateScriptSource(a.ExtractorSource, a.ExtractorSourceIsURL, cfg, "api.extractorSource"); err != nil {
			return err
		}
	}
	return nil
}

func validateScriptSource(source string, isURL bool, cfg *engineconfig.Config, field string) error {
	if source == "" {
		return retrackerr.Newf(retrackerr.KindValidation, "%s cannot be empty", field)
	}
	if !isURL && len(source) > cfg.MaxScriptSize {
		return retrackerr.Newf(retrackerr.KindValidation, "%s exceeds the %d byte inline script limit", field, cfg.MaxScriptSize)
	}
	return nil
}

func validateAction(a types.Action) error {
	switch a.Kind {
	case types.ActionKindEmail:
		if a.Email == nil {
			return retrackerr.New(retrackerr.KindValidation, "email action requires action.email")
		}
		if l := len(a.Email.Recipients); l < 1 || l > maxEmailRecipients {
			return retrackerr.Newf(retrackerr.KindValidation, "email.recipients must contain 1..%d entries, got %d", maxEmailRecipients, l)
		}
	case types.ActionKindWebhook:
		if a.Webhook == nil {
			return retrackerr.New(retrackerr.KindValidation, "webhook action requires action.webhook")
		}
		if a.Webhook.URL == "" {
			return retrackerr.New(retrackerr.KindValidation, "webhook.url cannot be empty")
		}
		switch strings.ToUpper(a.Webhook.Method) {
		case "", "GET", "POST", "PUT":
		default:
			return retrackerr.Newf(retrackerr.KindValidation, "webhook.method must be one of GET, POST, PUT, got %q", a.Webhook.Method)
		}
		if len(a.Webhook.Headers) > maxHeaders {
			return retrackerr.Newf(retrackerr.KindValidation, "webhook.headers cannot exceed %d entries", maxHeaders)
		}
	case types.ActionKindServerLog:
		// ServerLog has no required fields beyond the optional formatter.
	default:
		return retrackerr.Newf(retrackerr.KindValidation, "unrecognized action kind %q", a.Kind)
	}
	return nil
}

// normalizeTags lower-cases, trims, drops empty entries and dedupes
// (order-preserving) the tag set per §3's "ordered set" invariant. It
// does not cap the count; validateTags rejects more than maxTags.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		norm := strings.ToLower(strings.TrimSpace(tag))
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}
