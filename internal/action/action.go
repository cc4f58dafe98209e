// Package action is the Action Dispatcher (C5): for each configured
// action, decides whether it fires relative to the last run, runs an
// optional formatter script, and enqueues a task (§4.5).
package action

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/retrack-dev/engine/retracklog"
	"github.com/retrack-dev/engine/internal/scripthost"
	"github.com/retrack-dev/engine/internal/store"
	"github.com/retrack-dev/engine/internal/types"
)

// Dispatcher evaluates and fires a tracker's configured actions.
type Dispatcher struct {
	Store        *store.Store
	ScriptLimits scripthost.Limits
	Logger       retracklog.Logger
}

// New builds a Dispatcher.
func New(s *store.Store, limits scripthost.Limits, logger retracklog.Logger) *Dispatcher {
	return &Dispatcher{Store: s, ScriptLimits: limits, Logger: logger}
}

// Dispatch evaluates one action against candidate and previous,
// running its formatter and appending its content as a mod on
// candidate when the action fires (§4.5).
func (d *Dispatcher) Dispatch(ctx context.Context, tracker *types.Tracker, act types.Action, previous, candidate *types.TrackerDataRevision) error {
	previousValue := previousValueFor(candidate, previous)
	effective := candidate.Data.Effective()

	if bytes.Equal(bytes.TrimSpace(previousValue), bytes.TrimSpace(effective)) {
		return nil
	}

	actionName := actionName(act.Kind)
	payload := effective

	if source, ok := act.Formatter(); ok {
		content, present, err := scripthost.RunFormatter(ctx, source, scripthost.FormatterArgs{
			Action:          actionName,
			NewContent:      rawToAny(effective),
			PreviousContent: rawToAny(previousValue),
		}, d.ScriptLimits)
		if err != nil {
			return err
		}
		if !present {
			return nil
		}
		payload = json.RawMessage(mustMarshalString(content))
		candidate.Data = candidate.Data.WithMod(payload)
	}

	switch act.Kind {
	case types.ActionKindEmail:
		return d.enqueueEmail(tracker, act.Email, payload)
	case types.ActionKindWebhook:
		return d.enqueueWebhook(act.Webhook, payload)
	case types.ActionKindServerLog:
		d.emitServerLog(tracker, payload)
		return nil
	}
	return nil
}

// previousValueFor computes previous_value aligned by modification
// index (§4.5): if candidate has no mods yet, it's previous's
// original; otherwise it's previous's mod at index
// len(candidate.Data.Mods)-1, falling back to previous's effective
// value when previous has fewer mods than that.
func previousValueFor(candidate, previous *types.TrackerDataRevision) json.RawMessage {
	if previous == nil {
		return nil
	}
	modIndex := len(candidate.Data.Mods)
	if modIndex == 0 {
		return previous.Data.Original
	}
	if modIndex-1 < len(previous.Data.Mods) {
		return previous.Data.Mods[modIndex-1]
	}
	return previous.Data.Effective()
}

func actionName(kind types.ActionKind) string {
	switch kind {
	case types.ActionKindEmail:
		return "email"
	case types.ActionKindWebhook:
		return "webhook"
	case types.ActionKindServerLog:
		return "log"
	default:
		return string(kind)
	}
}

func rawToAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func mustMarshalString(s string) []byte {
	encoded, err := json.Marshal(s)
	if err != nil {
		return []byte(`""`)
	}
	return encoded
}

func (d *Dispatcher) enqueueEmail(tracker *types.Tracker, cfg *types.EmailAction, payload json.RawMessage) error {
	if cfg == nil {
		return nil
	}
	body := string(payload)
	var text string
	if err := json.Unmarshal(payload, &text); err == nil {
		body = text
	}
	task := &types.Task{
		ID:   uuid.Must(uuid.NewV7()),
		Kind: types.TaskKindEmail,
		Payload: mustMarshalJSON(types.EmailTaskPayload{
			Recipients: cfg.Recipients,
			Subject:    "Retrack: " + tracker.Name + " changed",
			Body:       body,
		}),
		ScheduledAt: time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	return d.Store.ScheduleTask(task)
}

func (d *Dispatcher) enqueueWebhook(cfg *types.WebhookAction, payload json.RawMessage) error {
	if cfg == nil {
		return nil
	}
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	task := &types.Task{
		ID:   uuid.Must(uuid.NewV7()),
		Kind: types.TaskKindHTTP,
		Payload: mustMarshalJSON(types.HTTPTaskPayload{
			URL:     cfg.URL,
			Method:  method,
			Headers: cfg.Headers,
			Body:    payload,
		}),
		ScheduledAt: time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	return d.Store.ScheduleTask(task)
}

func (d *Dispatcher) emitServerLog(tracker *types.Tracker, payload json.RawMessage) {
	logger := retracklog.WithTracker(d.Logger, tracker.ID.String(), tracker.Name)
	logger.Infof("tracker changed: %s", compactPayload(payload))
}

func compactPayload(payload json.RawMessage) string {
	const maxLen = 500
	s := string(payload)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

func mustMarshalJSON(v any) json.RawMessage {
	encoded, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return encoded
}
