// Package dispatch implements the notification dispatch engine: given a
// change event on a record, decide whether and to whom to emit
// notification records.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/subwatch/internal/condition"
	"github.com/gyaneshwarpardhi/subwatch/internal/config"
	"github.com/gyaneshwarpardhi/subwatch/internal/event"
	"github.com/gyaneshwarpardhi/subwatch/internal/record"
	"github.com/gyaneshwarpardhi/subwatch/internal/template"
)

// Entity and field names of the persisted subscription/notification
// model. The lookup field names joining them to the target entity are
// configurable; these are not.
const (
	EntitySubscription = "oss_subscription"
	EntityNotification = "oss_notification"
	EntityUser         = "systemuser"
	EntityUserSettings = "usersettings"

	FieldOwner     = "ownerid"
	FieldState     = "statecode"
	FieldEventKind = "oss_event"
	FieldData      = "oss_data"
	FieldText      = "oss_text"
	FieldLocale    = "localeid"

	// StateActive marks a live subscription.
	StateActive = 0

	// localeColumn is the aliased join column carrying the subscriber's
	// locale id.
	localeColumn = EntityUserSettings + "." + FieldLocale
)

// Abort reasons reported in Result.Aborted.
const (
	AbortNoTarget  = "no_target"
	AbortNoRecord  = "no_record"
	AbortCondition = "condition"
)

// Result is the outcome of one dispatch.
type Result struct {
	EventID         string            `json:"event_id"`
	Kind            event.Kind        `json:"kind"`
	Operation       string            `json:"operation"`
	Target          *record.Reference `json:"target,omitempty"`
	Matched         int               `json:"matched"`
	NotificationIDs []uuid.UUID       `json:"notification_ids,omitempty"`
	Aborted         string            `json:"aborted,omitempty"`
	DurationMs      int64             `json:"duration_ms"`
}

// Created returns the number of notifications persisted.
func (r *Result) Created() int {
	return len(r.NotificationIDs)
}

// Dispatcher runs the dispatch pipeline. It holds no per-event state;
// every Dispatch call is a pure function of the event, the config, and
// the store contents at query time.
type Dispatcher struct {
	store    record.Store
	eval     condition.Evaluator
	renderer template.Renderer
	logger   *slog.Logger
}

// New wires a Dispatcher. A nil logger falls back to slog.Default.
func New(store record.Store, eval condition.Evaluator, renderer template.Renderer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, eval: eval, renderer: renderer, logger: logger}
}

// Dispatch runs the full pipeline for one event under the given config.
// Only store failures surface as errors; a missing target or a failed
// condition gate end the dispatch silently with the reason recorded in
// the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg *config.DispatchConfig, ev *event.Event) (*Result, error) {
	start := time.Now()
	res := &Result{
		EventID:   ev.ID,
		Kind:      ev.Kind(),
		Operation: ev.Operation,
	}
	defer func() {
		res.DurationMs = time.Since(start).Milliseconds()
	}()

	eventRef := ev.Reference()
	if eventRef == nil {
		d.logger.Debug("event carries neither record nor reference, exiting", "event_id", ev.ID)
		res.Aborted = AbortNoRecord
		return res, nil
	}

	target, ok := d.resolveTarget(cfg, ev, *eventRef)
	if !ok {
		d.logger.Debug("failed to find dispatch target, exiting",
			"event_id", ev.ID, "parent_lookup", cfg.ParentLookup)
		res.Aborted = AbortNoTarget
		return res, nil
	}
	res.Target = &target

	if !d.gate(cfg, ev) {
		res.Aborted = AbortCondition
		return res, nil
	}

	matched, err := d.matchSubscriptions(ctx, cfg, target, ev.ActorID)
	if err != nil {
		return res, err
	}
	res.Matched = len(matched)
	if len(matched) == 0 {
		return res, nil
	}

	messages := d.renderMessages(cfg, ev.Record, matched)

	payload, err := marshalPayload(cfg, ev, *eventRef)
	if err != nil {
		return res, err
	}

	ids, err := d.emit(ctx, cfg, target, ev.Kind(), payload, matched, messages)
	res.NotificationIDs = ids
	return res, err
}
