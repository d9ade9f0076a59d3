package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/subwatch/internal/config"
	"github.com/gyaneshwarpardhi/subwatch/internal/event"
	"github.com/gyaneshwarpardhi/subwatch/internal/record"
)

// Payload is the serialized event metadata carried by every
// notification of one dispatch.
type Payload struct {
	EventRecordReference record.Reference `json:"EventRecordReference"`
	UpdatedFields        []string         `json:"UpdatedFields"`
}

// marshalPayload builds the payload JSON shared by all notifications:
// the changed record's reference plus its field names filtered by the
// captured-fields allowlist (case-insensitive, record order).
func marshalPayload(cfg *config.DispatchConfig, ev *event.Event, eventRef record.Reference) ([]byte, error) {
	var updated []string
	if ev.Record != nil {
		updated = ev.Record.FilterFieldNames(cfg.CapturedFields)
	}
	data, err := json.Marshal(Payload{
		EventRecordReference: eventRef,
		UpdatedFields:        updated,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

// emit creates one notification per matched subscription. Each create
// is an independent write: a store failure aborts the remainder but
// leaves earlier notifications in place.
func (d *Dispatcher) emit(ctx context.Context, cfg *config.DispatchConfig, target record.Reference, kind event.Kind, payload []byte, matched []match, messages map[string]*string) ([]uuid.UUID, error) {
	created := make([]uuid.UUID, 0, len(matched))
	for _, m := range matched {
		owner, ok := m.Subscription.RefField(FieldOwner)
		if !ok {
			d.logger.Debug("subscription has no owner, skipping",
				"subscription_id", m.Subscription.ID)
			continue
		}

		fields := map[string]any{
			FieldOwner:             owner,
			FieldEventKind:         int(kind),
			cfg.NotificationLookup: target,
			FieldData:              string(payload),
		}
		if msg := messages[m.Locale]; msg != nil {
			fields[FieldText] = *msg
		}

		id, err := d.store.Create(ctx, EntityNotification, fields)
		if err != nil {
			return created, fmt.Errorf("create notification for %s: %w", owner, err)
		}
		created = append(created, id)
	}
	return created, nil
}
