package dispatch

import (
	"github.com/gyaneshwarpardhi/subwatch/internal/config"
	"github.com/gyaneshwarpardhi/subwatch/internal/event"
	"github.com/gyaneshwarpardhi/subwatch/internal/record"
)

// resolveTarget determines the record subscriptions are keyed against.
// With no parent lookup configured and a usable identity on the changed
// record, the target is the record itself. Otherwise the parent lookup
// field is read from the changed record, falling back to the pre-change
// snapshot. Resolution is side-effect-free.
func (d *Dispatcher) resolveTarget(cfg *config.DispatchConfig, ev *event.Event, eventRef record.Reference) (record.Reference, bool) {
	if cfg.ParentLookup == "" && !eventRef.IsZero() {
		return eventRef, true
	}
	if cfg.ParentLookup == "" {
		return record.Reference{}, false
	}
	if ev.Record != nil {
		if ref, ok := ev.Record.RefField(cfg.ParentLookup); ok {
			return ref, true
		}
		// Partial update without the lookup field: the snapshot still
		// carries it.
		if !ev.Record.Has(cfg.ParentLookup) && ev.PreImage != nil {
			if ref, ok := ev.PreImage.RefField(cfg.ParentLookup); ok {
				return ref, true
			}
		}
		return record.Reference{}, false
	}
	if ev.PreImage != nil {
		if ref, ok := ev.PreImage.RefField(cfg.ParentLookup); ok {
			return ref, true
		}
	}
	return record.Reference{}, false
}
