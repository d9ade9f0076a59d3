package dispatch

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/subwatch/internal/config"
	"github.com/gyaneshwarpardhi/subwatch/internal/record"
)

// match is one subscription joined to its subscriber's locale key.
type match struct {
	Subscription *record.Record
	Locale       string
}

// matchSubscriptions queries active subscriptions for the target,
// excluding the acting user's own subscriptions unless configured
// otherwise, and joins each to the subscriber's locale setting. Zero
// matches is a normal empty dispatch.
func (d *Dispatcher) matchSubscriptions(ctx context.Context, cfg *config.DispatchConfig, target record.Reference, actorID uuid.UUID) ([]match, error) {
	filter := record.Filter{
		Joins: []record.Join{{
			FromField: FieldOwner,
			ToEntity:  EntityUser,
			ToField:   "id",
			Alias:     EntityUser,
			Joins: []record.Join{{
				FromField: "id",
				ToEntity:  EntityUserSettings,
				ToField:   "systemuserid",
				Alias:     EntityUserSettings,
				Columns:   []string{FieldLocale},
			}},
		}},
	}.
		Eq(cfg.SubscriptionLookup, target.ID).
		Eq(FieldState, StateActive)

	if !cfg.NotifyCurrentUser {
		filter = filter.Ne(FieldOwner, actorID)
	}

	subs, err := d.store.Query(ctx, EntitySubscription, filter)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}

	matched := make([]match, 0, len(subs))
	for _, sub := range subs {
		matched = append(matched, match{
			Subscription: sub,
			Locale:       localeKey(sub),
		})
	}
	return matched, nil
}

// localeKey normalizes the joined locale column to a template key: the
// locale id formatted as an integer, or "default" when the subscriber
// has no locale setting.
func localeKey(sub *record.Record) string {
	v, ok := sub.Get(localeColumn)
	if !ok || v == nil {
		return config.DefaultLocaleKey
	}
	switch n := v.(type) {
	case int:
		return fmt.Sprintf("%d", n)
	case int64:
		return fmt.Sprintf("%d", n)
	case float64:
		if n == math.Trunc(n) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%v", n)
	case string:
		if n == "" {
			return config.DefaultLocaleKey
		}
		return n
	default:
		return fmt.Sprintf("%v", v)
	}
}
