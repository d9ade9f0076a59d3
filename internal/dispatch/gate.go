package dispatch

import (
	"strings"

	"github.com/gyaneshwarpardhi/subwatch/internal/config"
	"github.com/gyaneshwarpardhi/subwatch/internal/event"
)

// gate decides whether dispatch proceeds. An empty expression always
// passes. Otherwise the evaluator's result must be a boolean literal;
// anything else, including an evaluator failure, suppresses dispatch
// without failing it.
func (d *Dispatcher) gate(cfg *config.DispatchConfig, ev *event.Event) bool {
	expr := cfg.Condition
	if expr == "" {
		return true
	}

	result, err := d.eval.Evaluate(expr, ev.Record)
	if err != nil {
		d.logger.Debug("condition evaluation failed, suppressing dispatch",
			"event_id", ev.ID, "err", err)
		return false
	}

	switch strings.ToLower(result) {
	case "true":
		return true
	case "false":
		d.logger.Debug("condition not met, exiting", "event_id", ev.ID)
		return false
	default:
		d.logger.Debug("condition result is not a boolean, suppressing dispatch",
			"event_id", ev.ID, "result", result)
		return false
	}
}
