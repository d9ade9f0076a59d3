// Package engine hosts the dispatcher behind a bounded worker pool so
// that events can be processed synchronously or queued. A single
// dispatch always runs sequentially; the pool only bounds how many
// events are in flight at once.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/subwatch/internal/config"
	"github.com/gyaneshwarpardhi/subwatch/internal/dispatch"
	"github.com/gyaneshwarpardhi/subwatch/internal/event"
	"github.com/gyaneshwarpardhi/subwatch/internal/metrics"
)

// Engine feeds events to the dispatcher.
type Engine struct {
	disp      *dispatch.Dispatcher
	dispCfg   atomic.Pointer[config.DispatchConfig]
	eventPool *workerPool[*eventWork, *dispatch.Result]
	conf      *config.EngineConf
	logger    *slog.Logger
}

type eventWork struct {
	ev      *event.Event
	resultC chan dispatchOutcome
}

type dispatchOutcome struct {
	res *dispatch.Result
	err error
}

// New creates an Engine using conf and starts the worker pool.
func New(ctx context.Context, disp *dispatch.Dispatcher, dispCfg *config.DispatchConfig, conf config.EngineConf, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		disp:   disp,
		conf:   &conf,
		logger: logger,
	}
	e.dispCfg.Store(dispCfg)

	e.eventPool = newWorkerPool[*eventWork, *dispatch.Result](
		ctx,
		conf.EventWorkers,
		conf.QueueDepth,
		func(ctx context.Context, w *eventWork) (*dispatch.Result, error) {
			res, err := e.processEvent(ctx, w.ev)
			if w.resultC != nil {
				w.resultC <- dispatchOutcome{res: res, err: err}
			}
			return res, err
		},
	)

	return e
}

// SwapConfig atomically replaces the dispatch config (used on hot-reload).
func (e *Engine) SwapConfig(cfg *config.DispatchConfig) {
	e.dispCfg.Store(cfg)
}

// DispatchConfig returns the currently active dispatch config.
func (e *Engine) DispatchConfig() *config.DispatchConfig {
	return e.dispCfg.Load()
}

// ProcessSync dispatches an event and waits for the result. It fails
// when the queue is full or the configured timeout elapses.
func (e *Engine) ProcessSync(ctx context.Context, ev *event.Event) (*dispatch.Result, error) {
	resultC := make(chan dispatchOutcome, 1)
	w := &eventWork{ev: ev, resultC: resultC}

	timeout := time.Duration(e.conf.EventTimeoutMs) * time.Millisecond
	if !e.eventPool.Submit(w) {
		metrics.EventsDropped.Inc()
		return nil, fmt.Errorf("event queue full (capacity %d)", e.conf.QueueDepth)
	}
	metrics.EventsEnqueued.Inc()

	select {
	case out := <-resultC:
		return out.res, out.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("dispatch timeout after %v", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ProcessAsync enqueues an event for background dispatch. Returns false
// if the queue is full.
func (e *Engine) ProcessAsync(ev *event.Event) bool {
	w := &eventWork{ev: ev}
	if !e.eventPool.Submit(w) {
		metrics.EventsDropped.Inc()
		return false
	}
	metrics.EventsEnqueued.Inc()
	return true
}

// QueueUtilization returns queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.eventPool.QueueCap() == 0 {
		return 0
	}
	return float64(e.eventPool.QueueLen()) / float64(e.eventPool.QueueCap())
}

func (e *Engine) processEvent(ctx context.Context, ev *event.Event) (*dispatch.Result, error) {
	res, err := e.disp.Dispatch(ctx, e.dispCfg.Load(), ev)

	switch {
	case err != nil:
		metrics.Dispatches.WithLabelValues(metrics.OutcomeError).Inc()
		e.logger.Error("dispatch failed", "event_id", ev.ID, "err", err)
	case res.Aborted == dispatch.AbortCondition:
		metrics.Dispatches.WithLabelValues(metrics.OutcomeSuppressed).Inc()
	case res.Aborted != "":
		metrics.Dispatches.WithLabelValues(metrics.OutcomeNoTarget).Inc()
	case res.Created() == 0:
		metrics.Dispatches.WithLabelValues(metrics.OutcomeEmpty).Inc()
	default:
		metrics.Dispatches.WithLabelValues(metrics.OutcomeDispatched).Inc()
	}
	if res != nil {
		metrics.NotificationsCreated.Add(float64(res.Created()))
		metrics.DispatchDuration.Observe(float64(res.DurationMs))
	}
	return res, err
}

// Shutdown drains the pool gracefully.
func (e *Engine) Shutdown() {
	e.eventPool.Drain()
}
