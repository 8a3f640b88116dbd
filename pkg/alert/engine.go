// Package alert is the polling engine: on a fixed interval it fetches the
// arrival board once per subscribed stop, evaluates every subscription on
// that stop against the snapshot, and dispatches warning and arrival
// notifications.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"busalert/pkg/metrics"
	"busalert/pkg/render"
	"busalert/pkg/types"
	"busalert/pkg/watchlist"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ArrivalSource fetches the live arrival board for one stop.
type ArrivalSource interface {
	Arrivals(ctx context.Context, stopCode string) (types.ArrivalBoard, error)
}

// Notifier delivers one notification text to one recipient.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// StopNamer resolves a stop code to its display name, falling back to the
// raw code.
type StopNamer interface {
	DisplayName(code string) string
}

type Config struct {
	// Interval between poll cycles.
	Interval time.Duration

	// WarnThreshold is the ETA at which the one-time approach warning
	// goes out.
	WarnThreshold time.Duration

	// MaxMissedCycles retires a subscription after this many consecutive
	// cycles without a matching service on the board. Zero keeps
	// unmatched subscriptions forever.
	MaxMissedCycles int
}

type Engine struct {
	cfg      Config
	source   ArrivalSource
	store    *watchlist.Store
	notifier Notifier
	stops    StopNamer
	tracer   trace.Tracer

	// now is swappable for tests.
	now func() time.Time
}

func New(cfg Config, source ArrivalSource, store *watchlist.Store, notifier Notifier, stops StopNamer) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("arrival source is required")
	}
	if store == nil {
		return nil, fmt.Errorf("subscription store is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.WarnThreshold <= 0 {
		cfg.WarnThreshold = 5 * time.Minute
	}

	return &Engine{
		cfg:      cfg,
		source:   source,
		store:    store,
		notifier: notifier,
		stops:    stops,
		tracer:   otel.Tracer("alert-engine"),
		now:      time.Now,
	}, nil
}

// Run drives poll cycles until the context is cancelled. No cycle outcome
// is fatal; failures are logged and the ticker keeps going.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	slog.Info("Alert engine started", "interval", e.cfg.Interval, "warn_threshold", e.cfg.WarnThreshold)

	if err := e.cycleOnce(ctx); err != nil {
		slog.Error("Poll cycle error", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Alert engine stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := e.cycleOnce(ctx); err != nil {
				slog.Error("Poll cycle error", "error", err)
			}
		}
	}
}

type stopResult struct {
	stopCode string
	board    types.ArrivalBoard
	err      error
}

// cycleOnce runs one fetch-evaluate-notify pass. Fetches for distinct
// stops run concurrently; evaluation over the collected snapshots is
// sequential, so each subscription fires at most once per cycle.
func (e *Engine) cycleOnce(ctx context.Context) error {
	stopCodes := e.store.StopCodes()
	if len(stopCodes) == 0 {
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "engine.cycle_once",
		trace.WithAttributes(
			attribute.Int("stops_count", len(stopCodes)),
			attribute.Int("subscriptions_count", e.store.Len()),
		),
	)
	defer span.End()

	start := time.Now()

	results := make(chan stopResult, len(stopCodes))
	for _, stopCode := range stopCodes {
		go func(code string) {
			fetchCtx, fetchSpan := e.tracer.Start(ctx, "engine.fetch_stop",
				trace.WithAttributes(attribute.String("stop_code", code)),
			)
			defer fetchSpan.End()

			board, err := e.source.Arrivals(fetchCtx, code)
			if err != nil {
				fetchSpan.RecordError(err)
			}
			results <- stopResult{stopCode: code, board: board, err: err}
		}(stopCode)
	}

	var boards []types.ArrivalBoard
	failed := 0
	for i := 0; i < len(stopCodes); i++ {
		result := <-results
		if result.err != nil {
			failed++
			slog.Warn("Arrival fetch failed, will retry next cycle",
				"stop_code", result.stopCode, "error", result.err)
			continue
		}
		boards = append(boards, result.board)
	}

	for _, board := range boards {
		render.SortServices(board.Services)
		e.evaluateStop(ctx, board)
	}

	span.SetAttributes(
		attribute.Int("stops_failed", failed),
		attribute.String("cycle_duration", time.Since(start).String()),
	)

	e.recordCycleMetrics(ctx, len(stopCodes), failed, time.Since(start))

	if failed == len(stopCodes) {
		return fmt.Errorf("all %d stop fetches failed this cycle", failed)
	}
	return nil
}

// evaluateStop walks one stop's subscription snapshot against one board.
// The store's Remove/MarkWarned returns arbitrate races with concurrent
// cancels: the notification is only sent by the caller that wins the
// store mutation.
func (e *Engine) evaluateStop(ctx context.Context, board types.ArrivalBoard) {
	stopName := e.stopName(board.StopCode)
	warnMinutes := int(e.cfg.WarnThreshold.Minutes())
	now := e.now()

	for _, sub := range e.store.ForStop(board.StopCode) {
		if metrics.SubscriptionsEvaluated != nil {
			metrics.SubscriptionsEvaluated.Add(ctx, 1)
		}

		svc, found := board.Find(sub.ServiceNo)
		if !found {
			// The vehicle may be temporarily off the board; leave the
			// subscription active and re-evaluate next cycle.
			e.recordMiss(ctx, sub, stopName)
			continue
		}
		e.store.ResetMisses(sub.ChatID, sub.StopCode, sub.ServiceNo)

		if len(svc.Next) == 0 || !svc.Next[0].Known() {
			continue
		}
		eta := svc.Next[0]
		mins := eta.MinutesFrom(now)

		switch {
		case mins <= 0:
			// Remove first: the removal is the commit point, so a cancel
			// that got there first suppresses this notification.
			if !e.store.Remove(sub.ChatID, sub.StopCode, sub.ServiceNo) {
				continue
			}
			e.send(ctx, sub.ChatID, render.ArrivalAlert(sub.ServiceNo, eta, stopName, board.StopCode))
			if metrics.AlertsFiredTotal != nil {
				metrics.AlertsFiredTotal.Add(ctx, 1)
			}

		case mins == warnMinutes && !sub.Warned:
			if !e.store.MarkWarned(sub.ChatID, sub.StopCode, sub.ServiceNo) {
				continue
			}
			e.send(ctx, sub.ChatID, render.ApproachWarning(sub.ServiceNo, eta, stopName, board.StopCode, mins))
			if metrics.WarningsSentTotal != nil {
				metrics.WarningsSentTotal.Add(ctx, 1)
			}
		}
	}
}

func (e *Engine) recordMiss(ctx context.Context, sub types.Subscription, stopName string) {
	misses := e.store.RecordMiss(sub.ChatID, sub.StopCode, sub.ServiceNo)
	if e.cfg.MaxMissedCycles <= 0 || misses < e.cfg.MaxMissedCycles {
		return
	}
	if !e.store.Remove(sub.ChatID, sub.StopCode, sub.ServiceNo) {
		return
	}
	slog.Info("Subscription expired after repeated misses",
		"chat_id", sub.ChatID, "stop_code", sub.StopCode, "service_no", sub.ServiceNo, "misses", misses)
	e.send(ctx, sub.ChatID, render.ExpiredNotice(sub.ServiceNo, stopName, sub.StopCode))
	if metrics.SubscriptionsExpiredTotal != nil {
		metrics.SubscriptionsExpiredTotal.Add(ctx, 1)
	}
}

func (e *Engine) send(ctx context.Context, chatID int64, text string) {
	if err := e.notifier.Notify(ctx, chatID, text); err != nil {
		slog.Error("Notification dispatch failed", "chat_id", chatID, "error", err)
	}
}

func (e *Engine) stopName(code string) string {
	if e.stops == nil {
		return code
	}
	return e.stops.DisplayName(code)
}

func (e *Engine) recordCycleMetrics(ctx context.Context, stops, failed int, elapsed time.Duration) {
	if metrics.PollCyclesTotal != nil {
		metrics.PollCyclesTotal.Add(ctx, 1)
	}
	if metrics.PollCycleDuration != nil {
		metrics.PollCycleDuration.Record(ctx, elapsed.Seconds())
	}
	if metrics.PollStopsFetched != nil {
		metrics.PollStopsFetched.Add(ctx, int64(stops-failed),
			metric.WithAttributes(attribute.String("status", "success")))
		metrics.PollStopsFetched.Add(ctx, int64(failed),
			metric.WithAttributes(attribute.String("status", "error")))
	}
	if failed < stops {
		metrics.RecordCycleSuccess()
	}
}
