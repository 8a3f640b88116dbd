package metrics

import (
	"go.opentelemetry.io/otel/metric"
)

// Poller Metrics
var (
	// PollCyclesTotal counts poll cycles
	PollCyclesTotal metric.Int64Counter

	// PollCycleDuration measures the duration of poll cycles
	PollCycleDuration metric.Float64Histogram

	// PollStopsFetched counts per-cycle stop fetches by status
	PollStopsFetched metric.Int64Counter
)

// Subscription Metrics
var (
	// SubscriptionsEvaluated counts subscription evaluations against boards
	SubscriptionsEvaluated metric.Int64Counter

	// SubscribesTotal counts subscriptions created via chat
	SubscribesTotal metric.Int64Counter

	// CancelsTotal counts subscriptions cancelled via chat
	CancelsTotal metric.Int64Counter

	// SubscriptionsExpiredTotal counts subscriptions retired after repeated misses
	SubscriptionsExpiredTotal metric.Int64Counter
)

// Notification Metrics
var (
	// AlertsFiredTotal counts arrival notifications sent
	AlertsFiredTotal metric.Int64Counter

	// WarningsSentTotal counts approach warnings sent
	WarningsSentTotal metric.Int64Counter

	// TelegramSendsTotal counts Telegram message sends by status
	TelegramSendsTotal metric.Int64Counter
)

// Upstream API Metrics
var (
	// DataMallRequestsTotal counts DataMall API requests by endpoint
	DataMallRequestsTotal metric.Int64Counter

	// GeocodeRequestsTotal counts Nominatim search requests
	GeocodeRequestsTotal metric.Int64Counter
)

// initializeInstruments creates all metric instruments
func initializeInstruments() error {
	var err error

	// Poller Metrics
	PollCyclesTotal, err = Meter.Int64Counter(
		"poller.cycles.total",
		metric.WithDescription("Total number of poll cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return err
	}

	PollCycleDuration, err = Meter.Float64Histogram(
		"poller.cycle.duration",
		metric.WithDescription("Duration of poll cycles"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		return err
	}

	PollStopsFetched, err = Meter.Int64Counter(
		"poller.stops.fetched",
		metric.WithDescription("Stop board fetches per cycle by status"),
		metric.WithUnit("{stop}"),
	)
	if err != nil {
		return err
	}

	// Subscription Metrics
	SubscriptionsEvaluated, err = Meter.Int64Counter(
		"subscriptions.evaluated.total",
		metric.WithDescription("Subscription evaluations against arrival boards"),
		metric.WithUnit("{subscription}"),
	)
	if err != nil {
		return err
	}

	SubscribesTotal, err = Meter.Int64Counter(
		"subscriptions.created.total",
		metric.WithDescription("Subscriptions created via chat"),
		metric.WithUnit("{subscription}"),
	)
	if err != nil {
		return err
	}

	CancelsTotal, err = Meter.Int64Counter(
		"subscriptions.cancelled.total",
		metric.WithDescription("Subscriptions cancelled via chat"),
		metric.WithUnit("{subscription}"),
	)
	if err != nil {
		return err
	}

	SubscriptionsExpiredTotal, err = Meter.Int64Counter(
		"subscriptions.expired.total",
		metric.WithDescription("Subscriptions retired after repeated misses"),
		metric.WithUnit("{subscription}"),
	)
	if err != nil {
		return err
	}

	// Notification Metrics
	AlertsFiredTotal, err = Meter.Int64Counter(
		"alerts.fired.total",
		metric.WithDescription("Arrival notifications sent"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return err
	}

	WarningsSentTotal, err = Meter.Int64Counter(
		"alerts.warnings.total",
		metric.WithDescription("Approach warnings sent"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return err
	}

	TelegramSendsTotal, err = Meter.Int64Counter(
		"telegram.sends.total",
		metric.WithDescription("Telegram message sends by status"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return err
	}

	// Upstream API Metrics
	DataMallRequestsTotal, err = Meter.Int64Counter(
		"datamall.requests.total",
		metric.WithDescription("DataMall API requests by endpoint"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	GeocodeRequestsTotal, err = Meter.Int64Counter(
		"geocode.requests.total",
		metric.WithDescription("Nominatim search requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	return nil
}
