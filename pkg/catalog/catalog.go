// Package catalog holds the bus stop directory: loaded in bulk, replaced
// wholesale on refresh, and indexed by stop code for lookups.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"busalert/pkg/metrics"
	"busalert/pkg/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Source supplies the full stop directory. Implemented by the LTA client.
type Source interface {
	Stops(ctx context.Context) ([]types.Stop, error)
}

type Catalog struct {
	source Source
	tracer trace.Tracer

	mu       sync.RWMutex
	stops    []types.Stop
	byCode   map[string]types.Stop
	loadedAt time.Time
}

func New(source Source) *Catalog {
	return &Catalog{
		source: source,
		tracer: otel.Tracer("stop-catalog"),
		byCode: map[string]types.Stop{},
	}
}

// Refresh loads the directory and swaps it in atomically. On failure the
// previous catalog, if any, stays in place.
func (c *Catalog) Refresh(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "catalog.refresh")
	defer span.End()

	stops, err := c.source.Stops(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to load stop directory: %w", err)
	}

	byCode := make(map[string]types.Stop, len(stops))
	for _, stop := range stops {
		byCode[stop.Code] = stop
	}

	c.mu.Lock()
	c.stops = stops
	c.byCode = byCode
	c.loadedAt = time.Now()
	c.mu.Unlock()

	span.SetAttributes(
		attribute.Int("stops_count", len(stops)),
	)

	metrics.RecordCatalogSize(len(stops))

	return nil
}

// RunRefresh re-loads the directory on a fixed interval until the context
// is cancelled. A failed refresh is logged and retried next tick.
func (c *Catalog) RunRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				slog.Warn("Stop catalog refresh failed, keeping previous catalog", "error", err)
			} else {
				slog.Info("Stop catalog refreshed", "stops", c.Len())
			}
		}
	}
}

// Lookup returns the stop with the exact code.
func (c *Catalog) Lookup(code string) (types.Stop, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stop, ok := c.byCode[code]
	return stop, ok
}

// DisplayName returns the stop's name, falling back to the raw code when
// the catalog has no entry. Absence is never an error here.
func (c *Catalog) DisplayName(code string) string {
	if stop, ok := c.Lookup(code); ok {
		return stop.Name
	}
	return code
}

// All returns the current stop set. The slice is replaced wholesale on
// refresh and never mutated in place, so callers may read it freely.
func (c *Catalog) All() []types.Stop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stops
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stops)
}
