// Package lta is the client for the LTA DataMall bus feeds: the live
// BusArrival board per stop and the paginated BusStops directory.
package lta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"busalert/pkg/metrics"
	otelutil "busalert/pkg/otel"
	"busalert/pkg/types"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL = "https://datamall2.mytransport.sg/ltaodataservice"

	// The directory endpoint serves fixed pages of 500; a short page
	// signals the end of the data set.
	directoryPageSize = 500
)

type Client struct {
	httpClient *http.Client
	accountKey string
	baseURL    string
	tracer     trace.Tracer
}

func NewClient(accountKey string, timeout time.Duration) *Client {
	// HTTP client with OpenTelemetry instrumentation
	client := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}

	return &Client{
		httpClient: client,
		accountKey: accountKey,
		baseURL:    DefaultBaseURL,
		tracer:     otel.Tracer("lta-client"),
	}
}

// arrivalResponse mirrors the BusArrival v3 payload.
type arrivalResponse struct {
	Services []serviceEntry `json:"Services"`
}

type serviceEntry struct {
	ServiceNo string  `json:"ServiceNo"`
	NextBus   busInfo `json:"NextBus"`
	NextBus2  busInfo `json:"NextBus2"`
	NextBus3  busInfo `json:"NextBus3"`
}

type busInfo struct {
	EstimatedArrival string `json:"EstimatedArrival"`
	Load             string `json:"Load"`
	Type             string `json:"Type"`
	Feature          string `json:"Feature"`
}

// stopsResponse mirrors one page of the BusStops directory.
type stopsResponse struct {
	Value []stopEntry `json:"value"`
}

type stopEntry struct {
	BusStopCode string  `json:"BusStopCode"`
	RoadName    string  `json:"RoadName"`
	Description string  `json:"Description"`
	Latitude    float64 `json:"Latitude"`
	Longitude   float64 `json:"Longitude"`
}

// Arrivals fetches the live arrival board for one stop. Malformed or
// missing estimate timestamps degrade to unknown ETAs rather than errors.
func (c *Client) Arrivals(ctx context.Context, stopCode string) (types.ArrivalBoard, error) {
	ctx, span := c.tracer.Start(ctx, "lta.arrivals",
		trace.WithAttributes(
			attribute.String("stop_code", stopCode),
		),
	)
	defer span.End()

	if metrics.DataMallRequestsTotal != nil {
		metrics.DataMallRequestsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("endpoint", "bus_arrival")))
	}

	reqURL := fmt.Sprintf("%s/v3/BusArrival?BusStopCode=%s", c.baseURL, url.QueryEscape(stopCode))

	body, err := c.get(ctx, reqURL)
	if err != nil {
		otelutil.RecordError(span, err, otelutil.ErrorTypeHTTP, true)
		return types.ArrivalBoard{}, err
	}

	var decoded arrivalResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		otelutil.RecordError(span, err, otelutil.ErrorTypeParse, false)
		return types.ArrivalBoard{}, fmt.Errorf("failed to decode arrival response: %w", err)
	}

	board := types.ArrivalBoard{
		StopCode:  stopCode,
		FetchedAt: time.Now(),
	}
	for _, svc := range decoded.Services {
		board.Services = append(board.Services, types.ServiceArrival{
			ServiceNo: svc.ServiceNo,
			Next:      nextETAs(svc),
		})
	}

	span.SetAttributes(
		attribute.Int("services_count", len(board.Services)),
	)
	otelutil.SetSpanOk(span)

	return board, nil
}

// Stops pages through the BusStops directory with a skip cursor until a
// short page signals completion.
func (c *Client) Stops(ctx context.Context) ([]types.Stop, error) {
	ctx, span := c.tracer.Start(ctx, "lta.stops")
	defer span.End()

	var stops []types.Stop

	for skip := 0; ; skip += directoryPageSize {
		if metrics.DataMallRequestsTotal != nil {
			metrics.DataMallRequestsTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("endpoint", "bus_stops")))
		}

		reqURL := fmt.Sprintf("%s/BusStops?$skip=%d", c.baseURL, skip)

		body, err := c.get(ctx, reqURL)
		if err != nil {
			otelutil.RecordError(span, err, otelutil.ErrorTypeHTTP, true)
			return nil, err
		}

		var page stopsResponse
		if err := json.Unmarshal(body, &page); err != nil {
			otelutil.RecordError(span, err, otelutil.ErrorTypeParse, false)
			return nil, fmt.Errorf("failed to decode stops page at skip=%d: %w", skip, err)
		}

		for _, entry := range page.Value {
			stops = append(stops, types.Stop{
				Code:      entry.BusStopCode,
				Name:      entry.Description,
				Latitude:  entry.Latitude,
				Longitude: entry.Longitude,
			})
		}

		if len(page.Value) < directoryPageSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("stops_count", len(stops)),
	)

	return stops, nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("AccountKey", c.accountKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "busalert/1.0.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("DataMall returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, nil
}

// nextETAs flattens the NextBus/NextBus2/NextBus3 fields into an ordered
// slice, skipping trailing entries the feed left empty.
func nextETAs(svc serviceEntry) []types.VehicleETA {
	var etas []types.VehicleETA
	for _, info := range []busInfo{svc.NextBus, svc.NextBus2, svc.NextBus3} {
		if info.EstimatedArrival == "" && info.Type == "" && info.Load == "" {
			continue
		}
		etas = append(etas, types.VehicleETA{
			At:   parseEstimate(info.EstimatedArrival),
			Type: info.Type,
			Load: info.Load,
		})
	}
	return etas
}

// parseEstimate turns the feed's timestamp into a time. An empty or
// unparsable value becomes the zero time, which renders as unknown.
func parseEstimate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
