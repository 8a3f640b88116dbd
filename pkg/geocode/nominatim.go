// Package geocode resolves free-text place queries to coordinates via the
// OpenStreetMap Nominatim search API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"busalert/pkg/metrics"
	otelutil "busalert/pkg/otel"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// Coordinate is a WGS84 point.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Resolver turns free text into a coordinate. The bool result is false
// when the query matched nothing; that is a normal negative result, not
// an error.
type Resolver interface {
	Resolve(ctx context.Context, query string) (Coordinate, bool, error)
}

// Client queries Nominatim with a fixed country bias so ambiguous names
// resolve locally.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	countryCode string
	biasSuffix  string
	tracer      trace.Tracer
}

func NewClient(timeout time.Duration) *Client {
	client := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}

	return &Client{
		httpClient:  client,
		baseURL:     DefaultBaseURL,
		countryCode: "SG",
		biasSuffix:  "singapore",
		tracer:      otel.Tracer("geocode-client"),
	}
}

type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Resolve returns the best match for the query, or false when there is
// none.
func (c *Client) Resolve(ctx context.Context, query string) (Coordinate, bool, error) {
	ctx, span := c.tracer.Start(ctx, "geocode.resolve",
		trace.WithAttributes(
			attribute.Int("query_length", len(query)),
		),
	)
	defer span.End()

	if metrics.GeocodeRequestsTotal != nil {
		metrics.GeocodeRequestsTotal.Add(ctx, 1)
	}

	params := url.Values{}
	params.Set("q", query+" "+c.biasSuffix)
	params.Set("format", "json")
	params.Set("addressdetails", "0")
	params.Set("limit", "1")
	params.Set("countrycodes", c.countryCode)

	reqURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		span.RecordError(err)
		return Coordinate{}, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "busalert/1.0.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		otelutil.RecordError(span, err, otelutil.ErrorTypeNetwork, true)
		return Coordinate{}, false, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("nominatim returned status %d: %s", resp.StatusCode, string(body))
		otelutil.RecordError(span, err, otelutil.ErrorTypeHTTP, true)
		return Coordinate{}, false, err
	}

	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		otelutil.RecordError(span, err, otelutil.ErrorTypeParse, false)
		return Coordinate{}, false, fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(results) == 0 {
		span.SetAttributes(attribute.Bool("matched", false))
		return Coordinate{}, false, nil
	}

	lat, latErr := strconv.ParseFloat(results[0].Lat, 64)
	lon, lonErr := strconv.ParseFloat(results[0].Lon, 64)
	if latErr != nil || lonErr != nil {
		err := fmt.Errorf("unparsable coordinates %q,%q in search result", results[0].Lat, results[0].Lon)
		span.RecordError(err)
		return Coordinate{}, false, err
	}

	span.SetAttributes(attribute.Bool("matched", true))

	return Coordinate{Latitude: lat, Longitude: lon}, true, nil
}
