package geo

import (
	"math"
	"testing"

	"busalert/pkg/types"
)

func TestHaversine_KnownDistance(t *testing.T) {
	// 0.0005 degrees of latitude is roughly 55 meters.
	d := Haversine(1.3005, 103.8000, 1.3000, 103.8000)
	if math.Abs(d-55) > 2 {
		t.Errorf("Haversine = %.1fm, want ~55m", d)
	}
}

func TestHaversine_ZeroForSamePoint(t *testing.T) {
	if d := Haversine(1.29, 103.85, 1.29, 103.85); d != 0 {
		t.Errorf("distance between identical points = %f, want 0", d)
	}
}

func TestNearby(t *testing.T) {
	stops := []types.Stop{
		{Code: "12345", Name: "Opp Science Ctr", Latitude: 1.3000, Longitude: 103.8000},
		{Code: "22222", Name: "Far Away", Latitude: 1.4000, Longitude: 103.9000},
		{Code: "33333", Name: "Closest", Latitude: 1.3004, Longitude: 103.8000},
	}

	results := Nearby(stops, 1.3005, 103.8000, 1000, 8)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Stop.Code != "33333" {
		t.Errorf("first result = %s, want closest stop 33333", results[0].Stop.Code)
	}
	for i := 1; i < len(results); i++ {
		if results[i].DistanceMeters < results[i-1].DistanceMeters {
			t.Error("results are not sorted by ascending distance")
		}
	}
	for _, r := range results {
		if r.DistanceMeters > 1000 {
			t.Errorf("stop %s is %.0fm away, beyond the radius", r.Stop.Code, r.DistanceMeters)
		}
	}

	// Scenario from the watch point: stop 12345 at ~55m.
	found := false
	for _, r := range results {
		if r.Stop.Code == "12345" {
			found = true
			if math.Abs(r.DistanceMeters-55) > 2 {
				t.Errorf("stop 12345 distance = %.1fm, want ~55m", r.DistanceMeters)
			}
		}
	}
	if !found {
		t.Error("stop 12345 missing from results")
	}
}

func TestNearby_Limit(t *testing.T) {
	var stops []types.Stop
	for i := 0; i < 12; i++ {
		stops = append(stops, types.Stop{
			Code:     string(rune('A' + i)),
			Latitude: 1.3000 + float64(i)*0.0001,
		})
	}

	results := Nearby(stops, 1.3000, 0, 5000, 8)
	if len(results) != 8 {
		t.Errorf("got %d results, want limit of 8", len(results))
	}
}

func TestNearby_EmptyCatalog(t *testing.T) {
	if results := Nearby(nil, 1.3, 103.8, 1000, 8); len(results) != 0 {
		t.Errorf("empty catalog should give empty results, got %d", len(results))
	}
}
