// Package geo provides great-circle distance math and the nearest-stop
// search used for location queries.
package geo

import (
	"math"
	"sort"

	"busalert/pkg/types"
)

const earthRadiusMeters = 6371000

// Haversine calculates the distance in meters between two lat/lng points.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Nearby returns the stops within radiusMeters of the query point, closest
// first, truncated to limit. An empty catalog yields an empty result, not
// an error. limit <= 0 means no truncation.
func Nearby(stops []types.Stop, lat, lng, radiusMeters float64, limit int) []types.StopDistance {
	var results []types.StopDistance

	for _, stop := range stops {
		dist := Haversine(lat, lng, stop.Latitude, stop.Longitude)
		if dist <= radiusMeters {
			results = append(results, types.StopDistance{
				Stop:           stop,
				DistanceMeters: dist,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].DistanceMeters < results[j].DistanceMeters
	})

	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}

	return results
}
