package types

import (
	"math"
	"time"
)

// Stop is one entry in the bus stop directory. Stops are immutable; the
// catalog replaces the whole set on refresh rather than mutating entries.
type Stop struct {
	Code      string
	Name      string
	Latitude  float64
	Longitude float64
}

// StopDistance pairs a stop with its distance from a query point.
type StopDistance struct {
	Stop           Stop
	DistanceMeters float64
}

// Subscription is one standing "tell me when this bus reaches this stop"
// request. The (ChatID, StopCode, ServiceNo) triple is unique within the
// watchlist.
type Subscription struct {
	ChatID    int64
	StopCode  string
	ServiceNo string

	// Warned is set once the approach warning has gone out, so the same
	// subscription is not warned again on later cycles.
	Warned bool

	// MissedCycles counts consecutive poll cycles where the service was
	// absent from the stop's arrival board.
	MissedCycles int
}

// VehicleETA is a single upcoming arrival estimate for a service at a stop.
// A zero At means the feed did not provide a usable estimate.
type VehicleETA struct {
	At   time.Time
	Type string // vehicle type code: SD, DD, BD
	Load string // occupancy code: SEA, SDA, LSD
}

// Known reports whether the feed supplied a parsable estimate.
func (e VehicleETA) Known() bool { return !e.At.IsZero() }

// MinutesFrom returns the estimate as rounded whole minutes from now.
// Negative values mean the estimate is in the past.
func (e VehicleETA) MinutesFrom(now time.Time) int {
	return int(math.Round(e.At.Sub(now).Minutes()))
}

// ServiceArrival is the per-service slice of a stop's arrival board: up to
// three upcoming estimates, nearest first.
type ServiceArrival struct {
	ServiceNo string
	Next      []VehicleETA
}

// ArrivalBoard is one poll's snapshot for a single stop. It is discarded
// after each evaluation cycle.
type ArrivalBoard struct {
	StopCode  string
	FetchedAt time.Time
	Services  []ServiceArrival
}

// Find returns the entry for the given service identifier. Matching is
// exact and case-sensitive.
func (b ArrivalBoard) Find(serviceNo string) (ServiceArrival, bool) {
	for _, svc := range b.Services {
		if svc.ServiceNo == serviceNo {
			return svc, true
		}
	}
	return ServiceArrival{}, false
}

// NaturalLess orders service identifiers with numeric awareness, so "2"
// sorts before "10" and "10A" before "10B".
func NaturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		if isDigit(a[0]) && isDigit(b[0]) {
			da, restA := splitDigits(a)
			db, restB := splitDigits(b)
			ta := trimLeadingZeros(da)
			tb := trimLeadingZeros(db)
			if len(ta) != len(tb) {
				return len(ta) < len(tb)
			}
			if ta != tb {
				return ta < tb
			}
			a, b = restA, restB
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func splitDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func trimLeadingZeros(s string) string {
	i := 0
	for i < len(s)-1 && s[i] == '0' {
		i++
	}
	return s[i:]
}
