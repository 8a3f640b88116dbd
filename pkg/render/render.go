// Package render produces the user-facing message texts: the fixed-width
// arrival board and the alert notifications. Everything here is pure and
// deterministic given its inputs.
package render

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"busalert/pkg/types"
)

// UnknownETA is shown when the feed gave no usable estimate.
const UnknownETA = "—"

// TypeIcon maps a vehicle type code to its display icon. Unknown codes
// fall back to the plain bus.
func TypeIcon(typeCode string) string {
	switch strings.ToUpper(typeCode) {
	case "DD":
		return "⏫"
	case "SD":
		return "🚌"
	case "BD":
		return "🔀"
	default:
		return "🚌"
	}
}

// LoadIcon maps an occupancy code to a three-level traffic light.
func LoadIcon(load string) string {
	switch load {
	case "SEA":
		return "🟢"
	case "SDA":
		return "🟡"
	case "LSD":
		return "🔴"
	default:
		return "❓"
	}
}

// ETACell renders one estimate: "ARR" at or below zero minutes, the
// rounded minute count otherwise, or the unknown placeholder.
func ETACell(eta types.VehicleETA, now time.Time) string {
	if !eta.Known() {
		return UnknownETA
	}
	mins := eta.MinutesFrom(now)
	if mins <= 0 {
		return "ARR"
	}
	return strconv.Itoa(mins)
}

// SortServices orders a board's services naturally by identifier, in
// place, so "2" lines up before "10".
func SortServices(services []types.ServiceArrival) {
	sort.SliceStable(services, func(i, j int) bool {
		return types.NaturalLess(services[i].ServiceNo, services[j].ServiceNo)
	})
}

// Board renders the arrival table for one stop: up to three upcoming
// estimates per service, each with type and occupancy indicators.
func Board(stopCode, stopName string, services []types.ServiceArrival, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*Bus Arrivals @ %s (%s)*\n\n```\n", stopName, stopCode)
	b.WriteString("Bus |    1st   |    2nd   |    3rd \n")
	b.WriteString("----+----------+----------+--------\n")

	for _, svc := range services {
		fmt.Fprintf(&b, "%-3s", svc.ServiceNo)
		for slot := 0; slot < 3; slot++ {
			var eta types.VehicleETA
			if slot < len(svc.Next) {
				eta = svc.Next[slot]
			}
			fmt.Fprintf(&b, " | %s%4s%s", TypeIcon(eta.Type), ETACell(eta, now), LoadIcon(eta.Load))
		}
		b.WriteByte('\n')
	}

	b.WriteString("```")
	return b.String()
}

// ArrivalAlert is the notification sent when the watched bus reaches the
// stop.
func ArrivalAlert(serviceNo string, eta types.VehicleETA, stopName, stopCode string) string {
	return fmt.Sprintf("🔔 %s %s%s is arriving now at %s (%s)!",
		TypeIcon(eta.Type), serviceNo, LoadIcon(eta.Load), stopName, stopCode)
}

// ApproachWarning is the early-warning notification sent once when the
// watched bus crosses the warning threshold.
func ApproachWarning(serviceNo string, eta types.VehicleETA, stopName, stopCode string, minutes int) string {
	return fmt.Sprintf("⏰ %s %s%s is *%d mins* away from %s (%s)!",
		TypeIcon(eta.Type), serviceNo, LoadIcon(eta.Load), minutes, stopName, stopCode)
}

// ExpiredNotice tells the subscriber their alert was retired because the
// service stayed off the board too long.
func ExpiredNotice(serviceNo, stopName, stopCode string) string {
	return fmt.Sprintf("🗑 Alert for Bus %s @ %s (%s) expired: no sightings for a while.",
		serviceNo, stopName, stopCode)
}

// AlertSet confirms a new subscription.
func AlertSet(serviceNo, stopName, stopCode string) string {
	return fmt.Sprintf("⏰ *Alert set for Bus %s @ %s (%s)*", serviceNo, stopName, stopCode)
}

// NoServices is shown when a stop's board is empty.
func NoServices(stopName, stopCode string) string {
	return fmt.Sprintf("🛑 No buses currently available at %s (%s).", stopName, stopCode)
}
