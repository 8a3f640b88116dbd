package types

import (
	"testing"
	"time"
)

func TestNaturalLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"2", "10", true},
		{"10", "2", false},
		{"10", "10", false},
		{"10A", "10B", true},
		{"10B", "10A", false},
		{"2", "2A", true},
		{"NR1", "NR10", true},
		{"NR10", "NR2", false},
		{"02", "2", false}, // equal after zero trim, neither less by digits, "02" longer prefix consumed
		{"", "1", true},
		{"1", "", false},
		{"961M", "961", false},
	}

	for _, tt := range tests {
		if got := NaturalLess(tt.a, tt.b); got != tt.want {
			t.Errorf("NaturalLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestVehicleETA_Known(t *testing.T) {
	if (VehicleETA{}).Known() {
		t.Error("zero estimate should not be known")
	}
	eta := VehicleETA{At: time.Now()}
	if !eta.Known() {
		t.Error("non-zero estimate should be known")
	}
}

func TestVehicleETA_MinutesFrom(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		offset time.Duration
		want   int
	}{
		{"five minutes out", 5 * time.Minute, 5},
		{"rounds down", 4*time.Minute + 20*time.Second, 4},
		{"rounds up", 4*time.Minute + 40*time.Second, 5},
		{"now", 0, 0},
		{"already passed", -90 * time.Second, -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eta := VehicleETA{At: now.Add(tt.offset)}
			if got := eta.MinutesFrom(now); got != tt.want {
				t.Errorf("MinutesFrom = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestArrivalBoard_Find(t *testing.T) {
	board := ArrivalBoard{
		StopCode: "83139",
		Services: []ServiceArrival{
			{ServiceNo: "15"},
			{ServiceNo: "150"},
		},
	}

	if svc, ok := board.Find("15"); !ok || svc.ServiceNo != "15" {
		t.Errorf("Find(15) = %+v, %v", svc, ok)
	}
	if _, ok := board.Find("15e"); ok {
		t.Error("Find should be case-sensitive and exact")
	}
	if _, ok := board.Find("99"); ok {
		t.Error("Find should miss on absent service")
	}
}
