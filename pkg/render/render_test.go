package render

import (
	"strings"
	"testing"
	"time"

	"busalert/pkg/types"
)

func TestETACell(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		eta  types.VehicleETA
		want string
	}{
		{"arriving now", types.VehicleETA{At: now}, "ARR"},
		{"already passed", types.VehicleETA{At: now.Add(-time.Minute)}, "ARR"},
		{"five minutes", types.VehicleETA{At: now.Add(5 * time.Minute)}, "5"},
		{"unknown", types.VehicleETA{}, UnknownETA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ETACell(tt.eta, now); got != tt.want {
				t.Errorf("ETACell = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTypeIcon(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"DD", "⏫"},
		{"dd", "⏫"},
		{"SD", "🚌"},
		{"BD", "🔀"},
		{"", "🚌"},
		{"XX", "🚌"},
	}
	for _, tt := range tests {
		if got := TypeIcon(tt.code); got != tt.want {
			t.Errorf("TypeIcon(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestLoadIcon(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"SEA", "🟢"},
		{"SDA", "🟡"},
		{"LSD", "🔴"},
		{"", "❓"},
		{"XYZ", "❓"},
	}
	for _, tt := range tests {
		if got := LoadIcon(tt.code); got != tt.want {
			t.Errorf("LoadIcon(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestSortServices_NaturalOrder(t *testing.T) {
	services := []types.ServiceArrival{
		{ServiceNo: "10"},
		{ServiceNo: "2"},
		{ServiceNo: "10A"},
		{ServiceNo: "185"},
	}

	SortServices(services)

	want := []string{"2", "10", "10A", "185"}
	for i, w := range want {
		if services[i].ServiceNo != w {
			t.Errorf("position %d = %q, want %q", i, services[i].ServiceNo, w)
		}
	}
}

func TestBoard(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	services := []types.ServiceArrival{
		{
			ServiceNo: "15",
			Next: []types.VehicleETA{
				{At: now, Type: "SD", Load: "SEA"},                       // 0s -> ARR
				{At: now.Add(5 * time.Minute), Type: "DD", Load: "SDA"}, // 300s -> 5
				{},                                                       // unparsable -> placeholder
			},
		},
	}

	board := Board("83139", "Opp Blk 2", services, now)

	if !strings.Contains(board, "*Bus Arrivals @ Opp Blk 2 (83139)*") {
		t.Error("board missing title")
	}
	if !strings.Contains(board, "Bus |    1st   |    2nd   |    3rd") {
		t.Error("board missing header row")
	}
	if !strings.Contains(board, " ARR") {
		t.Error("board should render zero-minute estimate as ARR")
	}
	if !strings.Contains(board, "   5") {
		t.Error("board should render 300s estimate as 5")
	}
	if !strings.Contains(board, UnknownETA) {
		t.Error("board should render unparsable estimate as placeholder")
	}
	if !strings.Contains(board, "🟢") || !strings.Contains(board, "🟡") || !strings.Contains(board, "❓") {
		t.Error("board missing occupancy indicators")
	}
	if !strings.HasPrefix(board, "*") || !strings.HasSuffix(board, "```") {
		t.Error("board should be wrapped in markdown title and code fence")
	}
}

func TestBoard_PadsMissingSlots(t *testing.T) {
	now := time.Now()
	services := []types.ServiceArrival{
		{ServiceNo: "7", Next: []types.VehicleETA{{At: now.Add(3 * time.Minute), Type: "SD", Load: "SEA"}}},
	}

	board := Board("01012", "Hotel Grand Pacific", services, now)

	// One known estimate plus two padded unknown slots.
	if got := strings.Count(board, UnknownETA); got != 2 {
		t.Errorf("board has %d unknown cells, want 2", got)
	}
}

func TestAlertTexts(t *testing.T) {
	eta := types.VehicleETA{Type: "DD", Load: "SEA"}

	arrival := ArrivalAlert("15", eta, "Opp Blk 2", "83139")
	if !strings.Contains(arrival, "15") || !strings.Contains(arrival, "arriving now") ||
		!strings.Contains(arrival, "Opp Blk 2 (83139)") {
		t.Errorf("ArrivalAlert = %q", arrival)
	}

	warning := ApproachWarning("15", eta, "Opp Blk 2", "83139", 5)
	if !strings.Contains(warning, "*5 mins*") || !strings.Contains(warning, "⏰") {
		t.Errorf("ApproachWarning = %q", warning)
	}

	expired := ExpiredNotice("15", "Opp Blk 2", "83139")
	if !strings.Contains(expired, "expired") {
		t.Errorf("ExpiredNotice = %q", expired)
	}
}
