package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"busalert/pkg/types"
	"busalert/pkg/watchlist"
)

type fakeSource struct {
	mu     sync.Mutex
	boards map[string]types.ArrivalBoard
	errs   map[string]error
	calls  map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		boards: map[string]types.ArrivalBoard{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (f *fakeSource) Arrivals(ctx context.Context, stopCode string) (types.ArrivalBoard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[stopCode]++
	if err := f.errs[stopCode]; err != nil {
		return types.ArrivalBoard{}, err
	}
	board := f.boards[stopCode]
	board.StopCode = stopCode
	return board, nil
}

func (f *fakeSource) callCount(stopCode string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stopCode]
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeNotifier) Notify(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID, text})
	return nil
}

func (f *fakeNotifier) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type staticNamer map[string]string

func (n staticNamer) DisplayName(code string) string {
	if name, ok := n[code]; ok {
		return name
	}
	return code
}

func newTestEngine(t *testing.T, cfg Config, source *fakeSource, store *watchlist.Store, notifier *fakeNotifier, now time.Time) *Engine {
	t.Helper()
	engine, err := New(cfg, source, store, notifier, staticNamer{"12345": "Opp Science Ctr"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	engine.now = func() time.Time { return now }
	return engine
}

func board(serviceNo string, eta time.Time) types.ArrivalBoard {
	return types.ArrivalBoard{
		Services: []types.ServiceArrival{
			{ServiceNo: serviceNo, Next: []types.VehicleETA{{At: eta, Type: "SD", Load: "SEA"}}},
		},
	}
}

func TestNew_Validation(t *testing.T) {
	store := watchlist.New()
	notifier := &fakeNotifier{}
	source := newFakeSource()

	if _, err := New(Config{}, nil, store, notifier, nil); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := New(Config{}, source, nil, notifier, nil); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := New(Config{}, source, store, nil, nil); err == nil {
		t.Error("expected error for nil notifier")
	}

	engine, err := New(Config{}, source, store, notifier, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engine.cfg.Interval != 30*time.Second {
		t.Errorf("default interval = %v, want 30s", engine.cfg.Interval)
	}
	if engine.cfg.WarnThreshold != 5*time.Minute {
		t.Errorf("default warn threshold = %v, want 5m", engine.cfg.WarnThreshold)
	}
}

func TestCycle_FarETA_NoNotification(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := watchlist.New()
	store.Add(7, "12345", "10")

	source := newFakeSource()
	source.boards["12345"] = board("10", now.Add(8*time.Minute))
	notifier := &fakeNotifier{}

	engine := newTestEngine(t, Config{}, source, store, notifier, now)
	if err := engine.cycleOnce(context.Background()); err != nil {
		t.Fatalf("cycleOnce failed: %v", err)
	}

	if len(notifier.messages()) != 0 {
		t.Errorf("got %d notifications, want 0", len(notifier.messages()))
	}
	if store.Len() != 1 {
		t.Error("subscription should remain active")
	}
}

func TestCycle_FireAndRemove(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := watchlist.New()
	store.Add(7, "12345", "10")

	source := newFakeSource()
	source.boards["12345"] = board("10", now.Add(4*time.Minute))
	notifier := &fakeNotifier{}

	engine := newTestEngine(t, Config{}, source, store, notifier, now)
	if err := engine.cycleOnce(context.Background()); err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}
	if len(notifier.messages()) != 0 || store.Len() != 1 {
		t.Fatal("nothing should fire at 4 minutes out")
	}

	// Later cycle: estimate one minute in the past -> exactly one
	// arrival notification, subscription gone.
	source.boards["12345"] = board("10", now.Add(-time.Minute))
	if err := engine.cycleOnce(context.Background()); err != nil {
		t.Fatalf("second cycle failed: %v", err)
	}

	msgs := notifier.messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d notifications, want exactly 1", len(msgs))
	}
	if msgs[0].chatID != 7 || !strings.Contains(msgs[0].text, "arriving now") {
		t.Errorf("unexpected notification: %+v", msgs[0])
	}
	if !strings.Contains(msgs[0].text, "Opp Science Ctr (12345)") {
		t.Errorf("notification should carry stop name and code: %q", msgs[0].text)
	}
	if store.Len() != 0 {
		t.Error("subscription should be removed after firing")
	}

	// A further cycle must not re-fire the retired subscription.
	if err := engine.cycleOnce(context.Background()); err != nil {
		t.Fatalf("third cycle failed: %v", err)
	}
	if len(notifier.messages()) != 1 {
		t.Error("retired subscription was evaluated again")
	}
}

func TestCycle_WarningFiresOnce(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := watchlist.New()
	store.Add(7, "12345", "10")

	source := newFakeSource()
	source.boards["12345"] = board("10", now.Add(5*time.Minute))
	notifier := &fakeNotifier{}

	engine := newTestEngine(t, Config{}, source, store, notifier, now)

	// Two cycles with the ETA pinned at the threshold: one warning only.
	for i := 0; i < 2; i++ {
		if err := engine.cycleOnce(context.Background()); err != nil {
			t.Fatalf("cycle %d failed: %v", i, err)
		}
	}

	msgs := notifier.messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d warnings, want exactly 1", len(msgs))
	}
	if !strings.Contains(msgs[0].text, "*5 mins*") {
		t.Errorf("warning text = %q", msgs[0].text)
	}
	if store.Len() != 1 {
		t.Error("warned subscription should remain active")
	}
}

func TestCycle_MissingServiceLeavesStoreUntouched(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := watchlist.New()
	store.Add(7, "12345", "10")

	source := newFakeSource()
	source.boards["12345"] = board("99", now.Add(time.Minute)) // different service
	notifier := &fakeNotifier{}

	engine := newTestEngine(t, Config{}, source, store, notifier, now)
	if err := engine.cycleOnce(context.Background()); err != nil {
		t.Fatalf("cycleOnce failed: %v", err)
	}

	if len(notifier.messages()) != 0 {
		t.Error("missing service must not notify")
	}
	if store.Len() != 1 {
		t.Error("missing service must not change the store")
	}
}

func TestCycle_OneFetchPerDistinctStop(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := watchlist.New()
	store.Add(7, "12345", "10")
	store.Add(8, "12345", "15")
	store.Add(9, "12345", "77")
	store.Add(7, "67890", "10")

	source := newFakeSource()
	source.boards["12345"] = board("10", now.Add(20*time.Minute))
	source.boards["67890"] = board("10", now.Add(20*time.Minute))
	notifier := &fakeNotifier{}

	engine := newTestEngine(t, Config{}, source, store, notifier, now)
	if err := engine.cycleOnce(context.Background()); err != nil {
		t.Fatalf("cycleOnce failed: %v", err)
	}

	if got := source.callCount("12345"); got != 1 {
		t.Errorf("stop 12345 fetched %d times, want 1 regardless of subscriber count", got)
	}
	if got := source.callCount("67890"); got != 1 {
		t.Errorf("stop 67890 fetched %d times, want 1", got)
	}
}

func TestCycle_FetchFailureIsIsolated(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := watchlist.New()
	store.Add(7, "12345", "10")
	store.Add(7, "67890", "20")

	source := newFakeSource()
	source.errs["12345"] = errors.New("timeout")
	source.boards["67890"] = board("20", now.Add(-time.Minute))
	notifier := &fakeNotifier{}

	engine := newTestEngine(t, Config{}, source, store, notifier, now)
	if err := engine.cycleOnce(context.Background()); err != nil {
		t.Fatalf("partial failure should not error the cycle: %v", err)
	}

	// The healthy stop still fired.
	if len(notifier.messages()) != 1 {
		t.Errorf("got %d notifications, want 1 from the healthy stop", len(notifier.messages()))
	}
	// The failed stop's subscription is untouched.
	if len(store.ForStop("12345")) != 1 {
		t.Error("failed stop's subscription should survive for retry")
	}
}

func TestCycle_AllFetchesFailed(t *testing.T) {
	store := watchlist.New()
	store.Add(7, "12345", "10")

	source := newFakeSource()
	source.errs["12345"] = errors.New("timeout")
	notifier := &fakeNotifier{}

	engine := newTestEngine(t, Config{}, source, store, notifier, time.Now())
	if err := engine.cycleOnce(context.Background()); err == nil {
		t.Error("expected error when every stop fetch failed")
	}
	if store.Len() != 1 {
		t.Error("subscriptions must survive a failed cycle")
	}
}

func TestCycle_CancelBeatsFire(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := watchlist.New()
	store.Add(7, "12345", "10")

	source := newFakeSource()
	source.boards["12345"] = board("10", now.Add(-time.Minute))
	notifier := &fakeNotifier{}

	engine := newTestEngine(t, Config{}, source, store, notifier, now)

	// Cancel lands between snapshot and evaluation: evaluate directly
	// against a stale snapshot after the user cancelled.
	snapshot := source.boards["12345"]
	snapshot.StopCode = "12345"
	store.Remove(7, "12345", "10")

	engine.evaluateStop(context.Background(), snapshot)

	if len(notifier.messages()) != 0 {
		t.Error("cancelled subscription must not produce a notification")
	}
}

func TestCycle_UnknownFirstETA_Skipped(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := watchlist.New()
	store.Add(7, "12345", "10")

	source := newFakeSource()
	source.boards["12345"] = types.ArrivalBoard{
		Services: []types.ServiceArrival{
			{ServiceNo: "10", Next: []types.VehicleETA{{Type: "SD", Load: "SEA"}}},
		},
	}
	notifier := &fakeNotifier{}

	engine := newTestEngine(t, Config{}, source, store, notifier, now)
	if err := engine.cycleOnce(context.Background()); err != nil {
		t.Fatalf("cycleOnce failed: %v", err)
	}

	if len(notifier.messages()) != 0 || store.Len() != 1 {
		t.Error("unknown first estimate should leave the subscription alone")
	}
}

func TestCycle_MissEviction(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := watchlist.New()
	store.Add(7, "12345", "10")

	source := newFakeSource()
	source.boards["12345"] = types.ArrivalBoard{} // empty board, service never appears
	notifier := &fakeNotifier{}

	engine := newTestEngine(t, Config{MaxMissedCycles: 3}, source, store, notifier, now)

	for i := 0; i < 2; i++ {
		if err := engine.cycleOnce(context.Background()); err != nil {
			t.Fatalf("cycle %d failed: %v", i, err)
		}
	}
	if store.Len() != 1 {
		t.Fatal("subscription evicted too early")
	}

	if err := engine.cycleOnce(context.Background()); err != nil {
		t.Fatalf("third cycle failed: %v", err)
	}
	if store.Len() != 0 {
		t.Error("subscription should be evicted after the configured miss count")
	}
	msgs := notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "expired") {
		t.Errorf("expected one expiry notice, got %+v", msgs)
	}
}

func TestCycle_NoEvictionWhenDisabled(t *testing.T) {
	store := watchlist.New()
	store.Add(7, "12345", "10")

	source := newFakeSource()
	source.boards["12345"] = types.ArrivalBoard{}
	notifier := &fakeNotifier{}

	engine := newTestEngine(t, Config{}, source, store, notifier, time.Now())
	for i := 0; i < 10; i++ {
		if err := engine.cycleOnce(context.Background()); err != nil {
			t.Fatalf("cycle %d failed: %v", i, err)
		}
	}

	if store.Len() != 1 {
		t.Error("with eviction disabled the subscription must persist indefinitely")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := watchlist.New()
	source := newFakeSource()
	notifier := &fakeNotifier{}

	engine, err := New(Config{Interval: 10 * time.Millisecond}, source, store, notifier, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
