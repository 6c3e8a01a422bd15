// README: Dispatch pipeline tests with in-memory directory, pusher, and log.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"agronet/internal/metrics"
	"agronet/internal/modules/delivery"
	"agronet/internal/modules/driver"
	"agronet/internal/modules/geo"
	"agronet/internal/types"
)

// fakeDirectory serves range queries from a fixed set of records, the way
// the Firestore directory serves them from the users collection.
type fakeDirectory struct {
	mu      sync.Mutex
	records []driver.Record
	queries int
	err     error
}

func (f *fakeDirectory) FindInRange(_ context.Context, lo, hi string) ([]driver.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	var out []driver.Record
	for _, r := range f.records {
		if r.Location == nil {
			continue
		}
		if r.Location.Geohash >= lo && r.Location.Geohash <= hi {
			out = append(out, r)
		}
	}
	return out, nil
}

type sentBatch struct {
	tokens []string
	note   Notification
}

type fakePusher struct {
	mu    sync.Mutex
	sends []sentBatch
	err   error
}

func (f *fakePusher) Send(_ context.Context, tokens []string, n Notification) (NotifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentBatch{tokens: tokens, note: n})
	if f.err != nil {
		return NotifyResult{Requested: len(tokens), Failed: len(tokens)}, f.err
	}
	return NotifyResult{Requested: len(tokens), Delivered: len(tokens)}, nil
}

func (f *fakePusher) batches() []sentBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentBatch, len(f.sends))
	copy(cp, f.sends)
	return cp
}

type fakeLog struct {
	mu         sync.Mutex
	dispatched map[types.ID][]types.ID
}

func newFakeLog() *fakeLog {
	return &fakeLog{dispatched: make(map[types.ID][]types.ID)}
}

func (f *fakeLog) WasDispatched(_ context.Context, id types.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.dispatched[id]
	return ok, nil
}

func (f *fakeLog) MarkDispatched(_ context.Context, id types.ID, notified []types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched[id] = notified
	return nil
}

func driverAt(id types.ID, lat, lng float64, token string) driver.Record {
	hash, err := geo.Encode(lat, lng)
	if err != nil {
		panic(err)
	}
	return driver.Record{
		ID:       id,
		Roles:    driver.Roles{IsDriver: true},
		Location: &driver.Location{Lat: lat, Lng: lng, Geohash: hash},
		FCMToken: token,
		Online:   true,
	}
}

func searchingEvent(id types.ID, pickup *delivery.GeoAddress) Event {
	return Event{
		ID: id,
		Delivery: delivery.Delivery{
			ID:     id,
			Pickup: pickup,
			Status: delivery.StatusSearching,
		},
	}
}

// Pickup at Kakinada: driver A a few hundred meters away with a token is
// notified, driver B ~70km away is not.
func TestHandleCreated_NotifiesNearbyDriversOnly(t *testing.T) {
	dir := &fakeDirectory{records: []driver.Record{
		driverAt("driver_a", 16.99, 82.25, "token_a"),
		driverAt("driver_b", 17.5, 83.0, "token_b"),
	}}
	pusher := &fakePusher{}
	svc := NewService(dir, pusher, newFakeLog(), 5000, nil)

	svc.HandleCreated(context.Background(), searchingEvent("dl_1",
		&delivery.GeoAddress{Lat: 16.9895, Lng: 82.2480}))

	batches := pusher.batches()
	if len(batches) != 1 {
		t.Fatalf("expected one fan-out, got %d", len(batches))
	}
	if len(batches[0].tokens) != 1 || batches[0].tokens[0] != "token_a" {
		t.Fatalf("expected only token_a notified, got %v", batches[0].tokens)
	}
	if batches[0].note.DeliveryID != "dl_1" {
		t.Fatalf("payload carries wrong delivery id: %s", batches[0].note.DeliveryID)
	}
}

// Exact boundary behavior: a driver just inside the radius is kept, one just
// outside is dropped, even when both fall in the same geohash box.
func TestFilterReachable_RadiusBoundary(t *testing.T) {
	center := types.Point{Lat: 16.9895, Lng: 82.2480}
	const radius = 5000.0

	// ~0.001 degrees of latitude is ~111m; place candidates straddling the
	// radius along the meridian.
	inside := driverAt("near", center.Lat+0.0440, center.Lng, "t_near") // ~4.9km
	outside := driverAt("far", center.Lat+0.0460, center.Lng, "t_far")  // ~5.1km

	got := FilterReachable([]driver.Record{inside, outside}, center, radius)
	if len(got) != 1 || got[0].DriverID != "near" {
		t.Fatalf("expected only the closer driver, got %v", got)
	}
}

func TestFilterReachable_DropsUnreachableDrivers(t *testing.T) {
	center := types.Point{Lat: 16.9895, Lng: 82.2480}
	noToken := driverAt("no_token", 16.99, 82.25, "")
	noLocation := driver.Record{ID: "no_loc", Roles: driver.Roles{IsDriver: true}, FCMToken: "t"}
	ok := driverAt("ok", 16.99, 82.25, "t_ok")

	got := FilterReachable([]driver.Record{noToken, noLocation, ok}, center, 5000)
	if len(got) != 1 || got[0].DriverID != "ok" {
		t.Fatalf("expected only the reachable driver, got %v", got)
	}
}

func TestHandleCreated_NoDriversIsNotAnError(t *testing.T) {
	dir := &fakeDirectory{}
	pusher := &fakePusher{}
	dlog := newFakeLog()
	svc := NewService(dir, pusher, dlog, 5000, nil)

	svc.HandleCreated(context.Background(), searchingEvent("dl_empty",
		&delivery.GeoAddress{Lat: 16.9895, Lng: 82.2480}))

	if len(pusher.batches()) != 0 {
		t.Fatal("no push should be attempted with zero recipients")
	}
	if done, _ := dlog.WasDispatched(context.Background(), "dl_empty"); !done {
		t.Fatal("zero-driver outcome still counts as dispatched")
	}
}

func TestHandleCreated_MissingPickupSkips(t *testing.T) {
	dir := &fakeDirectory{records: []driver.Record{driverAt("d1", 16.99, 82.25, "t1")}}
	pusher := &fakePusher{}
	dlog := newFakeLog()
	svc := NewService(dir, pusher, dlog, 5000, nil)

	svc.HandleCreated(context.Background(), searchingEvent("dl_nopickup", nil))

	if dir.queries != 0 {
		t.Fatal("no scan should run without a pickup point")
	}
	if len(pusher.batches()) != 0 {
		t.Fatal("no push should run without a pickup point")
	}
	if done, _ := dlog.WasDispatched(context.Background(), "dl_nopickup"); done {
		t.Fatal("a validation skip must stay retryable after upstream correction")
	}
}

func TestHandleCreated_InvalidPickupSkips(t *testing.T) {
	pusher := &fakePusher{}
	svc := NewService(&fakeDirectory{}, pusher, newFakeLog(), 5000, nil)

	svc.HandleCreated(context.Background(), searchingEvent("dl_bad",
		&delivery.GeoAddress{Lat: 95, Lng: 82.2480}))

	if len(pusher.batches()) != 0 {
		t.Fatal("no push should run for out-of-range coordinates")
	}
}

// Running the pipeline twice for one delivery is harmless but the dispatch
// log suppresses the duplicate fan-out.
func TestHandleCreated_SecondRunSuppressed(t *testing.T) {
	dir := &fakeDirectory{records: []driver.Record{driverAt("d1", 16.99, 82.25, "t1")}}
	pusher := &fakePusher{}
	svc := NewService(dir, pusher, newFakeLog(), 5000, nil)
	ev := searchingEvent("dl_twice", &delivery.GeoAddress{Lat: 16.9895, Lng: 82.2480})

	svc.HandleCreated(context.Background(), ev)
	svc.HandleCreated(context.Background(), ev)

	if got := len(pusher.batches()); got != 1 {
		t.Fatalf("expected a single fan-out across two runs, got %d", got)
	}
}

// Without a dispatch log the second run just re-notifies; it must not fail.
func TestHandleCreated_RerunWithoutLogDuplicatesNotifications(t *testing.T) {
	dir := &fakeDirectory{records: []driver.Record{driverAt("d1", 16.99, 82.25, "t1")}}
	pusher := &fakePusher{}
	svc := NewService(dir, pusher, nil, 5000, nil)
	ev := searchingEvent("dl_dup", &delivery.GeoAddress{Lat: 16.9895, Lng: 82.2480})

	svc.HandleCreated(context.Background(), ev)
	svc.HandleCreated(context.Background(), ev)

	if got := len(pusher.batches()); got != 2 {
		t.Fatalf("expected duplicate notifications without a log, got %d", got)
	}
}

func TestHandleCreated_PushFailureDoesNotAbortDispatch(t *testing.T) {
	dir := &fakeDirectory{records: []driver.Record{driverAt("d1", 16.99, 82.25, "t1")}}
	pusher := &fakePusher{err: errors.New("transport down")}
	dlog := newFakeLog()
	svc := NewService(dir, pusher, dlog, 5000, nil)

	svc.HandleCreated(context.Background(), searchingEvent("dl_pushfail",
		&delivery.GeoAddress{Lat: 16.9895, Lng: 82.2480}))

	if done, _ := dlog.WasDispatched(context.Background(), "dl_pushfail"); !done {
		t.Fatal("dispatch is complete even when the push transport fails")
	}
}

func TestScan_DeduplicatesAcrossBoxes(t *testing.T) {
	// The scan unions up to 9 concurrent range queries; a driver near the
	// center must come out of the union exactly once.
	dir := &fakeDirectory{records: []driver.Record{driverAt("d1", 16.9896, 82.2481, "t1")}}
	pusher := &fakePusher{}
	svc := NewService(dir, pusher, newFakeLog(), 5000, nil)

	svc.HandleCreated(context.Background(), searchingEvent("dl_overlap",
		&delivery.GeoAddress{Lat: 16.9895, Lng: 82.2480}))

	batches := pusher.batches()
	if len(batches) != 1 {
		t.Fatalf("expected one fan-out, got %d", len(batches))
	}
	if len(batches[0].tokens) != 1 {
		t.Fatalf("driver notified %d times, want once", len(batches[0].tokens))
	}
	if dir.queries < 1 || dir.queries > 9 {
		t.Fatalf("expected 1..9 range queries, got %d", dir.queries)
	}
}

func TestHandleCreated_ScanErrorIsIsolated(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("store unavailable")}
	pusher := &fakePusher{}
	dlog := newFakeLog()
	svc := NewService(dir, pusher, dlog, 5000, nil)

	svc.HandleCreated(context.Background(), searchingEvent("dl_scanfail",
		&delivery.GeoAddress{Lat: 16.9895, Lng: 82.2480}))

	if len(pusher.batches()) != 0 {
		t.Fatal("no push after a failed scan")
	}
	if done, _ := dlog.WasDispatched(context.Background(), "dl_scanfail"); done {
		t.Fatal("a failed scan must not be marked dispatched")
	}
}

// The dispatched counter tracks pipeline runs, not outcomes: a run that dies
// in the scan is still a run.
func TestHandleCreated_ScanFailureCountsAsRun(t *testing.T) {
	before := testutil.ToFloat64(metrics.DeliveriesDispatchedTotal)
	svc := NewService(&fakeDirectory{err: errors.New("store unavailable")}, &fakePusher{}, newFakeLog(), 5000, nil)

	svc.HandleCreated(context.Background(), searchingEvent("dl_counted",
		&delivery.GeoAddress{Lat: 16.9895, Lng: 82.2480}))

	if got := testutil.ToFloat64(metrics.DeliveriesDispatchedTotal) - before; got != 1 {
		t.Fatalf("expected one pipeline run counted, got %v", got)
	}
}
