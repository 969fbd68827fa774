package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/driveline-ai/driveline/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client), mr
}

func testSession() *domain.Session {
	return &domain.Session{
		CallSID:     "CA7712",
		StreamSID:   "MZ0123",
		CallerPhone: "+15551234567",
		State:       domain.StateGreeting,
		CreatedAt:   time.Now().UTC(),
		LastUpdated: time.Now().UTC(),
	}
}

func TestSession_RoundTrip(t *testing.T) {
	t.Parallel()
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.SetSession(ctx, testSession()); err != nil {
		t.Fatalf("SetSession: %v", err)
	}

	got, err := store.GetSession(ctx, "CA7712")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.CallerPhone != "+15551234567" || got.State != domain.StateGreeting {
		t.Fatalf("session = %+v", got)
	}

	if ttl := mr.TTL("session:CA7712"); ttl != SessionTTL {
		t.Fatalf("initial TTL = %v, want %v", ttl, SessionTTL)
	}
}

func TestSession_KeyedByCallSID(t *testing.T) {
	t.Parallel()
	store, mr := newTestStore(t)
	ctx := context.Background()

	// Call SID and stream SID come from different fields of the start event;
	// the record must live under the call SID only.
	sess := testSession()
	if err := store.SetSession(ctx, sess); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if !mr.Exists("session:" + sess.CallSID) {
		t.Fatalf("no key under call sid %q", sess.CallSID)
	}
	if mr.Exists("session:" + sess.StreamSID) {
		t.Fatalf("record keyed by stream sid %q", sess.StreamSID)
	}

	if err := store.UpdateSession(ctx, sess.CallSID, map[string]any{"intent": "service_inquiry"}); err != nil {
		t.Fatalf("UpdateSession by call sid: %v", err)
	}
	if err := store.UpdateSession(ctx, sess.StreamSID, map[string]any{"intent": "lost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateSession by stream sid = %v, want ErrNotFound", err)
	}

	got, err := store.GetSession(ctx, sess.CallSID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Intent != "service_inquiry" || got.StreamSID != "MZ0123" {
		t.Fatalf("session = %+v", got)
	}
}

func TestSetSession_RequiresCallSID(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	sess := testSession()
	sess.CallSID = ""
	if err := store.SetSession(context.Background(), sess); err == nil {
		t.Fatal("SetSession accepted a session without a call sid")
	}
}

func TestGetSession_Missing(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	if _, err := store.GetSession(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpdateSession_MergesPatch(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.SetSession(ctx, testSession()); err != nil {
		t.Fatalf("SetSession: %v", err)
	}

	patch := map[string]any{
		"current_state": string(domain.StateExecution),
		"intent":        "book_appointment",
	}
	if err := store.UpdateSession(ctx, "CA7712", patch); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := store.GetSession(ctx, "CA7712")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.State != domain.StateExecution || got.Intent != "book_appointment" {
		t.Fatalf("patch not applied: %+v", got)
	}
	// untouched fields survive the merge
	if got.CallerPhone != "+15551234567" {
		t.Fatalf("caller phone lost: %+v", got)
	}
	if got.LastUpdated.IsZero() {
		t.Fatal("last_updated not set")
	}
}

func TestUpdateSession_Missing(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	err := store.UpdateSession(context.Background(), "expired", map[string]any{"speaking": true})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpdateSession_PreservesRemainingTTL(t *testing.T) {
	t.Parallel()
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.SetSession(ctx, testSession()); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	mr.FastForward(20 * time.Minute)

	if err := store.UpdateSession(ctx, "CA7712", map[string]any{"speaking": true}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	ttl := mr.TTL("session:CA7712")
	if ttl > 40*time.Minute {
		t.Fatalf("update extended TTL to %v", ttl)
	}
	if ttl <= 0 {
		t.Fatalf("update dropped TTL: %v", ttl)
	}
}

func TestUpdateSession_CapsRunawayTTL(t *testing.T) {
	t.Parallel()
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.SetSession(ctx, testSession()); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	// A key whose TTL was tampered with above the lifetime is clamped back.
	mr.SetTTL("session:CA7712", 3*time.Hour)

	if err := store.UpdateSession(ctx, "CA7712", map[string]any{"speaking": true}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if ttl := mr.TTL("session:CA7712"); ttl > SessionTTL {
		t.Fatalf("TTL = %v, want <= %v", ttl, SessionTTL)
	}
}

func TestUpdateSession_ConcurrentPatchesBothLand(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.SetSession(ctx, testSession()); err != nil {
		t.Fatalf("SetSession: %v", err)
	}

	var wg sync.WaitGroup
	patches := []map[string]any{
		{"speaking": true},
		{"intent": "service_inquiry"},
	}
	errs := make([]error, len(patches))
	for i, p := range patches {
		wg.Add(1)
		go func(i int, p map[string]any) {
			defer wg.Done()
			errs[i] = store.UpdateSession(ctx, "CA7712", p)
		}(i, p)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("patch %d: %v", i, err)
		}
	}

	got, err := store.GetSession(ctx, "CA7712")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !got.Speaking || got.Intent != "service_inquiry" {
		t.Fatalf("lost update: %+v", got)
	}
}

func TestDeleteSession_Idempotent(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.SetSession(ctx, testSession()); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if err := store.DeleteSession(ctx, "CA7712"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if err := store.DeleteSession(ctx, "CA7712"); err != nil {
		t.Fatalf("second DeleteSession: %v", err)
	}
	if _, err := store.GetSession(ctx, "CA7712"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("session still present: %v", err)
	}
}

func TestCustomerCache(t *testing.T) {
	t.Parallel()
	store, mr := newTestStore(t)
	ctx := context.Background()

	if _, hit, err := store.GetCachedCustomer(ctx, "+15551234567"); err != nil || hit {
		t.Fatalf("cold cache: hit=%v err=%v", hit, err)
	}

	snap := &domain.CustomerSnapshot{
		Customer: domain.Customer{ID: 7, FirstName: "Maria", Phone: "+15551234567"},
		CachedAt: time.Now().UTC(),
	}
	if err := store.CacheCustomer(ctx, "+15551234567", snap); err != nil {
		t.Fatalf("CacheCustomer: %v", err)
	}

	got, hit, err := store.GetCachedCustomer(ctx, "+15551234567")
	if err != nil || !hit {
		t.Fatalf("warm cache: hit=%v err=%v", hit, err)
	}
	if got.Customer.FirstName != "Maria" {
		t.Fatalf("snapshot = %+v", got)
	}
	if ttl := mr.TTL("customer:+15551234567"); ttl != customerTTL {
		t.Fatalf("customer TTL = %v, want %v", ttl, customerTTL)
	}

	if err := store.InvalidateCustomer(ctx, "+15551234567"); err != nil {
		t.Fatalf("InvalidateCustomer: %v", err)
	}
	if _, hit, _ := store.GetCachedCustomer(ctx, "+15551234567"); hit {
		t.Fatal("snapshot survived invalidation")
	}
}

func TestVINCache(t *testing.T) {
	t.Parallel()
	store, mr := newTestStore(t)
	ctx := context.Background()

	decoded := json.RawMessage(`{"make":"Honda","model":"Civic","year":"2021"}`)
	if err := store.CacheVIN(ctx, "1HGCM82633A004352", decoded); err != nil {
		t.Fatalf("CacheVIN: %v", err)
	}

	got, hit, err := store.GetCachedVIN(ctx, "1HGCM82633A004352")
	if err != nil || !hit {
		t.Fatalf("vin cache: hit=%v err=%v", hit, err)
	}
	if string(got) != string(decoded) {
		t.Fatalf("decoded = %s", got)
	}
	if ttl := mr.TTL("vin:1HGCM82633A004352"); ttl != vinTTL {
		t.Fatalf("vin TTL = %v, want %v", ttl, vinTTL)
	}
}
