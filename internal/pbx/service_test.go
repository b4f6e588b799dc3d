package pbx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"callboard/internal/callevent"
	"callboard/internal/history"
	"callboard/internal/store"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []callevent.CallEvent
}

func (b *recordingBroadcaster) Broadcast(ev callevent.CallEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBroadcaster) ids() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.ID
	}
	return out
}

func newTestService(st Store) (*Service, *history.Ring, *recordingBroadcaster) {
	ring := history.New(history.DefaultCapacity)
	bc := &recordingBroadcaster{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, ring, bc, log), ring, bc
}

func TestReady_SingleFlightAcrossConcurrentRequests(t *testing.T) {
	st := store.NewMemory()
	svc, _, _ := newTestService(st)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Ready(context.Background()); err != nil {
				t.Errorf("ready: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := st.SchemaCalls.Load(); n != 1 {
		t.Fatalf("expected exactly one schema creation, got %d", n)
	}
	if n := st.BootstrapCalls.Load(); n != 1 {
		t.Fatalf("expected exactly one bootstrap, got %d", n)
	}
}

func TestReady_FailedInitIsRetryable(t *testing.T) {
	st := store.NewMemory()
	st.FailSchema.Store(true)
	svc, _, _ := newTestService(st)

	if err := svc.Ready(context.Background()); err == nil {
		t.Fatalf("expected init failure")
	}

	st.FailSchema.Store(false)
	if err := svc.Ready(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if n := st.BootstrapCalls.Load(); n != 1 {
		t.Fatalf("expected one successful bootstrap, got %d", n)
	}
}

func TestReady_SeedsRingAndCounterFromBootstrap(t *testing.T) {
	st := store.NewMemory()
	for i := 0; i < 3; i++ {
		if _, err := st.Insert(context.Background(), callevent.CallEvent{Phone: "0712"}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	st.ReportIDs = false // later inserts fall back to the local counter

	svc, ring, _ := newTestService(st)
	ev, err := svc.Ingest(context.Background(), IncomingCall{Phone: "0755000000"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if ev.ID != "4" {
		t.Fatalf("expected fallback id 4 after bootstrap max 3, got %q", ev.ID)
	}
	if ring.Len() != 4 {
		t.Fatalf("expected seeded ring plus one, got %d", ring.Len())
	}
	head, _ := ring.MostRecent()
	if head.ID != "4" {
		t.Fatalf("expected new event at ring head, got %q", head.ID)
	}
}

// fixedBootstrapStore serves a canned bootstrap and reports no insert
// ids, so every ingest exercises the synthesized-id fallback.
type fixedBootstrapStore struct {
	bootstrap []callevent.CallEvent
}

func (f *fixedBootstrapStore) EnsureSchema(ctx context.Context) error { return nil }

func (f *fixedBootstrapStore) BootstrapHistory(ctx context.Context, limit int) ([]callevent.CallEvent, error) {
	return f.bootstrap, nil
}

func (f *fixedBootstrapStore) Insert(ctx context.Context, ev callevent.CallEvent) (string, error) {
	return "", nil
}

func (f *fixedBootstrapStore) Query(ctx context.Context, search string, limit int) ([]callevent.CallEvent, error) {
	return nil, nil
}

func TestReady_CounterClearsAllBootstrapIDs(t *testing.T) {
	// A backdated event sorts to the head of the bootstrap despite its
	// lower id; the counter must still clear the maximum id seen.
	st := &fixedBootstrapStore{bootstrap: []callevent.CallEvent{{ID: "2"}, {ID: "9"}}}
	svc, _, _ := newTestService(st)

	ev, err := svc.Ingest(context.Background(), IncomingCall{Phone: "0712"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if ev.ID != "10" {
		t.Fatalf("expected synthesized id 10 past bootstrap max 9, got %q", ev.ID)
	}
}

func TestIngest_NormalizesAndBroadcasts(t *testing.T) {
	st := store.NewMemory()
	svc, ring, bc := newTestService(st)

	ev, err := svc.Ingest(context.Background(), IncomingCall{
		Phone:      "+40 712 345 678",
		Status:     "No Answer",
		Note:       "  callback later ",
		Extension:  "12",
		Source:     "pbx-1",
		CallerName: " Ana ",
		PersonID:   "77",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if ev.ID != "1" {
		t.Fatalf("expected store-assigned id 1, got %q", ev.ID)
	}
	if ev.Phone != "+40712345678" || ev.Digits != "40712345678" {
		t.Fatalf("unexpected phone normalization: %q %q", ev.Phone, ev.Digits)
	}
	if ev.Status != callevent.StatusMissed {
		t.Fatalf("expected missed, got %q", ev.Status)
	}
	if ev.Note != "callback later" || ev.CallerName != "Ana" {
		t.Fatalf("expected trimmed free text, got %q %q", ev.Note, ev.CallerName)
	}
	if ev.ReceivedAt.IsZero() {
		t.Fatalf("expected received_at default")
	}

	head, ok := ring.MostRecent()
	if !ok || head.ID != ev.ID {
		t.Fatalf("expected event in ring")
	}
	if ids := bc.ids(); len(ids) != 1 || ids[0] != ev.ID {
		t.Fatalf("expected one broadcast, got %v", ids)
	}
}

func TestIngest_RejectsMissingPhone(t *testing.T) {
	svc, ring, bc := newTestService(store.NewMemory())

	for _, phone := range []string{"", "   ", "anonymous"} {
		if _, err := svc.Ingest(context.Background(), IncomingCall{Phone: phone}); !errors.Is(err, ErrNoPhone) {
			t.Fatalf("phone %q: expected ErrNoPhone, got %v", phone, err)
		}
	}
	if ring.Len() != 0 || len(bc.ids()) != 0 {
		t.Fatalf("rejected events must not reach ring or broadcaster")
	}
}

func TestIngest_StoreFailureLeavesNoPartialState(t *testing.T) {
	st := store.NewMemory()
	svc, ring, bc := newTestService(st)
	if err := svc.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}

	st.FailInsert.Store(true)
	if _, err := svc.Ingest(context.Background(), IncomingCall{Phone: "0712345678"}); err == nil {
		t.Fatalf("expected insert failure")
	}
	if ring.Len() != 0 || len(bc.ids()) != 0 || len(st.Events()) != 0 {
		t.Fatalf("failed persist must leave no visible state")
	}
}

func TestIngest_SuppliedReceivedAtKept(t *testing.T) {
	svc, _, _ := newTestService(store.NewMemory())

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ev, err := svc.Ingest(context.Background(), IncomingCall{Phone: "0712", ReceivedAt: at})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !ev.ReceivedAt.Equal(at) {
		t.Fatalf("expected supplied received_at, got %v", ev.ReceivedAt)
	}
}

func TestLog_SearchesPersistedHistory(t *testing.T) {
	st := store.NewMemory()
	st.Contacts["40712345678"] = "Maria"
	svc, _, _ := newTestService(st)

	calls := []IncomingCall{
		{Phone: "+40712345678"},
		{Phone: "0788000000", CallerName: "Ion"},
		{Phone: "0655000000"},
	}
	for _, in := range calls {
		if _, err := svc.Ingest(context.Background(), in); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	got, err := svc.Log(context.Background(), "071", 0)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(got) != 1 || got[0].Digits != "40712345678" {
		t.Fatalf("expected only the 071 match, got %+v", got)
	}
	if got[0].CallerName != "Maria" {
		t.Fatalf("expected contact join to fill name, got %q", got[0].CallerName)
	}

	byName, err := svc.Log(context.Background(), "ion", 10)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(byName) != 1 || byName[0].CallerName != "Ion" {
		t.Fatalf("expected caller-name match, got %+v", byName)
	}
}

func TestLastKnown(t *testing.T) {
	svc, _, _ := newTestService(store.NewMemory())

	if _, ok, err := svc.LastKnown(context.Background()); err != nil || ok {
		t.Fatalf("expected empty last-known, got ok=%v err=%v", ok, err)
	}
	if _, err := svc.Ingest(context.Background(), IncomingCall{Phone: "0712"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	ev, ok, err := svc.LastKnown(context.Background())
	if err != nil || !ok || ev.Digits != "0712" {
		t.Fatalf("unexpected last-known: %+v ok=%v err=%v", ev, ok, err)
	}
}
