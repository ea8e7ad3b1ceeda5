package proof

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Iliess-A/Mobicoop-api/internal/ingest"
	"github.com/Iliess-A/Mobicoop-api/internal/models"
	"github.com/Iliess-A/Mobicoop-api/internal/storage"
)

type fakeRegistry struct {
	reject map[int64]bool // proof ids the registry refuses
	err    error
	calls  int
}

func (f *fakeRegistry) Submit(ctx context.Context, p *models.Proof) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return !f.reject[p.ID], nil
}

func newTestDispatcher(mem *storage.MemoryStore, reg *fakeRegistry, now time.Time) *Dispatcher {
	return &Dispatcher{
		Generator: newTestGenerator(mem, now),
		Proofs:    mem,
		Registry:  reg,
		Logger:    testLogger(),
	}
}

func seedPendingProof(t *testing.T, mem *storage.MemoryStore, agreementID int64, date time.Time) *models.Proof {
	t.Helper()
	p := &models.Proof{
		AgreementID: agreementID,
		Status:      models.ProofStatusPending,
		Type:        models.ProofTypeTheoretical,
		ProofDate:   date,
	}
	if err := mem.SaveProof(context.Background(), p); err != nil {
		t.Fatalf("seed proof: %v", err)
	}
	return p
}

func TestDispatchMixedOutcome(t *testing.T) {
	mem := storage.NewMemoryStore()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ok := seedPendingProof(t, mem, 1, day)
	bad := seedPendingProof(t, mem, 2, day)
	reg := &fakeRegistry{reject: map[int64]bool{bad.ID: true}}
	d := newTestDispatcher(mem, reg, time.Date(2024, 3, 2, 4, 0, 0, 0, time.UTC))

	if err := d.Dispatch(context.Background(), time.Time{}, time.Time{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if reg.calls != 2 {
		t.Fatalf("expected 2 submissions, got %d", reg.calls)
	}
	got, _ := mem.FindProof(context.Background(), ok.ID)
	if got.Status != models.ProofStatusSent {
		t.Fatalf("expected sent, got %q", got.Status)
	}
	got, _ = mem.FindProof(context.Background(), bad.ID)
	if got.Status != models.ProofStatusError {
		t.Fatalf("expected error, got %q", got.Status)
	}
}

func TestDispatchTransportFailureMarksError(t *testing.T) {
	mem := storage.NewMemoryStore()
	p := seedPendingProof(t, mem, 1, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	reg := &fakeRegistry{err: errors.New("connection refused")}
	d := newTestDispatcher(mem, reg, time.Date(2024, 3, 2, 4, 0, 0, 0, time.UTC))

	if err := d.Dispatch(context.Background(), time.Time{}, time.Time{}); err != nil {
		t.Fatalf("dispatch must survive per-proof failures: %v", err)
	}
	got, _ := mem.FindProof(context.Background(), p.ID)
	if got.Status != models.ProofStatusError {
		t.Fatalf("expected error, got %q", got.Status)
	}
}

func TestDispatchErrorIsTerminal(t *testing.T) {
	mem := storage.NewMemoryStore()
	p := seedPendingProof(t, mem, 1, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	reg := &fakeRegistry{reject: map[int64]bool{p.ID: true}}
	d := newTestDispatcher(mem, reg, time.Date(2024, 3, 2, 4, 0, 0, 0, time.UTC))
	ctx := context.Background()

	if err := d.Dispatch(ctx, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	// the error proof is not re-submitted on the next run
	if err := d.Dispatch(ctx, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if reg.calls != 1 {
		t.Fatalf("expected 1 submission total, got %d", reg.calls)
	}
}

type capturingSink struct {
	events []ingest.ProofEvent
}

func (c *capturingSink) Publish(ev ingest.ProofEvent) error {
	c.events = append(c.events, ev)
	return nil
}

func TestDispatchEventsUseInjectedClock(t *testing.T) {
	mem := storage.NewMemoryStore()
	p := seedPendingProof(t, mem, 1, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	now := time.Date(2024, 3, 2, 4, 0, 0, 0, time.UTC)
	sink := &capturingSink{}
	d := newTestDispatcher(mem, &fakeRegistry{}, now)
	d.Now = fixedClock(now)
	d.Events = sink

	if err := d.Dispatch(context.Background(), time.Time{}, time.Time{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Type != ingest.EventProofSent || ev.ProofID != p.ID {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.At.Equal(now) {
		t.Fatalf("expected event time %v, got %v", now, ev.At)
	}
}

func TestDispatchRetriesAfterManualReset(t *testing.T) {
	mem := storage.NewMemoryStore()
	p := seedPendingProof(t, mem, 1, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	reg := &fakeRegistry{reject: map[int64]bool{p.ID: true}}
	d := newTestDispatcher(mem, reg, time.Date(2024, 3, 2, 4, 0, 0, 0, time.UTC))
	ctx := context.Background()

	if err := d.Dispatch(ctx, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	// operator resets, registry accepts on the retry
	svc, _ := newTestService(mem, time.Date(2024, 3, 2, 5, 0, 0, 0, time.UTC))
	if _, err := svc.ResetToPending(ctx, p.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	reg.reject = nil

	if err := d.Dispatch(ctx, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	got, _ := mem.FindProof(ctx, p.ID)
	if got.Status != models.ProofStatusSent {
		t.Fatalf("expected sent after reset, got %q", got.Status)
	}
}
