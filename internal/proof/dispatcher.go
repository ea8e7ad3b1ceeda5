package proof

import (
	"context"
	"log/slog"
	"time"

	"github.com/Iliess-A/Mobicoop-api/internal/ingest"
	"github.com/Iliess-A/Mobicoop-api/internal/models"
	"github.com/Iliess-A/Mobicoop-api/internal/observability"
	"github.com/Iliess-A/Mobicoop-api/internal/registry"
	"github.com/Iliess-A/Mobicoop-api/internal/storage"
)

// Dispatcher generates the missing proofs for a window and pushes
// everything pending to the external registry. Each proof's outcome is
// independent: a rejection marks that proof error and the run continues.
// Error proofs are not retried automatically; an operator resets them to
// pending.
type Dispatcher struct {
	Generator *Generator
	Proofs    storage.ProofStore
	Registry  registry.Client
	Logger    *slog.Logger
	Now       func() time.Time
	Events    EventSink // optional
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Dispatch runs one generate-and-send pass. Zero from/to select the
// default window, same rule as the generator.
func (d *Dispatcher) Dispatch(ctx context.Context, from, to time.Time) error {
	proofs, err := d.Generator.GeneratePending(ctx, from, to)
	if err != nil {
		return err
	}

	now := d.now()
	for _, p := range proofs {
		accepted, err := d.Registry.Submit(ctx, p)
		if err != nil || !accepted {
			p.Status = models.ProofStatusError
			observability.DispatchResults.WithLabelValues(string(models.ProofStatusError)).Inc()
			d.Logger.Warn("registry rejected proof", "proof_id", p.ID, "error", &RegistryError{ProofID: p.ID, Err: err})
			d.publish(ingest.ProofEvent{Type: ingest.EventProofError, ProofID: p.ID, AgreementID: p.AgreementID, Status: p.Status, At: now})
			continue
		}
		p.Status = models.ProofStatusSent
		observability.DispatchResults.WithLabelValues(string(models.ProofStatusSent)).Inc()
		d.publish(ingest.ProofEvent{Type: ingest.EventProofSent, ProofID: p.ID, AgreementID: p.AgreementID, Status: p.Status, At: now})
	}

	if len(proofs) > 0 {
		if err := d.Proofs.SaveProofs(ctx, proofs); err != nil {
			return err
		}
	}
	d.Logger.Info("dispatch done", "count", len(proofs))
	return nil
}

func (d *Dispatcher) publish(ev ingest.ProofEvent) {
	if d.Events == nil {
		return
	}
	if err := d.Events.Publish(ev); err != nil {
		d.Logger.Warn("event publish failed", "type", ev.Type, "proof_id", ev.ProofID, "error", err)
	}
}
