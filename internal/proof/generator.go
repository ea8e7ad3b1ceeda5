package proof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Iliess-A/Mobicoop-api/internal/models"
	"github.com/Iliess-A/Mobicoop-api/internal/observability"
	"github.com/Iliess-A/Mobicoop-api/internal/schedule"
	"github.com/Iliess-A/Mobicoop-api/internal/storage"
)

// Generator materializes theoretical proofs for accepted agreements that
// were never certified live, using contractual times instead of GPS fixes.
// It is meant to run once daily over the previous day.
type Generator struct {
	Proofs     storage.ProofStore
	Agreements storage.AgreementStore
	Waypoints  storage.WaypointStore
	ProofType  models.ProofType
	Logger     *slog.Logger
	Now        func() time.Time
}

func (g *Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}

// GeneratePending creates the missing proofs for the window and returns
// every proof currently pending, including ones left over from an earlier
// failed dispatch. Zero from/to select the default window (yesterday, full
// day). Per-agreement failures are logged and skipped, never fatal to the
// batch.
func (g *Generator) GeneratePending(ctx context.Context, from, to time.Time) ([]*models.Proof, error) {
	if from.IsZero() || to.IsZero() {
		dfrom, dto := schedule.DefaultWindow(g.now())
		if from.IsZero() {
			from = dfrom
		}
		if to.IsZero() {
			to = dto
		}
	}

	agreements, err := g.Agreements.AcceptedForPeriod(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("accepted agreements: %w", err)
	}

	var created []*models.Proof
	for _, a := range agreements {
		proofs, err := g.proofsForAgreement(ctx, a, from, to)
		if err != nil {
			g.Logger.Error("proof generation failed", "agreement_id", a.ID, "error", err)
			continue
		}
		created = append(created, proofs...)
	}

	if len(created) > 0 {
		if err := g.Proofs.SaveProofs(ctx, created); err != nil {
			return nil, fmt.Errorf("save generated proofs: %w", err)
		}
		observability.ProofsGenerated.Add(float64(len(created)))
	}
	g.Logger.Info("proof generation done", "from", from, "to", to, "generated", len(created))

	return g.Proofs.ListProofsByStatus(ctx, models.ProofStatusPending)
}

func (g *Generator) proofsForAgreement(ctx context.Context, a *models.RideAgreement, from, to time.Time) ([]*models.Proof, error) {
	origin, err := g.Waypoints.MinWaypoint(ctx, a.ID, models.WaypointRoleDriver)
	if err != nil {
		return nil, fmt.Errorf("origin waypoint: %w", err)
	}
	destination, err := g.Waypoints.MaxWaypoint(ctx, a.ID, models.WaypointRoleDriver)
	if err != nil {
		return nil, fmt.Errorf("destination waypoint: %w", err)
	}
	pickup, err := g.Waypoints.MinWaypoint(ctx, a.ID, models.WaypointRolePassenger)
	if err != nil {
		return nil, fmt.Errorf("pickup waypoint: %w", err)
	}
	dropoff, err := g.Waypoints.MaxWaypoint(ctx, a.ID, models.WaypointRolePassenger)
	if err != nil {
		return nil, fmt.Errorf("dropoff waypoint: %w", err)
	}

	if a.Criteria.Frequency == models.FrequencyPunctual {
		exists, err := g.exists(ctx, a.ID, a.Criteria.FromDate)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, nil
		}
		start := schedule.Apply(a.Criteria.FromDate, a.Criteria.FromTime)
		return []*models.Proof{g.build(a, start, origin, destination, pickup, dropoff)}, nil
	}

	// regular: one proof per enabled carpool day in [from, to]; an
	// inverted window yields nothing
	var out []*models.Proof
	end := schedule.Day(to)
	for cur := schedule.Day(from); !cur.After(end); cur = cur.AddDate(0, 0, 1) {
		exists, err := g.exists(ctx, a.ID, cur)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		if tod, ok := schedule.TimeFor(a.Criteria, cur); ok {
			out = append(out, g.build(a, schedule.Apply(cur, tod), origin, destination, pickup, dropoff))
		}
	}
	return out, nil
}

// exists reports whether a proof already covers the day. A store failure
// is surfaced rather than read as "absent", so a flaky lookup cannot cause
// silent regeneration.
func (g *Generator) exists(ctx context.Context, agreementID int64, date time.Time) (bool, error) {
	_, err := g.Proofs.FindProofForDate(ctx, agreementID, date)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("existing proof lookup: %w", err)
	}
	return true, nil
}

// build assembles one theoretical proof: every timestamp is the driver
// start time offset by the matching waypoint duration, and the passenger
// slots are pre-filled from the contractual passenger path.
func (g *Generator) build(a *models.RideAgreement, start time.Time, origin, destination, pickup, dropoff *models.Waypoint) *models.Proof {
	pickUpDate := start.Add(time.Duration(pickup.Duration) * time.Second)
	dropOffDate := start.Add(time.Duration(dropoff.Duration) * time.Second)
	return &models.Proof{
		AgreementID:              a.ID,
		Type:                     g.ProofType,
		Status:                   models.ProofStatusPending,
		Driver:                   a.Driver,
		Passenger:                a.Passenger,
		OriginDriverAddress:      origin.Address.Clone(),
		DestinationDriverAddress: destination.Address.Clone(),
		PickUpPassengerDate:      &pickUpDate,
		PickUpPassengerAddress:   pickup.Address.Clone(),
		DropOffPassengerDate:     &dropOffDate,
		DropOffPassengerAddress:  dropoff.Address.Clone(),
		StartDriverDate:          start,
		EndDriverDate:            start.Add(time.Duration(destination.Duration) * time.Second),
		ProofDate:                schedule.Day(start),
	}
}
