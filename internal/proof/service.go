// Package proof implements the carpool-proof certification core: the
// two-party state machine fed by live GPS fixes, the batch generator that
// backfills proofs from contractual schedules, and the dispatcher that
// submits pending proofs to the external registry.
package proof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Iliess-A/Mobicoop-api/internal/dispatch"
	"github.com/Iliess-A/Mobicoop-api/internal/geo"
	"github.com/Iliess-A/Mobicoop-api/internal/geolookup"
	"github.com/Iliess-A/Mobicoop-api/internal/ingest"
	"github.com/Iliess-A/Mobicoop-api/internal/models"
	"github.com/Iliess-A/Mobicoop-api/internal/observability"
	"github.com/Iliess-A/Mobicoop-api/internal/schedule"
	"github.com/Iliess-A/Mobicoop-api/internal/storage"
)

// EventSink receives lifecycle events; publishing is best effort.
type EventSink interface {
	Publish(ev ingest.ProofEvent) error
}

// Notifier nudges the counterpart's live session after a certification.
type Notifier interface {
	NotifyCertification(userID int64, ev dispatch.CertificationEvent) error
}

// Service owns the lifecycle of a single proof: realtime creation and the
// pickup/dropoff certification updates submitted independently by driver
// and passenger.
type Service struct {
	Proofs     storage.ProofStore
	Agreements storage.AgreementStore
	Waypoints  storage.WaypointStore
	Geo        geolookup.Resolver
	Logger     *slog.Logger
	Now        func() time.Time

	Events EventSink // optional
	Notify Notifier  // optional
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// GetProof returns a proof by its id.
func (s *Service) GetProof(ctx context.Context, id int64) (*models.Proof, error) {
	p, err := s.Proofs.FindProof(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return p, err
}

// GetProofForDate returns the proof covering a calendar day for an
// agreement, or ErrNotFound.
func (s *Service) GetProofForDate(ctx context.Context, agreementID int64, date time.Time) (*models.Proof, error) {
	p, err := s.Proofs.FindProofForDate(ctx, agreementID, date)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return p, err
}

// Create builds a realtime proof for an agreement from the author's live
// position and records the author's pickup certification.
func (s *Service) Create(ctx context.Context, agreement *models.RideAgreement, lon, lat float64, proofType models.ProofType, role models.Role) (*models.Proof, error) {
	origin, err := s.Waypoints.MinWaypoint(ctx, agreement.ID, models.WaypointRoleDriver)
	if err != nil {
		return nil, fmt.Errorf("origin waypoint: %w", err)
	}
	destination, err := s.Waypoints.MaxWaypoint(ctx, agreement.ID, models.WaypointRoleDriver)
	if err != nil {
		return nil, fmt.Errorf("destination waypoint: %w", err)
	}

	now := s.now()
	var start time.Time
	if agreement.Criteria.Frequency == models.FrequencyPunctual {
		// the contractual date and time, both theoretical
		start = schedule.Apply(agreement.Criteria.FromDate, agreement.Criteria.FromTime)
	} else {
		// current day at the theoretical time; when today is not a
		// carpool day the wall clock is kept as-is (known quirk of the
		// protocol, pinned by tests)
		start = now
		if tod, ok := schedule.TimeFor(agreement.Criteria, now); ok {
			start = schedule.Apply(now, tod)
		}
	}

	p := &models.Proof{
		AgreementID:              agreement.ID,
		Type:                     proofType,
		Driver:                   agreement.Driver,
		Passenger:                agreement.Passenger,
		OriginDriverAddress:      origin.Address.Clone(),
		DestinationDriverAddress: destination.Address.Clone(),
		StartDriverDate:          start,
		EndDriverDate:            start.Add(time.Duration(destination.Duration) * time.Second),
		ProofDate:                schedule.Day(start),
	}

	addr, err := s.resolve(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	p.SetPickUp(role, now, addr)

	if err := s.Proofs.SaveProof(ctx, p); err != nil {
		return nil, err
	}
	observability.ProofsCreated.WithLabelValues(string(proofType)).Inc()
	observability.Certifications.WithLabelValues(string(role), string(LegPickUp)).Inc()
	s.publish(ingest.ProofEvent{Type: ingest.EventProofCreated, ProofID: p.ID, AgreementID: p.AgreementID, Role: role, At: now})
	s.Logger.Info("proof created", "proof_id", p.ID, "agreement_id", p.AgreementID, "type", proofType, "role", role)
	return p, nil
}

// Update applies one certification fix to a proof. The branch order
// matters: ordering violation first, then the dropoff leg, then pickup
// corroboration, then the very first pickup.
func (s *Service) Update(ctx context.Context, proofID int64, lon, lat float64, role models.Role, toleranceMeters float64) (*models.Proof, error) {
	p, err := s.Proofs.FindProof(ctx, proofID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	other := role.Counterpart()
	now := s.now()
	var leg Leg

	switch {
	case p.PickUpAddress(role) != nil && p.PickUpAddress(other) == nil:
		// this actor wants its dropoff but the counterpart never
		// certified its pickup
		observability.CertificationRejections.WithLabelValues("ordering").Inc()
		return nil, &OrderingError{Counterpart: other}

	case p.PickUpAddress(role) != nil:
		leg = LegDropOff
		if p.DropOffAddress(role) != nil {
			observability.CertificationRejections.WithLabelValues("already_certified").Inc()
			return nil, &AlreadyCertifiedError{Role: role, Leg: LegDropOff}
		}
		if counterpart := p.DropOffAddress(other); counterpart != nil {
			// second dropoff of the pair must corroborate the first
			d := geo.Haversine(lat, lon, counterpart.Latitude, counterpart.Longitude)
			if d > toleranceMeters {
				observability.CertificationRejections.WithLabelValues("tolerance").Inc()
				return nil, &ToleranceError{Role: role, Leg: LegDropOff, Distance: d, Limit: toleranceMeters}
			}
			addr, err := s.resolve(ctx, lat, lon)
			if err != nil {
				return nil, err
			}
			p.SetDropOff(role, now, addr)
			// both sides certified: ready for registry submission
			p.Status = models.ProofStatusPending
		} else {
			// first dropoff of the pair is accepted on trust
			addr, err := s.resolve(ctx, lat, lon)
			if err != nil {
				return nil, err
			}
			p.SetDropOff(role, now, addr)
		}
		if role == models.RolePassenger {
			if err := s.finishDynamicRide(ctx, p.AgreementID); err != nil {
				return nil, err
			}
		}

	case p.PickUpAddress(other) != nil:
		// first certification of this actor must corroborate the
		// counterpart's pickup
		leg = LegPickUp
		counterpart := p.PickUpAddress(other)
		d := geo.Haversine(lat, lon, counterpart.Latitude, counterpart.Longitude)
		if d > toleranceMeters {
			observability.CertificationRejections.WithLabelValues("tolerance").Inc()
			return nil, &ToleranceError{Role: role, Leg: LegPickUp, Distance: d, Limit: toleranceMeters}
		}
		addr, err := s.resolve(ctx, lat, lon)
		if err != nil {
			return nil, err
		}
		p.SetPickUp(role, now, addr)

	default:
		// nothing certified yet, nothing to corroborate against
		leg = LegPickUp
		addr, err := s.resolve(ctx, lat, lon)
		if err != nil {
			return nil, err
		}
		p.SetPickUp(role, now, addr)
	}

	if err := s.Proofs.SaveProof(ctx, p); err != nil {
		return nil, err
	}
	observability.Certifications.WithLabelValues(string(role), string(leg)).Inc()
	s.publish(ingest.ProofEvent{Type: ingest.EventProofCertified, ProofID: p.ID, AgreementID: p.AgreementID, Role: role, Status: p.Status, At: now})
	s.notifyCounterpart(p, role, leg, now)
	s.Logger.Info("proof certified", "proof_id", p.ID, "role", role, "leg", leg, "status", p.Status)
	return p, nil
}

// ResetToPending returns an error-status proof to pending so the next
// scheduled dispatch re-attempts it. There is no automatic retry.
func (s *Service) ResetToPending(ctx context.Context, proofID int64) (*models.Proof, error) {
	p, err := s.Proofs.FindProof(ctx, proofID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Status != models.ProofStatusError {
		return nil, fmt.Errorf("proof %d is %q, only error proofs can be reset", proofID, p.Status)
	}
	p.Status = models.ProofStatusPending
	if err := s.Proofs.SaveProof(ctx, p); err != nil {
		return nil, err
	}
	s.Logger.Info("proof reset to pending", "proof_id", p.ID)
	return p, nil
}

func (s *Service) resolve(ctx context.Context, lat, lon float64) (*models.Address, error) {
	addr, err := s.Geo.Resolve(ctx, lat, lon)
	if err != nil {
		observability.CertificationRejections.WithLabelValues("geolookup").Inc()
		return nil, &GeoResolutionError{Latitude: lat, Longitude: lon, Err: err}
	}
	return addr, nil
}

func (s *Service) finishDynamicRide(ctx context.Context, agreementID int64) error {
	a, err := s.Agreements.FindAgreement(ctx, agreementID)
	if err != nil {
		return err
	}
	if !a.Dynamic || a.Finished {
		return nil
	}
	return s.Agreements.MarkFinished(ctx, agreementID)
}

func (s *Service) publish(ev ingest.ProofEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ev); err != nil {
		s.Logger.Warn("event publish failed", "type", ev.Type, "proof_id", ev.ProofID, "error", err)
	}
}

func (s *Service) notifyCounterpart(p *models.Proof, role models.Role, leg Leg, at time.Time) {
	if s.Notify == nil {
		return
	}
	counterpart := p.Actor(role.Counterpart())
	ev := dispatch.CertificationEvent{ProofID: p.ID, Role: role, Leg: string(leg), At: at}
	if err := s.Notify.NotifyCertification(counterpart.ID, ev); err != nil && !errors.Is(err, dispatch.ErrNoSession) {
		s.Logger.Warn("counterpart notification failed", "proof_id", p.ID, "user_id", counterpart.ID, "error", err)
	}
}
