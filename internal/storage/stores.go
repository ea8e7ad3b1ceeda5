// Package storage holds the repositories consumed by the certification
// core. Proofs are keyed by a surrogate id with a secondary unique key on
// (agreement, calendar day) used for batch deduplication.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Iliess-A/Mobicoop-api/internal/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("storage: not found")

// ProofStore defines persistence operations for proofs.
type ProofStore interface {
	FindProof(ctx context.Context, id int64) (*models.Proof, error)
	// FindProofForDate looks a proof up by its composite key; the time
	// part of date is ignored.
	FindProofForDate(ctx context.Context, agreementID int64, date time.Time) (*models.Proof, error)
	SaveProof(ctx context.Context, p *models.Proof) error
	// SaveProofs persists a batch in one transaction. New proofs hitting
	// an existing (agreement, date) key are silently skipped.
	SaveProofs(ctx context.Context, proofs []*models.Proof) error
	ListProofsByStatus(ctx context.Context, status models.ProofStatus) ([]*models.Proof, error)
}

// AgreementStore gives the core read access to the matching subsystem's
// ride agreements.
type AgreementStore interface {
	FindAgreement(ctx context.Context, id int64) (*models.RideAgreement, error)
	AcceptedForPeriod(ctx context.Context, from, to time.Time) ([]*models.RideAgreement, error)
	// MarkFinished closes the originating dynamic ride request.
	MarkFinished(ctx context.Context, agreementID int64) error
}

// WaypointStore resolves the extremes of a ride path.
type WaypointStore interface {
	MinWaypoint(ctx context.Context, agreementID int64, role models.WaypointRole) (*models.Waypoint, error)
	MaxWaypoint(ctx context.Context, agreementID int64, role models.WaypointRole) (*models.Waypoint, error)
}
