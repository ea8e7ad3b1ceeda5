package proof

import (
	"errors"
	"fmt"

	"github.com/Iliess-A/Mobicoop-api/internal/models"
)

// ErrNotFound is returned when no proof exists for the given id.
var ErrNotFound = errors.New("proof not found")

// Leg is a certifiable portion of the ride.
type Leg string

const (
	LegPickUp  Leg = "pickup"
	LegDropOff Leg = "dropoff"
)

// OrderingError rejects a dropoff certification while the counterpart has
// not certified its pickup.
type OrderingError struct {
	Counterpart models.Role
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("the %s has not sent its pickup certification yet", e.Counterpart)
}

// AlreadyCertifiedError rejects a second certification of the same leg by
// the same role.
type AlreadyCertifiedError struct {
	Role models.Role
	Leg  Leg
}

func (e *AlreadyCertifiedError) Error() string {
	return fmt.Sprintf("the %s has already sent its %s certification", e.Role, e.Leg)
}

// ToleranceError rejects a certification whose fix lies too far from the
// counterpart's corroborating fix.
type ToleranceError struct {
	Role     models.Role
	Leg      Leg
	Distance float64
	Limit    float64
}

func (e *ToleranceError) Error() string {
	return fmt.Sprintf("%s %s certification failed: counterpart address is %.0fm away, limit %.0fm", e.Role, e.Leg, e.Distance, e.Limit)
}

// RegistryError records why the registry did not take a proof, either a
// transport failure or an explicit rejection.
type RegistryError struct {
	ProofID int64
	Err     error
}

func (e *RegistryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("proof %d rejected by the registry", e.ProofID)
	}
	return fmt.Sprintf("proof %d submission failed: %v", e.ProofID, e.Err)
}

func (e *RegistryError) Unwrap() error { return e.Err }

// GeoResolutionError wraps a failed coordinate lookup.
type GeoResolutionError struct {
	Latitude  float64
	Longitude float64
	Err       error
}

func (e *GeoResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve address for (%.6f, %.6f): %v", e.Latitude, e.Longitude, e.Err)
}

func (e *GeoResolutionError) Unwrap() error { return e.Err }
