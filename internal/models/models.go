package models

import "time"

// Frequency describes how often a ride agreement repeats.
type Frequency string

const (
	FrequencyPunctual Frequency = "punctual"
	FrequencyRegular  Frequency = "regular"
)

// Role identifies which side of the carpool an actor is on. It is resolved
// once at the API boundary and carried explicitly through the state machine.
type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

// Counterpart returns the other side of the carpool.
func (r Role) Counterpart() Role {
	if r == RoleDriver {
		return RolePassenger
	}
	return RoleDriver
}

// RoleForAuthor resolves the role of the acting user by comparing its id to
// the passenger's id.
func RoleForAuthor(authorID, passengerID int64) Role {
	if authorID == passengerID {
		return RolePassenger
	}
	return RoleDriver
}

// WaypointRole tags a waypoint as belonging to the driver or passenger path.
type WaypointRole string

const (
	WaypointRoleDriver    WaypointRole = "driver"
	WaypointRolePassenger WaypointRole = "passenger"
)

type ProofType string

const (
	ProofTypeRealtime    ProofType = "realtime"
	ProofTypeTheoretical ProofType = "theoretical"
)

// ProofStatus is the dispatch state of a proof. The zero value means the
// proof has not been fully certified yet and must not be dispatched.
type ProofStatus string

const (
	ProofStatusPending ProofStatus = "pending"
	ProofStatusSent    ProofStatus = "sent"
	ProofStatusError   ProofStatus = "error"
)

type AgreementStatus string

const (
	AgreementStatusAccepted AgreementStatus = "accepted"
	AgreementStatusDeclined AgreementStatus = "declined"
)

type User struct {
	ID         int64  `json:"id"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Phone      string `json:"phone,omitempty"`
}

type Address struct {
	StreetAddress   string  `json:"street_address,omitempty"`
	PostalCode      string  `json:"postal_code,omitempty"`
	AddressLocality string  `json:"address_locality,omitempty"`
	AddressCountry  string  `json:"address_country,omitempty"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
}

// Clone returns an independent copy. Proofs must never alias an address
// owned by a ride agreement, since those can be edited later.
func (a *Address) Clone() *Address {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// DaySchedule is one cell of the weekly grid: whether the ride runs on that
// weekday and at which time of day.
type DaySchedule struct {
	Check bool      `json:"check"`
	Time  time.Time `json:"time"`
}

// Criteria is the scheduling contract of a ride agreement: a one-off
// date+time, or a weekly grid indexed by time.Weekday (0=Sunday).
type Criteria struct {
	Frequency Frequency      `json:"frequency"`
	FromDate  time.Time      `json:"from_date"`
	FromTime  time.Time      `json:"from_time"`
	Days      [7]DaySchedule `json:"days"`
}

// Waypoint is an ordered stop on a ride path. Position 0 is the origin, the
// highest position is the destination. Duration is the offset in seconds
// from the start of the path.
type Waypoint struct {
	ID          int64        `json:"id"`
	AgreementID int64        `json:"agreement_id"`
	Role        WaypointRole `json:"role"`
	Position    int          `json:"position"`
	Duration    int          `json:"duration"`
	Address     Address      `json:"address"`
}

// RideAgreement is an accepted driver/passenger pairing, owned by the
// matching subsystem. The certification core only reads it.
type RideAgreement struct {
	ID        int64           `json:"id"`
	Status    AgreementStatus `json:"status"`
	Driver    User            `json:"driver"`
	Passenger User            `json:"passenger"`
	Criteria  Criteria        `json:"criteria"`
	Dynamic   bool            `json:"dynamic"`
	Finished  bool            `json:"finished"`
}

// Direction is the certified trace of a proof. Distance and duration stay
// zero until the ride is finalized; Points accumulates the certified
// addresses in the order they were recorded.
type Direction struct {
	Distance float64   `json:"distance"`
	Duration float64   `json:"duration"`
	Points   []Address `json:"points"`
}

// Proof is the certification record evidencing a shared ride. The four
// pickup/dropoff slots are append-only: once set they are only ever read.
type Proof struct {
	ID          int64       `json:"id"`
	AgreementID int64       `json:"agreement_id"`
	Type        ProofType   `json:"type"`
	Status      ProofStatus `json:"status"`
	Driver      User        `json:"driver"`
	Passenger   User        `json:"passenger"`

	OriginDriverAddress      *Address `json:"origin_driver_address"`
	DestinationDriverAddress *Address `json:"destination_driver_address"`

	PickUpDriverDate        *time.Time `json:"pickup_driver_date,omitempty"`
	PickUpDriverAddress     *Address   `json:"pickup_driver_address,omitempty"`
	DropOffDriverDate       *time.Time `json:"dropoff_driver_date,omitempty"`
	DropOffDriverAddress    *Address   `json:"dropoff_driver_address,omitempty"`
	PickUpPassengerDate     *time.Time `json:"pickup_passenger_date,omitempty"`
	PickUpPassengerAddress  *Address   `json:"pickup_passenger_address,omitempty"`
	DropOffPassengerDate    *time.Time `json:"dropoff_passenger_date,omitempty"`
	DropOffPassengerAddress *Address   `json:"dropoff_passenger_address,omitempty"`

	StartDriverDate time.Time `json:"start_driver_date"`
	EndDriverDate   time.Time `json:"end_driver_date"`

	// ProofDate is the calendar day the proof covers; (AgreementID,
	// ProofDate) is unique.
	ProofDate time.Time `json:"proof_date"`

	Direction Direction `json:"direction"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PickUpAddress returns the pickup certification address for a role, nil
// when that side has not certified its pickup.
func (p *Proof) PickUpAddress(r Role) *Address {
	if r == RolePassenger {
		return p.PickUpPassengerAddress
	}
	return p.PickUpDriverAddress
}

// DropOffAddress returns the dropoff certification address for a role, nil
// when that side has not certified its dropoff.
func (p *Proof) DropOffAddress(r Role) *Address {
	if r == RolePassenger {
		return p.DropOffPassengerAddress
	}
	return p.DropOffDriverAddress
}

// SetPickUp fills the pickup slot for a role and records the certified
// point on the direction trace.
func (p *Proof) SetPickUp(r Role, at time.Time, addr *Address) {
	if r == RolePassenger {
		p.PickUpPassengerDate = &at
		p.PickUpPassengerAddress = addr
	} else {
		p.PickUpDriverDate = &at
		p.PickUpDriverAddress = addr
	}
	if addr != nil {
		p.Direction.Points = append(p.Direction.Points, *addr)
	}
}

// SetDropOff fills the dropoff slot for a role and records the certified
// point on the direction trace.
func (p *Proof) SetDropOff(r Role, at time.Time, addr *Address) {
	if r == RolePassenger {
		p.DropOffPassengerDate = &at
		p.DropOffPassengerAddress = addr
	} else {
		p.DropOffDriverDate = &at
		p.DropOffDriverAddress = addr
	}
	if addr != nil {
		p.Direction.Points = append(p.Direction.Points, *addr)
	}
}

// Actor returns the user acting under the given role on this proof.
func (p *Proof) Actor(r Role) User {
	if r == RolePassenger {
		return p.Passenger
	}
	return p.Driver
}
