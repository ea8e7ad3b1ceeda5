package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Iliess-A/Mobicoop-api/internal/models"
)

// PostgresStore implements the three stores over database/sql. Addresses,
// users, criteria and the direction trace are stored as jsonb; the fields
// the queries need (status, dates, positions) are plain columns.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const proofColumns = `id, agreement_id, type, status, driver, passenger,
	origin_driver_address, destination_driver_address,
	pickup_driver_date, pickup_driver_address,
	dropoff_driver_date, dropoff_driver_address,
	pickup_passenger_date, pickup_passenger_address,
	dropoff_passenger_date, dropoff_passenger_address,
	start_driver_date, end_driver_date, proof_date, direction,
	created_at, updated_at`

func (p *PostgresStore) FindProof(ctx context.Context, id int64) (*models.Proof, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+proofColumns+` FROM carpool_proofs WHERE id=$1`, id)
	return scanProof(row)
}

func (p *PostgresStore) FindProofForDate(ctx context.Context, agreementID int64, date time.Time) (*models.Proof, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+proofColumns+` FROM carpool_proofs WHERE agreement_id=$1 AND proof_date=$2::date`,
		agreementID, date.Format("2006-01-02"))
	return scanProof(row)
}

func (p *PostgresStore) SaveProof(ctx context.Context, pr *models.Proof) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := saveProofTx(ctx, tx, pr); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) SaveProofs(ctx context.Context, proofs []*models.Proof) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, pr := range proofs {
		if err := saveProofTx(ctx, tx, pr); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func saveProofTx(ctx context.Context, tx *sql.Tx, pr *models.Proof) error {
	now := time.Now()
	pr.UpdatedAt = now
	if pr.ID == 0 {
		pr.CreatedAt = now
		// insert-if-absent: a concurrent generator run loses the race
		// silently and the existing row wins
		err := tx.QueryRowContext(ctx, `
			INSERT INTO carpool_proofs (
				agreement_id, type, status, driver, passenger,
				origin_driver_address, destination_driver_address,
				pickup_driver_date, pickup_driver_address,
				dropoff_driver_date, dropoff_driver_address,
				pickup_passenger_date, pickup_passenger_address,
				dropoff_passenger_date, dropoff_passenger_address,
				start_driver_date, end_driver_date, proof_date, direction,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
			ON CONFLICT (agreement_id, proof_date) DO NOTHING
			RETURNING id`,
			pr.AgreementID, pr.Type, pr.Status, asJSON(pr.Driver), asJSON(pr.Passenger),
			asJSON(pr.OriginDriverAddress), asJSON(pr.DestinationDriverAddress),
			nullTime(pr.PickUpDriverDate), asJSON(pr.PickUpDriverAddress),
			nullTime(pr.DropOffDriverDate), asJSON(pr.DropOffDriverAddress),
			nullTime(pr.PickUpPassengerDate), asJSON(pr.PickUpPassengerAddress),
			nullTime(pr.DropOffPassengerDate), asJSON(pr.DropOffPassengerAddress),
			pr.StartDriverDate, pr.EndDriverDate, pr.ProofDate.Format("2006-01-02"), asJSON(pr.Direction),
			pr.CreatedAt, pr.UpdatedAt,
		).Scan(&pr.ID)
		if errors.Is(err, sql.ErrNoRows) {
			// conflict: row already exists for this (agreement, date)
			return nil
		}
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE carpool_proofs SET
			status=$1,
			pickup_driver_date=$2, pickup_driver_address=$3,
			dropoff_driver_date=$4, dropoff_driver_address=$5,
			pickup_passenger_date=$6, pickup_passenger_address=$7,
			dropoff_passenger_date=$8, dropoff_passenger_address=$9,
			direction=$10, updated_at=$11
		WHERE id=$12`,
		pr.Status,
		nullTime(pr.PickUpDriverDate), asJSON(pr.PickUpDriverAddress),
		nullTime(pr.DropOffDriverDate), asJSON(pr.DropOffDriverAddress),
		nullTime(pr.PickUpPassengerDate), asJSON(pr.PickUpPassengerAddress),
		nullTime(pr.DropOffPassengerDate), asJSON(pr.DropOffPassengerAddress),
		asJSON(pr.Direction), pr.UpdatedAt, pr.ID)
	return err
}

func (p *PostgresStore) ListProofsByStatus(ctx context.Context, status models.ProofStatus) ([]*models.Proof, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+proofColumns+` FROM carpool_proofs WHERE status=$1 ORDER BY id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Proof
	for rows.Next() {
		pr, err := scanProof(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProof(row rowScanner) (*models.Proof, error) {
	var pr models.Proof
	var driver, passenger, origin, destination, direction []byte
	var puDriverAddr, doDriverAddr, puPassAddr, doPassAddr []byte
	var puDriver, doDriver, puPass, doPass sql.NullTime
	err := row.Scan(
		&pr.ID, &pr.AgreementID, &pr.Type, &pr.Status, &driver, &passenger,
		&origin, &destination,
		&puDriver, &puDriverAddr,
		&doDriver, &doDriverAddr,
		&puPass, &puPassAddr,
		&doPass, &doPassAddr,
		&pr.StartDriverDate, &pr.EndDriverDate, &pr.ProofDate, &direction,
		&pr.CreatedAt, &pr.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := fromJSON(driver, &pr.Driver); err != nil {
		return nil, err
	}
	if err := fromJSON(passenger, &pr.Passenger); err != nil {
		return nil, err
	}
	pr.OriginDriverAddress = addrFromJSON(origin)
	pr.DestinationDriverAddress = addrFromJSON(destination)
	pr.PickUpDriverDate = timePtr(puDriver)
	pr.PickUpDriverAddress = addrFromJSON(puDriverAddr)
	pr.DropOffDriverDate = timePtr(doDriver)
	pr.DropOffDriverAddress = addrFromJSON(doDriverAddr)
	pr.PickUpPassengerDate = timePtr(puPass)
	pr.PickUpPassengerAddress = addrFromJSON(puPassAddr)
	pr.DropOffPassengerDate = timePtr(doPass)
	pr.DropOffPassengerAddress = addrFromJSON(doPassAddr)
	if len(direction) > 0 {
		if err := fromJSON(direction, &pr.Direction); err != nil {
			return nil, err
		}
	}
	return &pr, nil
}

func (p *PostgresStore) FindAgreement(ctx context.Context, id int64) (*models.RideAgreement, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, status, driver, passenger, criteria, dynamic, finished FROM ride_agreements WHERE id=$1`, id)
	return scanAgreement(row)
}

func (p *PostgresStore) AcceptedForPeriod(ctx context.Context, from, to time.Time) ([]*models.RideAgreement, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, status, driver, passenger, criteria, dynamic, finished
		FROM ride_agreements
		WHERE status=$1 AND from_date <= $2 AND (to_date IS NULL OR to_date >= $3)
		ORDER BY id`,
		models.AgreementStatusAccepted, to, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.RideAgreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAgreement(row rowScanner) (*models.RideAgreement, error) {
	var a models.RideAgreement
	var driver, passenger, criteria []byte
	err := row.Scan(&a.ID, &a.Status, &driver, &passenger, &criteria, &a.Dynamic, &a.Finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := fromJSON(driver, &a.Driver); err != nil {
		return nil, err
	}
	if err := fromJSON(passenger, &a.Passenger); err != nil {
		return nil, err
	}
	if err := fromJSON(criteria, &a.Criteria); err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *PostgresStore) MarkFinished(ctx context.Context, agreementID int64) error {
	res, err := p.db.ExecContext(ctx, `UPDATE ride_agreements SET finished=true WHERE id=$1`, agreementID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) MinWaypoint(ctx context.Context, agreementID int64, role models.WaypointRole) (*models.Waypoint, error) {
	return p.extremeWaypoint(ctx, agreementID, role, "ASC")
}

func (p *PostgresStore) MaxWaypoint(ctx context.Context, agreementID int64, role models.WaypointRole) (*models.Waypoint, error) {
	return p.extremeWaypoint(ctx, agreementID, role, "DESC")
}

func (p *PostgresStore) extremeWaypoint(ctx context.Context, agreementID int64, role models.WaypointRole, order string) (*models.Waypoint, error) {
	var w models.Waypoint
	var addr []byte
	err := p.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, agreement_id, role, position, duration, address
		FROM waypoints WHERE agreement_id=$1 AND role=$2
		ORDER BY position %s LIMIT 1`, order),
		agreementID, role).Scan(&w.ID, &w.AgreementID, &w.Role, &w.Position, &w.Duration, &addr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := fromJSON(addr, &w.Address); err != nil {
		return nil, err
	}
	return &w, nil
}

func asJSON(v any) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func fromJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func addrFromJSON(b []byte) *models.Address {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	var a models.Address
	if err := json.Unmarshal(b, &a); err != nil {
		return nil
	}
	return &a
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
