package storage

import (
	"context"
	"sync"
	"time"

	"github.com/Iliess-A/Mobicoop-api/internal/models"
	"github.com/Iliess-A/Mobicoop-api/internal/schedule"
)

// MemoryStore implements all three stores on in-process maps. It backs
// local runs without Postgres and the package tests.
type MemoryStore struct {
	mu         sync.RWMutex
	proofs     map[int64]*models.Proof
	agreements map[int64]*models.RideAgreement
	waypoints  []models.Waypoint
	nextID     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		proofs:     make(map[int64]*models.Proof),
		agreements: make(map[int64]*models.RideAgreement),
	}
}

func (m *MemoryStore) FindProof(ctx context.Context, id int64) (*models.Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proofs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) FindProofForDate(ctx context.Context, agreementID int64, date time.Time) (*models.Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.proofs {
		if p.AgreementID == agreementID && schedule.SameDay(p.ProofDate, date) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SaveProof(ctx context.Context, p *models.Proof) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(p)
}

func (m *MemoryStore) SaveProofs(ctx context.Context, proofs []*models.Proof) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range proofs {
		if p.ID == 0 && m.existsLocked(p.AgreementID, p.ProofDate) {
			continue
		}
		if err := m.saveLocked(p); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) saveLocked(p *models.Proof) error {
	now := time.Now()
	if p.ID == 0 {
		m.nextID++
		p.ID = m.nextID
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	m.proofs[p.ID] = &cp
	return nil
}

func (m *MemoryStore) existsLocked(agreementID int64, date time.Time) bool {
	for _, p := range m.proofs {
		if p.AgreementID == agreementID && schedule.SameDay(p.ProofDate, date) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) ListProofsByStatus(ctx context.Context, status models.ProofStatus) ([]*models.Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Proof
	for _, p := range m.proofs {
		if p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CountProofs returns the number of stored proofs.
func (m *MemoryStore) CountProofs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.proofs)
}

func (m *MemoryStore) AddAgreement(a *models.RideAgreement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agreements[a.ID] = a
}

func (m *MemoryStore) FindAgreement(ctx context.Context, id int64) (*models.RideAgreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agreements[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) AcceptedForPeriod(ctx context.Context, from, to time.Time) ([]*models.RideAgreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.RideAgreement
	for _, a := range m.agreements {
		if a.Status != models.AgreementStatusAccepted {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) MarkFinished(ctx context.Context, agreementID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[agreementID]
	if !ok {
		return ErrNotFound
	}
	a.Finished = true
	return nil
}

func (m *MemoryStore) AddWaypoint(w models.Waypoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waypoints = append(m.waypoints, w)
}

func (m *MemoryStore) MinWaypoint(ctx context.Context, agreementID int64, role models.WaypointRole) (*models.Waypoint, error) {
	return m.extremeWaypoint(agreementID, role, false)
}

func (m *MemoryStore) MaxWaypoint(ctx context.Context, agreementID int64, role models.WaypointRole) (*models.Waypoint, error) {
	return m.extremeWaypoint(agreementID, role, true)
}

func (m *MemoryStore) extremeWaypoint(agreementID int64, role models.WaypointRole, max bool) (*models.Waypoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *models.Waypoint
	for i := range m.waypoints {
		w := &m.waypoints[i]
		if w.AgreementID != agreementID || w.Role != role {
			continue
		}
		if best == nil || (max && w.Position > best.Position) || (!max && w.Position < best.Position) {
			best = w
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}
