// Package dispatch pushes certification events to the counterpart's live
// app session over websocket, so the other side knows it is expected to
// submit its own GPS fix.
package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iliess-A/Mobicoop-api/internal/models"
)

// CertificationEvent tells a participant that the other side just
// certified a leg of the ride.
type CertificationEvent struct {
	ProofID int64       `json:"proof_id"`
	Role    models.Role `json:"role"`
	Leg     string      `json:"leg"`
	At      time.Time   `json:"at"`
}

// WSSession is one connected participant session.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ev CertificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WSRegistry holds the live sessions keyed by user id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[int64]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[int64]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(userID int64, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

// NotifyCertification sends the event to the user's session if connected.
func (r *WSRegistry) NotifyCertification(userID int64, ev CertificationEvent) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(ev); err != nil {
		r.logger.Warn("ws send failed", "user_id", userID, "error", err)
		return err
	}
	return nil
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
