package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Iliess-A/Mobicoop-api/internal/dispatch"
	"github.com/Iliess-A/Mobicoop-api/internal/models"
	"github.com/Iliess-A/Mobicoop-api/internal/proof"
	"github.com/Iliess-A/Mobicoop-api/internal/storage"
)

const (
	testPickupLat = 48.690000
	testPickupLon = 6.180000
	testDropLat   = 48.580000
	testDropLon   = 6.180000
)

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, lat, lon float64) (*models.Address, error) {
	return &models.Address{AddressLocality: "Testville", Latitude: lat, Longitude: lon}, nil
}

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := storage.NewMemoryStore()
	wsreg := dispatch.NewWSRegistry(logger)
	s := &Server{
		Service: &proof.Service{
			Proofs:     mem,
			Agreements: mem,
			Waypoints:  mem,
			Geo:        stubResolver{},
			Logger:     logger,
			Now:        func() time.Time { return time.Date(2024, 3, 1, 8, 1, 0, 0, time.UTC) },
			Notify:     wsreg,
		},
		Agreements: mem,
		WSReg:      wsreg,
		Tolerance:  50,
		logger:     logger,
		mux:        mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, mem
}

func seedTestAgreement(mem *storage.MemoryStore) {
	mem.AddAgreement(&models.RideAgreement{
		ID:        1,
		Status:    models.AgreementStatusAccepted,
		Driver:    models.User{ID: 10},
		Passenger: models.User{ID: 20},
		Criteria: models.Criteria{
			Frequency: models.FrequencyPunctual,
			FromDate:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			FromTime:  time.Date(0, 1, 1, 8, 0, 0, 0, time.UTC),
		},
	})
	mem.AddWaypoint(models.Waypoint{AgreementID: 1, Role: models.WaypointRoleDriver, Position: 0,
		Address: models.Address{Latitude: testPickupLat, Longitude: testPickupLon}})
	mem.AddWaypoint(models.Waypoint{AgreementID: 1, Role: models.WaypointRoleDriver, Position: 1, Duration: 1800,
		Address: models.Address{Latitude: testDropLat, Longitude: testDropLon}})
	mem.AddWaypoint(models.Waypoint{AgreementID: 1, Role: models.WaypointRolePassenger, Position: 0, Duration: 300,
		Address: models.Address{Latitude: testPickupLat, Longitude: testPickupLon}})
	mem.AddWaypoint(models.Waypoint{AgreementID: 1, Role: models.WaypointRolePassenger, Position: 1, Duration: 1500,
		Address: models.Address{Latitude: testDropLat, Longitude: testDropLon}})
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestCreateProofEndpoint(t *testing.T) {
	s, mem := newTestServer(t)
	seedTestAgreement(mem)

	rec := doJSON(t, s, "POST", "/api/v1/proofs", map[string]any{
		"agreement_id": 1, "author_id": 10,
		"latitude": testPickupLat, "longitude": testPickupLon,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var p models.Proof
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.ID == 0 || p.PickUpDriverAddress == nil {
		t.Fatalf("unexpected proof: %+v", p)
	}
	if p.PickUpPassengerAddress != nil {
		t.Fatal("author was the driver, passenger pickup must be empty")
	}
}

func TestCreateProofUnknownAgreement(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/v1/proofs", map[string]any{
		"agreement_id": 99, "author_id": 10,
		"latitude": testPickupLat, "longitude": testPickupLon,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCertifyFullHandshake(t *testing.T) {
	s, mem := newTestServer(t)
	seedTestAgreement(mem)

	rec := doJSON(t, s, "POST", "/api/v1/proofs", map[string]any{
		"agreement_id": 1, "author_id": 10,
		"latitude": testPickupLat, "longitude": testPickupLon,
	})
	var p models.Proof
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	certify := fmt.Sprintf("/api/v1/proofs/%d/certify", p.ID)

	// passenger corroborates the pickup a few meters away
	rec = doJSON(t, s, "POST", certify, map[string]any{
		"author_id": 20, "latitude": testPickupLat + 0.0001, "longitude": testPickupLon,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("passenger pickup: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// driver dropoff, first of the pair
	rec = doJSON(t, s, "POST", certify, map[string]any{
		"author_id": 10, "latitude": testDropLat, "longitude": testDropLon,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("driver dropoff: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// passenger reports a position far out of tolerance
	rec = doJSON(t, s, "POST", certify, map[string]any{
		"author_id": 20, "latitude": testDropLat + 0.01, "longitude": testDropLon,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}

	// and retries close by
	rec = doJSON(t, s, "POST", certify, map[string]any{
		"author_id": 20, "latitude": testDropLat + 0.0001, "longitude": testDropLon,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("passenger dropoff: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Status != models.ProofStatusPending {
		t.Fatalf("expected pending, got %q", p.Status)
	}
}

func TestCertifyOrderingConflict(t *testing.T) {
	s, mem := newTestServer(t)
	seedTestAgreement(mem)

	rec := doJSON(t, s, "POST", "/api/v1/proofs", map[string]any{
		"agreement_id": 1, "author_id": 10,
		"latitude": testPickupLat, "longitude": testPickupLon,
	})
	var p models.Proof
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// the driver cannot move on to its dropoff before the passenger
	// certified the pickup
	rec = doJSON(t, s, "POST", fmt.Sprintf("/api/v1/proofs/%d/certify", p.ID), map[string]any{
		"author_id": 10, "latitude": testDropLat, "longitude": testDropLon,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestCertifyUnknownProof(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/v1/proofs/42/certify", map[string]any{
		"author_id": 10, "latitude": testPickupLat, "longitude": testPickupLon,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestResetEndpoint(t *testing.T) {
	s, mem := newTestServer(t)
	errored := &models.Proof{
		AgreementID: 1,
		Status:      models.ProofStatusError,
		ProofDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := mem.SaveProof(context.Background(), errored); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doJSON(t, s, "POST", fmt.Sprintf("/api/v1/proofs/%d/reset", errored.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var p models.Proof
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Status != models.ProofStatusPending {
		t.Fatalf("expected pending, got %q", p.Status)
	}

	// a pending proof cannot be reset again
	rec = doJSON(t, s, "POST", fmt.Sprintf("/api/v1/proofs/%d/reset", errored.ID), nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, s, "POST", "/api/v1/proofs/999/reset", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetProofForDate(t *testing.T) {
	s, mem := newTestServer(t)
	p := &models.Proof{
		AgreementID: 1,
		Status:      models.ProofStatusPending,
		ProofDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := mem.SaveProof(context.Background(), p); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doJSON(t, s, "GET", "/api/v1/agreements/1/proofs?date=2024-03-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got models.Proof
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("expected proof %d, got %d", p.ID, got.ID)
	}

	rec = doJSON(t, s, "GET", "/api/v1/agreements/1/proofs?date=2024-03-02", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an uncovered day, got %d", rec.Code)
	}

	rec = doJSON(t, s, "GET", "/api/v1/agreements/1/proofs?date=not-a-date", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad date, got %d", rec.Code)
	}
}

func TestWebsocketCounterpartNudge(t *testing.T) {
	s, mem := newTestServer(t)
	seedTestAgreement(mem)
	srv := httptest.NewServer(s)
	defer srv.Close()

	rec := doJSON(t, s, "POST", "/api/v1/proofs", map[string]any{
		"agreement_id": 1, "author_id": 10,
		"latitude": testPickupLat, "longitude": testPickupLon,
	})
	var p models.Proof
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// the driver attaches its live session; the upgrade must survive the
	// middleware chain
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/10"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("ws dial failed (status %d): %v", status, err)
	}
	defer conn.Close()

	// passenger certifies; the driver session gets the nudge
	rec = doJSON(t, s, "POST", fmt.Sprintf("/api/v1/proofs/%d/certify", p.ID), map[string]any{
		"author_id": 20, "latitude": testPickupLat, "longitude": testPickupLon,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("certify: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev dispatch.CertificationEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read nudge: %v", err)
	}
	if ev.ProofID != p.ID || ev.Role != models.RolePassenger || ev.Leg != "pickup" {
		t.Fatalf("unexpected nudge event: %+v", ev)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "GET", "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
