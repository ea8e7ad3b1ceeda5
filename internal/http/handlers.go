package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iliess-A/Mobicoop-api/internal/config"
	"github.com/Iliess-A/Mobicoop-api/internal/dispatch"
	"github.com/Iliess-A/Mobicoop-api/internal/geolookup"
	"github.com/Iliess-A/Mobicoop-api/internal/ingest"
	"github.com/Iliess-A/Mobicoop-api/internal/models"
	"github.com/Iliess-A/Mobicoop-api/internal/proof"
	"github.com/Iliess-A/Mobicoop-api/internal/storage"
)

// Server is the live certification API: proofs are created and updated
// here as the ride happens.
type Server struct {
	Service    *proof.Service
	Agreements storage.AgreementStore
	WSReg      *dispatch.WSRegistry
	Tolerance  float64

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the API from configuration: Postgres or the in-memory
// store, a cached geocoder, and optional Kafka event publishing.
func NewServer(cfg config.Config, logger *slog.Logger) (*Server, error) {
	var proofs storage.ProofStore
	var agreements storage.AgreementStore
	var waypoints storage.WaypointStore
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		proofs, agreements, waypoints = pg, pg, pg
	} else {
		mem := storage.NewMemoryStore()
		proofs, agreements, waypoints = mem, mem, mem
	}

	var resolver geolookup.Resolver = geolookup.NewNominatimClient(cfg.GeoLookupEndpoint)
	if cfg.RedisAddr != "" {
		resolver = geolookup.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, resolver, cfg.GeoCacheTTL)
	} else {
		resolver = geolookup.NewMemoryCache(resolver, cfg.GeoCacheTTL)
	}

	wsreg := dispatch.NewWSRegistry(logger)

	svc := &proof.Service{
		Proofs:     proofs,
		Agreements: agreements,
		Waypoints:  waypoints,
		Geo:        resolver,
		Logger:     logger,
		Notify:     wsreg,
	}
	if len(cfg.KafkaBrokers) > 0 {
		svc.Events = ingest.NewProofEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	s := &Server{
		Service:    svc,
		Agreements: agreements,
		WSReg:      wsreg,
		Tolerance:  cfg.ToleranceMeters,
		logger:     logger,
		mux:        mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/proofs", s.handleCreateProof).Methods("POST")
	s.mux.HandleFunc("/api/v1/proofs/{id:[0-9]+}", s.handleGetProof).Methods("GET")
	s.mux.HandleFunc("/api/v1/proofs/{id:[0-9]+}/certify", s.handleCertify).Methods("POST")
	s.mux.HandleFunc("/api/v1/proofs/{id:[0-9]+}/reset", s.handleReset).Methods("POST")
	s.mux.HandleFunc("/api/v1/agreements/{id:[0-9]+}/proofs", s.handleGetProofForDate).Methods("GET")
	s.mux.HandleFunc("/ws/{user_id:[0-9]+}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createProofRequest struct {
	AgreementID int64   `json:"agreement_id"`
	AuthorID    int64   `json:"author_id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

func (s *Server) handleCreateProof(w http.ResponseWriter, r *http.Request) {
	var req createProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	agreement, err := s.Agreements.FindAgreement(r.Context(), req.AgreementID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "agreement not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	role := models.RoleForAuthor(req.AuthorID, agreement.Passenger.ID)
	p, err := s.Service.Create(r.Context(), agreement, req.Longitude, req.Latitude, models.ProofTypeRealtime, role)
	if err != nil {
		s.proofError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type certifyRequest struct {
	AuthorID  int64   `json:"author_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (s *Server) handleCertify(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req certifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	existing, err := s.Service.GetProof(r.Context(), id)
	if err != nil {
		s.proofError(w, err)
		return
	}
	role := models.RoleForAuthor(req.AuthorID, existing.Passenger.ID)
	p, err := s.Service.Update(r.Context(), id, req.Longitude, req.Latitude, role, s.Tolerance)
	if err != nil {
		s.proofError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := s.Service.GetProof(r.Context(), id)
	if err != nil {
		s.proofError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetProofForDate(w http.ResponseWriter, r *http.Request) {
	agreementID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	date, err := time.ParseInLocation("2006-01-02", r.URL.Query().Get("date"), time.UTC)
	if err != nil {
		http.Error(w, "date query parameter must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	p, err := s.Service.GetProofForDate(r.Context(), agreementID, date)
	if err != nil {
		s.proofError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := s.Service.ResetToPending(r.Context(), id)
	if errors.Is(err, proof.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(userID, conn)
	go func() {
		// the socket is push-only; reads just detect the close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.WSReg.Remove(userID)
				_ = conn.Close()
				return
			}
		}
	}()
}

// proofError maps core error kinds onto HTTP statuses.
func (s *Server) proofError(w http.ResponseWriter, err error) {
	var orderingErr *proof.OrderingError
	var alreadyErr *proof.AlreadyCertifiedError
	var toleranceErr *proof.ToleranceError
	var geoErr *proof.GeoResolutionError
	switch {
	case errors.Is(err, proof.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &orderingErr), errors.As(err, &alreadyErr):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &toleranceErr):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &geoErr):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.serverError(w, err)
	}
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.logger.Error("internal error", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[key], 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
