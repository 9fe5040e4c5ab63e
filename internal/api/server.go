package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"driver-analytics/internal/auth"
	"driver-analytics/internal/config"
	"driver-analytics/internal/metrics"
	"driver-analytics/internal/replay"
	"driver-analytics/internal/store"
	"driver-analytics/internal/ws"
)

// Server is the HTTP control and query surface: replay control, dashboard
// reads, and the websocket observer endpoint.
type Server struct {
	cfg      *config.Config
	replayer *replay.Replayer
	hub      *ws.Hub
	db       *store.PostgresStore // nil disables query endpoints
	auth     *auth.Authenticator  // nil disables API-key checks
	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, replayer *replay.Replayer, hub *ws.Hub, db *store.PostgresStore, a *auth.Authenticator) *Server {
	return &Server{
		cfg:      cfg,
		replayer: replayer,
		hub:      hub,
		db:       db,
		auth:     a,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", metrics.HandleMetrics)
	r.Get("/ws/data", s.handleWebsocket)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireAPIKey)
			r.Post("/replay/start", s.handleReplayStart)
			r.Post("/replay/stop", s.handleReplayStop)
		})
		r.Get("/replay/status", s.handleReplayStatus)

		r.Get("/drivers", s.handleListDrivers)
		r.Get("/events", s.handleListEvents)
		r.Get("/events/stats", s.handleEventStats)
		r.Get("/drivers/{driverID}/events", s.handleDriverEvents)
		r.Get("/drivers/{driverID}/trips", s.handleDriverTrips)
		r.Get("/drivers/{driverID}/scores", s.handleDriverScores)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type replayStartRequest struct {
	DriverID string `json:"driver_id"`
}

func (s *Server) handleReplayStart(w http.ResponseWriter, r *http.Request) {
	var req replayStartRequest
	if r.Body != nil {
		// An empty or absent body starts the default track set.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result := s.replayer.Start(req.DriverID)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(result)})
}

func (s *Server) handleReplayStop(w http.ResponseWriter, r *http.Request) {
	s.replayer.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleReplayStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"is_running": s.replayer.IsRunning()})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(s.hub, conn)
	s.hub.Register(client)
	client.Start()
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	drivers, err := s.db.ListDrivers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list drivers failed")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, drivers)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	driverID, _ := strconv.ParseInt(r.URL.Query().Get("driver_id"), 10, 64)
	limit, offset := s.pagination(r)

	events, err := s.db.ListEvents(r.Context(), driverID, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("list events failed")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleEventStats(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	driverID, _ := strconv.ParseInt(r.URL.Query().Get("driver_id"), 10, 64)

	stats, err := s.db.GetEventStats(r.Context(), driverID)
	if err != nil {
		log.Error().Err(err).Msg("event stats failed")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDriverEvents(w http.ResponseWriter, r *http.Request) {
	driverID, ok := s.driverParam(w, r)
	if !ok {
		return
	}
	limit, offset := s.pagination(r)

	events, err := s.db.ListEvents(r.Context(), driverID, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("driver events failed")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleDriverTrips(w http.ResponseWriter, r *http.Request) {
	driverID, ok := s.driverParam(w, r)
	if !ok {
		return
	}
	limit, offset := s.pagination(r)

	trips, err := s.db.GetDriverTrips(r.Context(), driverID, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("driver trips failed")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, trips)
}

func (s *Server) handleDriverScores(w http.ResponseWriter, r *http.Request) {
	driverID, ok := s.driverParam(w, r)
	if !ok {
		return
	}
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days < 1 || days > 365 {
		days = 30
	}

	scores, err := s.db.GetDriverScores(r.Context(), driverID, days)
	if err != nil {
		log.Error().Err(err).Msg("driver scores failed")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

func (s *Server) driverParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return 0, false
	}
	driverID, err := strconv.ParseInt(chi.URLParam(r, "driverID"), 10, 64)
	if err != nil || driverID < 1 {
		writeError(w, http.StatusBadRequest, "invalid driver id")
		return 0, false
	}
	return driverID, true
}

func (s *Server) pagination(r *http.Request) (limit, offset int) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		limit = s.cfg.APIDefaultLimit
	}
	if limit > s.cfg.APIMaxLimit {
		limit = s.cfg.APIMaxLimit
	}
	offset, err = strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
