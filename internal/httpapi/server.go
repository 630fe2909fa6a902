package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/anomaly"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/failover"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/plugin"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/service"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/store"
	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/types"
)

type Dependencies struct {
	Logger      *log.Logger
	Addr        string
	StationID   string
	SessionID   string
	TapService  *service.TapService
	Corrections *service.CorrectionService
	Scanner     *anomaly.Scanner
	Stats       *service.StatsService
	Events      store.EventStore
	Monitor     *failover.Monitor
	Plugins     *plugin.Registry

	// Requests per minute per caller; zero means the config defaults.
	WriteRatePerMin int
	ReadRatePerMin  int
}

type Server struct {
	httpServer  *http.Server
	logger      *log.Logger
	mux         *http.ServeMux
	stationID   string
	sessionID   string
	tapService  *service.TapService
	corrections *service.CorrectionService
	scanner     *anomaly.Scanner
	stats       *service.StatsService
	events      store.EventStore
	monitor     *failover.Monitor
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:      d.Logger,
		mux:         mux,
		stationID:   d.StationID,
		sessionID:   d.SessionID,
		tapService:  d.TapService,
		corrections: d.Corrections,
		scanner:     d.Scanner,
		stats:       d.Stats,
		events:      d.Events,
		monitor:     d.Monitor,
	}

	if d.WriteRatePerMin <= 0 {
		d.WriteRatePerMin = 10
	}
	if d.ReadRatePerMin <= 0 {
		d.ReadRatePerMin = 30
	}
	writeLimit := newCallerLimiter(d.WriteRatePerMin)
	readLimit := newCallerLimiter(d.ReadRatePerMin)

	mux.HandleFunc("POST /v1/tap", s.handleTap)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/anomalies", rateLimit(readLimit, s.handleAnomalies))
	mux.HandleFunc("GET /v1/stats", rateLimit(readLimit, s.handleStats))
	mux.HandleFunc("POST /v1/manual-event", rateLimit(writeLimit, s.handleManualEvent))
	mux.HandleFunc("POST /v1/remove-event", rateLimit(writeLimit, s.handleRemoveEvent))

	if d.Plugins != nil {
		d.Plugins.RegisterRoutes(extRegistrar{mux: mux})
	}

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// extRegistrar mounts plugin handlers under the extension prefix so they can
// never shadow core routes.
type extRegistrar struct {
	mux *http.ServeMux
}

func (r extRegistrar) Handle(pattern string, h http.Handler) {
	r.mux.Handle("/v1/ext/"+strings.TrimPrefix(pattern, "/"), h)
}

func (s *Server) handleTap(w http.ResponseWriter, r *http.Request) {
	var req types.TapRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	outcome, err := s.tapService.SubmitTap(r.Context(), req)
	if err != nil {
		if service.IsValidation(err) {
			writeError(w, http.StatusBadRequest, "invalid_tap", err.Error())
			return
		}
		s.logger.Printf("tap error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	total, err := s.events.CountEvents(r.Context(), "")
	if err != nil {
		s.logger.Printf("health count error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	stage := ""
	if s.monitor != nil {
		stage = strings.Join(s.monitor.AcceptedStages(), ",")
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:      "ok",
		DeviceID:    s.stationID,
		Stage:       stage,
		TotalEvents: total,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = s.sessionID
	}

	report, err := s.scanner.Scan(r.Context(), sessionID, time.Now().UTC())
	if err != nil {
		s.logger.Printf("anomaly scan error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = s.sessionID
	}

	stats, err := s.stats.Build(r.Context(), sessionID)
	if err != nil {
		s.logger.Printf("stats error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleManualEvent(w http.ResponseWriter, r *http.Request) {
	var req types.ManualEventRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.corrections.AddManual(r.Context(), req)
	if err != nil {
		if service.IsValidation(err) {
			writeError(w, http.StatusBadRequest, "invalid_manual_event", err.Error())
			return
		}
		s.logger.Printf("manual-event error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRemoveEvent(w http.ResponseWriter, r *http.Request) {
	var req types.RemoveEventRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.corrections.Remove(r.Context(), req)
	if err != nil {
		switch {
		case service.IsValidation(err):
			writeError(w, http.StatusBadRequest, "invalid_remove_event", err.Error())
			return
		case errors.Is(err, store.ErrEventNotFound):
			writeError(w, http.StatusNotFound, "event_not_found", err.Error())
			return
		default:
			s.logger.Printf("remove-event error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}
