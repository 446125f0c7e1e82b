package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"caravel/internal/events"
	"caravel/internal/manifest"
	"caravel/internal/reconciler"
	"caravel/internal/release"
	"caravel/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultWriteTimeout is the default timeout for writing responses.
	DefaultWriteTimeout = 30 * time.Second
	// DefaultIdleTimeout is the default idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second
)

// Server exposes the operator and webhook surface over HTTP: triggering
// releases, querying status, forcing syncs, rolling back, clearing fatal
// units, and reading the event ring.
type Server struct {
	coordinator *release.Coordinator
	reconciler  *reconciler.Reconciler
	store       manifest.Store
	recorder    *events.Recorder

	httpServer *http.Server
}

// New creates the HTTP server bound to addr.
func New(addr string, coordinator *release.Coordinator, rec *reconciler.Reconciler, store manifest.Store, recorder *events.Recorder) *Server {
	s := &Server{
		coordinator: coordinator,
		reconciler:  rec,
		store:       store,
		recorder:    recorder,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	return s
}

// Handler builds the route mux. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint for probes (no auth, no side effects).
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("/api/v1/trigger", s.handleTrigger)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/sync", s.handleSync)
	mux.HandleFunc("/api/v1/manifest", s.handleManifest)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/rollback", s.handleRollback)
	mux.HandleFunc("/api/v1/clear-fatal", s.handleClearFatal)
	mux.HandleFunc("/api/v1/events", s.handleEvents)

	return mux
}

// Start begins serving in the background until Shutdown.
func (s *Server) Start() error {
	logging.Info("Server", "Listening on %s", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Server", err, "HTTP server stopped")
		}
	}()
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// TriggerRequest is the webhook payload: one commit, the units it changed.
// Unit is accepted as a single-unit convenience alongside Units.
type TriggerRequest struct {
	Commit string   `json:"commit"`
	Units  []string `json:"units,omitempty"`
	Unit   string   `json:"unit,omitempty"`
}

// UnitRequest names a unit for sync, rollback and clear-fatal operations.
type UnitRequest struct {
	Unit string `json:"unit"`
}

// UnitStatus is the status response for one unit.
type UnitStatus struct {
	Unit    string                    `json:"unit"`
	Fatal   bool                      `json:"fatal"`
	Release *release.Release          `json:"release,omitempty"`
	HeadSeq int64                     `json:"headSeq,omitempty"`
	Sync    *reconciler.SyncOperation `json:"sync,omitempty"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	units := req.Units
	if req.Unit != "" {
		units = append(units, req.Unit)
	}
	if req.Commit == "" || len(units) == 0 {
		writeError(w, http.StatusBadRequest, "commit and at least one unit are required")
		return
	}

	// Units are independent pipelines; a fatal unit must not block the
	// others named in the same webhook. The whole request fails only when
	// every unit was rejected.
	releases := make([]release.Release, 0, len(units))
	var firstErr error
	for _, unit := range units {
		rel, err := s.coordinator.Trigger(unit, req.Commit)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		releases = append(releases, rel)
	}
	if len(releases) == 0 {
		writeCoordinatorError(w, firstErr)
		return
	}
	writeJSON(w, http.StatusAccepted, releases)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	unit := r.URL.Query().Get("unit")
	if unit != "" {
		status, err := s.unitStatus(r.Context(), unit)
		if err != nil {
			writeCoordinatorError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	units := s.coordinator.Units()
	statuses := make([]UnitStatus, 0, len(units))
	for _, u := range units {
		status, err := s.unitStatus(r.Context(), u)
		if err != nil {
			continue
		}
		statuses = append(statuses, status)
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) unitStatus(ctx context.Context, unit string) (UnitStatus, error) {
	rel, err := s.coordinator.Get(unit)
	if err != nil {
		return UnitStatus{}, err
	}

	status := UnitStatus{
		Unit:    unit,
		Fatal:   s.coordinator.IsFatal(unit),
		Release: &rel,
	}
	if head, err := s.store.Head(ctx, unit); err == nil {
		status.HeadSeq = head.Seq
	}
	if op, ok := s.reconciler.LastOperation(unit); ok {
		status.Sync = &op
	}
	return status, nil
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	unit := r.URL.Query().Get("unit")
	if unit == "" {
		writeError(w, http.StatusBadRequest, "unit is required")
		return
	}

	var (
		rev manifest.Revision
		err error
	)
	if raw := r.URL.Query().Get("seq"); raw != "" {
		seq, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || seq < 1 {
			writeError(w, http.StatusBadRequest, "invalid seq")
			return
		}
		rev, err = s.store.Get(r.Context(), unit, seq)
	} else {
		rev, err = s.store.Head(r.Context(), unit)
	}
	if errors.Is(err, manifest.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, rev)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	unit := r.URL.Query().Get("unit")
	if unit == "" {
		writeError(w, http.StatusBadRequest, "unit is required")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	history := s.coordinator.History(unit, limit)
	if history == nil {
		history = []release.Release{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req UnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Unit == "" {
		writeError(w, http.StatusBadRequest, "unit is required")
		return
	}

	// Sync targets the head; the reconciler resolves it at pass time.
	if _, err := s.store.Head(r.Context(), req.Unit); errors.Is(err, manifest.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unit %s has no revisions", req.Unit))
		return
	}

	s.reconciler.SyncNow(req.Unit, 0)
	writeJSON(w, http.StatusAccepted, map[string]string{"unit": req.Unit, "status": "sync queued"})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req UnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Unit == "" {
		writeError(w, http.StatusBadRequest, "unit is required")
		return
	}

	rel, err := s.coordinator.Rollback(req.Unit)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rel)
}

func (s *Server) handleClearFatal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req UnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Unit == "" {
		writeError(w, http.StatusBadRequest, "unit is required")
		return
	}

	if err := s.coordinator.ClearFatal(req.Unit); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"unit": req.Unit, "status": "fatal cleared"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	unit := r.URL.Query().Get("unit")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	list := s.recorder.List(unit, limit)
	if list == nil {
		list = []events.Event{}
	}
	writeJSON(w, http.StatusOK, list)
}

// writeCoordinatorError maps coordinator errors onto HTTP status codes.
func writeCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, release.ErrUnitFatal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, release.ErrReleaseInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, release.ErrNoPriorGoodRevision):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, release.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, release.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Server", err, "Encoding response failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
