package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/valyala/fastjson"

	"runview/internal/feed"
	"runview/internal/history"
	"runview/internal/normalize"
	"runview/internal/store"
	"runview/internal/view"
)

// Fetcher is the orchestrator read API the server depends on.
// *history.Client satisfies it.
type Fetcher interface {
	FetchRun(ctx context.Context, runID string) (history.RunInfo, error)
	FetchRunLogs(ctx context.Context, runID string) ([]normalize.RawRecord, error)
}

// ViewServer exposes the run log view over HTTP: open/close view
// sessions, read the filtered derived rows, patch the filter, and
// publish live records onto the feed.
type ViewServer struct {
	fetcher  Fetcher
	broker   *feed.Broker
	sessions *SessionRegistry
	log      *slog.Logger
	srv      *http.Server
	parser   fastjson.ParserPool
}

// NewViewServer wires the server against the orchestrator API and the
// live-feed broker.
func NewViewServer(fetcher Fetcher, broker *feed.Broker, log *slog.Logger) *ViewServer {
	if log == nil {
		log = slog.Default()
	}
	return &ViewServer{
		fetcher:  fetcher,
		broker:   broker,
		sessions: NewSessionRegistry(),
		log:      log,
	}
}

// Router builds the HTTP route table.
func (s *ViewServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/views/{runID}", s.handleOpenView).Methods(http.MethodPost)
	r.HandleFunc("/api/views/{runID}", s.handleCloseView).Methods(http.MethodDelete)
	r.HandleFunc("/api/views/{runID}/rows", s.handleRows).Methods(http.MethodGet)
	r.HandleFunc("/api/views/{runID}/filter", s.handleFilter).Methods(http.MethodPatch)
	r.HandleFunc("/api/views/{runID}/status", s.handleViewStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/views/{runID}/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/runs/{runID}/logs", s.handleIngest).Methods(http.MethodPost)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	return r
}

// Start runs the HTTP server until Shutdown.
func (s *ViewServer) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown closes every view session, then stops the HTTP server.
func (s *ViewServer) Shutdown(ctx context.Context) error {
	s.sessions.CloseAll()
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// handleOpenView opens a view session for a run: subscribe to the live
// feed first, then resolve the bulk fetch in the background so live
// records arriving in between are buffered, not lost.
func (s *ViewServer) handleOpenView(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runID"]

	if _, ok := s.sessions.Get(runID); ok {
		s.writeViewStatus(w, runID, http.StatusOK)
		return
	}

	info, err := s.fetcher.FetchRun(r.Context(), runID)
	if err != nil {
		s.log.Error("run lookup failed", "run", runID, "err", err)
		http.Error(w, "run lookup failed", http.StatusBadGateway)
		return
	}

	st := store.New(s.log)
	ctrl, err := view.NewController(runID, info.Pipeline, st, s.broker)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	ctrl.SetStatus(info.Status)

	if !s.sessions.Put(ctrl) {
		// Lost the race to a concurrent open; keep the winner.
		ctrl.Close()
		s.writeViewStatus(w, runID, http.StatusOK)
		return
	}

	go s.resolveBulkFetch(runID, st)
	s.writeViewStatus(w, runID, http.StatusCreated)
}

func (s *ViewServer) resolveBulkFetch(runID string, st *store.Store) {
	raws, err := s.fetcher.FetchRunLogs(context.Background(), runID)
	if err != nil {
		s.log.Error("bulk log fetch failed", "run", runID, "err", err)
		st.Fail(err)
		return
	}
	st.Initialize(raws)
	s.log.Info("view initialized", "run", runID, "records", st.Len())
}

func (s *ViewServer) handleCloseView(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runID"]
	ctrl, ok := s.sessions.Remove(runID)
	if !ok {
		http.Error(w, "no open view for run", http.StatusNotFound)
		return
	}
	ctrl.Close()
	w.WriteHeader(http.StatusNoContent)
}

// handleRows returns the filtered, derived row sequence. The optional
// "levels" and "tasks" query parameters patch the corresponding filter
// axis (comma separated, empty value clears the axis) before reading.
func (s *ViewServer) handleRows(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.sessions.Get(mux.Vars(r)["runID"])
	if !ok {
		http.Error(w, "no open view for run", http.StatusNotFound)
		return
	}

	if patch, present := filterPatchFromQuery(r); present {
		ctrl.SetFilter(patch)
	}

	rows, err := ctrl.Rows()
	if err != nil {
		if errors.Is(err, store.ErrFetchFailed) {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rows); err != nil {
		s.log.Error("row encode failed", "err", err)
	}
}

func filterPatchFromQuery(r *http.Request) (view.FilterPatch, bool) {
	var patch view.FilterPatch
	present := false
	q := r.URL.Query()
	if q.Has("levels") {
		levels := splitList(q.Get("levels"))
		patch.Levels = &levels
		present = true
	}
	if q.Has("tasks") {
		tasks := splitList(q.Get("tasks"))
		patch.Tasks = &tasks
		present = true
	}
	return patch, present
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *ViewServer) handleFilter(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.sessions.Get(mux.Vars(r)["runID"])
	if !ok {
		http.Error(w, "no open view for run", http.StatusNotFound)
		return
	}

	var patch view.FilterPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	ctrl.SetFilter(patch)
	w.WriteHeader(http.StatusNoContent)
}

func (s *ViewServer) handleViewStatus(w http.ResponseWriter, r *http.Request) {
	s.writeViewStatus(w, mux.Vars(r)["runID"], http.StatusOK)
}

func (s *ViewServer) writeViewStatus(w http.ResponseWriter, runID string, code int) {
	ctrl, ok := s.sessions.Get(runID)
	if !ok {
		http.Error(w, "no open view for run", http.StatusNotFound)
		return
	}

	st := ctrl.Store()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"run_id":  runID,
		"status":  ctrl.Status(),
		"live":    ctrl.Live(),
		"ready":   st.Ready(),
		"records": st.Len(),
		"dropped": st.Dropped(),
	})
}

// handleRefresh re-runs the bulk fetch for an open view. Initialize
// fully replaces the prior collection, so a refetch never duplicates
// sequence ids.
func (s *ViewServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runID"]
	ctrl, ok := s.sessions.Get(runID)
	if !ok {
		http.Error(w, "no open view for run", http.StatusNotFound)
		return
	}

	raws, err := s.fetcher.FetchRunLogs(r.Context(), runID)
	if err != nil {
		ctrl.Store().Fail(err)
		http.Error(w, "bulk log fetch failed", http.StatusBadGateway)
		return
	}
	ctrl.Store().Initialize(raws)
	s.writeViewStatus(w, runID, http.StatusOK)
}

// handleIngest accepts one record object or a batch array and publishes
// each element onto the run's feed topic. Structural validation of each
// record happens at the subscriber; this endpoint only requires
// parseable JSON.
func (s *ViewServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runID"]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}
	defer r.Body.Close()

	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	topic := feed.Topic(runID)
	published := 0
	if v.Type() == fastjson.TypeArray {
		arr, _ := v.Array()
		for _, el := range arr {
			s.broker.Publish(topic, el.MarshalTo(nil))
			published++
		}
	} else {
		s.broker.Publish(topic, v.MarshalTo(nil))
		published++
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"published": published})
}

func (s *ViewServer) handleStats(w http.ResponseWriter, r *http.Request) {
	var appended, dropped int64
	s.sessions.mu.RLock()
	open := len(s.sessions.sessions)
	for _, ctrl := range s.sessions.sessions {
		appended += ctrl.Store().Appended()
		dropped += ctrl.Store().Dropped()
	}
	s.sessions.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"open_views": open,
		"appended":   appended,
		"dropped":    dropped,
	})
}
