package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvload/internal/core"
	"github.com/JonMunkholm/csvload/internal/logging"
)

// maxLoadRequestBody caps the JSON body of POST /api/loads.
const maxLoadRequestBody = 1 << 20

// maxBatchListLimit caps ?limit= on batch listings.
const maxBatchListLimit = 500

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"loads":  s.service.LimiterStatus(),
	})
}

// handleListBatches serves GET /api/batches?status=&table=&scope=&limit=.
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status, ok := core.ParseBatchStatus(q.Get("status"))
	if !ok {
		s.respondError(w, r, invalidRequest("unknown status %q", q.Get("status")))
		return
	}

	limit := core.DefaultBatchListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, r, invalidRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, maxBatchListLimit)
	}

	batches, err := s.service.ListBatches(r.Context(), core.BatchFilter{
		Table:  q.Get("table"),
		Scope:  q.Get("scope"),
		Status: status,
		Limit:  limit,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if batches == nil {
		batches = []core.Batch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := core.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		s.respondError(w, r, invalidRequest("%v", err))
		return
	}
	b, err := s.service.GetBatch(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	id, err := core.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		s.respondError(w, r, invalidRequest("%v", err))
		return
	}
	res, err := s.service.RollbackBatch(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// LoadRequest is the body of POST /api/loads. Files are base names inside
// the inbox directory.
type LoadRequest struct {
	Files  []string `json:"files"`
	Source string   `json:"source"`
}

// LoadResponse reports one result per requested file, in request order.
type LoadResponse struct {
	Results []core.LoadResult `json:"results"`
	Failed  int               `json:"failed"`
}

// handleLoads loads files from the inbox. It answers 200 when every file
// committed or was skipped and 422 when any failed.
func (s *Server) handleLoads(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Load.InboxDir == "" {
		s.respondError(w, r, core.ErrInboxDisabled)
		return
	}
	inbox := filepath.Clean(s.cfg.Load.InboxDir)

	var req LoadRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoadRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.respondError(w, r, invalidRequest("body: %v", err))
		return
	}
	if len(req.Files) == 0 {
		s.respondError(w, r, invalidRequest("files is empty"))
		return
	}

	paths := make([]string, len(req.Files))
	for i, name := range req.Files {
		if !inboxName(name) {
			s.respondError(w, r, invalidRequest("file %q must be a plain file name inside the inbox", name))
			return
		}
		paths[i] = filepath.Join(inbox, name)
	}

	// The server write timeout is sized for short requests.
	if err := http.NewResponseController(w).SetWriteDeadline(s.loadDeadline(len(paths))); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logging.FromContext(r.Context()).Warn("could not extend write deadline", "error", err)
	}

	results := s.service.LoadAll(r.Context(), core.Specs(paths, req.Source), 0)

	resp := LoadResponse{Results: results}
	for i := range results {
		// Clients see names relative to the inbox only.
		results[i].Path = req.Files[i]
		results[i].Error = strings.ReplaceAll(results[i].Error, inbox+string(filepath.Separator), "")
		if results[i].Failed() {
			resp.Failed++
		}
	}
	status := http.StatusOK
	if resp.Failed > 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// loadDeadline bounds the response to n files: every round of loads may
// wait for a slot and then run to LOAD_TIMEOUT. A zero time means no
// deadline.
func (s *Server) loadDeadline(n int) time.Time {
	if s.cfg.Load.Timeout <= 0 {
		return time.Time{}
	}
	slots := max(s.service.LimiterStatus().MaxConcurrent, 1)
	rounds := (n + slots - 1) / slots
	perRound := s.cfg.Load.Timeout + s.cfg.Load.MaxWaitTime
	return time.Now().Add(time.Duration(rounds)*perRound + s.cfg.Server.WriteTimeout)
}

// inboxName reports whether name is a bare file name that cannot escape
// the inbox directory.
func inboxName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return filepath.Base(name) == name && filepath.IsLocal(name)
}
