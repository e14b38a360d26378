package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"PriceWatch/internal/domain"
	"PriceWatch/internal/hub"
	"PriceWatch/internal/usecase"
)

type sheetChangeRequest struct {
	DatasetKeyHint string `json:"datasetKeyHint"`
	RowHint        string `json:"rowHint"`
	ColumnHint     string `json:"columnHint"`
}

// handleSheetChange is the upstream change-notification endpoint. It always
// answers 200: the signal is advisory and a busy engine simply drops it.
func (s *Server) handleSheetChange(w http.ResponseWriter, r *http.Request) {
	var req sheetChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// A malformed body still acknowledges; the next tick covers it.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	key := req.DatasetKeyHint
	if key == "" {
		keys := s.store.Keys()
		if len(keys) == 0 {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		key = keys[0]
	}

	hint := req.RowHint
	if req.ColumnHint != "" {
		hint = req.ColumnHint + req.RowHint
	}
	outcome := s.pipeline.OnExternalChangeSignal(r.Context(), key, hint)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	snap, ok := s.store.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no snapshot for dataset key")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	keys := s.store.Keys()
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": keys})
}

type forceSyncRequest struct {
	DatasetKey string `json:"datasetKey"`
}

func (s *Server) handleForceSync(w http.ResponseWriter, r *http.Request) {
	var req forceSyncRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	err := s.pipeline.ForceSync(r.Context(), req.DatasetKey)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	case errors.Is(err, usecase.ErrSyncInProgress):
		writeError(w, http.StatusConflict, "refresh cycle already in progress")
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.scheduler.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":                 status.Mode,
		"intervalMs":           status.Interval.Milliseconds(),
		"inProgress":           status.InProgress,
		"connectedSubscribers": s.hub.SubscriberCount(),
		"datasets":             s.store.Keys(),
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.source.InvalidateAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []any{}})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.audit.RecentRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []domain.SyncRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

const wsWriteTimeout = 5 * time.Second

// handleWebSocket upgrades the connection and parks it in the hub. The read
// loop only drains control frames; the first read error unregisters the
// subscriber.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("websocket upgrade failed", "error", err)
		}
		return
	}

	conn := hub.WrapConn(ws, wsWriteTimeout)
	s.hub.Register(conn)

	go func() {
		defer func() {
			s.hub.Unregister(conn)
			_ = ws.Close()
		}()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
