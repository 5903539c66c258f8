// Package httpapi exposes the execution engine's entrypoints: submit a
// task, restore a record's backup, report health, and answer the
// orchestrator's read-only record RPCs (spec §3, §4.6, §4.7).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/mem"

	"execengine/internal/specmodel"
	"execengine/internal/telemetry"
)

// Submitter accepts a decomposed submission and starts it asynchronously,
// returning the assigned task ID.
type Submitter interface {
	Submit(ctx context.Context, sub specmodel.Submission) (taskID string, err error)
}

// RecordRPC answers the three orchestrator read operations against a
// record's telemetry (spec §4.6: whole-list fetch with no start index,
// single blob fetch, batch-of-keys-sharing-a-parent fetch).
type RecordRPC interface {
	FetchList(ctx context.Context, recordBackupIndex, key string, sibling string) (any, error)
	FetchBlob(ctx context.Context, recordBackupIndex, key string) (any, error)
	FetchBatch(ctx context.Context, recordBackupIndex string, keys []string) (any, error)
}

// Server wires the router to the engine's submission path, backup store,
// and RPC handler.
type Server struct {
	Submitter Submitter
	Backup    *telemetry.Backup
	RPC       RecordRPC
	Logger    zerolog.Logger
}

// Router builds the chi.Router exposing every engine HTTP endpoint.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Post("/execute", s.handleExecute)
	r.Post("/restore_record", s.handleRestoreRecord)
	r.Get("/ping", s.handlePing)
	r.Post("/rpc/record", s.handleRecordRPC)
	return r
}

type executeRequest struct {
	Exec   specmodel.TaskSpec    `json:"exec"`
	Record json.RawMessage       `json:"record"`
}

type executeResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	taskID, err := s.Submitter.Submit(r.Context(), specmodel.Submission{
		TaskInfo: req.Exec,
	})
	if err != nil {
		s.Logger.Error().Err(err).Msg("submit failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, executeResponse{TaskID: taskID, Message: "accepted"})
}

type restoreRequest struct {
	RecordBackupIndex string `json:"record_backup_index"`
}

func (s *Server) handleRestoreRecord(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Backup.Restore(r.Context(), req.RecordBackupIndex); err != nil {
		s.Logger.Error().Err(err).Str("record", req.RecordBackupIndex).Msg("restore failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "restored"})
}

type pingResponse struct {
	MemoryTotalMB     float64 `json:"memory_total"`
	MemoryAvailableMB float64 `json:"memory_available"`
	MemoryUsedMB      float64 `json:"memory_used"`
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	v, err := mem.VirtualMemoryWithContext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	const mb = 1024 * 1024
	writeJSON(w, http.StatusOK, pingResponse{
		MemoryTotalMB:     roundTo2(float64(v.Total) / mb),
		MemoryAvailableMB: roundTo2(float64(v.Available) / mb),
		MemoryUsedMB:      roundTo2(float64(v.Used) / mb),
	})
}

func roundTo2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func (s *Server) handleRecordRPC(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("name")
	recordBackupIndex := q.Get("record_backup_index")

	var (
		result any
		err    error
	)
	switch name {
	case "fetch_list":
		result, err = s.RPC.FetchList(r.Context(), recordBackupIndex, q.Get("key"), q.Get("sibling"))
	case "fetch_blob":
		result, err = s.RPC.FetchBlob(r.Context(), recordBackupIndex, q.Get("key"))
	case "fetch_batch":
		var keys []string
		if decErr := json.NewDecoder(r.Body).Decode(&keys); decErr != nil {
			writeError(w, http.StatusBadRequest, decErr)
			return
		}
		result, err = s.RPC.FetchBatch(r.Context(), recordBackupIndex, keys)
	default:
		writeError(w, http.StatusBadRequest, errUnknownRPC(name))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type errUnknownRPC string

func (e errUnknownRPC) Error() string { return "httpapi: unknown rpc name " + string(e) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
