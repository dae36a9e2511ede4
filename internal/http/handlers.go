package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mac-lisowski/mysmarthotel-task/internal/apperr"
	"github.com/mac-lisowski/mysmarthotel-task/internal/models"
	"github.com/mac-lisowski/mysmarthotel-task/internal/upload"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrJSON(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrUnauthorized):
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// uploadChunkHandler is POST /v1/task/upload (spec.md §6). Multipart fields:
// file, uploadId, originalFileName, chunkNumber, totalChunks, and the
// optional fileMD5 checksum (supplemental, verified at completion).
func (a *App) uploadChunkHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErrJSON(w, fmt.Errorf("%w: parse multipart form: %v", apperr.ErrValidation, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrJSON(w, fmt.Errorf("%w: missing file field: %v", apperr.ErrValidation, err))
		return
	}
	defer file.Close()

	chunkNumber, err := strconv.Atoi(r.FormValue("chunkNumber"))
	if err != nil {
		writeErrJSON(w, fmt.Errorf("%w: chunkNumber must be an integer", apperr.ErrValidation))
		return
	}
	totalChunks, err := strconv.Atoi(r.FormValue("totalChunks"))
	if err != nil {
		writeErrJSON(w, fmt.Errorf("%w: totalChunks must be an integer", apperr.ErrValidation))
		return
	}

	res, err := a.Assembler.IngestChunk(r.Context(), upload.IngestChunkInput{
		Body:             file,
		ChunkNumber:      chunkNumber,
		TotalChunks:      totalChunks,
		UploadID:         r.FormValue("uploadId"),
		OriginalFileName: r.FormValue("originalFileName"),
		MimeType:         header.Header.Get("Content-Type"),
		FileMD5:          r.FormValue("fileMD5"),
	})
	if err != nil {
		writeErrJSON(w, err)
		return
	}

	if res.TaskID != "" {
		writeJSON(w, http.StatusCreated, map[string]string{"taskId": res.TaskID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": res.Status})
}

// uploadStatusHandler is GET /v1/upload/:uploadId/status (supplemental).
func (a *App) uploadStatusHandler(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadId")
	status, err := a.Assembler.Status(r.Context(), uploadID)
	if err != nil {
		writeErrJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"receivedChunks": status.ReceivedChunks,
		"totalChunks":    status.TotalChunks,
	})
}

// abortUploadHandler is DELETE /v1/upload/:uploadId (supplemental).
func (a *App) abortUploadHandler(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadId")
	if err := a.Assembler.Abort(r.Context(), uploadID); err != nil {
		writeErrJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// taskStatusResponse is the public projection of a Task (spec.md §6): it
// deliberately excludes filePath (the object-store key), the claim lease
// (workerId, processingAt), and rowCount, none of which are part of the
// documented status contract.
type taskStatusResponse struct {
	TaskID           string            `json:"taskId"`
	Status           models.TaskStatus `json:"status"`
	Errors           []models.RowError `json:"errors"`
	OriginalFileName string            `json:"originalFileName"`
	StartedAt        *time.Time        `json:"startedAt,omitempty"`
	CompletedAt      *time.Time        `json:"completedAt,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// taskStatusHandler is GET /v1/task/status/:taskId (spec.md §6).
func (a *App) taskStatusHandler(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	task, err := a.Tasks.GetTask(r.Context(), taskID)
	if err != nil {
		writeErrJSON(w, fmt.Errorf("%w: %v", apperr.ErrInternal, err))
		return
	}
	if task == nil {
		writeErrJSON(w, fmt.Errorf("%w: task %q", apperr.ErrNotFound, taskID))
		return
	}
	writeJSON(w, http.StatusOK, taskStatusResponse{
		TaskID:           task.TaskID,
		Status:           task.Status,
		Errors:           task.Errors,
		OriginalFileName: task.OriginalFileName,
		StartedAt:        task.StartedAt,
		CompletedAt:      task.CompletedAt,
		CreatedAt:        task.CreatedAt,
		UpdatedAt:        task.UpdatedAt,
	})
}

var reportFileNamePattern = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// taskReportHandler is GET /v1/task/report/:taskId (spec.md §6): a CSV of
// row errors for a FAILED task. Field escaping wraps every field in `"..."`
// and doubles embedded quotes, matching the literal contract rather than
// reaching for encoding/csv (the quoting rule is the spec, not a detail
// encoding/csv happens to already implement identically for our two columns).
func (a *App) taskReportHandler(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	task, err := a.Tasks.GetTask(r.Context(), taskID)
	if err != nil {
		writeErrJSON(w, fmt.Errorf("%w: %v", apperr.ErrInternal, err))
		return
	}
	if task == nil || task.Status != models.TaskFailed {
		writeErrJSON(w, fmt.Errorf("%w: task %q not found or not FAILED", apperr.ErrNotFound, taskID))
		return
	}

	sanitized := reportFileNamePattern.ReplaceAllString(task.OriginalFileName, "_")
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="error_report_%s.csv"`, sanitized))
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, "\"Row\",\"Error\"\n")
	for _, e := range task.Errors {
		row := ""
		if e.Row != nil {
			row = strconv.Itoa(*e.Row)
		}
		fmt.Fprintf(w, "%s,%s\n", csvField(row), csvField(e.Error))
	}
}

func csvField(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// healthzHandler is GET /v1/healthz: pings every durable dependency and
// reports 200 only if all are reachable, else 503 with a per-dependency
// breakdown.
func (a *App) healthzHandler(w http.ResponseWriter, r *http.Request) {
	timeout := a.HealthTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	result := map[string]string{}
	ok := true

	if err := a.Mongo.Ping(ctx); err != nil {
		result["mongo"] = err.Error()
		ok = false
	} else {
		result["mongo"] = "ok"
	}

	if err := a.Redis.Ping(ctx); err != nil {
		result["redis"] = err.Error()
		ok = false
	} else {
		result["redis"] = "ok"
	}

	if a.Bus.IsClosed() {
		result["bus"] = "connection closed"
		ok = false
	} else {
		result["bus"] = "ok"
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ok": ok, "dependencies": result})
}
