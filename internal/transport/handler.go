package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/halodocs/workbench/internal/dispatch"
	"github.com/halodocs/workbench/internal/domain"
	"github.com/halodocs/workbench/internal/history"
	"github.com/halodocs/workbench/internal/workspace"

	"github.com/google/uuid"
)

type Usecase interface {
	SetActiveFile(ctx context.Context, up workspace.Upload, acceptedTypes []string) (workspace.FileView, error)
	ActiveFile(ctx context.Context) (workspace.FileView, error)
	ClearActiveFile(ctx context.Context)
	RestorePrevious(ctx context.Context) (workspace.FileView, error)
	Dispatch(ctx context.Context, opts dispatch.Options, idempotencyKey string) (string, error)
	GetStatus(ctx context.Context, taskID string) (domain.StatusResponse, error)
	Cancel(ctx context.Context, taskID string) error
	GetResultFile(ctx context.Context, taskID string) (domain.DownloadResult, error)
}

type handler struct {
	maxUploadBytes  int64
	usecase         Usecase
	historyKV       history.KV
	historyMaxItems int
}

func NewHandler(maxUploadBytesMb int64, uc Usecase, historyKV history.KV, historyMaxItems int) *handler {
	return &handler{
		maxUploadBytes:  maxUploadBytesMb << 20,
		usecase:         uc,
		historyKV:       historyKV,
		historyMaxItems: historyMaxItems,
	}
}

func (h *handler) uploadFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	logger := requestLogger(r, "uploadFile")

	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		logger.Error("ParseMultipartForm", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "unable to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		logger.Warn("missing file field")
		writeError(w, http.StatusBadRequest, "field `file` is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		logger.Error("read upload", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "cannot read uploaded file")
		return
	}

	var acceptedTypes []string
	if raw := r.FormValue("accepted"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				acceptedTypes = append(acceptedTypes, p)
			}
		}
	}

	lastModified := time.Now()
	if raw := r.FormValue("last_modified"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			lastModified = t
		}
	}

	view, err := h.usecase.SetActiveFile(r.Context(), workspace.Upload{
		Name:         header.Filename,
		MIME:         header.Header.Get("Content-Type"),
		LastModified: lastModified,
		Data:         data,
	}, acceptedTypes)
	if err != nil {
		var vErr *workspace.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusUnsupportedMediaType, vErr.Error())
			return
		}
		logger.Error("SetActiveFile", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "cannot set active file")
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

func (h *handler) workspaceRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		view, err := h.usecase.ActiveFile(r.Context())
		if err != nil {
			writeError(w, http.StatusNotFound, "no active file")
			return
		}
		writeJSON(w, http.StatusOK, view)

	case http.MethodDelete:
		h.usecase.ClearActiveFile(r.Context())
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "")
	}
}

func (h *handler) restoreFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	logger := requestLogger(r, "restoreFile")

	view, err := h.usecase.RestorePrevious(r.Context())
	if err != nil {
		if errors.Is(err, workspace.ErrNoPreviousFile) {
			writeError(w, http.StatusConflict, "no previous file to restore")
			return
		}
		logger.Error("RestorePrevious", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "cannot restore previous file")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *handler) dispatchTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	logger := requestLogger(r, "dispatchTask")

	var opts dispatch.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeError(w, http.StatusBadRequest, "malformed options payload")
		return
	}

	taskID, err := h.usecase.Dispatch(r.Context(), opts, r.Header.Get("Idempotency-Key"))
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrInvalidOptions):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrNoActiveFile):
			writeError(w, http.StatusConflict, "no active file to process")
		default:
			logger.Error("Dispatch", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "cannot dispatch task")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, domain.DispatchResponse{ID: taskID})
}

func (h *handler) taskByID(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "taskByID")

	taskID := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "missing ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		resp, err := h.usecase.GetStatus(r.Context(), taskID)
		if err != nil {
			if errors.Is(err, domain.ErrTaskNotFound) {
				writeError(w, http.StatusNotFound, "task not found")
				return
			}
			logger.Error("GetStatus", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "")
			return
		}

		switch resp.Status {
		case domain.StatusDone:
			writeJSON(w, http.StatusOK, resp)
		case domain.StatusFailed:
			writeJSON(w, http.StatusInternalServerError, resp)
		default:
			writeJSON(w, http.StatusAccepted, resp)
		}

	case http.MethodDelete:
		if err := h.usecase.Cancel(r.Context(), taskID); err != nil {
			if errors.Is(err, domain.ErrTaskNotFound) {
				writeError(w, http.StatusNotFound, "task not found")
				return
			}
			logger.Error("Cancel", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "cannot cancel task")
			return
		}
		w.WriteHeader(http.StatusAccepted)

	default:
		writeError(w, http.StatusMethodNotAllowed, "")
	}
}

func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	logger := requestLogger(r, "download")

	taskID := strings.TrimPrefix(r.URL.Path, "/download/")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "missing ID")
		return
	}

	result, err := h.usecase.GetResultFile(r.Context(), taskID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTaskNotFound):
			writeError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, domain.ErrTaskFailed):
			writeJSON(w, http.StatusConflict, domain.StatusResponse{
				ID:     taskID,
				Status: domain.StatusFailed,
				Error:  "task failed",
			})
		case errors.Is(err, domain.ErrTaskCancelled):
			writeJSON(w, http.StatusConflict, domain.StatusResponse{
				ID:     taskID,
				Status: domain.StatusCancelled,
				Error:  "task cancelled",
			})
		case errors.Is(err, domain.ErrTaskNotReady):
			writeJSON(w, http.StatusTooEarly, domain.StatusResponse{
				ID:     taskID,
				Status: domain.StatusProcessing,
				Error:  "result is not ready yet",
			})
		default:
			logger.Error("GetResultFile", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "cannot get result file")
		}
		return
	}
	defer result.Content.Close()

	contentType := mime.TypeByExtension(filepath.Ext(result.FileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		`attachment; filename="`+result.FileName+`"`)

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, result.Content); err != nil {
		logger.Error("download: send file",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

func requestLogger(r *http.Request, handlerName string) *slog.Logger {
	requestID := requestIDFrom(r.Context())
	if requestID == "" {
		// Not behind LogMiddleware (tests mounting the handler bare).
		requestID = uuid.NewString()
	}
	return slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", handlerName),
		slog.String("remote_addr", r.RemoteAddr),
	)
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	resp := domain.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
