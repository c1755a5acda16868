package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/halodocs/workbench/internal/history"
)

type historyItemPayload struct {
	Title   string          `json:"title"`
	Preview string          `json:"preview,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type historySelectPayload struct {
	ID string `json:"id"`
}

// history routes /history/{scope}[/select|/session]. The scope is the
// tool key; each scope is an independent capped log.
func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "history")

	rest := strings.TrimPrefix(r.URL.Path, "/history/")
	scope, action, _ := strings.Cut(rest, "/")
	if scope == "" {
		writeError(w, http.StatusBadRequest, "missing history scope")
		return
	}

	store := history.NewStore(h.historyKV, scope, h.historyMaxItems)

	switch action {
	case "":
		h.historyRoot(w, r, store, logger)
	case "select":
		h.historySelect(w, r, store)
	case "session":
		h.historySession(w, r, store, logger)
	default:
		writeError(w, http.StatusNotFound, "")
	}
}

func (h *handler) historyRoot(w http.ResponseWriter, r *http.Request, store *history.Store, logger *slog.Logger) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"items":       store.Items(ctx),
			"selected_id": store.SelectedID(ctx),
		})

	case http.MethodPost:
		var p historyItemPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "malformed history item")
			return
		}

		item, err := store.AddItem(ctx, p.Title, p.Data, p.Preview)
		if err != nil {
			logger.Error("AddItem", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "cannot save history item")
			return
		}
		writeJSON(w, http.StatusCreated, item)

	case http.MethodDelete:
		var err error
		if id := r.URL.Query().Get("id"); id != "" {
			err = store.RemoveItem(ctx, id)
		} else {
			err = store.ClearHistory(ctx)
		}
		if err != nil {
			logger.Error("history delete", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "cannot delete history")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "")
	}
}

func (h *handler) historySelect(w http.ResponseWriter, r *http.Request, store *history.Store) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	var p historySelectPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.ID == "" {
		writeError(w, http.StatusBadRequest, "missing item id")
		return
	}

	// Unknown IDs come from stale UI state; report the miss instead of
	// failing the request.
	data, found := store.SelectItem(r.Context(), p.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"found": found,
		"data":  data,
	})
}

func (h *handler) historySession(w http.ResponseWriter, r *http.Request, store *history.Store, logger *slog.Logger) {
	switch r.Method {
	case http.MethodPut:
		var p historyItemPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "malformed session payload")
			return
		}

		item, err := store.UpdateCurrentSession(r.Context(), p.Title, p.Data, p.Preview)
		if err != nil {
			logger.Error("UpdateCurrentSession", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "cannot save session")
			return
		}
		writeJSON(w, http.StatusOK, item)

	case http.MethodDelete:
		if err := store.EndSession(r.Context()); err != nil {
			logger.Error("EndSession", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "cannot end session")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "")
	}
}
