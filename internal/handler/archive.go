package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linkplace/points-system/internal/middleware"
	"github.com/linkplace/points-system/internal/model"
	"github.com/linkplace/points-system/internal/repository"
)

type archiveEntryResponse struct {
	ID         int64           `json:"id"`
	SourceType string          `json:"source_type"`
	SourceID   int64           `json:"source_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ArchivedBy int64           `json:"archived_by"`
	Reason     string          `json:"reason,omitempty"`
	ArchivedAt string          `json:"archived_at"`
	RestoredAt string          `json:"restored_at,omitempty"`
	PurgeAfter string          `json:"purge_after"`
}

func newArchiveEntryResponse(e *model.ArchiveEntry) archiveEntryResponse {
	resp := archiveEntryResponse{
		ID:         e.ID,
		SourceType: string(e.SourceType),
		SourceID:   e.SourceID,
		Payload:    e.Payload,
		ArchivedBy: e.ArchivedBy,
		Reason:     e.Reason,
		ArchivedAt: e.ArchivedAt.Format(time.RFC3339),
		PurgeAfter: e.PurgeAfter.Format(time.RFC3339),
	}
	if e.RestoredAt != nil {
		resp.RestoredAt = e.RestoredAt.Format(time.RFC3339)
	}
	return resp
}

type archiveRequest struct {
	Reason   string          `json:"reason"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// ArchiveEntity помещает сущность в архив (только администратор).
func (h *Handler) ArchiveEntity(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	sourceType := model.SourceType(chi.URLParam(r, "type"))
	sourceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entry, err := h.service.Archive(r.Context(), sourceType, sourceID, req.Snapshot, actor, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newArchiveEntryResponse(entry))
}

// GetArchiveEntry возвращает запись архива по идентификатору.
func (h *Handler) GetArchiveEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entry, err := h.service.GetArchiveEntry(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newArchiveEntryResponse(entry))
}

// RestoreArchiveEntry возвращает сущность из архива (только администратор).
func (h *Handler) RestoreArchiveEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entry, err := h.service.Restore(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newArchiveEntryResponse(entry))
}

// PurgeArchiveEntry окончательно удаляет запись архива (только администратор).
func (h *Handler) PurgeArchiveEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.Purge(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type cleanupRequest struct {
	OlderThan string `json:"older_than"`
}

type cleanupResponse struct {
	Purged int64 `json:"purged"`
}

// CleanupArchive удаляет записи архива старше заданного интервала
// (только администратор). Пустое тело означает интервал по умолчанию,
// нечитаемое тело — ошибка запроса.
func (h *Handler) CleanupArchive(w http.ResponseWriter, r *http.Request) {
	var olderThan time.Duration

	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil || d <= 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		olderThan = d
	}

	purged, err := h.service.Cleanup(r.Context(), olderThan)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, cleanupResponse{Purged: purged})
}

// ExportArchive отдаёт страницу записей архива с курсорной пагинацией.
// Курсор берётся из полей archived_at и id последней записи предыдущей страницы.
func (h *Handler) ExportArchive(w http.ResponseWriter, r *http.Request) {
	f := repository.ArchiveFilter{
		SourceType: model.SourceType(r.URL.Query().Get("type")),
	}

	if v := r.URL.Query().Get("cursor_at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		f.CursorAt = &t
	}
	if v := r.URL.Query().Get("cursor_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		f.CursorID = id
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		f.Limit = limit
	}

	entries, err := h.service.Export(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]archiveEntryResponse, 0, len(entries))
	for i := range entries {
		resp = append(resp, newArchiveEntryResponse(&entries[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetArchiveStats возвращает число активных записей архива по типам.
func (h *Handler) GetArchiveStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.ArchiveStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make(map[string]int64, len(stats))
	for st, n := range stats {
		resp[string(st)] = n
	}

	h.writeJSON(w, http.StatusOK, resp)
}
