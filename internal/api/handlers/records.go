// records.go — обработчики записей и черновиков.
// POST/GET/PATCH/DELETE /api/v1/records/{entity}[/{id}],
// GET/PATCH/DELETE /api/v1/drafts/{entity}/{id}, POST .../save.
package handlers

import (
	"net/http"

	"github.com/bigkaa/goartstore/attachment-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/repository"
	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
)

// RecordsHandler — обработчик операций над записями.
type RecordsHandler struct {
	records RecordOperations
	targets targetResolver
	decoder recordDecoder
}

// NewRecordsHandler создаёт обработчик записей.
func NewRecordsHandler(records RecordOperations, s schema.Introspector, fields repository.FieldLocator) *RecordsHandler {
	return &RecordsHandler{
		records: records,
		targets: targetResolver{schema: s},
		decoder: recordDecoder{schema: s, fields: fields},
	}
}

// CreateRecord обрабатывает POST /api/v1/records/{entity}.
func (h *RecordsHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	target, err := h.targets.resolve(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.decoder.decode(r, target.entity.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := h.records.Create(r.Context(), target.entity.Name, rec, middleware.Actor(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// GetRecord обрабатывает GET /api/v1/records/{entity}/{id}.
func (h *RecordsHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, model.SpaceActive)
}

// GetDraft обрабатывает GET /api/v1/drafts/{entity}/{id}.
func (h *RecordsHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, model.SpaceDraft)
}

func (h *RecordsHandler) read(w http.ResponseWriter, r *http.Request, space model.Space) {
	target, err := h.targets.resolve(r, true)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := h.records.Read(r.Context(), space, target.entity.Name, target.keys)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// UpdateRecord обрабатывает PATCH /api/v1/records/{entity}/{id}.
func (h *RecordsHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	target, patch, ok := h.patchRequest(w, r)
	if !ok {
		return
	}
	out, err := h.records.Update(r.Context(), target.entity.Name, target.keys, patch, middleware.Actor(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// PatchDraft обрабатывает PATCH /api/v1/drafts/{entity}/{id}.
// Черновик создаётся из активной записи при первом изменении.
func (h *RecordsHandler) PatchDraft(w http.ResponseWriter, r *http.Request) {
	target, patch, ok := h.patchRequest(w, r)
	if !ok {
		return
	}
	out, err := h.records.PatchDraft(r.Context(), target.entity.Name, target.keys, patch, middleware.Actor(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *RecordsHandler) patchRequest(w http.ResponseWriter, r *http.Request) (requestTarget, model.Record, bool) {
	target, err := h.targets.resolve(r, true)
	if err != nil {
		writeError(w, err)
		return requestTarget{}, nil, false
	}
	patch, err := h.decoder.decode(r, target.entity.Name)
	if err != nil {
		writeError(w, err)
		return requestTarget{}, nil, false
	}
	return target, patch, true
}

// SaveDraft обрабатывает POST /api/v1/drafts/{entity}/{id}/save.
func (h *RecordsHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	target, err := h.targets.resolve(r, true)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := h.records.SaveDraft(r.Context(), target.entity.Name, target.keys, middleware.Actor(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// DiscardDraft обрабатывает DELETE /api/v1/drafts/{entity}/{id}.
func (h *RecordsHandler) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	target, err := h.targets.resolve(r, true)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.records.DiscardDraft(r.Context(), target.entity.Name, target.keys, middleware.Actor(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteRecord обрабатывает DELETE /api/v1/records/{entity}/{id}.
func (h *RecordsHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	target, err := h.targets.resolve(r, true)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.records.Delete(r.Context(), target.entity.Name, target.keys, middleware.Actor(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
