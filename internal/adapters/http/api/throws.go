package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/okian/mjolnir/pkg/logger"
)

// ThrowsHandler serves throw results.
type ThrowsHandler struct {
	deps     Dependencies
	maxLimit int
	logger   logger.Logger
}

// NewThrowsHandler creates a new throws handler.
func NewThrowsHandler(deps Dependencies, maxLimit int, l logger.Logger) *ThrowsHandler {
	return &ThrowsHandler{deps: deps, maxLimit: maxLimit, logger: l}
}

// HandleDummy handles GET /api/dummy: a synthetic throw is produced and
// persisted with its frames before the response is written.
func (h *ThrowsHandler) HandleDummy(w http.ResponseWriter, r *http.Request) {
	const op = "api.dummy"
	res, err := h.deps.PublishDummy(r.Context())
	if err != nil {
		writeFailure(w, r, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleLatest handles GET /api/throws/latest.
func (h *ThrowsHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	const op = "api.throws_latest"
	res, err := h.deps.Latest(r.Context())
	if err != nil {
		writeFailure(w, r, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleGet handles GET /api/throws/{throwId}.
func (h *ThrowsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.throws_get"
	id, err := uuid.Parse(r.PathValue("throwId"))
	if err != nil {
		writeFailure(w, r, h.logger, WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.Get(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleList handles GET /api/throws?limit=N, newest first.
func (h *ThrowsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.throws_list"
	n, err := parseLimit(r, h.maxLimit, h.maxLimit)
	if err != nil {
		writeFailure(w, r, h.logger, WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.Recent(r.Context(), n)
	if err != nil {
		writeFailure(w, r, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
