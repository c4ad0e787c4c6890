package transfer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/agrovia-erp/agrovia-erp/internal/platform/httpx"
	"github.com/agrovia-erp/agrovia-erp/internal/shared"
	"github.com/agrovia-erp/agrovia-erp/internal/stock"
)

// Handler wires HTTP endpoints for the transfer workflow.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.edit)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/complete", h.complete)
}

type lineRequest struct {
	ItemID   int64   `json:"item_id" validate:"required,gt=0"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
}

type createRequest struct {
	FromLocationID int64         `json:"from_location_id" validate:"required,gt=0"`
	ToLocationID   int64         `json:"to_location_id" validate:"required,gt=0"`
	Lines          []lineRequest `json:"lines" validate:"required,min=1,dive"`
	RequestDate    string        `json:"request_date"`
	Notes          string        `json:"notes"`
}

type editRequest struct {
	Lines       []lineRequest `json:"lines" validate:"omitempty,min=1,dive"`
	RequestDate string        `json:"request_date"`
	Notes       string        `json:"notes"`
}

type completeRequest struct {
	Notes string `json:"notes"`
}

type requestResponse struct {
	ID             int64          `json:"id"`
	FromLocationID int64          `json:"from_location_id"`
	ToLocationID   int64          `json:"to_location_id"`
	Status         string         `json:"status"`
	RequestedBy    int64          `json:"requested_by"`
	ApprovedBy     *int64         `json:"approved_by,omitempty"`
	RequestDate    time.Time      `json:"request_date"`
	Notes          string         `json:"notes,omitempty"`
	Lines          []lineResponse `json:"lines"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type lineResponse struct {
	ID       int64   `json:"id"`
	ItemID   int64   `json:"item_id"`
	Quantity float64 `json:"quantity"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	input := CreateInput{
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		RequesterID:    shared.ActorFromContext(r.Context()),
		Notes:          req.Notes,
	}
	if req.RequestDate != "" {
		t, err := time.Parse("2006-01-02", req.RequestDate)
		if err != nil {
			httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", "invalid request_date")
			return
		}
		input.RequestDate = t
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput{ItemID: line.ItemID, Qty: line.Quantity})
	}
	created, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	requests, err := h.service.List(r.Context(), Status(q.Get("status")), limit, offset)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]requestResponse, 0, len(requests))
	for _, req := range requests {
		out = append(out, toResponse(req))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	req, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(req))
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req editRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	input := EditInput{RequestID: id, Notes: req.Notes, ActorID: shared.ActorFromContext(r.Context())}
	if req.RequestDate != "" {
		t, err := time.Parse("2006-01-02", req.RequestDate)
		if err != nil {
			httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", "invalid request_date")
			return
		}
		input.RequestDate = t
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput{ItemID: line.ItemID, Qty: line.Quantity})
	}
	updated, err := h.service.EditPending(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(updated))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.service.DeletePending(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.service.Approve)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.service.Reject)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
			return
		}
	}
	completed, err := h.service.Complete(r.Context(), id, req.Notes, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(completed))
}

func (h *Handler) act(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, requestID, actorID int64) (Request, error)) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	req, err := fn(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(req))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrInvalidTransition):
		httpx.ProblemCode(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.ProblemCode(w, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, stock.ErrInsufficientStock):
		httpx.ProblemCode(w, http.StatusConflict, "INSUFFICIENT_STOCK", err.Error())
	case errors.Is(err, ErrSameLocation), errors.Is(err, ErrNoLines),
		errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrItemNotTransferable):
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", err.Error())
	default:
		h.logger.Error("transfer request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", "invalid request id")
		return 0, false
	}
	return id, true
}

func toResponse(req Request) requestResponse {
	out := requestResponse{
		ID:             req.ID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Status:         string(req.Status),
		RequestedBy:    req.RequestedBy,
		ApprovedBy:     req.ApprovedBy,
		RequestDate:    req.RequestDate,
		Notes:          req.Notes,
		CreatedAt:      req.CreatedAt,
		UpdatedAt:      req.UpdatedAt,
		Lines:          make([]lineResponse, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		out.Lines = append(out.Lines, lineResponse{ID: line.ID, ItemID: line.ItemID, Quantity: line.Qty})
	}
	return out
}
