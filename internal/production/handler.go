package production

import (
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

// Handler wires HTTP endpoints for production runs.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the production handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers production routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.apply)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/undo", h.undo)
}

type shareRequest struct {
	ItemID       int64   `json:"item_id" validate:"required,gt=0"`
	SharePercent float64 `json:"share_percent" validate:"required,gt=0"`
}

type applyRequest struct {
	Name       string         `json:"name"`
	LocationID int64          `json:"location_id" validate:"required,gt=0"`
	TargetQty  float64        `json:"target_qty" validate:"required,gt=0"`
	Inputs     []shareRequest `json:"inputs" validate:"required,min=1,dive"`
	Outputs    []shareRequest `json:"outputs" validate:"required,min=1,dive"`
	Note       string         `json:"note"`
}

type undoRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type legResponse struct {
	ItemID   int64   `json:"item_id"`
	Qty      float64 `json:"qty"`
	UnitCost float64 `json:"unit_cost"`
	EntryID  int64   `json:"entry_id"`
}

type runResponse struct {
	ID             int64         `json:"id"`
	Name           string        `json:"name,omitempty"`
	LocationID     int64         `json:"location_id"`
	TargetQty      float64       `json:"target_qty"`
	Inputs         []legResponse `json:"inputs"`
	Outputs        []legResponse `json:"outputs"`
	TotalInputCost float64       `json:"total_input_cost"`
	CostPerUnit    float64       `json:"cost_per_unit"`
	Note           string        `json:"note,omitempty"`
	IsUndone       bool          `json:"is_undone"`
	UndoReason     string        `json:"undo_reason,omitempty"`
	UndoneAt       *time.Time    `json:"undone_at,omitempty"`
	CreatedBy      int64         `json:"created_by"`
	CreatedAt      time.Time     `json:"created_at"`
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	input := ApplyInput{
		Name:           req.Name,
		LocationID:     req.LocationID,
		TargetQty:      req.TargetQty,
		Note:           req.Note,
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get(shared.IdempotencyHeader),
	}
	for _, s := range req.Inputs {
		input.Inputs = append(input.Inputs, ShareInput{ItemID: s.ItemID, SharePercent: s.SharePercent})
	}
	for _, s := range req.Outputs {
		input.Outputs = append(input.Outputs, ShareInput{ItemID: s.ItemID, SharePercent: s.SharePercent})
	}
	run, err := h.service.Apply(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRunResponse(run))
}

func (h *Handler) undo(w http.ResponseWriter, r *http.Request) {
	id, ok := runIDParam(w, r)
	if !ok {
		return
	}
	var req undoRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	run, err := h.service.Undo(r.Context(), id, req.Reason, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRunResponse(run))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := runIDParam(w, r)
	if !ok {
		return
	}
	run, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRunResponse(run))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	locationID, _ := strconv.ParseInt(q.Get("location_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	runs, err := h.service.List(r.Context(), locationID, limit, offset)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrAlreadyUndone):
		httpx.ProblemCode(w, http.StatusConflict, "ALREADY_UNDONE", err.Error())
	case errors.Is(err, stock.ErrInsufficientStock):
		httpx.ProblemCode(w, http.StatusConflict, "INSUFFICIENT_STOCK", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.ProblemCode(w, http.StatusConflict, "DUPLICATE", err.Error())
	case errors.Is(err, ErrNoInputs), errors.Is(err, ErrNoOutputs), errors.Is(err, ErrInvalidShare),
		errors.Is(err, ErrOutputShareSum), errors.Is(err, ErrInvalidTarget), errors.Is(err, ErrLocationRequired):
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", err.Error())
	default:
		h.logger.Error("production request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func runIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", "invalid run id")
		return 0, false
	}
	return id, true
}

func toRunResponse(run Run) runResponse {
	out := runResponse{
		ID:             run.ID,
		Name:           run.Name,
		LocationID:     run.LocationID,
		TargetQty:      run.TargetQty,
		TotalInputCost: run.TotalInputCost,
		CostPerUnit:    run.CostPerUnit,
		Note:           run.Note,
		IsUndone:       run.IsUndone,
		UndoReason:     run.UndoReason,
		UndoneAt:       run.UndoneAt,
		CreatedBy:      run.CreatedBy,
		CreatedAt:      run.CreatedAt,
		Inputs:         make([]legResponse, 0, len(run.Inputs)),
		Outputs:        make([]legResponse, 0, len(run.Outputs)),
	}
	for _, leg := range run.Inputs {
		out.Inputs = append(out.Inputs, legResponse(leg))
	}
	for _, leg := range run.Outputs {
		out.Outputs = append(out.Outputs, legResponse(leg))
	}
	return out
}
