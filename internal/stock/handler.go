package stock

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
)

// Handler wires HTTP endpoints for the stock module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.applyMovement)
	r.Get("/balances", h.getBalance)
	r.Get("/ledger", h.getLedger)
	r.Get("/ledger/replay", h.replayBalance)
}

type movementRequest struct {
	ItemID     int64   `json:"item_id" validate:"required,gt=0"`
	LocationID int64   `json:"location_id" validate:"required,gt=0"`
	Kind       string  `json:"kind" validate:"required"`
	Quantity   float64 `json:"quantity" validate:"required"`
	UnitCost   float64 `json:"unit_cost" validate:"gte=0"`
	RefType    string  `json:"ref_type"`
	RefID      string  `json:"ref_id"`
	Note       string  `json:"note"`
}

type balanceResponse struct {
	ItemID     int64     `json:"item_id"`
	LocationID int64     `json:"location_id"`
	Quantity   float64   `json:"quantity"`
	AvgCost    float64   `json:"avg_cost"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ledgerEntryResponse struct {
	ID         int64     `json:"id"`
	ItemID     int64     `json:"item_id"`
	LocationID int64     `json:"location_id"`
	Kind       string    `json:"kind"`
	Quantity   float64   `json:"quantity"`
	UnitCost   float64   `json:"unit_cost"`
	RefType    string    `json:"ref_type,omitempty"`
	RefID      string    `json:"ref_id,omitempty"`
	Note       string    `json:"note,omitempty"`
	CreatedBy  int64     `json:"created_by"`
	PostedAt   time.Time `json:"posted_at"`
}

func (h *Handler) applyMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	entry, err := h.service.ApplyMovement(r.Context(), MovementInput{
		ItemID:         req.ItemID,
		LocationID:     req.LocationID,
		Kind:           MovementKind(req.Kind),
		Qty:            req.Quantity,
		UnitCost:       req.UnitCost,
		RefType:        req.RefType,
		RefID:          req.RefID,
		Note:           req.Note,
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get(shared.IdempotencyHeader),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toLedgerEntryResponse(entry))
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	itemID, locationID, ok := pairParams(w, r)
	if !ok {
		return
	}
	bal, err := h.service.GetBalance(r.Context(), itemID, locationID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBalanceResponse(bal))
}

func (h *Handler) getLedger(w http.ResponseWriter, r *http.Request) {
	itemID, locationID, ok := pairParams(w, r)
	if !ok {
		return
	}
	filter := LedgerFilter{ItemID: itemID, LocationID: locationID}
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", "invalid from date")
			return
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", "invalid to date")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	filter.Descending = q.Get("order") == "desc"
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Offset = n
		}
	}
	entries, err := h.service.GetLedger(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toLedgerEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) replayBalance(w http.ResponseWriter, r *http.Request) {
	itemID, locationID, ok := pairParams(w, r)
	if !ok {
		return
	}
	bal, err := h.service.Rebuild(r.Context(), itemID, locationID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBalanceResponse(bal))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		httpx.ProblemCode(w, http.StatusConflict, "INSUFFICIENT_STOCK", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost),
		errors.Is(err, ErrInvalidKind), errors.Is(err, ErrItemLocationRequired):
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", err.Error())
	case errors.Is(err, ErrBalanceNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.ProblemCode(w, http.StatusConflict, "DUPLICATE", err.Error())
	default:
		h.logger.Error("stock request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func pairParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	q := r.URL.Query()
	itemID, err1 := strconv.ParseInt(q.Get("item_id"), 10, 64)
	locationID, err2 := strconv.ParseInt(q.Get("location_id"), 10, 64)
	if err1 != nil || err2 != nil || itemID <= 0 || locationID <= 0 {
		httpx.ProblemCode(w, http.StatusBadRequest, "VALIDATION", "item_id and location_id are required")
		return 0, 0, false
	}
	return itemID, locationID, true
}

func toBalanceResponse(b Balance) balanceResponse {
	return balanceResponse{
		ItemID:     b.ItemID,
		LocationID: b.LocationID,
		Quantity:   b.Qty,
		AvgCost:    b.AvgCost,
		UpdatedAt:  b.UpdatedAt,
	}
}

func toLedgerEntryResponse(e LedgerEntry) ledgerEntryResponse {
	return ledgerEntryResponse{
		ID:         e.ID,
		ItemID:     e.ItemID,
		LocationID: e.LocationID,
		Kind:       string(e.Kind),
		Quantity:   e.Qty,
		UnitCost:   e.UnitCost,
		RefType:    e.RefType,
		RefID:      e.RefID,
		Note:       e.Note,
		CreatedBy:  e.CreatedBy,
		PostedAt:   e.PostedAt,
	}
}
