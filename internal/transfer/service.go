package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agrovia-erp/agrovia-erp/internal/shared"
	"github.com/agrovia-erp/agrovia-erp/internal/stock"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequest(ctx context.Context, id int64) (Request, error)
	ListRequests(ctx context.Context, status Status, limit, offset int) ([]Request, error)
}

// StockPort exposes the movement service operations the workflow needs.
type StockPort interface {
	ApplyTx(ctx context.Context, tx stock.TxRepository, input stock.MovementInput) (stock.LedgerEntry, error)
	AfterBatch(ctx context.Context, entries []stock.LedgerEntry)
}

// CatalogPort answers whether an item may move between locations.
type CatalogPort interface {
	ItemTransferable(ctx context.Context, itemID int64) (bool, error)
}

// ApprovalPort records approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the transfer request state machine. Completion is the only
// step that touches stock, and it does so in one transaction.
type Service struct {
	repo      RepositoryPort
	stock     StockPort
	catalog   CatalogPort
	approvals ApprovalPort
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the transfer service.
func NewService(repo RepositoryPort, stockSvc StockPort, catalog CatalogPort, approvals ApprovalPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stockSvc, catalog: catalog, approvals: approvals, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create persists a new request in PENDING. No stock is reserved or moved.
func (s *Service) Create(ctx context.Context, input CreateInput) (Request, error) {
	if input.FromLocationID == 0 || input.ToLocationID == 0 {
		return Request{}, fmt.Errorf("transfer: source and destination location required: %w", ErrInvalidQuantity)
	}
	if input.FromLocationID == input.ToLocationID {
		return Request{}, ErrSameLocation
	}
	if err := s.validateLines(ctx, input.Lines); err != nil {
		return Request{}, err
	}

	now := s.now().UTC()
	requestDate := input.RequestDate
	if requestDate.IsZero() {
		requestDate = now
	}
	req := Request{
		FromLocationID: input.FromLocationID,
		ToLocationID:   input.ToLocationID,
		Status:         StatusPending,
		RequestedBy:    input.RequesterID,
		RequestDate:    requestDate,
		Notes:          input.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertRequest(ctx, req)
		if err != nil {
			return err
		}
		req.ID = id
		for _, line := range input.Lines {
			lineID, err := tx.InsertLine(ctx, Line{RequestID: id, ItemID: line.ItemID, Qty: line.Qty})
			if err != nil {
				return err
			}
			req.Lines = append(req.Lines, Line{ID: lineID, RequestID: id, ItemID: line.ItemID, Qty: line.Qty})
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	s.recordApproval(ctx, req.ID, input.RequesterID, shared.ApprovalSubmit, input.Notes)
	s.recordAudit(ctx, "TRANSFER_CREATE", req.ID, input.RequesterID, map[string]any{
		"from": input.FromLocationID, "to": input.ToLocationID, "lines": len(input.Lines),
	})
	return req, nil
}

// Approve moves PENDING to APPROVED. Goods still do not move; this models
// the physical check before release.
func (s *Service) Approve(ctx context.Context, requestID, approverID int64) (Request, error) {
	req, err := s.transition(ctx, requestID, StatusPending, StatusApproved, approverID)
	if err != nil {
		return Request{}, err
	}
	s.recordApproval(ctx, requestID, approverID, shared.ApprovalApprove, "")
	s.recordAudit(ctx, "TRANSFER_APPROVE", requestID, approverID, nil)
	return req, nil
}

// Reject moves PENDING to the terminal REJECTED state.
func (s *Service) Reject(ctx context.Context, requestID, approverID int64) (Request, error) {
	req, err := s.transition(ctx, requestID, StatusPending, StatusRejected, approverID)
	if err != nil {
		return Request{}, err
	}
	s.recordApproval(ctx, requestID, approverID, shared.ApprovalReject, "")
	s.recordAudit(ctx, "TRANSFER_REJECT", requestID, approverID, nil)
	return req, nil
}

// Complete issues both movement legs for every line and flips the request to
// COMPLETED, all inside one transaction. Any failing leg aborts the whole
// completion; partial transfers are structurally impossible.
func (s *Service) Complete(ctx context.Context, requestID int64, notes string, actorID int64) (Request, error) {
	var req Request
	var entries []stock.LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entries = entries[:0]
		var err error
		req, err = tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusApproved {
			return fmt.Errorf("transfer: request %d is %s: %w", requestID, req.Status, ErrInvalidTransition)
		}
		now := s.now().UTC()
		for _, line := range req.Lines {
			refID := fmt.Sprintf("%d", req.ID)
			out, err := s.stock.ApplyTx(ctx, tx.Stock(), stock.MovementInput{
				ItemID:     line.ItemID,
				LocationID: req.FromLocationID,
				Kind:       stock.KindTransferOut,
				Qty:        line.Qty,
				RefType:    "transfer",
				RefID:      refID,
				Note:       notes,
				ActorID:    actorID,
			})
			if err != nil {
				return fmt.Errorf("transfer: request %d item %d outbound leg: %w", req.ID, line.ItemID, err)
			}
			// Cost follows the physical good: the destination receives at the
			// source's average cost recorded on the outbound entry.
			in, err := s.stock.ApplyTx(ctx, tx.Stock(), stock.MovementInput{
				ItemID:     line.ItemID,
				LocationID: req.ToLocationID,
				Kind:       stock.KindTransferIn,
				Qty:        line.Qty,
				UnitCost:   out.UnitCost,
				RefType:    "transfer",
				RefID:      refID,
				Note:       notes,
				ActorID:    actorID,
			})
			if err != nil {
				return fmt.Errorf("transfer: request %d item %d inbound leg: %w", req.ID, line.ItemID, err)
			}
			entries = append(entries, out, in)
		}
		if err := tx.SetCompleted(ctx, req.ID, notes, now); err != nil {
			return err
		}
		req.Status = StatusCompleted
		req.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	s.stock.AfterBatch(ctx, entries)
	s.recordAudit(ctx, "TRANSFER_COMPLETE", req.ID, actorID, map[string]any{"legs": len(entries)})
	return req, nil
}

// EditPending updates a request that has not yet been approved.
func (s *Service) EditPending(ctx context.Context, input EditInput) (Request, error) {
	if len(input.Lines) > 0 {
		if err := s.validateLines(ctx, input.Lines); err != nil {
			return Request{}, err
		}
	}
	var req Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		req, err = tx.GetRequestForUpdate(ctx, input.RequestID)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return fmt.Errorf("transfer: request %d is %s: %w", input.RequestID, req.Status, ErrInvalidState)
		}
		now := s.now().UTC()
		requestDate := input.RequestDate
		if requestDate.IsZero() {
			requestDate = req.RequestDate
		}
		if err := tx.UpdatePending(ctx, req.ID, requestDate, input.Notes, now); err != nil {
			return err
		}
		if len(input.Lines) > 0 {
			if err := tx.ReplaceLines(ctx, req.ID, input.Lines); err != nil {
				return err
			}
		}
		req.RequestDate = requestDate
		req.Notes = input.Notes
		req.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	req, err = s.repo.GetRequest(ctx, input.RequestID)
	if err != nil {
		return Request{}, err
	}
	s.recordAudit(ctx, "TRANSFER_EDIT", req.ID, input.ActorID, nil)
	return req, nil
}

// DeletePending removes a request that has not yet been approved.
func (s *Service) DeletePending(ctx context.Context, requestID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return fmt.Errorf("transfer: request %d is %s: %w", requestID, req.Status, ErrInvalidState)
		}
		return tx.DeleteRequest(ctx, requestID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "TRANSFER_DELETE", requestID, actorID, nil)
	return nil
}

// Get returns one request with lines.
func (s *Service) Get(ctx context.Context, requestID int64) (Request, error) {
	return s.repo.GetRequest(ctx, requestID)
}

// List returns requests, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status, limit, offset int) ([]Request, error) {
	return s.repo.ListRequests(ctx, status, limit, offset)
}

func (s *Service) transition(ctx context.Context, requestID int64, from, to Status, actorID int64) (Request, error) {
	var req Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		req, err = tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != from {
			return fmt.Errorf("transfer: request %d is %s: %w", requestID, req.Status, ErrInvalidTransition)
		}
		now := s.now().UTC()
		if err := tx.SetApproval(ctx, requestID, to, actorID, now); err != nil {
			return err
		}
		req.Status = to
		req.ApprovedBy = &actorID
		req.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	return req, nil
}

func (s *Service) validateLines(ctx context.Context, lines []LineInput) error {
	if len(lines) == 0 {
		return ErrNoLines
	}
	for _, line := range lines {
		if line.ItemID == 0 || line.Qty <= 0 {
			return fmt.Errorf("transfer: item %d: %w", line.ItemID, ErrInvalidQuantity)
		}
		if s.catalog != nil {
			ok, err := s.catalog.ItemTransferable(ctx, line.ItemID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("transfer: item %d: %w", line.ItemID, ErrItemNotTransferable)
			}
		}
	}
	return nil
}

func (s *Service) recordApproval(ctx context.Context, requestID, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  "transfer",
		RefID:   requestID,
		ActorID: actorID,
		Action:  action,
		Note:    note,
	})
	if err != nil {
		s.logger.Warn("record transfer approval", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, requestID, actorID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "transfer_request",
		EntityID: fmt.Sprintf("%d", requestID),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("record transfer audit", slog.Any("error", err))
	}
}
