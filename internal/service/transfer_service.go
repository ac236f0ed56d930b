package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/goatkit/phonedesk/internal/apierrors"
	"github.com/goatkit/phonedesk/internal/directory"
	"github.com/goatkit/phonedesk/internal/events"
	"github.com/goatkit/phonedesk/internal/keylock"
	"github.com/goatkit/phonedesk/internal/models"
	"github.com/goatkit/phonedesk/internal/repository"
)

// CancelledRemark replaces the remark of a request withdrawn by its sender.
const CancelledRemark = "cancelled"

// TransferService runs the two-party ownership transfer protocol.
type TransferService struct {
	core
}

// NewTransferService creates a transfer service. It must share its locker
// with the AssetService so accept and recover serialise on the asset key.
func NewTransferService(store repository.Store, dir directory.Directory, opts ...Option) *TransferService {
	return &TransferService{core: newCore(store, dir, opts)}
}

// InitiateTransferInput describes a transfer offer.
type InitiateTransferInput struct {
	PhoneNumber    string `json:"phone_number"`
	FromEmployeeID int64  `json:"from_employee_id"`
	ToEmployeeID   int64  `json:"to_employee_id"`
	Remark         string `json:"remark"`
}

func loadTransfer(ctx context.Context, repo repository.TransferRepository, id string) (*models.TransferRequest, error) {
	r, err := repo.GetTransfer(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apierrors.NotFound(apierrors.CodeTransferNotFound, "transfer request %s not found", id)
	}
	if err != nil {
		return nil, apierrors.Internal(err, "failed to load transfer request")
	}
	return r, nil
}

// Initiate offers the asset held by from to to. The asset is not touched
// until the recipient accepts.
func (s *TransferService) Initiate(ctx context.Context, actor models.Actor, in InitiateTransferInput) (out *models.TransferRequest, err error) {
	done := s.observe("initiateTransfer")
	defer func() { done(err) }()

	if in.FromEmployeeID == in.ToEmployeeID {
		return nil, apierrors.Validation(apierrors.CodeValidationFailed, "cannot transfer a phone asset to its current holder")
	}

	err = s.withKey(ctx, keylock.AssetKey(in.PhoneNumber), func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			a, err := loadAsset(ctx, tx, in.PhoneNumber)
			if err != nil {
				return err
			}
			pending, err := tx.PendingTransfer(ctx, in.PhoneNumber)
			if err != nil {
				return apierrors.Internal(err, "failed to check pending transfers")
			}
			if pending != nil {
				return apierrors.Conflict(apierrors.CodeTransferPending,
					"phone asset %s already has pending transfer %s", in.PhoneNumber, pending.ID)
			}
			if actor.EmployeeID != in.FromEmployeeID {
				if err := s.requireScope(ctx, actor, a.DepartmentID, models.ScopeManage); err != nil {
					return err
				}
			}
			if a.Status != models.AssetInUse || !a.IsHeldBy(in.FromEmployeeID) {
				return apierrors.InvalidState(apierrors.CodeAssetInvalidState,
					"phone asset %s is not in use by employee %d", in.PhoneNumber, in.FromEmployeeID)
			}
			to, err := s.employee(ctx, in.ToEmployeeID)
			if err != nil {
				return err
			}
			if err := activeEmployee(to); err != nil {
				return err
			}

			req := &models.TransferRequest{
				ID:             s.newID(),
				PhoneNumber:    in.PhoneNumber,
				FromEmployeeID: in.FromEmployeeID,
				ToEmployeeID:   in.ToEmployeeID,
				Remark:         in.Remark,
				State:          models.TransferPending,
				CreatedAt:      s.now(),
			}
			if err := tx.CreateTransfer(ctx, req); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return apierrors.Conflict(apierrors.CodeTransferPending, "phone asset %s already has a pending transfer", in.PhoneNumber)
				}
				return storeErr(err, "create transfer request")
			}
			out = req
			return nil
		})
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, apierrors.Conflict(apierrors.CodeTransferPending, "phone asset %s already has a pending transfer", in.PhoneNumber)
	}
	if err != nil {
		return nil, storeErr(err, "initiate transfer")
	}
	s.publish(ctx, events.ForTransfer(events.TransferInitiated, out, out.CreatedAt))
	return out, nil
}

// resolution applies a decision to a pending request and, when accepting,
// to the asset. It runs under the asset key.
type resolution func(ctx context.Context, tx repository.Store, req *models.TransferRequest) error

func (s *TransferService) resolve(ctx context.Context, op string, id string, evType events.Type, apply resolution) (out *models.TransferRequest, err error) {
	done := s.observe(op)
	defer func() { done(err) }()

	req, err := loadTransfer(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	err = s.withKey(ctx, keylock.AssetKey(req.PhoneNumber), func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			current, err := loadTransfer(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := apply(ctx, tx, current); err != nil {
				return err
			}
			if err := tx.UpdateTransfer(ctx, current); err != nil {
				return storeErr(err, "update transfer request")
			}
			out = current
			return nil
		})
	})
	if err != nil {
		return nil, storeErr(err, op)
	}
	s.publish(ctx, events.ForTransfer(evType, out, s.now()))
	s.logger.Debug("transfer resolved", zap.String("transfer_id", id), zap.String("state", string(out.State)))
	return out, nil
}

func requirePending(req *models.TransferRequest) error {
	if !req.IsPending() {
		return apierrors.InvalidState(apierrors.CodeTransferResolved, "transfer request %s is already %s", req.ID, req.State)
	}
	return nil
}

func requireRecipient(actor models.Actor, req *models.TransferRequest) error {
	if actor.EmployeeID == 0 || actor.EmployeeID != req.ToEmployeeID {
		return apierrors.Forbidden(apierrors.CodeTransferNotRecipient, "only the recipient may answer transfer request %s", req.ID)
	}
	return nil
}

// Accept moves the asset to the recipient. The sender's usage entry closes
// and the recipient's opens in the same commit; status stays in_use.
func (s *TransferService) Accept(ctx context.Context, actor models.Actor, id string) (*models.TransferRequest, error) {
	return s.resolve(ctx, "acceptTransfer", id, events.TransferAccepted, func(ctx context.Context, tx repository.Store, req *models.TransferRequest) error {
		if err := requireRecipient(actor, req); err != nil {
			return err
		}
		if err := requirePending(req); err != nil {
			return err
		}
		a, err := loadAsset(ctx, tx, req.PhoneNumber)
		if err != nil {
			return err
		}
		if a.Status != models.AssetInUse || !a.IsHeldBy(req.FromEmployeeID) {
			return apierrors.InvalidState(apierrors.CodeAssetInvalidState,
				"phone asset %s is no longer in use by employee %d", a.PhoneNumber, req.FromEmployeeID)
		}
		to, err := s.employee(ctx, req.ToEmployeeID)
		if err != nil {
			return err
		}
		if err := activeEmployee(to); err != nil {
			return err
		}

		now := s.now()
		a.OpenUsage(to.ID, now)
		a.DepartmentID = to.DepartmentID
		a.UpdatedAt = now
		if !a.CheckUsageInvariant() {
			return apierrors.Internal(nil, "usage history of %s would hold more than one open entry", a.PhoneNumber)
		}
		if err := tx.UpdateAsset(ctx, a); err != nil {
			return storeErr(err, "update asset")
		}
		req.State = models.TransferAccepted
		req.ResolvedAt = &now
		return nil
	})
}

// Reject declines the offer; the asset is untouched.
func (s *TransferService) Reject(ctx context.Context, actor models.Actor, id string) (*models.TransferRequest, error) {
	return s.resolve(ctx, "rejectTransfer", id, events.TransferRejected, func(_ context.Context, _ repository.Store, req *models.TransferRequest) error {
		if err := requireRecipient(actor, req); err != nil {
			return err
		}
		if err := requirePending(req); err != nil {
			return err
		}
		now := s.now()
		req.State = models.TransferRejected
		req.ResolvedAt = &now
		return nil
	})
}

// Cancel lets the sender withdraw a pending offer.
func (s *TransferService) Cancel(ctx context.Context, actor models.Actor, id string) (*models.TransferRequest, error) {
	return s.resolve(ctx, "cancelTransfer", id, events.TransferCancelled, func(_ context.Context, _ repository.Store, req *models.TransferRequest) error {
		if actor.EmployeeID == 0 || actor.EmployeeID != req.FromEmployeeID {
			return apierrors.Forbidden(apierrors.CodeForbidden, "only the sender may cancel transfer request %s", req.ID)
		}
		if err := requirePending(req); err != nil {
			return err
		}
		now := s.now()
		req.State = models.TransferRejected
		req.Remark = CancelledRemark
		req.ResolvedAt = &now
		return nil
	})
}

// canSee reports whether actor is a party to req or may view its asset.
func (s *TransferService) canSee(ctx context.Context, actor models.Actor, req *models.TransferRequest, departments map[string]int64) (bool, error) {
	if actor.EmployeeID != 0 && (actor.EmployeeID == req.FromEmployeeID || actor.EmployeeID == req.ToEmployeeID) {
		return true, nil
	}
	if actor.UserID == 0 {
		return false, nil
	}
	dept, ok := departments[req.PhoneNumber]
	if !ok {
		a, err := s.store.GetAsset(ctx, req.PhoneNumber)
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, apierrors.Internal(err, "failed to load asset")
		}
		dept = a.DepartmentID
		departments[req.PhoneNumber] = dept
	}
	return s.allowed(ctx, actor, dept, models.ScopeView)
}

// Get returns a transfer request visible to actor.
func (s *TransferService) Get(ctx context.Context, actor models.Actor, id string) (*models.TransferRequest, error) {
	req, err := loadTransfer(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.canSee(ctx, actor, req, map[string]int64{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierrors.Forbidden(apierrors.CodeForbidden, "transfer request %s is not visible", id)
	}
	return req, nil
}

// List returns the transfer requests matching filter that actor may see.
func (s *TransferService) List(ctx context.Context, actor models.Actor, filter models.TransferFilter) ([]*models.TransferRequest, error) {
	if actor.UserID == 0 {
		if actor.EmployeeID == 0 {
			return nil, apierrors.New(apierrors.KindForbidden, apierrors.CodeForbidden)
		}
		filter.EmployeeID = actor.EmployeeID
	}
	list, err := s.store.ListTransfers(ctx, filter)
	if err != nil {
		return nil, apierrors.Internal(err, "failed to list transfer requests")
	}
	departments := map[string]int64{}
	out := make([]*models.TransferRequest, 0, len(list))
	for _, req := range list {
		ok, err := s.canSee(ctx, actor, req, departments)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, req)
		}
	}
	return out, nil
}
