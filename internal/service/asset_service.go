package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/goatkit/phonedesk/internal/apierrors"
	"github.com/goatkit/phonedesk/internal/directory"
	"github.com/goatkit/phonedesk/internal/events"
	"github.com/goatkit/phonedesk/internal/keylock"
	"github.com/goatkit/phonedesk/internal/models"
	"github.com/goatkit/phonedesk/internal/repository"
	"github.com/goatkit/phonedesk/internal/services/permission"
)

// AssetService runs the phone asset state machine.
type AssetService struct {
	core
}

// NewAssetService creates an asset service.
func NewAssetService(store repository.Store, dir directory.Directory, opts ...Option) *AssetService {
	return &AssetService{core: newCore(store, dir, opts)}
}

// RegisterAssetInput describes a new phone number.
type RegisterAssetInput struct {
	PhoneNumber         string `json:"phone_number"`
	ApplicantEmployeeID int64  `json:"applicant_employee_id"`
	Vendor              string `json:"vendor"`
	Purpose             string `json:"purpose"`
}

// assetChange mutates a loaded asset inside a transaction. It returns the
// events to publish after commit; returning unchanged=true skips the write.
type assetChange func(ctx context.Context, tx repository.Store, a *models.PhoneAsset) (evs []events.Event, unchanged bool, err error)

// mutate serialises on the asset key and applies change atomically.
func (s *AssetService) mutate(ctx context.Context, op, phone string, change assetChange) (out *models.PhoneAsset, err error) {
	done := s.observe(op)
	defer func() { done(err) }()

	var evs []events.Event
	err = s.withKey(ctx, keylock.AssetKey(phone), func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			a, err := loadAsset(ctx, tx, phone)
			if err != nil {
				return err
			}
			var unchanged bool
			evs, unchanged, err = change(ctx, tx, a)
			if err != nil {
				return err
			}
			if unchanged {
				out = a
				return nil
			}
			if !a.CheckUsageInvariant() {
				return apierrors.Internal(nil, "usage history of %s would hold more than one open entry", phone)
			}
			a.UpdatedAt = s.now()
			if err := tx.UpdateAsset(ctx, a); err != nil {
				return storeErr(err, "update asset")
			}
			out = a
			return nil
		})
	})
	if err != nil {
		return nil, storeErr(err, op)
	}
	s.publish(ctx, evs...)
	s.logger.Debug("asset updated", zap.String("operation", op), zap.String("phone_number", phone), zap.String("status", string(out.Status)))
	return out, nil
}

// applicantDepartment is where a recovered asset is filed: the applicant's
// current department, else the stored one. Permission checks always use the
// stored department.
func (s *AssetService) applicantDepartment(ctx context.Context, a *models.PhoneAsset) int64 {
	if a.ApplicantEmployeeID != 0 {
		if e, err := s.dir.GetEmployee(ctx, a.ApplicantEmployeeID); err == nil {
			return e.DepartmentID
		}
	}
	return a.DepartmentID
}

func invalidState(a *models.PhoneAsset, op string) error {
	return apierrors.InvalidState(apierrors.CodeAssetInvalidState,
		"cannot %s phone asset %s in status %s", op, a.PhoneNumber, a.Status)
}

func effectiveDate(date time.Time, now time.Time) time.Time {
	if date.IsZero() {
		return now
	}
	return date
}

// RegisterAsset creates an idle asset for the applicant.
func (s *AssetService) RegisterAsset(ctx context.Context, actor models.Actor, in RegisterAssetInput) (out *models.PhoneAsset, err error) {
	done := s.observe("registerAsset")
	defer func() { done(err) }()

	phone := strings.TrimSpace(in.PhoneNumber)
	if phone == "" {
		return nil, apierrors.Validation(apierrors.CodeValidationFailed, "phone number is required")
	}
	applicant, err := s.employee(ctx, in.ApplicantEmployeeID)
	if err != nil {
		return nil, err
	}
	if err := s.requireScope(ctx, actor, applicant.DepartmentID, models.ScopeManage); err != nil {
		return nil, err
	}

	now := s.now()
	asset := &models.PhoneAsset{
		PhoneNumber:             phone,
		Status:                  models.AssetIdle,
		ApplicantEmployeeID:     applicant.ID,
		ApplicantStatusSnapshot: applicant.EmploymentStatus,
		Vendor:                  in.Vendor,
		Purpose:                 in.Purpose,
		DepartmentID:            applicant.DepartmentID,
		UsageHistory:            []models.UsageEntry{},
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	err = s.withKey(ctx, keylock.AssetKey(phone), func() error {
		return s.store.CreateAsset(ctx, asset)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, apierrors.Conflict(apierrors.CodeAssetExists, "phone asset %s already exists", phone)
	}
	if err != nil {
		return nil, storeErr(err, "create asset")
	}
	return asset, nil
}

// Assign hands an idle asset to an active employee and opens a usage entry at date.
func (s *AssetService) Assign(ctx context.Context, actor models.Actor, phone string, employeeID int64, purpose string, date time.Time) (*models.PhoneAsset, error) {
	return s.mutate(ctx, "assign", phone, func(ctx context.Context, tx repository.Store, a *models.PhoneAsset) ([]events.Event, bool, error) {
		if a.Status != models.AssetIdle {
			return nil, false, invalidState(a, "assign")
		}
		emp, err := s.employee(ctx, employeeID)
		if err != nil {
			return nil, false, err
		}
		if err := s.requireScope(ctx, actor, emp.DepartmentID, models.ScopeManage); err != nil {
			return nil, false, err
		}
		if err := activeEmployee(emp); err != nil {
			return nil, false, err
		}
		if err := noPendingTransfer(ctx, tx, phone); err != nil {
			return nil, false, err
		}

		a.OpenUsage(emp.ID, effectiveDate(date, s.now()))
		a.Status = models.AssetInUse
		a.DepartmentID = emp.DepartmentID
		a.RiskReason = nil
		if purpose != "" {
			a.Purpose = purpose
		}
		return nil, false, nil
	})
}

// Recover takes an asset back from its holder and closes the open usage entry at date.
func (s *AssetService) Recover(ctx context.Context, actor models.Actor, phone string, date time.Time) (*models.PhoneAsset, error) {
	return s.mutate(ctx, "recover", phone, func(ctx context.Context, tx repository.Store, a *models.PhoneAsset) ([]events.Event, bool, error) {
		if a.Status != models.AssetInUse && !a.Status.IsPendingDeactivation() {
			return nil, false, invalidState(a, "recover")
		}
		if err := s.requireScope(ctx, actor, a.DepartmentID, models.ScopeManage); err != nil {
			return nil, false, err
		}
		if err := noPendingTransfer(ctx, tx, phone); err != nil {
			return nil, false, err
		}

		at := effectiveDate(date, s.now())
		if idx := a.OpenEntryIndex(); idx >= 0 && at.Before(a.UsageHistory[idx].StartDate) {
			return nil, false, apierrors.Validation(apierrors.CodeValidationFailed,
				"recovery date %s precedes the usage start", at.Format(time.DateOnly))
		}
		a.CloseUsage(at)
		a.Status = models.AssetIdle
		a.DepartmentID = s.applicantDepartment(ctx, a)
		return nil, false, nil
	})
}

// RequestDeactivation moves an in_use asset to the pending state of the initiator.
// Repeating the request for the same initiator is a no-op.
func (s *AssetService) RequestDeactivation(ctx context.Context, actor models.Actor, phone string, initiator models.DeactivationInitiator) (*models.PhoneAsset, error) {
	target, ok := initiator.PendingStatus()
	if !ok {
		return nil, apierrors.Validation(apierrors.CodeValidationFailed, "unknown deactivation initiator %q", initiator)
	}
	return s.mutate(ctx, "requestDeactivation", phone, func(ctx context.Context, tx repository.Store, a *models.PhoneAsset) ([]events.Event, bool, error) {
		if err := s.authorizeDeactivation(ctx, actor, a, initiator); err != nil {
			return nil, false, err
		}
		if a.Status == target {
			return nil, true, nil
		}
		if a.Status != models.AssetInUse {
			return nil, false, invalidState(a, "request deactivation of")
		}
		if err := noPendingTransfer(ctx, tx, phone); err != nil {
			return nil, false, err
		}
		a.Status = target
		return nil, false, nil
	})
}

// authorizeDeactivation lets holders request on their own behalf; everything
// else needs manage on the asset's department.
func (s *AssetService) authorizeDeactivation(ctx context.Context, actor models.Actor, a *models.PhoneAsset, initiator models.DeactivationInitiator) error {
	if initiator == models.InitiatorUser && a.IsHeldBy(actor.EmployeeID) {
		return nil
	}
	return s.requireScope(ctx, actor, a.DepartmentID, models.ScopeManage)
}

// FinalizeDeactivation retires an asset waiting for deactivation or parked in a risk branch.
func (s *AssetService) FinalizeDeactivation(ctx context.Context, actor models.Actor, phone string) (*models.PhoneAsset, error) {
	return s.mutate(ctx, "finalizeDeactivation", phone, func(ctx context.Context, tx repository.Store, a *models.PhoneAsset) ([]events.Event, bool, error) {
		if !a.Status.IsPendingDeactivation() && !a.Status.IsRisk() {
			return nil, false, invalidState(a, "finalize deactivation of")
		}
		if err := s.requireScope(ctx, actor, a.DepartmentID, models.ScopeManage); err != nil {
			return nil, false, err
		}
		if err := noPendingTransfer(ctx, tx, phone); err != nil {
			return nil, false, err
		}
		a.CloseUsage(s.now())
		a.Status = models.AssetDeactivated
		return nil, false, nil
	})
}

// FlagRisk parks an in_use asset in a risk branch. Holders may self-report.
func (s *AssetService) FlagRisk(ctx context.Context, actor models.Actor, phone string, reason models.RiskReason) (*models.PhoneAsset, error) {
	target, ok := reason.Status()
	if !ok {
		return nil, apierrors.Validation(apierrors.CodeValidationFailed, "unknown risk reason %q", reason)
	}
	return s.mutate(ctx, "flagRisk", phone, func(ctx context.Context, _ repository.Store, a *models.PhoneAsset) ([]events.Event, bool, error) {
		if a.Status != models.AssetInUse {
			return nil, false, invalidState(a, "flag risk on")
		}
		if !(reason == models.RiskUserReported && a.IsHeldBy(actor.EmployeeID)) {
			if err := s.requireScope(ctx, actor, a.DepartmentID, models.ScopeManage); err != nil {
				return nil, false, err
			}
		}
		a.Status = target
		r := reason
		a.RiskReason = &r
		if reason == models.RiskApplicantDeparted {
			a.ApplicantStatusSnapshot = models.EmploymentDeparted
		}
		return []events.Event{events.ForAssetRiskFlagged(a, reason, s.now())}, false, nil
	})
}

// ClearRisk returns a risk-flagged asset to in_use after a false alarm.
func (s *AssetService) ClearRisk(ctx context.Context, actor models.Actor, phone string) (*models.PhoneAsset, error) {
	return s.mutate(ctx, "clearRisk", phone, func(ctx context.Context, _ repository.Store, a *models.PhoneAsset) ([]events.Event, bool, error) {
		if !a.Status.IsRisk() {
			return nil, false, invalidState(a, "clear risk on")
		}
		if err := s.requireScope(ctx, actor, a.DepartmentID, models.ScopeManage); err != nil {
			return nil, false, err
		}
		a.Status = models.AssetInUse
		a.RiskReason = nil
		return nil, false, nil
	})
}

// hold moves an asset between in_use and one of the operational holds.
func (s *AssetService) hold(ctx context.Context, actor models.Actor, op, phone string, from, to models.AssetStatus) (*models.PhoneAsset, error) {
	return s.mutate(ctx, op, phone, func(ctx context.Context, tx repository.Store, a *models.PhoneAsset) ([]events.Event, bool, error) {
		if a.Status != from {
			return nil, false, invalidState(a, op)
		}
		if err := s.requireScope(ctx, actor, a.DepartmentID, models.ScopeManage); err != nil {
			return nil, false, err
		}
		if err := noPendingTransfer(ctx, tx, phone); err != nil {
			return nil, false, err
		}
		a.Status = to
		return nil, false, nil
	})
}

// Suspend places an in_use asset on hold.
func (s *AssetService) Suspend(ctx context.Context, actor models.Actor, phone string) (*models.PhoneAsset, error) {
	return s.hold(ctx, actor, "suspend", phone, models.AssetInUse, models.AssetSuspended)
}

// Resume lifts a suspension.
func (s *AssetService) Resume(ctx context.Context, actor models.Actor, phone string) (*models.PhoneAsset, error) {
	return s.hold(ctx, actor, "resume", phone, models.AssetSuspended, models.AssetInUse)
}

// StartCardReplacement marks the SIM card as being replaced.
func (s *AssetService) StartCardReplacement(ctx context.Context, actor models.Actor, phone string) (*models.PhoneAsset, error) {
	return s.hold(ctx, actor, "startCardReplacement", phone, models.AssetInUse, models.AssetCardReplacing)
}

// FinishCardReplacement returns the asset to in_use.
func (s *AssetService) FinishCardReplacement(ctx context.Context, actor models.Actor, phone string) (*models.PhoneAsset, error) {
	return s.hold(ctx, actor, "finishCardReplacement", phone, models.AssetCardReplacing, models.AssetInUse)
}

// DeleteAsset removes an asset that was never used.
func (s *AssetService) DeleteAsset(ctx context.Context, actor models.Actor, phone string) (err error) {
	done := s.observe("deleteAsset")
	defer func() { done(err) }()

	return s.withKey(ctx, keylock.AssetKey(phone), func() error {
		return storeErr(s.store.Atomic(ctx, func(tx repository.Store) error {
			a, err := loadAsset(ctx, tx, phone)
			if err != nil {
				return err
			}
			if err := s.requireScope(ctx, actor, a.DepartmentID, models.ScopeManage); err != nil {
				return err
			}
			if len(a.UsageHistory) > 0 {
				return apierrors.Conflict(apierrors.CodeAssetHasHistory,
					"phone asset %s has %d usage entries and cannot be deleted", phone, len(a.UsageHistory))
			}
			if err := noPendingTransfer(ctx, tx, phone); err != nil {
				return err
			}
			return storeErr(tx.DeleteAsset(ctx, phone), "delete asset")
		}), "delete asset")
	})
}

// GetAsset returns an asset visible to actor: its holder, or an administrator
// with view on its department.
func (s *AssetService) GetAsset(ctx context.Context, actor models.Actor, phone string) (*models.PhoneAsset, error) {
	a, err := loadAsset(ctx, s.store, phone)
	if err != nil {
		return nil, err
	}
	if a.IsHeldBy(actor.EmployeeID) {
		return a, nil
	}
	if err := s.requireScope(ctx, actor, a.DepartmentID, models.ScopeView); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssets returns the assets matching filter within actor's visibility.
// Employees see what they hold; administrators see their viewable departments.
func (s *AssetService) ListAssets(ctx context.Context, actor models.Actor, filter models.AssetFilter) ([]*models.PhoneAsset, error) {
	u, err := s.user(ctx, actor)
	if err != nil {
		return nil, err
	}
	if u == nil {
		if actor.EmployeeID == 0 {
			return nil, apierrors.New(apierrors.KindForbidden, apierrors.CodeForbidden)
		}
		filter.HolderIDs = []int64{actor.EmployeeID}
	} else if viewable := permission.ViewableDepartmentIDs(u); !viewable.All {
		filter.DepartmentIDs = restrictDepartments(filter.DepartmentIDs, viewable)
		if len(filter.DepartmentIDs) == 0 {
			return []*models.PhoneAsset{}, nil
		}
	}
	list, err := s.store.ListAssets(ctx, filter)
	if err != nil {
		return nil, apierrors.Internal(err, "failed to list assets")
	}
	return list, nil
}

func restrictDepartments(requested []int64, allowed permission.DepartmentSet) []int64 {
	if len(requested) == 0 {
		return allowed.Sorted()
	}
	var out []int64
	for _, id := range requested {
		if allowed.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// SweepDepartedApplicants flags every in_use asset whose applicant has left
// since the asset was last checked. It returns the number of assets flagged.
func (s *AssetService) SweepDepartedApplicants(ctx context.Context) (int, error) {
	list, err := s.store.ListAssets(ctx, models.AssetFilter{Statuses: []models.AssetStatus{models.AssetInUse}})
	if err != nil {
		return 0, apierrors.Internal(err, "failed to list assets")
	}
	flagged := 0
	for _, a := range list {
		if a.ApplicantStatusSnapshot == models.EmploymentDeparted {
			continue
		}
		applicant, err := s.dir.GetEmployee(ctx, a.ApplicantEmployeeID)
		if err != nil {
			s.logger.Warn("risk sweep: applicant lookup failed",
				zap.String("phone_number", a.PhoneNumber), zap.Int64("applicant", a.ApplicantEmployeeID), zap.Error(err))
			continue
		}
		if applicant.IsActive() {
			continue
		}
		_, err = s.FlagRisk(ctx, models.SystemActor, a.PhoneNumber, models.RiskApplicantDeparted)
		switch {
		case err == nil:
			flagged++
		case errors.Is(err, apierrors.ErrInvalidState), errors.Is(err, apierrors.ErrNotFound):
			// changed since listing
		default:
			return flagged, err
		}
	}
	return flagged, nil
}
