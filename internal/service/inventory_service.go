package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/goatkit/phonedesk/internal/apierrors"
	"github.com/goatkit/phonedesk/internal/directory"
	"github.com/goatkit/phonedesk/internal/events"
	"github.com/goatkit/phonedesk/internal/keylock"
	"github.com/goatkit/phonedesk/internal/models"
	"github.com/goatkit/phonedesk/internal/repository"
)

// InventoryService runs inventory verification tasks.
type InventoryService struct {
	core
}

// NewInventoryService creates an inventory service.
func NewInventoryService(store repository.Store, dir directory.Directory, opts ...Option) *InventoryService {
	return &InventoryService{core: newCore(store, dir, opts)}
}

// CreateTaskInput describes a new inventory task.
type CreateTaskInput struct {
	Name        string               `json:"name"`
	DueAt       time.Time            `json:"due_at"`
	ScopeType   models.TaskScopeType `json:"scope_type"`
	ScopeValues []int64              `json:"scope_values"`
}

// ItemActionInput is a verifier's answer for one task item.
type ItemActionInput struct {
	TaskID  string            `json:"task_id"`
	ItemID  string            `json:"item_id"`
	Action  models.ItemAction `json:"action"`
	Purpose *string           `json:"purpose,omitempty"`
	Comment *string           `json:"comment,omitempty"`
}

// UnlistedPhoneInput declares a number missing from a task.
type UnlistedPhoneInput struct {
	PhoneNumber string `json:"phone_number"`
	Purpose     string `json:"purpose"`
	Comment     string `json:"comment"`
}

func loadTask(ctx context.Context, repo repository.TaskRepository, id string) (*models.InventoryTask, error) {
	t, err := repo.GetTask(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apierrors.NotFound(apierrors.CodeTaskNotFound, "inventory task %s not found", id)
	}
	if err != nil {
		return nil, apierrors.Internal(err, "failed to load inventory task")
	}
	return t, nil
}

func openTask(t *models.InventoryTask) error {
	if t.Status == models.TaskClosed {
		return apierrors.InvalidState(apierrors.CodeTaskClosed, "inventory task %s is closed", t.ID)
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// scopeDepartments resolves the departments a task scope touches.
func (s *InventoryService) scopeDepartments(ctx context.Context, scopeType models.TaskScopeType, values []int64) ([]int64, error) {
	switch scopeType {
	case models.ScopeDepartmentIDs:
		for _, id := range values {
			if _, err := s.dir.GetDepartment(ctx, id); err != nil {
				if errors.Is(err, directory.ErrNotFound) {
					return nil, apierrors.NotFound(apierrors.CodeNotFound, "department %d not found", id)
				}
				return nil, apierrors.Internal(err, "failed to load department")
			}
		}
		return values, nil
	case models.ScopeEmployeeIDs:
		depts := make([]int64, 0, len(values))
		for _, id := range values {
			e, err := s.employee(ctx, id)
			if err != nil {
				return nil, err
			}
			depts = append(depts, e.DepartmentID)
		}
		return uniqueIDs(depts), nil
	}
	return nil, apierrors.Validation(apierrors.CodeTaskInvalidScope, "unknown scope type %q", scopeType)
}

// CreateTask snapshots the audit-eligible assets in scope into pending items.
func (s *InventoryService) CreateTask(ctx context.Context, actor models.Actor, in CreateTaskInput) (out *models.InventoryTask, err error) {
	done := s.observe("createTask")
	defer func() { done(err) }()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apierrors.Validation(apierrors.CodeValidationFailed, "task name is required")
	}
	if !in.ScopeType.Valid() {
		return nil, apierrors.Validation(apierrors.CodeTaskInvalidScope, "unknown scope type %q", in.ScopeType)
	}
	values := uniqueIDs(in.ScopeValues)
	if len(values) == 0 {
		return nil, apierrors.Validation(apierrors.CodeTaskInvalidScope, "scope values must not be empty")
	}
	now := s.now()
	if !in.DueAt.After(now) {
		return nil, apierrors.Validation(apierrors.CodeTaskDueDateInPast, "due date must be in the future")
	}

	depts, err := s.scopeDepartments(ctx, in.ScopeType, values)
	if err != nil {
		return nil, err
	}
	for _, d := range depts {
		if err := s.requireScope(ctx, actor, d, models.ScopeManage); err != nil {
			return nil, err
		}
	}

	filter := models.AssetFilter{}
	if in.ScopeType == models.ScopeDepartmentIDs {
		filter.DepartmentIDs = values
	} else {
		filter.HolderIDs = values
	}
	assets, err := s.store.ListAssets(ctx, filter)
	if err != nil {
		return nil, apierrors.Internal(err, "failed to list assets")
	}

	task := &models.InventoryTask{
		ID:          s.newID(),
		Name:        name,
		DueAt:       in.DueAt,
		ScopeType:   in.ScopeType,
		ScopeValues: values,
		CreatedBy:   actor.UserID,
		CreatedAt:   now,
	}
	items := make([]*models.InventoryTaskItem, 0, len(assets))
	for _, a := range assets {
		if !a.Status.AuditEligible() {
			continue
		}
		items = append(items, &models.InventoryTaskItem{
			ID:           s.newID(),
			TaskID:       task.ID,
			PhoneNumber:  a.PhoneNumber,
			DepartmentID: a.DepartmentID,
			EmployeeID:   a.CurrentHolder(),
			Status:       models.ItemPending,
			UpdatedAt:    now,
		})
	}
	task.Status = models.AggregateTaskStatus(models.TaskPending, items)

	if err := s.store.Atomic(ctx, func(tx repository.Store) error {
		return tx.CreateTask(ctx, task, items)
	}); err != nil {
		return nil, storeErr(err, "create inventory task")
	}
	s.publish(ctx, events.ForTaskCreated(task, items, now))
	s.logger.Info("inventory task created",
		zap.String("task_id", task.ID), zap.String("scope_type", string(task.ScopeType)), zap.Int("items", len(items)))
	return task, nil
}

// authorizeItem admits the live holder of the item's asset or an
// administrator with manage on the item's originating department.
func (s *InventoryService) authorizeItem(ctx context.Context, tx repository.Store, actor models.Actor, item *models.InventoryTaskItem) error {
	if actor.EmployeeID != 0 {
		a, err := tx.GetAsset(ctx, item.PhoneNumber)
		switch {
		case err == nil:
			if a.IsHeldBy(actor.EmployeeID) {
				return nil
			}
		case !errors.Is(err, repository.ErrNotFound):
			return apierrors.Internal(err, "failed to load asset")
		}
	}
	ok, err := s.allowed(ctx, actor, item.DepartmentID, models.ScopeManage)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.Forbidden(apierrors.CodeForbidden, "not allowed to verify item %s", item.ID)
	}
	return nil
}

// holders returns, per item, the employee holding its asset right now, or 0
// when the asset is unassigned or gone. Custody moves with accepted
// transfers; the stored item keeps the holder captured at task creation.
func (s *InventoryService) holders(ctx context.Context, items []*models.InventoryTaskItem) ([]int64, error) {
	out := make([]int64, len(items))
	for i, it := range items {
		a, err := s.store.GetAsset(ctx, it.PhoneNumber)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apierrors.Internal(err, "failed to load asset")
		}
		out[i] = a.CurrentHolder()
	}
	return out, nil
}

// employeeItems lists the items of a task that employeeID answers for: those
// whose asset they hold now and, with snapshot set, those captured for them
// at task creation.
func (s *InventoryService) employeeItems(ctx context.Context, taskID string, employeeID int64, filter models.TaskItemFilter, snapshot bool) ([]*models.InventoryTaskItem, error) {
	filter.EmployeeID = 0
	items, err := s.store.ListItems(ctx, taskID, filter)
	if err != nil {
		return nil, apierrors.Internal(err, "failed to list task items")
	}
	held, err := s.holders(ctx, items)
	if err != nil {
		return nil, err
	}
	var out []*models.InventoryTaskItem
	for i, it := range items {
		if held[i] == employeeID || (snapshot && it.EmployeeID == employeeID) {
			out = append(out, it)
		}
	}
	return out, nil
}

// PerformItemAction confirms an item or marks it unavailable. Confirmed
// items may be answered again; unavailable items are final for the task.
func (s *InventoryService) PerformItemAction(ctx context.Context, actor models.Actor, in ItemActionInput) (out *models.InventoryTaskItem, err error) {
	done := s.observe("performItemAction")
	defer func() { done(err) }()

	target, ok := in.Action.ResultStatus()
	if !ok {
		return nil, apierrors.Validation(apierrors.CodeValidationFailed, "unknown item action %q", in.Action)
	}

	err = s.withKey(ctx, keylock.TaskKey(in.TaskID), func() error {
		return s.withKey(ctx, keylock.ItemKey(in.TaskID, in.ItemID), func() error {
			return s.store.Atomic(ctx, func(tx repository.Store) error {
				task, err := loadTask(ctx, tx, in.TaskID)
				if err != nil {
					return err
				}
				if err := openTask(task); err != nil {
					return err
				}
				item, err := tx.GetItem(ctx, in.TaskID, in.ItemID)
				if errors.Is(err, repository.ErrNotFound) {
					return apierrors.NotFound(apierrors.CodeTaskItemNotFound, "item %s not found in task %s", in.ItemID, in.TaskID)
				}
				if err != nil {
					return apierrors.Internal(err, "failed to load task item")
				}
				if err := s.authorizeItem(ctx, tx, actor, item); err != nil {
					return err
				}
				if item.Status == models.ItemUnavailable {
					return apierrors.InvalidState(apierrors.CodeTaskItemTerminal, "item %s is already marked unavailable", item.ID)
				}

				item.Status = target
				if in.Purpose != nil {
					item.Purpose = in.Purpose
				}
				if in.Comment != nil {
					item.Comment = in.Comment
				}
				item.UpdatedAt = s.now()
				if err := tx.UpdateItem(ctx, item); err != nil {
					return storeErr(err, "update task item")
				}
				out = item
				return aggregate(ctx, tx, task)
			})
		})
	})
	if err != nil {
		return nil, storeErr(err, "perform item action")
	}

	s.publish(ctx, events.ForTaskItemUpdated(out, out.UpdatedAt))
	return out, nil
}

// aggregate stores the status derived from the task's items. Callers hold
// the task key, so closing a task and answering its items never interleave.
func aggregate(ctx context.Context, tx repository.Store, task *models.InventoryTask) error {
	items, err := tx.ListItems(ctx, task.ID, models.TaskItemFilter{})
	if err != nil {
		return apierrors.Internal(err, "failed to list task items")
	}
	status := models.AggregateTaskStatus(task.Status, items)
	if status == task.Status {
		return nil
	}
	task.Status = status
	return storeErr(tx.UpdateTask(ctx, task), "update inventory task")
}

// ReportUnlistedPhone records a number the employee uses that the task does
// not list. It creates no item and does not change the task status.
func (s *InventoryService) ReportUnlistedPhone(ctx context.Context, actor models.Actor, taskID string, in UnlistedPhoneInput) (out *models.UnlistedPhoneReport, err error) {
	done := s.observe("reportUnlistedPhone")
	defer func() { done(err) }()

	if actor.EmployeeID == 0 {
		return nil, apierrors.Forbidden(apierrors.CodeForbidden, "only employees may report unlisted phones")
	}
	phone := strings.TrimSpace(in.PhoneNumber)
	if phone == "" {
		return nil, apierrors.Validation(apierrors.CodeValidationFailed, "phone number is required")
	}

	task, err := loadTask(ctx, s.store, taskID)
	if err != nil {
		return nil, err
	}
	if err := openTask(task); err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, taskID, models.TaskItemFilter{})
	if err != nil {
		return nil, apierrors.Internal(err, "failed to list task items")
	}
	for _, it := range items {
		if it.PhoneNumber == phone {
			return nil, apierrors.Conflict(apierrors.CodeTaskPhoneListed, "phone %s is already listed in task %s", phone, taskID)
		}
	}

	report := &models.UnlistedPhoneReport{
		ID:          s.newID(),
		TaskID:      taskID,
		EmployeeID:  actor.EmployeeID,
		PhoneNumber: phone,
		Purpose:     in.Purpose,
		Comment:     in.Comment,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateUnlistedReport(ctx, report); err != nil {
		return nil, storeErr(err, "create unlisted phone report")
	}
	return report, nil
}

// SubmitTask finalizes the calling employee's portion of a task once none of
// the items whose asset they currently hold is pending. Repeated submissions
// return the first record.
func (s *InventoryService) SubmitTask(ctx context.Context, actor models.Actor, taskID string) (out *models.TaskSubmission, err error) {
	done := s.observe("submitTask")
	defer func() { done(err) }()

	if actor.EmployeeID == 0 {
		return nil, apierrors.Forbidden(apierrors.CodeForbidden, "only employees may submit a task")
	}
	created := false
	err = s.withKey(ctx, keylock.TaskKey(taskID), func() error {
		task, err := loadTask(ctx, s.store, taskID)
		if err != nil {
			return err
		}
		if err := openTask(task); err != nil {
			return err
		}
		items, err := s.employeeItems(ctx, taskID, actor.EmployeeID, models.TaskItemFilter{}, false)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return apierrors.Validation(apierrors.CodeValidationFailed, "employee %d has no items in task %s", actor.EmployeeID, taskID)
		}
		pending := 0
		for _, it := range items {
			if it.Status == models.ItemPending {
				pending++
			}
		}
		if pending > 0 {
			return apierrors.InvalidState(apierrors.CodeTaskItemsPending, "%d item(s) still pending", pending)
		}
		out, created, err = s.store.SaveSubmission(ctx, &models.TaskSubmission{
			TaskID:      taskID,
			EmployeeID:  actor.EmployeeID,
			SubmittedAt: s.now(),
		})
		return storeErr(err, "save task submission")
	})
	if err != nil {
		return nil, storeErr(err, "submit task")
	}
	if created {
		s.publish(ctx, events.ForTaskSubmitted(out))
	}
	return out, nil
}

// authorizeTask checks that actor may see task: its creator, an
// administrator with required on every scoped department, or for view an
// employee holding one of its items.
func (s *InventoryService) authorizeTask(ctx context.Context, actor models.Actor, task *models.InventoryTask, required models.Scope) error {
	if actor.UserID != 0 {
		if actor.UserID == task.CreatedBy {
			return nil
		}
		depts, err := s.scopeDepartments(ctx, task.ScopeType, task.ScopeValues)
		if err != nil && !errors.Is(err, apierrors.ErrNotFound) {
			return err
		}
		if err == nil {
			granted := true
			for _, d := range depts {
				ok, err := s.allowed(ctx, actor, d, required)
				if err != nil {
					return err
				}
				granted = granted && ok
			}
			if granted {
				return nil
			}
		} else if ok, aerr := s.allowed(ctx, actor, 0, required); aerr == nil && ok {
			// scope no longer resolves; only super-admins pass
			return nil
		}
	}
	if required == models.ScopeView && actor.EmployeeID != 0 {
		items, err := s.employeeItems(ctx, task.ID, actor.EmployeeID, models.TaskItemFilter{}, true)
		if err != nil {
			return err
		}
		if len(items) > 0 {
			return nil
		}
	}
	return apierrors.Forbidden(apierrors.CodeForbidden, "inventory task %s is not accessible", task.ID)
}

// CloseTask is the administrator override that ends a task in any state.
func (s *InventoryService) CloseTask(ctx context.Context, actor models.Actor, taskID string) (out *models.InventoryTask, err error) {
	done := s.observe("closeTask")
	defer func() { done(err) }()

	err = s.withKey(ctx, keylock.TaskKey(taskID), func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			task, err := loadTask(ctx, tx, taskID)
			if err != nil {
				return err
			}
			if actor.UserID == 0 {
				return apierrors.Forbidden(apierrors.CodeForbidden, "only administrators may close tasks")
			}
			if err := s.authorizeTask(ctx, actor, task, models.ScopeManage); err != nil {
				return err
			}
			out = task
			if task.Status == models.TaskClosed {
				return nil
			}
			now := s.now()
			task.Status = models.TaskClosed
			task.ClosedAt = &now
			return storeErr(tx.UpdateTask(ctx, task), "update inventory task")
		})
	})
	if err != nil {
		return nil, storeErr(err, "close task")
	}
	return out, nil
}

// GetTask returns a task visible to actor.
func (s *InventoryService) GetTask(ctx context.Context, actor models.Actor, taskID string) (*models.InventoryTask, error) {
	task, err := loadTask(ctx, s.store, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeTask(ctx, actor, task, models.ScopeView); err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns the tasks matching filter that actor may see.
func (s *InventoryService) ListTasks(ctx context.Context, actor models.Actor, filter models.TaskFilter) ([]*models.InventoryTask, error) {
	list, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, apierrors.Internal(err, "failed to list inventory tasks")
	}
	out := make([]*models.InventoryTask, 0, len(list))
	for _, task := range list {
		err := s.authorizeTask(ctx, actor, task, models.ScopeView)
		switch {
		case err == nil:
			out = append(out, task)
		case errors.Is(err, apierrors.ErrForbidden):
		default:
			return nil, err
		}
	}
	return out, nil
}

// ListTaskItems returns a task's items. Employees without administrator
// rights only see the items they are responsible for.
func (s *InventoryService) ListTaskItems(ctx context.Context, actor models.Actor, taskID string, filter models.TaskItemFilter) ([]*models.InventoryTaskItem, error) {
	task, err := loadTask(ctx, s.store, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeTask(ctx, actor, task, models.ScopeView); err != nil {
		return nil, err
	}
	if actor.UserID == 0 {
		return s.employeeItems(ctx, taskID, actor.EmployeeID, filter, true)
	}
	items, err := s.store.ListItems(ctx, taskID, filter)
	if err != nil {
		return nil, apierrors.Internal(err, "failed to list task items")
	}
	return items, nil
}

// ListUnlistedReports returns the unlisted-phone reports of a task for
// administrator follow-up.
func (s *InventoryService) ListUnlistedReports(ctx context.Context, actor models.Actor, taskID string) ([]*models.UnlistedPhoneReport, error) {
	task, err := loadTask(ctx, s.store, taskID)
	if err != nil {
		return nil, err
	}
	if actor.UserID == 0 {
		return nil, apierrors.Forbidden(apierrors.CodeForbidden, "only administrators may list unlisted phone reports")
	}
	if err := s.authorizeTask(ctx, actor, task, models.ScopeView); err != nil {
		return nil, err
	}
	reports, err := s.store.ListUnlistedReports(ctx, taskID)
	if err != nil {
		return nil, apierrors.Internal(err, "failed to list unlisted phone reports")
	}
	return reports, nil
}

// RemindOverdue publishes a TaskOverdue event for every open task past its
// due date that still has pending items. It returns the number of reminders.
func (s *InventoryService) RemindOverdue(ctx context.Context) (int, error) {
	now := s.now()
	tasks, err := s.store.ListTasks(ctx, models.TaskFilter{
		Statuses:  []models.TaskStatus{models.TaskPending, models.TaskInProgress},
		DueBefore: &now,
	})
	if err != nil {
		return 0, apierrors.Internal(err, "failed to list inventory tasks")
	}
	sent := 0
	for _, task := range tasks {
		pending, err := s.store.ListItems(ctx, task.ID, models.TaskItemFilter{Statuses: []models.ItemStatus{models.ItemPending}})
		if err != nil {
			return sent, apierrors.Internal(err, "failed to list task items")
		}
		if len(pending) == 0 {
			continue
		}
		held, err := s.holders(ctx, pending)
		if err != nil {
			return sent, err
		}
		current := make([]*models.InventoryTaskItem, len(pending))
		for i, it := range pending {
			c := *it
			c.EmployeeID = held[i]
			current[i] = &c
		}
		s.publish(ctx, events.ForTaskOverdue(task, current, now))
		sent++
	}
	return sent, nil
}
