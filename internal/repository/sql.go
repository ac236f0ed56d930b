package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/goatkit/phonedesk/internal/models"
)

const assetColumns = `phone_number, status, applicant_employee_id, applicant_status_snapshot,
	current_user_employee_id, vendor, purpose, department_id, risk_reason, created_at, updated_at`

const transferColumns = `id, phone_number, from_employee_id, to_employee_id, remark, state, created_at, resolved_at`

const taskColumns = `id, name, due_at, scope_type, status, created_by, created_at, closed_at`

const itemColumns = `id, task_id, phone_number, department_id, employee_id, status, purpose, comment, updated_at`

// SQLStore is a Store over the phonedesk schema. Queries use ? placeholders
// rebound for the connected driver.
type SQLStore struct {
	db   *sqlx.DB
	ext  sqlx.ExtContext
	inTx bool
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a store over db.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, ext: db}
}

// Atomic implements Store. Calls made on a transactional store join the
// running transaction.
func (s *SQLStore) Atomic(ctx context.Context, fn func(tx Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&SQLStore{db: s.db, ext: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) within(ctx context.Context, fn func(tx *SQLStore) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.Atomic(ctx, func(tx Store) error {
		return fn(tx.(*SQLStore))
	})
}

func (s *SQLStore) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, s.ext, dest, s.ext.Rebind(query), args...)
}

func (s *SQLStore) selectIn(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	q, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, s.ext, dest, s.ext.Rebind(q), expanded...)
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.ext.ExecContext(ctx, s.ext.Rebind(query), args...)
}

func (s *SQLStore) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var n int
	if err := s.get(ctx, &n, query, args...); err != nil {
		return 0, err
	}
	return n, nil
}

type historyRow struct {
	PhoneNumber string `db:"phone_number"`
	models.UsageEntry
}

// GetAsset implements AssetRepository.
func (s *SQLStore) GetAsset(ctx context.Context, phone string) (*models.PhoneAsset, error) {
	var a models.PhoneAsset
	err := s.get(ctx, &a, `SELECT `+assetColumns+` FROM phone_assets WHERE phone_number = ?`, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", phone, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	if err := s.loadHistory(ctx, []*models.PhoneAsset{&a}); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLStore) loadHistory(ctx context.Context, assets []*models.PhoneAsset) error {
	if len(assets) == 0 {
		return nil
	}
	byPhone := make(map[string]*models.PhoneAsset, len(assets))
	phones := make([]string, 0, len(assets))
	for _, a := range assets {
		a.UsageHistory = []models.UsageEntry{}
		byPhone[a.PhoneNumber] = a
		phones = append(phones, a.PhoneNumber)
	}
	var rows []historyRow
	if err := s.selectIn(ctx, &rows, `
		SELECT phone_number, employee_id, start_date, end_date
		FROM asset_usage_history
		WHERE phone_number IN (?)
		ORDER BY phone_number, seq`, phones); err != nil {
		return fmt.Errorf("failed to load usage history: %w", err)
	}
	for _, r := range rows {
		if a, ok := byPhone[r.PhoneNumber]; ok {
			a.UsageHistory = append(a.UsageHistory, r.UsageEntry)
		}
	}
	return nil
}

// ListAssets implements AssetRepository.
func (s *SQLStore) ListAssets(ctx context.Context, filter models.AssetFilter) ([]*models.PhoneAsset, error) {
	var where []string
	var args []interface{}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN (?)")
		args = append(args, filter.Statuses)
	}
	if len(filter.DepartmentIDs) > 0 {
		where = append(where, "department_id IN (?)")
		args = append(args, filter.DepartmentIDs)
	}
	if len(filter.HolderIDs) > 0 {
		where = append(where, "current_user_employee_id IN (?)")
		args = append(args, filter.HolderIDs)
	}
	if filter.ApplicantID != 0 {
		where = append(where, "applicant_employee_id = ?")
		args = append(args, filter.ApplicantID)
	}
	if filter.Vendor != "" {
		where = append(where, "vendor = ?")
		args = append(args, filter.Vendor)
	}

	query := `SELECT ` + assetColumns + ` FROM phone_assets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY phone_number"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	var assets []*models.PhoneAsset
	if err := s.selectIn(ctx, &assets, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	if filter.Limit <= 0 {
		assets = page(assets, 0, filter.Offset)
	}
	if err := s.loadHistory(ctx, assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// CreateAsset implements AssetRepository.
func (s *SQLStore) CreateAsset(ctx context.Context, a *models.PhoneAsset) error {
	return s.within(ctx, func(tx *SQLStore) error {
		n, err := tx.count(ctx, `SELECT COUNT(*) FROM phone_assets WHERE phone_number = ?`, a.PhoneNumber)
		if err != nil {
			return fmt.Errorf("failed to check asset: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("asset %s: %w", a.PhoneNumber, ErrDuplicate)
		}
		if _, err := tx.exec(ctx, `
			INSERT INTO phone_assets (`+assetColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.PhoneNumber, a.Status, a.ApplicantEmployeeID, a.ApplicantStatusSnapshot,
			a.CurrentUserEmployeeID, a.Vendor, a.Purpose, a.DepartmentID, a.RiskReason,
			a.CreatedAt, a.UpdatedAt); err != nil {
			return fmt.Errorf("failed to insert asset: %w", err)
		}
		return tx.writeHistory(ctx, a)
	})
}

func (s *SQLStore) writeHistory(ctx context.Context, a *models.PhoneAsset) error {
	for i, e := range a.UsageHistory {
		if _, err := s.exec(ctx, `
			INSERT INTO asset_usage_history (phone_number, seq, employee_id, start_date, end_date)
			VALUES (?, ?, ?, ?, ?)`,
			a.PhoneNumber, i, e.EmployeeID, e.StartDate, e.EndDate); err != nil {
			return fmt.Errorf("failed to insert usage history: %w", err)
		}
	}
	return nil
}

// UpdateAsset implements AssetRepository. The usage history is rewritten.
func (s *SQLStore) UpdateAsset(ctx context.Context, a *models.PhoneAsset) error {
	return s.within(ctx, func(tx *SQLStore) error {
		res, err := tx.exec(ctx, `
			UPDATE phone_assets
			SET status = ?, applicant_employee_id = ?, applicant_status_snapshot = ?,
				current_user_employee_id = ?, vendor = ?, purpose = ?, department_id = ?,
				risk_reason = ?, updated_at = ?
			WHERE phone_number = ?`,
			a.Status, a.ApplicantEmployeeID, a.ApplicantStatusSnapshot,
			a.CurrentUserEmployeeID, a.Vendor, a.Purpose, a.DepartmentID,
			a.RiskReason, a.UpdatedAt, a.PhoneNumber)
		if err != nil {
			return fmt.Errorf("failed to update asset: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("asset %s: %w", a.PhoneNumber, ErrNotFound)
		}
		if _, err := tx.exec(ctx, `DELETE FROM asset_usage_history WHERE phone_number = ?`, a.PhoneNumber); err != nil {
			return fmt.Errorf("failed to clear usage history: %w", err)
		}
		return tx.writeHistory(ctx, a)
	})
}

// DeleteAsset implements AssetRepository.
func (s *SQLStore) DeleteAsset(ctx context.Context, phone string) error {
	return s.within(ctx, func(tx *SQLStore) error {
		if _, err := tx.exec(ctx, `DELETE FROM asset_usage_history WHERE phone_number = ?`, phone); err != nil {
			return fmt.Errorf("failed to delete usage history: %w", err)
		}
		res, err := tx.exec(ctx, `DELETE FROM phone_assets WHERE phone_number = ?`, phone)
		if err != nil {
			return fmt.Errorf("failed to delete asset: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("asset %s: %w", phone, ErrNotFound)
		}
		return nil
	})
}

// GetTransfer implements TransferRepository.
func (s *SQLStore) GetTransfer(ctx context.Context, id string) (*models.TransferRequest, error) {
	var r models.TransferRequest
	err := s.get(ctx, &r, `SELECT `+transferColumns+` FROM transfer_requests WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transfer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return &r, nil
}

// PendingTransfer implements TransferRepository.
func (s *SQLStore) PendingTransfer(ctx context.Context, phone string) (*models.TransferRequest, error) {
	var r models.TransferRequest
	err := s.get(ctx, &r, `
		SELECT `+transferColumns+`
		FROM transfer_requests
		WHERE phone_number = ? AND state = ?`, phone, models.TransferPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending transfer: %w", err)
	}
	return &r, nil
}

// ListTransfers implements TransferRepository.
func (s *SQLStore) ListTransfers(ctx context.Context, filter models.TransferFilter) ([]*models.TransferRequest, error) {
	var where []string
	var args []interface{}
	if filter.PhoneNumber != "" {
		where = append(where, "phone_number = ?")
		args = append(args, filter.PhoneNumber)
	}
	if filter.EmployeeID != 0 {
		where = append(where, "(from_employee_id = ? OR to_employee_id = ?)")
		args = append(args, filter.EmployeeID, filter.EmployeeID)
	}
	if len(filter.States) > 0 {
		where = append(where, "state IN (?)")
		args = append(args, filter.States)
	}
	query := `SELECT ` + transferColumns + ` FROM transfer_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	var out []*models.TransferRequest
	if err := s.selectIn(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return out, nil
}

// CreateTransfer implements TransferRepository.
func (s *SQLStore) CreateTransfer(ctx context.Context, r *models.TransferRequest) error {
	return s.within(ctx, func(tx *SQLStore) error {
		if r.IsPending() {
			n, err := tx.count(ctx, `
				SELECT COUNT(*) FROM transfer_requests
				WHERE phone_number = ? AND state = ?`, r.PhoneNumber, models.TransferPending)
			if err != nil {
				return fmt.Errorf("failed to check pending transfers: %w", err)
			}
			if n > 0 {
				return fmt.Errorf("pending transfer for %s: %w", r.PhoneNumber, ErrDuplicate)
			}
		}
		if _, err := tx.exec(ctx, `
			INSERT INTO transfer_requests (`+transferColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.PhoneNumber, r.FromEmployeeID, r.ToEmployeeID, r.Remark, r.State,
			r.CreatedAt, r.ResolvedAt); err != nil {
			return fmt.Errorf("failed to insert transfer: %w", err)
		}
		return nil
	})
}

// UpdateTransfer implements TransferRepository.
func (s *SQLStore) UpdateTransfer(ctx context.Context, r *models.TransferRequest) error {
	res, err := s.exec(ctx, `
		UPDATE transfer_requests SET state = ?, remark = ?, resolved_at = ?
		WHERE id = ?`, r.State, r.Remark, r.ResolvedAt, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update transfer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transfer %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

type scopeRow struct {
	TaskID string `db:"task_id"`
	Value  int64  `db:"value"`
}

func (s *SQLStore) loadScopes(ctx context.Context, tasks []*models.InventoryTask) error {
	if len(tasks) == 0 {
		return nil
	}
	byID := make(map[string]*models.InventoryTask, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		t.ScopeValues = []int64{}
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}
	var rows []scopeRow
	if err := s.selectIn(ctx, &rows, `
		SELECT task_id, value FROM inventory_task_scopes
		WHERE task_id IN (?)
		ORDER BY task_id, value`, ids); err != nil {
		return fmt.Errorf("failed to load task scopes: %w", err)
	}
	for _, r := range rows {
		if t, ok := byID[r.TaskID]; ok {
			t.ScopeValues = append(t.ScopeValues, r.Value)
		}
	}
	return nil
}

// GetTask implements TaskRepository.
func (s *SQLStore) GetTask(ctx context.Context, id string) (*models.InventoryTask, error) {
	var t models.InventoryTask
	err := s.get(ctx, &t, `SELECT `+taskColumns+` FROM inventory_tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if err := s.loadScopes(ctx, []*models.InventoryTask{&t}); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks implements TaskRepository.
func (s *SQLStore) ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.InventoryTask, error) {
	var where []string
	var args []interface{}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN (?)")
		args = append(args, filter.Statuses)
	}
	if filter.DueBefore != nil {
		where = append(where, "due_at < ?")
		args = append(args, *filter.DueBefore)
	}
	query := `SELECT ` + taskColumns + ` FROM inventory_tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	var tasks []*models.InventoryTask
	if err := s.selectIn(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	if err := s.loadScopes(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateTask implements TaskRepository.
func (s *SQLStore) CreateTask(ctx context.Context, t *models.InventoryTask, items []*models.InventoryTaskItem) error {
	return s.within(ctx, func(tx *SQLStore) error {
		if _, err := tx.exec(ctx, `
			INSERT INTO inventory_tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Name, t.DueAt, t.ScopeType, t.Status, t.CreatedBy, t.CreatedAt, t.ClosedAt); err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
		for _, v := range t.ScopeValues {
			if _, err := tx.exec(ctx, `
				INSERT INTO inventory_task_scopes (task_id, value) VALUES (?, ?)`, t.ID, v); err != nil {
				return fmt.Errorf("failed to insert task scope: %w", err)
			}
		}
		for _, it := range items {
			if _, err := tx.exec(ctx, `
				INSERT INTO inventory_task_items (`+itemColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				it.ID, it.TaskID, it.PhoneNumber, it.DepartmentID, it.EmployeeID, it.Status,
				it.Purpose, it.Comment, it.UpdatedAt); err != nil {
				return fmt.Errorf("failed to insert task item: %w", err)
			}
		}
		return nil
	})
}

// UpdateTask implements TaskRepository. Scope values are immutable.
func (s *SQLStore) UpdateTask(ctx context.Context, t *models.InventoryTask) error {
	res, err := s.exec(ctx, `
		UPDATE inventory_tasks SET name = ?, due_at = ?, status = ?, closed_at = ?
		WHERE id = ?`, t.Name, t.DueAt, t.Status, t.ClosedAt, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// GetItem implements TaskRepository.
func (s *SQLStore) GetItem(ctx context.Context, taskID, itemID string) (*models.InventoryTaskItem, error) {
	var it models.InventoryTaskItem
	err := s.get(ctx, &it, `
		SELECT `+itemColumns+` FROM inventory_task_items
		WHERE task_id = ? AND id = ?`, taskID, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task item %s/%s: %w", taskID, itemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task item: %w", err)
	}
	return &it, nil
}

// ListItems implements TaskRepository.
func (s *SQLStore) ListItems(ctx context.Context, taskID string, filter models.TaskItemFilter) ([]*models.InventoryTaskItem, error) {
	where := []string{"task_id = ?"}
	args := []interface{}{taskID}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN (?)")
		args = append(args, filter.Statuses)
	}
	if filter.EmployeeID != 0 {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.DepartmentID != 0 {
		where = append(where, "department_id = ?")
		args = append(args, filter.DepartmentID)
	}
	query := `SELECT ` + itemColumns + ` FROM inventory_task_items WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY phone_number, id`

	var out []*models.InventoryTaskItem
	if err := s.selectIn(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list task items: %w", err)
	}
	return out, nil
}

// UpdateItem implements TaskRepository.
func (s *SQLStore) UpdateItem(ctx context.Context, it *models.InventoryTaskItem) error {
	res, err := s.exec(ctx, `
		UPDATE inventory_task_items SET status = ?, purpose = ?, comment = ?, updated_at = ?
		WHERE task_id = ? AND id = ?`,
		it.Status, it.Purpose, it.Comment, it.UpdatedAt, it.TaskID, it.ID)
	if err != nil {
		return fmt.Errorf("failed to update task item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task item %s/%s: %w", it.TaskID, it.ID, ErrNotFound)
	}
	return nil
}

// CreateUnlistedReport implements TaskRepository.
func (s *SQLStore) CreateUnlistedReport(ctx context.Context, r *models.UnlistedPhoneReport) error {
	if _, err := s.exec(ctx, `
		INSERT INTO unlisted_phone_reports (id, task_id, employee_id, phone_number, purpose, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.EmployeeID, r.PhoneNumber, r.Purpose, r.Comment, r.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert unlisted report: %w", err)
	}
	return nil
}

// ListUnlistedReports implements TaskRepository.
func (s *SQLStore) ListUnlistedReports(ctx context.Context, taskID string) ([]*models.UnlistedPhoneReport, error) {
	var out []*models.UnlistedPhoneReport
	if err := sqlx.SelectContext(ctx, s.ext, &out, s.ext.Rebind(`
		SELECT id, task_id, employee_id, phone_number, purpose, comment, created_at
		FROM unlisted_phone_reports
		WHERE task_id = ?
		ORDER BY created_at, id`), taskID); err != nil {
		return nil, fmt.Errorf("failed to list unlisted reports: %w", err)
	}
	return out, nil
}

// SaveSubmission implements TaskRepository.
func (s *SQLStore) SaveSubmission(ctx context.Context, sub *models.TaskSubmission) (*models.TaskSubmission, bool, error) {
	var stored *models.TaskSubmission
	created := false
	err := s.within(ctx, func(tx *SQLStore) error {
		var existing models.TaskSubmission
		err := tx.get(ctx, &existing, `
			SELECT task_id, employee_id, submitted_at FROM task_submissions
			WHERE task_id = ? AND employee_id = ?`, sub.TaskID, sub.EmployeeID)
		if err == nil {
			stored = &existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to get submission: %w", err)
		}
		if _, err := tx.exec(ctx, `
			INSERT INTO task_submissions (task_id, employee_id, submitted_at)
			VALUES (?, ?, ?)`, sub.TaskID, sub.EmployeeID, sub.SubmittedAt); err != nil {
			return fmt.Errorf("failed to insert submission: %w", err)
		}
		c := *sub
		stored, created = &c, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}
