package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/goatkit/phonedesk/internal/models"
)

// SQLDirectory reads the directory tables maintained by the HR and admin tools.
type SQLDirectory struct {
	db *sqlx.DB
}

// NewSQLDirectory creates a directory over db.
func NewSQLDirectory(db *sqlx.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// GetEmployee implements Employees.
func (d *SQLDirectory) GetEmployee(ctx context.Context, id int64) (*models.Employee, error) {
	var e models.Employee
	err := d.db.GetContext(ctx, &e, d.db.Rebind(`
		SELECT id, department_id, name, employment_status
		FROM employees
		WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("employee %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query employee: %w", err)
	}
	return &e, nil
}

// GetDepartment implements Departments.
func (d *SQLDirectory) GetDepartment(ctx context.Context, id int64) (*models.Department, error) {
	var dep models.Department
	err := d.db.GetContext(ctx, &dep, d.db.Rebind(`
		SELECT id, parent_id, name, active
		FROM departments
		WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("department %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query department: %w", err)
	}
	return &dep, nil
}

// ListDepartments implements Departments.
func (d *SQLDirectory) ListDepartments(ctx context.Context) ([]*models.Department, error) {
	var deps []*models.Department
	if err := d.db.SelectContext(ctx, &deps, `
		SELECT id, parent_id, name, active
		FROM departments
		ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	return deps, nil
}

type grantRow struct {
	ID           int64  `db:"id"`
	DepartmentID int64  `db:"department_id"`
	Scope        string `db:"scope"`
}

type grantDepartmentRow struct {
	GrantID      int64 `db:"grant_id"`
	DepartmentID int64 `db:"department_id"`
}

// GetUser implements Users, loading the grant list with its allow-lists.
func (d *SQLDirectory) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := d.db.GetContext(ctx, &u, d.db.Rebind(`
		SELECT id, login, is_super_admin, COALESCE(role, '') AS role, department_id
		FROM admin_users
		WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	var grants []grantRow
	if err := d.db.SelectContext(ctx, &grants, d.db.Rebind(`
		SELECT id, department_id, scope
		FROM permission_grants
		WHERE user_id = ?
		ORDER BY id`), id); err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	if len(grants) == 0 {
		return &u, nil
	}

	var included []grantDepartmentRow
	if err := d.db.SelectContext(ctx, &included, d.db.Rebind(`
		SELECT gd.grant_id, gd.department_id
		FROM permission_grant_departments gd
		JOIN permission_grants g ON g.id = gd.grant_id
		WHERE g.user_id = ?
		ORDER BY gd.grant_id, gd.department_id`), id); err != nil {
		return nil, fmt.Errorf("failed to query grant departments: %w", err)
	}
	byGrant := make(map[int64][]int64, len(grants))
	for _, row := range included {
		byGrant[row.GrantID] = append(byGrant[row.GrantID], row.DepartmentID)
	}

	u.Grants = make([]models.PermissionGrant, 0, len(grants))
	for _, g := range grants {
		u.Grants = append(u.Grants, models.PermissionGrant{
			DepartmentID:             g.DepartmentID,
			Scope:                    models.ParseScope(g.Scope),
			IncludedSubDepartmentIDs: byGrant[g.ID],
		})
	}
	return &u, nil
}
