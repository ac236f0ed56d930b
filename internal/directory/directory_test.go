package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/goatkit/phonedesk/internal/models"
)

func ptr(v int64) *int64 { return &v }

const seedYAML = `
departments:
  - {id: 1, name: Head Office, active: true}
  - {id: 3, parent_id: 1, name: Sales, active: true}
  - {id: 31, parent_id: 3, name: North, active: true}
  - {id: 32, parent_id: 3, name: East, active: false}
employees:
  - {id: 100, department_id: 31, name: Alice, employment_status: active}
  - {id: 101, department_id: 32, name: Bob, employment_status: departed}
users:
  - id: 1
    login: root
    is_super_admin: true
  - id: 2
    login: sales-admin
    grants:
      - department_id: 3
        scope: manage
        included_sub_department_ids: [31]
`

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	dir, err := LoadYAML(path)
	require.NoError(t, err)
	ctx := context.Background()

	emp, err := dir.GetEmployee(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(31), emp.DepartmentID)
	assert.True(t, emp.IsActive())

	bob, err := dir.GetEmployee(ctx, 101)
	require.NoError(t, err)
	assert.False(t, bob.IsActive())

	u, err := dir.GetUser(ctx, 2)
	require.NoError(t, err)
	require.Len(t, u.Grants, 1)
	assert.Equal(t, models.ScopeManage, u.Grants[0].Scope)
	assert.Equal(t, []int64{31}, u.Grants[0].IncludedSubDepartmentIDs)

	_, err = dir.GetEmployee(ctx, 999)
	assert.True(t, errors.Is(err, ErrNotFound))

	deps, err := dir.ListDepartments(ctx)
	require.NoError(t, err)
	assert.Len(t, deps, 4)
	assert.Equal(t, int64(1), deps[0].ID)
}

func TestMemoryDirectory_ReturnsCopies(t *testing.T) {
	dir := NewMemoryDirectory()
	dir.PutUser(&models.User{ID: 5, Grants: []models.PermissionGrant{{DepartmentID: 1, Scope: models.ScopeView}}})

	u, err := dir.GetUser(context.Background(), 5)
	require.NoError(t, err)
	u.Grants[0].Scope = models.ScopeManage

	again, err := dir.GetUser(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.ScopeView, again.Grants[0].Scope)
}

func TestValidateTree(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		err := ValidateTree([]*models.Department{
			{ID: 1},
			{ID: 2, ParentID: ptr(1)},
			{ID: 3, ParentID: ptr(2)},
		})
		assert.NoError(t, err)
	})

	t.Run("Cycle", func(t *testing.T) {
		err := ValidateTree([]*models.Department{
			{ID: 1, ParentID: ptr(3)},
			{ID: 2, ParentID: ptr(1)},
			{ID: 3, ParentID: ptr(2)},
		})
		assert.ErrorIs(t, err, ErrInvalidTree)
	})

	t.Run("MissingParent", func(t *testing.T) {
		err := ValidateTree([]*models.Department{{ID: 2, ParentID: ptr(9)}})
		assert.ErrorIs(t, err, ErrInvalidTree)
	})

	t.Run("Duplicate", func(t *testing.T) {
		err := ValidateTree([]*models.Department{{ID: 1}, {ID: 1}})
		assert.ErrorIs(t, err, ErrInvalidTree)
	})

	t.Run("TooDeep", func(t *testing.T) {
		deps := []*models.Department{{ID: 0}}
		for i := int64(1); i <= models.MaxDepartmentDepth+1; i++ {
			deps = append(deps, &models.Department{ID: i, ParentID: ptr(i - 1)})
		}
		assert.ErrorIs(t, ValidateTree(deps), ErrInvalidTree)
	})
}

func TestBuildTree(t *testing.T) {
	deps := []*models.Department{
		{ID: 1, Name: "Head Office", Active: true},
		{ID: 3, ParentID: ptr(1), Name: "Sales", Active: true},
		{ID: 2, ParentID: ptr(1), Name: "Engineering", Active: true},
		{ID: 31, ParentID: ptr(3), Name: "North", Active: true},
		{ID: 32, ParentID: ptr(3), Name: "East", Active: false},
	}

	roots, err := BuildTree(deps, TreeOptions{Language: language.English})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.Len(t, roots[0].Children, 2)
	assert.Equal(t, "Engineering", roots[0].Children[0].Name)
	assert.Equal(t, "Sales", roots[0].Children[1].Name)
	require.Len(t, roots[0].Children[1].Children, 1, "inactive departments are hidden by default")

	all, err := BuildTree(deps, TreeOptions{IncludeInactive: true})
	require.NoError(t, err)
	sales := all[0].Children[1]
	require.Len(t, sales.Children, 2)
	assert.Equal(t, "East", sales.Children[0].Name)
}

func TestSQLDirectory_GetUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewSQLDirectory(sqlx.NewDb(db, "postgres"))

	mock.ExpectQuery(regexp.QuoteMeta("FROM admin_users")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "login", "is_super_admin", "role", "department_id"}).
			AddRow(2, "sales-admin", false, "", nil))
	mock.ExpectQuery(regexp.QuoteMeta("FROM permission_grants")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "department_id", "scope"}).
			AddRow(10, 3, "view").
			AddRow(11, 4, "manage"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM permission_grant_departments")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"grant_id", "department_id"}).
			AddRow(10, 31).
			AddRow(10, 32))

	u, err := dir.GetUser(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, u.Grants, 2)
	assert.Equal(t, models.ScopeView, u.Grants[0].Scope)
	assert.Equal(t, []int64{31, 32}, u.Grants[0].IncludedSubDepartmentIDs)
	assert.Equal(t, models.ScopeManage, u.Grants[1].Scope)
	assert.Empty(t, u.Grants[1].IncludedSubDepartmentIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDirectory_EmployeeNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewSQLDirectory(sqlx.NewDb(db, "postgres"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM employees")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "department_id", "name", "employment_status"}))

	_, err = dir.GetEmployee(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
