// Package directory provides the read-only collaborators the core consumes:
// employee lookups, the department tree and administrator grants.
package directory

import (
	"context"
	"errors"

	"github.com/goatkit/phonedesk/internal/models"
)

// ErrNotFound is returned when a referenced employee, department or user is absent.
var ErrNotFound = errors.New("directory: not found")

// Employees looks up employees.
type Employees interface {
	GetEmployee(ctx context.Context, id int64) (*models.Employee, error)
}

// Departments exposes the department tree. Mutations happen elsewhere.
type Departments interface {
	GetDepartment(ctx context.Context, id int64) (*models.Department, error)
	ListDepartments(ctx context.Context) ([]*models.Department, error)
}

// Users looks up administrator accounts and their grants.
type Users interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// Directory bundles every lookup the core needs.
type Directory interface {
	Employees
	Departments
	Users
}
