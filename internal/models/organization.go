package models

// MaxDepartmentDepth bounds the ancestor chain of any department.
const MaxDepartmentDepth = 64

// Department is a node in the organization tree.
type Department struct {
	ID       int64  `json:"id" db:"id" yaml:"id"`
	ParentID *int64 `json:"parent_id,omitempty" db:"parent_id" yaml:"parent_id"`
	Name     string `json:"name" db:"name" yaml:"name"`
	Active   bool   `json:"active" db:"active" yaml:"active"`
}

// DepartmentNode is a department with its resolved children, used for tree listings.
type DepartmentNode struct {
	Department
	Children []*DepartmentNode `json:"children,omitempty"`
}

// EmploymentStatus tracks whether an employee still works for the organization.
type EmploymentStatus string

const (
	EmploymentActive   EmploymentStatus = "active"
	EmploymentDeparted EmploymentStatus = "departed"
)

// Employee is a holder of phone assets.
type Employee struct {
	ID               int64            `json:"id" db:"id" yaml:"id"`
	DepartmentID     int64            `json:"department_id" db:"department_id" yaml:"department_id"`
	Name             string           `json:"name" db:"name" yaml:"name"`
	EmploymentStatus EmploymentStatus `json:"employment_status" db:"employment_status" yaml:"employment_status"`
}

// IsActive reports whether the employee can receive assets.
func (e *Employee) IsActive() bool {
	return e != nil && e.EmploymentStatus == EmploymentActive
}
