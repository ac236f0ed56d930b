package models

// Scope is the level of authority a user holds over a department.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeView
	ScopeManage
)

// String returns the wire name of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeManage:
		return "manage"
	case ScopeView:
		return "view"
	default:
		return "none"
	}
}

// ParseScope converts a stored scope name. Unknown values map to ScopeNone.
func ParseScope(v string) Scope {
	switch v {
	case "manage":
		return ScopeManage
	case "view":
		return ScopeView
	default:
		return ScopeNone
	}
}

// Covers reports whether s satisfies the required scope.
func (s Scope) Covers(required Scope) bool {
	return s >= required
}

// MarshalText implements encoding.TextMarshaler.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scope) UnmarshalText(b []byte) error {
	*s = ParseScope(string(b))
	return nil
}

// PermissionGrant gives an administrator authority over one department plus an
// explicit allow-list of sub-departments. Inheritance never recurses through
// the tree on its own.
type PermissionGrant struct {
	DepartmentID             int64   `json:"department_id" db:"department_id" yaml:"department_id"`
	Scope                    Scope   `json:"scope" db:"scope" yaml:"scope"`
	IncludedSubDepartmentIDs []int64 `json:"included_sub_department_ids,omitempty" yaml:"included_sub_department_ids"`
}

// Covers reports whether the grant applies to the department.
func (g PermissionGrant) Covers(departmentID int64) bool {
	if g.DepartmentID == departmentID {
		return true
	}
	for _, id := range g.IncludedSubDepartmentIDs {
		if id == departmentID {
			return true
		}
	}
	return false
}

// Legacy role strings. Only consulted when a user has no grants.
const (
	LegacyRoleSuperAdmin = "super_admin"
	LegacyRoleDeptAdmin  = "dept_admin"
	LegacyRoleDeptViewer = "dept_viewer"
)

// User is an administrator account.
type User struct {
	ID           int64             `json:"id" db:"id" yaml:"id"`
	Login        string            `json:"login" db:"login" yaml:"login"`
	IsSuperAdmin bool              `json:"is_super_admin" db:"is_super_admin" yaml:"is_super_admin"`
	Grants       []PermissionGrant `json:"grants,omitempty" yaml:"grants"`

	// Role and DepartmentID carry the pre-grant permission model.
	Role         string `json:"role,omitempty" db:"role" yaml:"role"`
	DepartmentID *int64 `json:"department_id,omitempty" db:"department_id" yaml:"department_id"`
}

// Actor identifies who is calling a core operation. UserID is set for
// administrators, EmployeeID for employee self-service; either may be zero.
type Actor struct {
	UserID     int64 `json:"user_id,omitempty"`
	EmployeeID int64 `json:"employee_id,omitempty"`
}

// IsZero reports whether the actor identifies nobody.
func (a Actor) IsZero() bool {
	return a.UserID == 0 && a.EmployeeID == 0
}

// SystemUserID is the reserved id for scheduled jobs acting as super-admin.
const SystemUserID int64 = -1

// SystemActor is the actor used by background jobs.
var SystemActor = Actor{UserID: SystemUserID}
