// Package permission resolves an administrator's effective authority over a
// department from their explicit grant list.
package permission

import (
	"sort"

	"github.com/goatkit/phonedesk/internal/models"
)

// Resolve returns the effective scope of user over departmentID.
//
// Super-admins always get manage. Otherwise every grant whose own department or
// allow-list contains departmentID is a candidate and the highest candidate
// scope wins. Grants never extend to tree descendants that are not listed.
// Users without grants fall back to their legacy role, if any.
func Resolve(user *models.User, departmentID int64) models.Scope {
	if user == nil {
		return models.ScopeNone
	}
	if isSuperAdmin(user) {
		return models.ScopeManage
	}
	if len(user.Grants) == 0 {
		return legacyScope(user, departmentID)
	}
	best := models.ScopeNone
	for _, g := range user.Grants {
		if g.Covers(departmentID) && g.Scope > best {
			best = g.Scope
		}
	}
	return best
}

// Allows reports whether user holds at least the required scope over departmentID.
func Allows(user *models.User, departmentID int64, required models.Scope) bool {
	return Resolve(user, departmentID).Covers(required)
}

// UsesLegacyRole reports whether the user's authority comes from the role string
// rather than the grant list. Such accounts still need migrating to grants.
func UsesLegacyRole(user *models.User) bool {
	return user != nil && !user.IsSuperAdmin && len(user.Grants) == 0 && user.Role != ""
}

// DepartmentSet is a set of department ids, or every department when All is set.
type DepartmentSet struct {
	All bool
	IDs map[int64]struct{}
}

// Contains reports whether id is in the set.
func (s DepartmentSet) Contains(id int64) bool {
	if s.All {
		return true
	}
	_, ok := s.IDs[id]
	return ok
}

// Empty reports whether the set grants nothing.
func (s DepartmentSet) Empty() bool {
	return !s.All && len(s.IDs) == 0
}

// Sorted returns the enumerated ids in ascending order. It is nil for All.
func (s DepartmentSet) Sorted() []int64 {
	if s.All {
		return nil
	}
	out := make([]int64, 0, len(s.IDs))
	for id := range s.IDs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ManagedDepartmentIDs returns every department the user may manage.
func ManagedDepartmentIDs(user *models.User) DepartmentSet {
	return departmentsWith(user, models.ScopeManage)
}

// ViewableDepartmentIDs returns every department the user may view or manage.
func ViewableDepartmentIDs(user *models.User) DepartmentSet {
	return departmentsWith(user, models.ScopeView)
}

func departmentsWith(user *models.User, required models.Scope) DepartmentSet {
	set := DepartmentSet{IDs: map[int64]struct{}{}}
	if user == nil {
		return set
	}
	if isSuperAdmin(user) {
		return DepartmentSet{All: true}
	}
	if len(user.Grants) == 0 {
		if user.DepartmentID != nil && legacyScope(user, *user.DepartmentID).Covers(required) {
			set.IDs[*user.DepartmentID] = struct{}{}
		}
		return set
	}
	for _, g := range user.Grants {
		if !g.Scope.Covers(required) {
			continue
		}
		set.IDs[g.DepartmentID] = struct{}{}
		for _, id := range g.IncludedSubDepartmentIDs {
			set.IDs[id] = struct{}{}
		}
	}
	return set
}

func isSuperAdmin(user *models.User) bool {
	if user.IsSuperAdmin {
		return true
	}
	return len(user.Grants) == 0 && user.Role == models.LegacyRoleSuperAdmin
}

func legacyScope(user *models.User, departmentID int64) models.Scope {
	if user.DepartmentID == nil || *user.DepartmentID != departmentID {
		return models.ScopeNone
	}
	switch user.Role {
	case models.LegacyRoleDeptAdmin:
		return models.ScopeManage
	case models.LegacyRoleDeptViewer:
		return models.ScopeView
	}
	return models.ScopeNone
}
