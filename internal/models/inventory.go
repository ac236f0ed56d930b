package models

import "time"

// TaskScopeType selects how an inventory task's scope values are interpreted.
type TaskScopeType string

const (
	ScopeDepartmentIDs TaskScopeType = "department_ids"
	ScopeEmployeeIDs   TaskScopeType = "employee_ids"
)

// Valid reports whether t is a known scope type.
func (t TaskScopeType) Valid() bool {
	return t == ScopeDepartmentIDs || t == ScopeEmployeeIDs
}

// TaskStatus is the aggregated state of an inventory task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskClosed     TaskStatus = "closed"
)

// ItemStatus is the verification state of one task item.
type ItemStatus string

const (
	ItemPending     ItemStatus = "pending"
	ItemConfirmed   ItemStatus = "confirmed"
	ItemUnavailable ItemStatus = "unavailable"
)

// ItemAction is what a verifier does to an item.
type ItemAction string

const (
	ActionConfirm         ItemAction = "confirm"
	ActionMarkUnavailable ItemAction = "markUnavailable"
)

// ResultStatus returns the item status the action produces.
func (a ItemAction) ResultStatus() (ItemStatus, bool) {
	switch a {
	case ActionConfirm:
		return ItemConfirmed, true
	case ActionMarkUnavailable:
		return ItemUnavailable, true
	}
	return "", false
}

// InventoryTask is an audit unit scoped to departments or employees.
type InventoryTask struct {
	ID          string        `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	DueAt       time.Time     `json:"due_at" db:"due_at"`
	ScopeType   TaskScopeType `json:"scope_type" db:"scope_type"`
	ScopeValues []int64       `json:"scope_values"`
	Status      TaskStatus    `json:"status" db:"status"`
	CreatedBy   int64         `json:"created_by" db:"created_by"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	ClosedAt    *time.Time    `json:"closed_at,omitempty" db:"closed_at"`
}

// Clone returns a deep copy of the task.
func (t *InventoryTask) Clone() *InventoryTask {
	if t == nil {
		return nil
	}
	c := *t
	c.ScopeValues = append([]int64(nil), t.ScopeValues...)
	if t.ClosedAt != nil {
		at := *t.ClosedAt
		c.ClosedAt = &at
	}
	return &c
}

// InventoryTaskItem is the per-asset verification record of a task. The
// department and employee are frozen when the task is created.
type InventoryTaskItem struct {
	ID           string     `json:"id" db:"id"`
	TaskID       string     `json:"task_id" db:"task_id"`
	PhoneNumber  string     `json:"phone_number" db:"phone_number"`
	DepartmentID int64      `json:"department_id" db:"department_id"`
	EmployeeID   int64      `json:"employee_id" db:"employee_id"`
	Status       ItemStatus `json:"status" db:"status"`
	Purpose      *string    `json:"purpose,omitempty" db:"purpose"`
	Comment      *string    `json:"comment,omitempty" db:"comment"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy of the item.
func (i *InventoryTaskItem) Clone() *InventoryTaskItem {
	if i == nil {
		return nil
	}
	c := *i
	if i.Purpose != nil {
		p := *i.Purpose
		c.Purpose = &p
	}
	if i.Comment != nil {
		m := *i.Comment
		c.Comment = &m
	}
	return &c
}

// AggregateTaskStatus derives a task status from its items. A closed task stays
// closed. The result does not depend on item order.
func AggregateTaskStatus(current TaskStatus, items []*InventoryTaskItem) TaskStatus {
	if current == TaskClosed {
		return TaskClosed
	}
	if len(items) == 0 {
		return TaskPending
	}
	pending := 0
	for _, it := range items {
		if it.Status == ItemPending {
			pending++
		}
	}
	switch pending {
	case 0:
		return TaskCompleted
	case len(items):
		return TaskPending
	default:
		return TaskInProgress
	}
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	Statuses  []TaskStatus
	DueBefore *time.Time
}

// Matches reports whether the task satisfies the filter.
func (f TaskFilter) Matches(t *InventoryTask) bool {
	if f.DueBefore != nil && !t.DueAt.Before(*f.DueBefore) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == t.Status {
			return true
		}
	}
	return false
}

// TaskItemFilter narrows task item listings.
type TaskItemFilter struct {
	Statuses     []ItemStatus
	EmployeeID   int64
	DepartmentID int64
}

// Matches reports whether the item satisfies the filter.
func (f TaskItemFilter) Matches(i *InventoryTaskItem) bool {
	if f.EmployeeID != 0 && i.EmployeeID != f.EmployeeID {
		return false
	}
	if f.DepartmentID != 0 && i.DepartmentID != f.DepartmentID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == i.Status {
			return true
		}
	}
	return false
}

// UnlistedPhoneReport is an employee's declaration of a number missing from a task.
// It never becomes a task item.
type UnlistedPhoneReport struct {
	ID          string    `json:"id" db:"id"`
	TaskID      string    `json:"task_id" db:"task_id"`
	EmployeeID  int64     `json:"employee_id" db:"employee_id"`
	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	Purpose     string    `json:"purpose" db:"purpose"`
	Comment     string    `json:"comment" db:"comment"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TaskSubmission records that an employee finished their portion of a task.
type TaskSubmission struct {
	TaskID      string    `json:"task_id" db:"task_id"`
	EmployeeID  int64     `json:"employee_id" db:"employee_id"`
	SubmittedAt time.Time `json:"submitted_at" db:"submitted_at"`
}
