package models

import "time"

// TransferState is the state of an ownership transfer request.
type TransferState string

const (
	TransferPending  TransferState = "pending"
	TransferAccepted TransferState = "accepted"
	TransferRejected TransferState = "rejected"
)

// TransferRequest is a two-party offer to hand a phone asset to another employee.
type TransferRequest struct {
	ID             string        `json:"id" db:"id"`
	PhoneNumber    string        `json:"phone_number" db:"phone_number"`
	FromEmployeeID int64         `json:"from_employee_id" db:"from_employee_id"`
	ToEmployeeID   int64         `json:"to_employee_id" db:"to_employee_id"`
	Remark         string        `json:"remark" db:"remark"`
	State          TransferState `json:"state" db:"state"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Clone returns a copy of the request.
func (r *TransferRequest) Clone() *TransferRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// IsPending reports whether the request is still awaiting a decision.
func (r *TransferRequest) IsPending() bool {
	return r.State == TransferPending
}

// TransferFilter narrows transfer request listings.
type TransferFilter struct {
	PhoneNumber string
	EmployeeID  int64 // matches either side
	States      []TransferState
}

// Matches reports whether the request satisfies the filter.
func (f TransferFilter) Matches(r *TransferRequest) bool {
	if f.PhoneNumber != "" && r.PhoneNumber != f.PhoneNumber {
		return false
	}
	if f.EmployeeID != 0 && r.FromEmployeeID != f.EmployeeID && r.ToEmployeeID != f.EmployeeID {
		return false
	}
	if len(f.States) > 0 {
		for _, s := range f.States {
			if s == r.State {
				return true
			}
		}
		return false
	}
	return true
}
