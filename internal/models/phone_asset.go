package models

import "time"

// AssetStatus is the lifecycle state of a phone asset.
type AssetStatus string

const (
	AssetIdle                     AssetStatus = "idle"
	AssetInUse                    AssetStatus = "in_use"
	AssetPendingDeactivationUser  AssetStatus = "pending_deactivation_user"
	AssetPendingDeactivationAdmin AssetStatus = "pending_deactivation_admin"
	AssetDeactivated              AssetStatus = "deactivated"
	AssetRiskPending              AssetStatus = "risk_pending"
	AssetUserReported             AssetStatus = "user_reported"
	AssetSuspended                AssetStatus = "suspended"
	AssetCardReplacing            AssetStatus = "card_replacing"
)

// AllAssetStatuses lists every defined asset status.
var AllAssetStatuses = []AssetStatus{
	AssetIdle,
	AssetInUse,
	AssetPendingDeactivationUser,
	AssetPendingDeactivationAdmin,
	AssetDeactivated,
	AssetRiskPending,
	AssetUserReported,
	AssetSuspended,
	AssetCardReplacing,
}

// Valid reports whether s is one of the defined statuses.
func (s AssetStatus) Valid() bool {
	for _, v := range AllAssetStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsPendingDeactivation reports whether s is one of the deactivation-pending variants.
func (s AssetStatus) IsPendingDeactivation() bool {
	return s == AssetPendingDeactivationUser || s == AssetPendingDeactivationAdmin
}

// IsRisk reports whether s is one of the risk side branches.
func (s AssetStatus) IsRisk() bool {
	return s == AssetRiskPending || s == AssetUserReported
}

// AuditEligible reports whether an asset in this status is held by someone and
// therefore belongs in an inventory task.
func (s AssetStatus) AuditEligible() bool {
	switch s {
	case AssetInUse, AssetSuspended, AssetCardReplacing, AssetRiskPending, AssetUserReported:
		return true
	}
	return false
}

// DeactivationInitiator identifies who asked for a deactivation.
type DeactivationInitiator string

const (
	InitiatorUser  DeactivationInitiator = "user"
	InitiatorAdmin DeactivationInitiator = "admin"
)

// PendingStatus returns the pending-deactivation status for the initiator.
func (i DeactivationInitiator) PendingStatus() (AssetStatus, bool) {
	switch i {
	case InitiatorUser:
		return AssetPendingDeactivationUser, true
	case InitiatorAdmin:
		return AssetPendingDeactivationAdmin, true
	}
	return "", false
}

// RiskReason explains why an asset left in_use for a risk branch.
type RiskReason string

const (
	RiskApplicantDeparted RiskReason = "applicant_departed"
	RiskUserReported      RiskReason = "user_reported"
)

// Status returns the risk status for the reason.
func (r RiskReason) Status() (AssetStatus, bool) {
	switch r {
	case RiskApplicantDeparted:
		return AssetRiskPending, true
	case RiskUserReported:
		return AssetUserReported, true
	}
	return "", false
}

// UsageEntry records one employee holding one asset for a time span.
type UsageEntry struct {
	EmployeeID int64      `json:"employee_id" db:"employee_id"`
	StartDate  time.Time  `json:"start_date" db:"start_date"`
	EndDate    *time.Time `json:"end_date,omitempty" db:"end_date"`
}

// IsOpen reports whether the entry has no end date.
func (u UsageEntry) IsOpen() bool {
	return u.EndDate == nil
}

// PhoneAsset is a phone number tracked through its lifecycle.
type PhoneAsset struct {
	PhoneNumber             string           `json:"phone_number" db:"phone_number"`
	Status                  AssetStatus      `json:"status" db:"status"`
	ApplicantEmployeeID     int64            `json:"applicant_employee_id" db:"applicant_employee_id"`
	ApplicantStatusSnapshot EmploymentStatus `json:"applicant_status_snapshot" db:"applicant_status_snapshot"`
	CurrentUserEmployeeID   *int64           `json:"current_user_employee_id,omitempty" db:"current_user_employee_id"`
	Vendor                  string           `json:"vendor" db:"vendor"`
	Purpose                 string           `json:"purpose" db:"purpose"`
	DepartmentID            int64            `json:"department_id" db:"department_id"`
	RiskReason              *RiskReason      `json:"risk_reason,omitempty" db:"risk_reason"`
	UsageHistory            []UsageEntry     `json:"usage_history"`
	CreatedAt               time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy of the asset.
func (a *PhoneAsset) Clone() *PhoneAsset {
	if a == nil {
		return nil
	}
	c := *a
	if a.CurrentUserEmployeeID != nil {
		id := *a.CurrentUserEmployeeID
		c.CurrentUserEmployeeID = &id
	}
	if a.RiskReason != nil {
		r := *a.RiskReason
		c.RiskReason = &r
	}
	c.UsageHistory = make([]UsageEntry, len(a.UsageHistory))
	for i, e := range a.UsageHistory {
		c.UsageHistory[i] = e
		if e.EndDate != nil {
			end := *e.EndDate
			c.UsageHistory[i].EndDate = &end
		}
	}
	return &c
}

// CurrentHolder returns the current user employee id, or zero when unheld.
func (a *PhoneAsset) CurrentHolder() int64 {
	if a.CurrentUserEmployeeID == nil {
		return 0
	}
	return *a.CurrentUserEmployeeID
}

// IsHeldBy reports whether employeeID is the current holder.
func (a *PhoneAsset) IsHeldBy(employeeID int64) bool {
	return employeeID != 0 && a.CurrentHolder() == employeeID
}

// OpenEntryIndex returns the index of the open usage entry or -1.
func (a *PhoneAsset) OpenEntryIndex() int {
	for i := len(a.UsageHistory) - 1; i >= 0; i-- {
		if a.UsageHistory[i].IsOpen() {
			return i
		}
	}
	return -1
}

// OpenUsage starts a usage entry for employeeID and makes them the holder.
// Any entry still open is closed at the same instant.
func (a *PhoneAsset) OpenUsage(employeeID int64, at time.Time) {
	a.CloseUsage(at)
	id := employeeID
	a.CurrentUserEmployeeID = &id
	a.UsageHistory = append(a.UsageHistory, UsageEntry{EmployeeID: employeeID, StartDate: at})
}

// CloseUsage ends the open usage entry, if any, and clears the holder.
// It reports whether an entry was closed.
func (a *PhoneAsset) CloseUsage(at time.Time) bool {
	a.CurrentUserEmployeeID = nil
	idx := a.OpenEntryIndex()
	if idx < 0 {
		return false
	}
	end := at
	a.UsageHistory[idx].EndDate = &end
	return true
}

// CheckUsageInvariant reports whether at most one usage entry is open and, if
// one is, whether it names the current holder.
func (a *PhoneAsset) CheckUsageInvariant() bool {
	open := 0
	var openID int64
	for _, e := range a.UsageHistory {
		if e.IsOpen() {
			open++
			openID = e.EmployeeID
		}
	}
	switch open {
	case 0:
		return true
	case 1:
		return a.IsHeldBy(openID)
	default:
		return false
	}
}

// AssetFilter narrows asset listings. Zero fields are ignored.
type AssetFilter struct {
	Statuses      []AssetStatus
	DepartmentIDs []int64
	HolderIDs     []int64
	ApplicantID   int64
	Vendor        string
	Limit         int
	Offset        int
}

// Matches reports whether the asset satisfies the filter, ignoring paging.
func (f AssetFilter) Matches(a *PhoneAsset) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, a.Status) {
		return false
	}
	if len(f.DepartmentIDs) > 0 && !containsID(f.DepartmentIDs, a.DepartmentID) {
		return false
	}
	if len(f.HolderIDs) > 0 && (a.CurrentUserEmployeeID == nil || !containsID(f.HolderIDs, *a.CurrentUserEmployeeID)) {
		return false
	}
	if f.ApplicantID != 0 && a.ApplicantEmployeeID != f.ApplicantID {
		return false
	}
	if f.Vendor != "" && a.Vendor != f.Vendor {
		return false
	}
	return true
}

func containsStatus(list []AssetStatus, s AssetStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsID(list []int64, id int64) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
