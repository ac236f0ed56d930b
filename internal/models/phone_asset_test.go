package models

import (
	"testing"
	"time"
)

func TestPhoneAsset_UsageHistory(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &PhoneAsset{PhoneNumber: "13900000000", Status: AssetIdle}

	if !a.CheckUsageInvariant() {
		t.Fatal("empty history must satisfy the invariant")
	}
	if a.CloseUsage(t0) {
		t.Error("nothing to close on an idle asset")
	}

	a.OpenUsage(1, t0)
	if a.CurrentHolder() != 1 || !a.IsHeldBy(1) {
		t.Fatalf("holder = %d, want 1", a.CurrentHolder())
	}

	t1 := t0.Add(48 * time.Hour)
	a.OpenUsage(2, t1)
	if len(a.UsageHistory) != 2 {
		t.Fatalf("history length = %d, want 2", len(a.UsageHistory))
	}
	if end := a.UsageHistory[0].EndDate; end == nil || !end.Equal(t1) {
		t.Errorf("previous entry end = %v, want %v", end, t1)
	}
	if !a.CheckUsageInvariant() {
		t.Error("handover must leave exactly one open entry")
	}
	if a.OpenEntryIndex() != 1 {
		t.Errorf("open entry index = %d, want 1", a.OpenEntryIndex())
	}

	if !a.CloseUsage(t1.Add(time.Hour)) {
		t.Error("expected the open entry to close")
	}
	if a.CurrentUserEmployeeID != nil {
		t.Error("holder should be cleared")
	}
	if a.OpenEntryIndex() != -1 {
		t.Error("no entry should remain open")
	}
}

func TestPhoneAsset_CheckUsageInvariant(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	holder := int64(5)

	twoOpen := &PhoneAsset{
		CurrentUserEmployeeID: &holder,
		UsageHistory:          []UsageEntry{{EmployeeID: 4, StartDate: t0}, {EmployeeID: 5, StartDate: t0}},
	}
	if twoOpen.CheckUsageInvariant() {
		t.Error("two open entries must violate the invariant")
	}

	wrongHolder := &PhoneAsset{
		CurrentUserEmployeeID: &holder,
		UsageHistory:          []UsageEntry{{EmployeeID: 4, StartDate: t0}},
	}
	if wrongHolder.CheckUsageInvariant() {
		t.Error("open entry must name the current holder")
	}
}

func TestPhoneAsset_Clone(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &PhoneAsset{PhoneNumber: "1"}
	a.OpenUsage(1, t0)
	a.CloseUsage(t0.Add(time.Hour))

	c := a.Clone()
	*c.UsageHistory[0].EndDate = t0
	if a.UsageHistory[0].EndDate.Equal(t0) {
		t.Error("clone shares end dates with the original")
	}
}

func TestAssetStatus(t *testing.T) {
	for _, s := range AllAssetStatuses {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if AssetStatus("lost").Valid() {
		t.Error("unknown status reported valid")
	}

	eligible := map[AssetStatus]bool{
		AssetInUse: true, AssetSuspended: true, AssetCardReplacing: true,
		AssetRiskPending: true, AssetUserReported: true,
	}
	for _, s := range AllAssetStatuses {
		if s.AuditEligible() != eligible[s] {
			t.Errorf("%q audit eligible = %v", s, s.AuditEligible())
		}
	}

	if st, ok := InitiatorUser.PendingStatus(); !ok || st != AssetPendingDeactivationUser {
		t.Errorf("user initiator -> %q", st)
	}
	if st, ok := RiskApplicantDeparted.Status(); !ok || st != AssetRiskPending {
		t.Errorf("applicant departed -> %q", st)
	}
}

func TestAssetFilter_Matches(t *testing.T) {
	holder := int64(9)
	a := &PhoneAsset{Status: AssetInUse, DepartmentID: 2, CurrentUserEmployeeID: &holder, ApplicantEmployeeID: 3, Vendor: "acme"}

	cases := []struct {
		name   string
		filter AssetFilter
		want   bool
	}{
		{"empty", AssetFilter{}, true},
		{"status", AssetFilter{Statuses: []AssetStatus{AssetIdle}}, false},
		{"department", AssetFilter{DepartmentIDs: []int64{1, 2}}, true},
		{"holder", AssetFilter{HolderIDs: []int64{8}}, false},
		{"applicant", AssetFilter{ApplicantID: 3}, true},
		{"vendor", AssetFilter{Vendor: "other"}, false},
	}
	for _, tc := range cases {
		if got := tc.filter.Matches(a); got != tc.want {
			t.Errorf("%s: Matches = %v, want %v", tc.name, got, tc.want)
		}
	}
}
