package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goatkit/phonedesk/internal/directory"
	"github.com/goatkit/phonedesk/internal/events"
	"github.com/goatkit/phonedesk/internal/keylock"
	"github.com/goatkit/phonedesk/internal/models"
	"github.com/goatkit/phonedesk/internal/repository"
)

// Organization used across the service tests:
//
//	1 Head Office
//	├── 2 Sales      employees 10, 11, departed 12
//	└── 3 Support    employee 20
//	4 Branch         employee 40
const (
	deptHead    int64 = 1
	deptSales   int64 = 2
	deptSupport int64 = 3
	deptBranch  int64 = 4

	empAlice   int64 = 10
	empBob     int64 = 11
	empGone    int64 = 12
	empCarol   int64 = 20
	empBranchy int64 = 40

	userRoot         int64 = 100
	userSalesManager int64 = 101
	userSalesViewer  int64 = 102
	userHeadOnly     int64 = 103
	userLegacy       int64 = 104
)

var (
	rootAdmin    = models.Actor{UserID: userRoot}
	salesManager = models.Actor{UserID: userSalesManager}
	salesViewer  = models.Actor{UserID: userSalesViewer}
	headOnly     = models.Actor{UserID: userHeadOnly}
	alice        = models.Actor{EmployeeID: empAlice}
	bob          = models.Actor{EmployeeID: empBob}
	carol        = models.Actor{EmployeeID: empCarol}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctx       context.Context
	clock     *fakeClock
	dir       *directory.MemoryDirectory
	store     *repository.Memory
	locker    *keylock.Memory
	hub       *events.MemoryHub
	assets    *AssetService
	transfers *TransferService
	inventory *InventoryService
}

func deptRef(v int64) *int64 { return &v }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir, err := directory.FromSeed(directory.Seed{
		Departments: []*models.Department{
			{ID: deptHead, Name: "Head Office", Active: true},
			{ID: deptSales, ParentID: deptRef(deptHead), Name: "Sales", Active: true},
			{ID: deptSupport, ParentID: deptRef(deptHead), Name: "Support", Active: true},
			{ID: deptBranch, Name: "Branch", Active: true},
		},
		Employees: []*models.Employee{
			{ID: empAlice, DepartmentID: deptSales, Name: "Alice", EmploymentStatus: models.EmploymentActive},
			{ID: empBob, DepartmentID: deptSales, Name: "Bob", EmploymentStatus: models.EmploymentActive},
			{ID: empGone, DepartmentID: deptSales, Name: "Gone", EmploymentStatus: models.EmploymentDeparted},
			{ID: empCarol, DepartmentID: deptSupport, Name: "Carol", EmploymentStatus: models.EmploymentActive},
			{ID: empBranchy, DepartmentID: deptBranch, Name: "Branchy", EmploymentStatus: models.EmploymentActive},
		},
		Users: []*models.User{
			{ID: userRoot, Login: "root", IsSuperAdmin: true},
			{ID: userSalesManager, Login: "sales-mgr", Grants: []models.PermissionGrant{
				{DepartmentID: deptSales, Scope: models.ScopeManage},
			}},
			{ID: userSalesViewer, Login: "sales-view", Grants: []models.PermissionGrant{
				{DepartmentID: deptSales, Scope: models.ScopeView},
			}},
			{ID: userHeadOnly, Login: "head", Grants: []models.PermissionGrant{
				{DepartmentID: deptHead, Scope: models.ScopeManage},
			}},
			{ID: userLegacy, Login: "legacy", Role: models.LegacyRoleDeptAdmin, DepartmentID: deptRef(deptSupport)},
		},
	})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	var seq atomic.Int64
	locker := keylock.NewMemory()
	opts := []Option{
		WithClock(clock.Now),
		WithLocker(locker),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%03d", seq.Add(1)) }),
	}
	hub := events.NewMemoryHub()
	opts = append(opts, WithPublisher(hub))

	store := repository.NewMemory()
	return &fixture{
		ctx:       context.Background(),
		clock:     clock,
		dir:       dir,
		store:     store,
		locker:    locker,
		hub:       hub,
		assets:    NewAssetService(store, dir, opts...),
		transfers: NewTransferService(store, dir, opts...),
		inventory: NewInventoryService(store, dir, opts...),
	}
}

// register creates an idle asset applied for by applicant.
func (f *fixture) register(t *testing.T, phone string, applicant int64) *models.PhoneAsset {
	t.Helper()
	a, err := f.assets.RegisterAsset(f.ctx, rootAdmin, RegisterAssetInput{
		PhoneNumber:         phone,
		ApplicantEmployeeID: applicant,
		Vendor:              "acme",
		Purpose:             "field work",
	})
	require.NoError(t, err)
	return a
}

// inUse registers phone and assigns it to holder.
func (f *fixture) inUse(t *testing.T, phone string, holder int64) *models.PhoneAsset {
	t.Helper()
	f.register(t, phone, holder)
	a, err := f.assets.Assign(f.ctx, rootAdmin, phone, holder, "", time.Time{})
	require.NoError(t, err)
	return a
}

func (f *fixture) asset(t *testing.T, phone string) *models.PhoneAsset {
	t.Helper()
	a, err := f.store.GetAsset(f.ctx, phone)
	require.NoError(t, err)
	return a
}
