package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/phonedesk/internal/apierrors"
	"github.com/goatkit/phonedesk/internal/events"
	"github.com/goatkit/phonedesk/internal/models"
)

func (f *fixture) offer(t *testing.T, phone string, from, to int64) *models.TransferRequest {
	t.Helper()
	req, err := f.transfers.Initiate(f.ctx, models.Actor{EmployeeID: from}, InitiateTransferInput{
		PhoneNumber:    phone,
		FromEmployeeID: from,
		ToEmployeeID:   to,
		Remark:         "handover",
	})
	require.NoError(t, err)
	return req
}

func TestTransferService_Initiate(t *testing.T) {
	t.Run("holder offers without touching the asset", func(t *testing.T) {
		f := newFixture(t)
		before := f.inUse(t, "1", empAlice)

		req := f.offer(t, "1", empAlice, empBob)
		assert.Equal(t, models.TransferPending, req.State)
		assert.Equal(t, before.UsageHistory, f.asset(t, "1").UsageHistory)
		assert.Equal(t, empAlice, f.asset(t, "1").CurrentHolder())

		evs := f.hub.OfType(events.TransferInitiated)
		require.Len(t, evs, 1)
		assert.Equal(t, []int64{empBob}, evs[0].Recipients)
	})

	t.Run("second pending request always conflicts", func(t *testing.T) {
		f := newFixture(t)
		f.inUse(t, "1", empAlice)
		f.offer(t, "1", empAlice, empBob)

		for _, actor := range []models.Actor{alice, bob, rootAdmin, salesViewer} {
			_, err := f.transfers.Initiate(f.ctx, actor, InitiateTransferInput{PhoneNumber: "1", FromEmployeeID: empAlice, ToEmployeeID: empCarol})
			assert.ErrorIs(t, err, apierrors.ErrConflict)
		}
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)
		f.inUse(t, "1", empAlice)
		f.register(t, "2", empAlice)

		_, err := f.transfers.Initiate(f.ctx, alice, InitiateTransferInput{PhoneNumber: "1", FromEmployeeID: empAlice, ToEmployeeID: empAlice})
		assert.ErrorIs(t, err, apierrors.ErrValidation)

		_, err = f.transfers.Initiate(f.ctx, alice, InitiateTransferInput{PhoneNumber: "1", FromEmployeeID: empAlice, ToEmployeeID: empGone})
		assert.ErrorIs(t, err, apierrors.ErrValidation)

		_, err = f.transfers.Initiate(f.ctx, alice, InitiateTransferInput{PhoneNumber: "1", FromEmployeeID: empAlice, ToEmployeeID: 999})
		assert.ErrorIs(t, err, apierrors.ErrNotFound)

		_, err = f.transfers.Initiate(f.ctx, alice, InitiateTransferInput{PhoneNumber: "2", FromEmployeeID: empAlice, ToEmployeeID: empBob})
		assert.ErrorIs(t, err, apierrors.ErrInvalidState, "idle assets cannot be transferred")

		_, err = f.transfers.Initiate(f.ctx, bob, InitiateTransferInput{PhoneNumber: "1", FromEmployeeID: empAlice, ToEmployeeID: empBob})
		assert.ErrorIs(t, err, apierrors.ErrForbidden, "only the holder or a manager may offer")

		_, err = f.transfers.Initiate(f.ctx, salesManager, InitiateTransferInput{PhoneNumber: "1", FromEmployeeID: empAlice, ToEmployeeID: empBob})
		require.NoError(t, err)
	})

	t.Run("concurrent offers leave one pending request", func(t *testing.T) {
		f := newFixture(t)
		f.inUse(t, "1", empAlice)

		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.transfers.Initiate(f.ctx, alice, InitiateTransferInput{PhoneNumber: "1", FromEmployeeID: empAlice, ToEmployeeID: empBob})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		ok := 0
		for err := range errs {
			if err == nil {
				ok++
			} else {
				assert.ErrorIs(t, err, apierrors.ErrConflict)
			}
		}
		assert.Equal(t, 1, ok)
		list, err := f.store.ListTransfers(f.ctx, models.TransferFilter{PhoneNumber: "1", States: []models.TransferState{models.TransferPending}})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestTransferService_Accept(t *testing.T) {
	t.Run("moves ownership in one step", func(t *testing.T) {
		f := newFixture(t)
		f.inUse(t, "1", empAlice)
		req := f.offer(t, "1", empAlice, empCarol)
		f.clock.Advance(time.Hour)

		out, err := f.transfers.Accept(f.ctx, carol, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransferAccepted, out.State)
		require.NotNil(t, out.ResolvedAt)

		a := f.asset(t, "1")
		assert.Equal(t, models.AssetInUse, a.Status)
		assert.Equal(t, empCarol, a.CurrentHolder())
		assert.Equal(t, deptSupport, a.DepartmentID)
		require.Len(t, a.UsageHistory, 2)
		assert.Equal(t, empAlice, a.UsageHistory[0].EmployeeID)
		require.NotNil(t, a.UsageHistory[0].EndDate)
		assert.Equal(t, f.clock.Now(), *a.UsageHistory[0].EndDate)
		assert.Equal(t, empCarol, a.UsageHistory[1].EmployeeID)
		assert.True(t, a.UsageHistory[1].IsOpen())
		assert.True(t, a.CheckUsageInvariant())

		evs := f.hub.OfType(events.TransferAccepted)
		require.Len(t, evs, 1)
		assert.Equal(t, []int64{empAlice}, evs[0].Recipients)
	})

	t.Run("only the recipient may answer", func(t *testing.T) {
		f := newFixture(t)
		f.inUse(t, "1", empAlice)
		req := f.offer(t, "1", empAlice, empBob)

		for _, actor := range []models.Actor{alice, carol, rootAdmin} {
			_, err := f.transfers.Accept(f.ctx, actor, req.ID)
			assert.ErrorIs(t, err, apierrors.ErrForbidden)
			_, err = f.transfers.Reject(f.ctx, actor, req.ID)
			assert.ErrorIs(t, err, apierrors.ErrForbidden)
		}
		assert.Equal(t, empAlice, f.asset(t, "1").CurrentHolder())
	})

	t.Run("resolved request cannot be answered again", func(t *testing.T) {
		f := newFixture(t)
		f.inUse(t, "1", empAlice)
		req := f.offer(t, "1", empAlice, empBob)
		_, err := f.transfers.Reject(f.ctx, bob, req.ID)
		require.NoError(t, err)

		_, err = f.transfers.Accept(f.ctx, bob, req.ID)
		assert.ErrorIs(t, err, apierrors.ErrInvalidState)
		assert.Equal(t, apierrors.CodeTransferResolved, apierrors.As(err).Code)
	})

	t.Run("departed recipient rolls back", func(t *testing.T) {
		f := newFixture(t)
		f.inUse(t, "1", empAlice)
		req := f.offer(t, "1", empAlice, empBob)
		f.dir.PutEmployee(&models.Employee{ID: empBob, DepartmentID: deptSales, EmploymentStatus: models.EmploymentDeparted})

		_, err := f.transfers.Accept(f.ctx, bob, req.ID)
		assert.ErrorIs(t, err, apierrors.ErrValidation)

		stored, err := f.store.GetTransfer(f.ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransferPending, stored.State)
		a := f.asset(t, "1")
		assert.Equal(t, empAlice, a.CurrentHolder())
		assert.Len(t, a.UsageHistory, 1)
	})

	t.Run("unknown request", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.transfers.Accept(f.ctx, bob, "nope")
		assert.ErrorIs(t, err, apierrors.ErrNotFound)
	})

	t.Run("accept racing recover never leaves two open entries", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			f := newFixture(t)
			f.inUse(t, "1", empAlice)
			req := f.offer(t, "1", empAlice, empBob)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, _ = f.transfers.Accept(f.ctx, bob, req.ID)
			}()
			go func() {
				defer wg.Done()
				_, _ = f.assets.Recover(f.ctx, rootAdmin, "1", time.Time{})
			}()
			wg.Wait()

			a := f.asset(t, "1")
			assert.True(t, a.CheckUsageInvariant())
			assert.Len(t, a.UsageHistory, 2, "accept always wins: recover either conflicts or runs after it")
			if a.Status == models.AssetInUse {
				assert.Equal(t, empBob, a.CurrentHolder())
			} else {
				assert.Equal(t, models.AssetIdle, a.Status)
				assert.Equal(t, -1, a.OpenEntryIndex())
			}
		}
	})
}

func TestTransferService_PendingBlocksAssetOperations(t *testing.T) {
	f := newFixture(t)
	f.inUse(t, "1", empAlice)
	req := f.offer(t, "1", empAlice, empBob)

	_, err := f.assets.Recover(f.ctx, rootAdmin, "1", time.Time{})
	assert.ErrorIs(t, err, apierrors.ErrConflict)
	_, err = f.assets.Suspend(f.ctx, rootAdmin, "1")
	assert.ErrorIs(t, err, apierrors.ErrConflict)
	_, err = f.assets.StartCardReplacement(f.ctx, rootAdmin, "1")
	assert.ErrorIs(t, err, apierrors.ErrConflict)
	_, err = f.assets.RequestDeactivation(f.ctx, rootAdmin, "1", models.InitiatorAdmin)
	assert.ErrorIs(t, err, apierrors.ErrConflict)

	_, err = f.transfers.Reject(f.ctx, bob, req.ID)
	require.NoError(t, err)

	a, err := f.assets.Recover(f.ctx, rootAdmin, "1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, models.AssetIdle, a.Status)
	assert.Len(t, f.hub.OfType(events.TransferRejected), 1)
}

func TestTransferService_Cancel(t *testing.T) {
	f := newFixture(t)
	f.inUse(t, "1", empAlice)
	req := f.offer(t, "1", empAlice, empBob)

	_, err := f.transfers.Cancel(f.ctx, bob, req.ID)
	assert.ErrorIs(t, err, apierrors.ErrForbidden)

	out, err := f.transfers.Cancel(f.ctx, alice, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferRejected, out.State)
	assert.Equal(t, CancelledRemark, out.Remark)

	evs := f.hub.OfType(events.TransferCancelled)
	require.Len(t, evs, 1)
	assert.Equal(t, []int64{empBob}, evs[0].Recipients)

	f.offer(t, "1", empAlice, empCarol)
}

func TestTransferService_Visibility(t *testing.T) {
	f := newFixture(t)
	f.inUse(t, "1", empAlice)
	f.inUse(t, "2", empCarol)
	r1 := f.offer(t, "1", empAlice, empBob)
	r2 := f.offer(t, "2", empCarol, empBranchy)

	_, err := f.transfers.Get(f.ctx, bob, r1.ID)
	require.NoError(t, err)
	_, err = f.transfers.Get(f.ctx, bob, r2.ID)
	assert.ErrorIs(t, err, apierrors.ErrForbidden)
	_, err = f.transfers.Get(f.ctx, salesViewer, r1.ID)
	require.NoError(t, err)

	list, err := f.transfers.List(f.ctx, carol, models.TransferFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, r2.ID, list[0].ID)

	list, err = f.transfers.List(f.ctx, salesViewer, models.TransferFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, r1.ID, list[0].ID)

	list, err = f.transfers.List(f.ctx, rootAdmin, models.TransferFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
