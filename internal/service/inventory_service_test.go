package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/phonedesk/internal/apierrors"
	"github.com/goatkit/phonedesk/internal/events"
	"github.com/goatkit/phonedesk/internal/keylock"
	"github.com/goatkit/phonedesk/internal/models"
)

func (f *fixture) salesTask(t *testing.T) (*models.InventoryTask, []*models.InventoryTaskItem) {
	t.Helper()
	task, err := f.inventory.CreateTask(f.ctx, salesManager, CreateTaskInput{
		Name:        "Q1 audit",
		DueAt:       f.clock.Now().Add(7 * 24 * time.Hour),
		ScopeType:   models.ScopeDepartmentIDs,
		ScopeValues: []int64{deptSales},
	})
	require.NoError(t, err)
	items, err := f.store.ListItems(f.ctx, task.ID, models.TaskItemFilter{})
	require.NoError(t, err)
	return task, items
}

func act(f *fixture, actor models.Actor, item *models.InventoryTaskItem, action models.ItemAction) (*models.InventoryTaskItem, error) {
	return f.inventory.PerformItemAction(f.ctx, actor, ItemActionInput{TaskID: item.TaskID, ItemID: item.ID, Action: action})
}

func TestInventoryService_CompletesWhenEveryItemResolved(t *testing.T) {
	f := newFixture(t)
	f.inUse(t, "1", empAlice)
	f.inUse(t, "2", empAlice)
	f.inUse(t, "3", empBob)
	f.inUse(t, "4", empCarol)
	f.register(t, "5", empBob)

	task, items := f.salesTask(t)
	require.Len(t, items, 3, "idle assets and other departments are not snapshotted")
	assert.Equal(t, models.TaskPending, task.Status)
	for _, it := range items {
		assert.Equal(t, models.ItemPending, it.Status)
		assert.Equal(t, deptSales, it.DepartmentID)
	}
	created := f.hub.OfType(events.TaskCreated)
	require.Len(t, created, 1)
	assert.Equal(t, []int64{empAlice, empBob}, created[0].Recipients)

	_, err := act(f, alice, items[0], models.ActionConfirm)
	require.NoError(t, err)
	got, err := f.inventory.GetTask(f.ctx, salesManager, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskInProgress, got.Status)

	_, err = act(f, alice, items[1], models.ActionConfirm)
	require.NoError(t, err)
	_, err = act(f, salesManager, items[2], models.ActionMarkUnavailable)
	require.NoError(t, err)

	got, err = f.inventory.GetTask(f.ctx, salesManager, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, got.Status)
	assert.Len(t, f.hub.OfType(events.TaskItemUpdated), 3)
}

func TestInventoryService_CreateTask(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)
		due := f.clock.Now().Add(time.Hour)
		cases := []struct {
			name string
			in   CreateTaskInput
			code string
		}{
			{"empty name", CreateTaskInput{Name: " ", DueAt: due, ScopeType: models.ScopeDepartmentIDs, ScopeValues: []int64{deptSales}}, apierrors.CodeValidationFailed},
			{"empty scope", CreateTaskInput{Name: "x", DueAt: due, ScopeType: models.ScopeDepartmentIDs}, apierrors.CodeTaskInvalidScope},
			{"bad scope type", CreateTaskInput{Name: "x", DueAt: due, ScopeType: "teams", ScopeValues: []int64{1}}, apierrors.CodeTaskInvalidScope},
			{"due now", CreateTaskInput{Name: "x", DueAt: f.clock.Now(), ScopeType: models.ScopeDepartmentIDs, ScopeValues: []int64{deptSales}}, apierrors.CodeTaskDueDateInPast},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := f.inventory.CreateTask(f.ctx, rootAdmin, tc.in)
				assert.ErrorIs(t, err, apierrors.ErrValidation)
				assert.Equal(t, tc.code, apierrors.As(err).Code)
			})
		}
	})

	t.Run("manage required on every scoped department", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.inventory.CreateTask(f.ctx, salesManager, CreateTaskInput{
			Name: "x", DueAt: f.clock.Now().Add(time.Hour), ScopeType: models.ScopeDepartmentIDs, ScopeValues: []int64{deptSales, deptSupport},
		})
		assert.ErrorIs(t, err, apierrors.ErrForbidden)

		_, err = f.inventory.CreateTask(f.ctx, salesViewer, CreateTaskInput{
			Name: "x", DueAt: f.clock.Now().Add(time.Hour), ScopeType: models.ScopeDepartmentIDs, ScopeValues: []int64{deptSales},
		})
		assert.ErrorIs(t, err, apierrors.ErrForbidden)

		_, err = f.inventory.CreateTask(f.ctx, rootAdmin, CreateTaskInput{
			Name: "x", DueAt: f.clock.Now().Add(time.Hour), ScopeType: models.ScopeDepartmentIDs, ScopeValues: []int64{404},
		})
		assert.ErrorIs(t, err, apierrors.ErrNotFound)
	})

	t.Run("employee scope checks each employee department", func(t *testing.T) {
		f := newFixture(t)
		f.inUse(t, "1", empAlice)
		f.inUse(t, "2", empCarol)

		_, err := f.inventory.CreateTask(f.ctx, salesManager, CreateTaskInput{
			Name: "x", DueAt: f.clock.Now().Add(time.Hour), ScopeType: models.ScopeEmployeeIDs, ScopeValues: []int64{empAlice, empCarol},
		})
		assert.ErrorIs(t, err, apierrors.ErrForbidden)

		task, err := f.inventory.CreateTask(f.ctx, salesManager, CreateTaskInput{
			Name: "x", DueAt: f.clock.Now().Add(time.Hour), ScopeType: models.ScopeEmployeeIDs, ScopeValues: []int64{empAlice, empAlice},
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{empAlice}, task.ScopeValues)
		items, err := f.store.ListItems(f.ctx, task.ID, models.TaskItemFilter{})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, empAlice, items[0].EmployeeID)
	})

	t.Run("items are a snapshot", func(t *testing.T) {
		f := newFixture(t)
		f.inUse(t, "1", empAlice)
		task, items := f.salesTask(t)
		require.Len(t, items, 1)

		_, err := f.assets.Recover(f.ctx, rootAdmin, "1", time.Time{})
		require.NoError(t, err)
		f.inUse(t, "2", empBob)

		after, err := f.store.ListItems(f.ctx, task.ID, models.TaskItemFilter{})
		require.NoError(t, err)
		require.Len(t, after, 1)
		assert.Equal(t, empAlice, after[0].EmployeeID)
	})

	t.Run("empty scope yields an empty pending task", func(t *testing.T) {
		f := newFixture(t)
		task, items := f.salesTask(t)
		assert.Empty(t, items)
		assert.Equal(t, models.TaskPending, task.Status)
	})
}

func TestInventoryService_PerformItemAction(t *testing.T) {
	t.Run("unavailable is terminal and confirm is repeatable", func(t *testing.T) {
		f := newFixture(t)
		f.inUse(t, "1", empAlice)
		f.inUse(t, "2", empAlice)
		_, items := f.salesTask(t)

		purpose := "sales calls"
		out, err := f.inventory.PerformItemAction(f.ctx, alice, ItemActionInput{TaskID: items[0].TaskID, ItemID: items[0].ID, Action: models.ActionConfirm, Purpose: &purpose})
		require.NoError(t, err)
		assert.Equal(t, models.ItemConfirmed, out.Status)
		require.NotNil(t, out.Purpose)
		assert.Equal(t, purpose, *out.Purpose)

		_, err = act(f, alice, items[0], models.ActionConfirm)
		require.NoError(t, err)
		_, err = act(f, alice, items[0], models.ActionMarkUnavailable)
		require.NoError(t, err, "a confirmed item may still be marked unavailable")

		_, err = act(f, alice, items[0], models.ActionConfirm)
		assert.ErrorIs(t, err, apierrors.ErrInvalidState)
		assert.Equal(t, apierrors.CodeTaskItemTerminal, apierrors.As(err).Code)
	})

	t.Run("only holder or manager may act", func(t *testing.T) {
		f := newFixture(t)
		f.inUse(t, "1", empAlice)
		_, items := f.salesTask(t)

		_, err := act(f, bob, items[0], models.ActionConfirm)
		assert.ErrorIs(t, err, apierrors.ErrForbidden)
		_, err = act(f, salesViewer, items[0], models.ActionConfirm)
		assert.ErrorIs(t, err, apierrors.ErrForbidden)
		_, err = act(f, rootAdmin, items[0], models.ActionConfirm)
		require.NoError(t, err)
	})

	t.Run("unknown task item and action", func(t *testing.T) {
		f := newFixture(t)
		f.inUse(t, "1", empAlice)
		task, items := f.salesTask(t)

		_, err := f.inventory.PerformItemAction(f.ctx, alice, ItemActionInput{TaskID: task.ID, ItemID: "nope", Action: models.ActionConfirm})
		assert.ErrorIs(t, err, apierrors.ErrNotFound)
		_, err = f.inventory.PerformItemAction(f.ctx, alice, ItemActionInput{TaskID: "nope", ItemID: items[0].ID, Action: models.ActionConfirm})
		assert.ErrorIs(t, err, apierrors.ErrNotFound)
		_, err = f.inventory.PerformItemAction(f.ctx, alice, ItemActionInput{TaskID: task.ID, ItemID: items[0].ID, Action: "shrug"})
		assert.ErrorIs(t, err, apierrors.ErrValidation)
	})

	t.Run("closed task rejects mutation", func(t *testing.T) {
		f := newFixture(t)
		f.inUse(t, "1", empAlice)
		task, items := f.salesTask(t)

		closed, err := f.inventory.CloseTask(f.ctx, salesManager, task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskClosed, closed.Status)
		require.NotNil(t, closed.ClosedAt)

		_, err = act(f, alice, items[0], models.ActionConfirm)
		assert.ErrorIs(t, err, apierrors.ErrInvalidState)
		assert.Equal(t, apierrors.CodeTaskClosed, apierrors.As(err).Code)

		again, err := f.inventory.CloseTask(f.ctx, salesManager, task.ID)
		require.NoError(t, err)
		assert.Equal(t, closed.ClosedAt, again.ClosedAt)
	})

	t.Run("item action waits for the task key and sees the close", func(t *testing.T) {
		f := newFixture(t)
		f.inUse(t, "1", empAlice)
		task, items := f.salesTask(t)

		unlock, err := f.locker.Lock(f.ctx, keylock.TaskKey(task.ID))
		require.NoError(t, err)

		result := make(chan error, 1)
		go func() {
			_, err := act(f, alice, items[0], models.ActionConfirm)
			result <- err
		}()
		select {
		case err := <-result:
			unlock()
			t.Fatalf("item action finished while the task was locked: %v", err)
		case <-time.After(50 * time.Millisecond):
		}

		stored, err := f.store.GetTask(f.ctx, task.ID)
		require.NoError(t, err)
		stored.Status = models.TaskClosed
		require.NoError(t, f.store.UpdateTask(f.ctx, stored))
		unlock()

		select {
		case err = <-result:
		case <-time.After(5 * time.Second):
			t.Fatal("item action never acquired the task key")
		}
		assert.ErrorIs(t, err, apierrors.ErrInvalidState)
		assert.Equal(t, apierrors.CodeTaskClosed, apierrors.As(err).Code)

		item, err := f.store.GetItem(f.ctx, task.ID, items[0].ID)
		require.NoError(t, err)
		assert.Equal(t, models.ItemPending, item.Status)
		got, err := f.store.GetTask(f.ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskClosed, got.Status)
	})

	t.Run("concurrent actions converge to the aggregate rule", func(t *testing.T) {
		f := newFixture(t)
		for _, phone := range []string{"1", "2", "3", "4", "5", "6"} {
			f.inUse(t, phone, empAlice)
		}
		task, items := f.salesTask(t)

		var wg sync.WaitGroup
		for i, it := range items {
			action := models.ActionConfirm
			if i%3 == 0 {
				action = models.ActionMarkUnavailable
			}
			wg.Add(1)
			go func(it *models.InventoryTaskItem, action models.ItemAction) {
				defer wg.Done()
				_, err := act(f, alice, it, action)
				assert.NoError(t, err)
			}(it, action)
		}
		wg.Wait()

		got, err := f.inventory.GetTask(f.ctx, rootAdmin, task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskCompleted, got.Status)
	})
}

func TestInventoryService_SubmitTask(t *testing.T) {
	f := newFixture(t)
	f.inUse(t, "1", empAlice)
	f.inUse(t, "2", empBob)
	task, items := f.salesTask(t)
	var mine *models.InventoryTaskItem
	for _, it := range items {
		if it.EmployeeID == empAlice {
			mine = it
		}
	}
	require.NotNil(t, mine)

	_, err := f.inventory.SubmitTask(f.ctx, alice, task.ID)
	assert.ErrorIs(t, err, apierrors.ErrInvalidState)
	assert.Equal(t, apierrors.CodeTaskItemsPending, apierrors.As(err).Code)

	_, err = f.inventory.SubmitTask(f.ctx, carol, task.ID)
	assert.ErrorIs(t, err, apierrors.ErrValidation, "no items for this employee")

	_, err = f.inventory.SubmitTask(f.ctx, rootAdmin, task.ID)
	assert.ErrorIs(t, err, apierrors.ErrForbidden)

	_, err = act(f, alice, mine, models.ActionConfirm)
	require.NoError(t, err)

	first, err := f.inventory.SubmitTask(f.ctx, alice, task.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.inventory.SubmitTask(f.ctx, alice, task.ID)
	require.NoError(t, err)
	assert.Equal(t, first.SubmittedAt, second.SubmittedAt, "resubmission returns the original record")

	evs := f.hub.OfType(events.TaskSubmitted)
	require.Len(t, evs, 1)
	assert.Equal(t, empAlice, evs[0].EmployeeID)

	got, err := f.inventory.GetTask(f.ctx, rootAdmin, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskInProgress, got.Status, "submission does not change aggregation")
}

func TestInventoryService_SubmitFollowsTransfer(t *testing.T) {
	f := newFixture(t)
	f.inUse(t, "1", empAlice)
	task, items := f.salesTask(t)
	require.Len(t, items, 1)

	req, err := f.transfers.Initiate(f.ctx, alice, InitiateTransferInput{PhoneNumber: "1", FromEmployeeID: empAlice, ToEmployeeID: empBob})
	require.NoError(t, err)
	_, err = f.transfers.Accept(f.ctx, bob, req.ID)
	require.NoError(t, err)

	_, err = act(f, alice, items[0], models.ActionConfirm)
	assert.ErrorIs(t, err, apierrors.ErrForbidden, "previous holder no longer answers for the item")
	_, err = act(f, bob, items[0], models.ActionConfirm)
	require.NoError(t, err)

	_, err = f.inventory.SubmitTask(f.ctx, alice, task.ID)
	assert.ErrorIs(t, err, apierrors.ErrValidation)
	sub, err := f.inventory.SubmitTask(f.ctx, bob, task.ID)
	require.NoError(t, err)
	assert.Equal(t, empBob, sub.EmployeeID)

	mine, err := f.inventory.ListTaskItems(f.ctx, bob, task.ID, models.TaskItemFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, empAlice, mine[0].EmployeeID, "stored item keeps the holder captured at creation")

	_, err = f.inventory.GetTask(f.ctx, alice, task.ID)
	assert.NoError(t, err, "the original holder can still see the task")
}

func TestInventoryService_ReportUnlistedPhone(t *testing.T) {
	f := newFixture(t)
	f.inUse(t, "1", empAlice)
	task, items := f.salesTask(t)

	_, err := f.inventory.ReportUnlistedPhone(f.ctx, alice, task.ID, UnlistedPhoneInput{PhoneNumber: "1"})
	assert.ErrorIs(t, err, apierrors.ErrConflict)

	report, err := f.inventory.ReportUnlistedPhone(f.ctx, alice, task.ID, UnlistedPhoneInput{PhoneNumber: "13800000000", Purpose: "private line"})
	require.NoError(t, err)
	assert.Equal(t, empAlice, report.EmployeeID)

	_, err = f.inventory.ReportUnlistedPhone(f.ctx, rootAdmin, task.ID, UnlistedPhoneInput{PhoneNumber: "13800000001"})
	assert.ErrorIs(t, err, apierrors.ErrForbidden)

	after, err := f.store.ListItems(f.ctx, task.ID, models.TaskItemFilter{})
	require.NoError(t, err)
	assert.Len(t, after, len(items), "reports never become items")

	reports, err := f.inventory.ListUnlistedReports(f.ctx, salesManager, task.ID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "13800000000", reports[0].PhoneNumber)

	_, err = f.inventory.ListUnlistedReports(f.ctx, alice, task.ID)
	assert.ErrorIs(t, err, apierrors.ErrForbidden)

	got, err := f.inventory.GetTask(f.ctx, rootAdmin, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, got.Status)
}

func TestInventoryService_Visibility(t *testing.T) {
	f := newFixture(t)
	f.inUse(t, "1", empAlice)
	f.inUse(t, "2", empBob)
	task, _ := f.salesTask(t)

	_, err := f.inventory.GetTask(f.ctx, alice, task.ID)
	require.NoError(t, err, "employees with items see the task")
	_, err = f.inventory.GetTask(f.ctx, carol, task.ID)
	assert.ErrorIs(t, err, apierrors.ErrForbidden)
	_, err = f.inventory.GetTask(f.ctx, salesViewer, task.ID)
	require.NoError(t, err)

	items, err := f.inventory.ListTaskItems(f.ctx, alice, task.ID, models.TaskItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1", items[0].PhoneNumber)

	items, err = f.inventory.ListTaskItems(f.ctx, salesViewer, task.ID, models.TaskItemFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	tasks, err := f.inventory.ListTasks(f.ctx, carol, models.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
	tasks, err = f.inventory.ListTasks(f.ctx, bob, models.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	_, err = f.inventory.CloseTask(f.ctx, salesViewer, task.ID)
	assert.ErrorIs(t, err, apierrors.ErrForbidden)
}

func TestInventoryService_RemindOverdue(t *testing.T) {
	f := newFixture(t)
	f.inUse(t, "1", empAlice)
	f.inUse(t, "2", empBob)
	_, items := f.salesTask(t)

	n, err := f.inventory.RemindOverdue(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not yet due")

	f.clock.Advance(8 * 24 * time.Hour)
	for _, it := range items {
		if it.EmployeeID == empAlice {
			_, err := act(f, alice, it, models.ActionConfirm)
			require.NoError(t, err)
		}
	}

	n, err = f.inventory.RemindOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	evs := f.hub.OfType(events.TaskOverdue)
	require.Len(t, evs, 1)
	assert.Equal(t, []int64{empBob}, evs[0].Recipients)
}
