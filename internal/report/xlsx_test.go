package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/goatkit/phonedesk/internal/directory"
	"github.com/goatkit/phonedesk/internal/models"
)

func TestExporter_WriteTask(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	dir.PutDepartment(&models.Department{ID: 2, Name: "Sales", Active: true})
	dir.PutEmployee(&models.Employee{ID: 10, DepartmentID: 2, Name: "Alice", EmploymentStatus: models.EmploymentActive})

	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	purpose := "field calls"
	data := TaskExport{
		Task: &models.InventoryTask{ID: "t1", Name: "Q1 audit", Status: models.TaskInProgress, ScopeType: models.ScopeDepartmentIDs, DueAt: at},
		Items: []*models.InventoryTaskItem{
			{ID: "i1", TaskID: "t1", PhoneNumber: "13900000000", DepartmentID: 2, EmployeeID: 10, Status: models.ItemConfirmed, Purpose: &purpose, UpdatedAt: at},
			{ID: "i2", TaskID: "t1", PhoneNumber: "13900000001", DepartmentID: 9, EmployeeID: 11, Status: models.ItemPending, UpdatedAt: at},
		},
		Unlisted: []*models.UnlistedPhoneReport{
			{ID: "r1", TaskID: "t1", EmployeeID: 10, PhoneNumber: "13800000000", Purpose: "private", CreatedAt: at},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewExporter(dir, time.UTC).WriteTask(context.Background(), &buf, data))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{itemsSheet, summarySheet, unlistedSheet}, f.GetSheetList())

	rows, err := f.GetRows(itemsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Phone number", rows[0][0])
	assert.Equal(t, []string{"13900000000", "Sales", "Alice (#10)", "confirmed", "field calls", "", "2024-03-01 09:30:00"}, rows[1])
	assert.Equal(t, "#9", rows[2][1], "unknown departments fall back to the id")
	assert.Equal(t, "#11", rows[2][2])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Task", "Q1 audit"}, summary[0])
	assert.Equal(t, []string{"Pending", "1"}, summary[5])
	assert.Equal(t, []string{"Confirmed", "1"}, summary[6])

	unlisted, err := f.GetRows(unlistedSheet)
	require.NoError(t, err)
	require.Len(t, unlisted, 2)
	assert.Equal(t, "13800000000", unlisted[1][0])
}

func TestExporter_EmptyTask(t *testing.T) {
	var buf bytes.Buffer
	err := NewExporter(nil, nil).WriteTask(context.Background(), &buf, TaskExport{
		Task: &models.InventoryTask{ID: "t1", Name: "empty", Status: models.TaskPending},
	})
	require.NoError(t, err)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{itemsSheet, summarySheet}, f.GetSheetList())

	assert.Error(t, NewExporter(nil, nil).WriteTask(context.Background(), &buf, TaskExport{}))
}
