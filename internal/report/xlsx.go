// Package report renders inventory tasks as spreadsheets for offline review.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/goatkit/phonedesk/internal/directory"
	"github.com/goatkit/phonedesk/internal/models"
)

const (
	itemsSheet    = "Items"
	summarySheet  = "Summary"
	unlistedSheet = "Unlisted"
)

var itemHeader = []any{"Phone number", "Department", "Employee", "Status", "Purpose", "Comment", "Updated at"}

// TaskExport is everything needed to render one task.
type TaskExport struct {
	Task     *models.InventoryTask
	Items    []*models.InventoryTaskItem
	Unlisted []*models.UnlistedPhoneReport
}

// Exporter writes task workbooks, labelling ids with directory names.
type Exporter struct {
	dir      directory.Directory
	location *time.Location
}

// NewExporter creates an exporter. dir may be nil, in which case raw ids are written.
func NewExporter(dir directory.Directory, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{dir: dir, location: loc}
}

// WriteTask renders data as an XLSX workbook to w.
func (e *Exporter) WriteTask(ctx context.Context, w io.Writer, data TaskExport) error {
	if data.Task == nil {
		return fmt.Errorf("report: task is required")
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", itemsSheet); err != nil {
		return err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	if err := e.writeItems(ctx, f, data.Items, header); err != nil {
		return err
	}
	if err := e.writeSummary(f, data, header); err != nil {
		return err
	}
	if len(data.Unlisted) > 0 {
		if err := e.writeUnlisted(ctx, f, data.Unlisted, header); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func (e *Exporter) writeItems(ctx context.Context, f *excelize.File, items []*models.InventoryTaskItem, header int) error {
	if err := f.SetSheetRow(itemsSheet, "A1", &itemHeader); err != nil {
		return err
	}
	names := newNameCache(e.dir)
	for i, it := range items {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			it.PhoneNumber,
			names.department(ctx, it.DepartmentID),
			names.employee(ctx, it.EmployeeID),
			string(it.Status),
			deref(it.Purpose),
			deref(it.Comment),
			it.UpdatedAt.In(e.location).Format(time.DateTime),
		}
		if err := f.SetSheetRow(itemsSheet, cell, &row); err != nil {
			return err
		}
	}

	last, err := excelize.CoordinatesToCellName(len(itemHeader), len(items)+1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(itemsSheet, "A1", "G1", header); err != nil {
		return err
	}
	if err := f.SetColWidth(itemsSheet, "A", "G", 20); err != nil {
		return err
	}
	if err := f.SetPanes(itemsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	if len(items) > 0 {
		return f.AutoFilter(itemsSheet, "A1:"+last, nil)
	}
	return nil
}

func (e *Exporter) writeSummary(f *excelize.File, data TaskExport, header int) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	counts := map[models.ItemStatus]int{}
	for _, it := range data.Items {
		counts[it.Status]++
	}
	t := data.Task
	rows := [][]any{
		{"Task", t.Name},
		{"Status", string(t.Status)},
		{"Scope", string(t.ScopeType)},
		{"Due", t.DueAt.In(e.location).Format(time.DateTime)},
		{"Items", len(data.Items)},
		{"Pending", counts[models.ItemPending]},
		{"Confirmed", counts[models.ItemConfirmed]},
		{"Unavailable", counts[models.ItemUnavailable]},
		{"Unlisted reports", len(data.Unlisted)},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(rows)), header); err != nil {
		return err
	}
	return f.SetColWidth(summarySheet, "A", "B", 24)
}

func (e *Exporter) writeUnlisted(ctx context.Context, f *excelize.File, reports []*models.UnlistedPhoneReport, header int) error {
	if _, err := f.NewSheet(unlistedSheet); err != nil {
		return err
	}
	head := []any{"Phone number", "Reported by", "Purpose", "Comment", "Reported at"}
	if err := f.SetSheetRow(unlistedSheet, "A1", &head); err != nil {
		return err
	}
	names := newNameCache(e.dir)
	for i, r := range reports {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{r.PhoneNumber, names.employee(ctx, r.EmployeeID), r.Purpose, r.Comment, r.CreatedAt.In(e.location).Format(time.DateTime)}
		if err := f.SetSheetRow(unlistedSheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetCellStyle(unlistedSheet, "A1", "E1", header)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nameCache resolves ids to display names once per export.
type nameCache struct {
	dir         directory.Directory
	employees   map[int64]string
	departments map[int64]string
}

func newNameCache(dir directory.Directory) *nameCache {
	return &nameCache{dir: dir, employees: map[int64]string{}, departments: map[int64]string{}}
}

func (c *nameCache) employee(ctx context.Context, id int64) string {
	if id == 0 {
		return ""
	}
	if n, ok := c.employees[id]; ok {
		return n
	}
	name := fmt.Sprintf("#%d", id)
	if c.dir != nil {
		if e, err := c.dir.GetEmployee(ctx, id); err == nil && e.Name != "" {
			name = fmt.Sprintf("%s (#%d)", e.Name, id)
		}
	}
	c.employees[id] = name
	return name
}

func (c *nameCache) department(ctx context.Context, id int64) string {
	if n, ok := c.departments[id]; ok {
		return n
	}
	name := fmt.Sprintf("#%d", id)
	if c.dir != nil {
		if d, err := c.dir.GetDepartment(ctx, id); err == nil && d.Name != "" {
			name = d.Name
		}
	}
	c.departments[id] = name
	return name
}
