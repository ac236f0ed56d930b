package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/phonedesk/internal/apierrors"
	"github.com/goatkit/phonedesk/internal/models"
	"github.com/goatkit/phonedesk/internal/report"
	"github.com/goatkit/phonedesk/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (router *APIRouter) handleListTasks(c *gin.Context) {
	var filter models.TaskFilter
	for _, s := range queryStrings(c, "status") {
		filter.Statuses = append(filter.Statuses, models.TaskStatus(s))
	}
	tasks, err := router.deps.Inventory.ListTasks(c.Request.Context(), actor(c), filter)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, tasks)
}

func (router *APIRouter) handleCreateTask(c *gin.Context) {
	var in service.CreateTaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		sendInvalidRequest(c, err)
		return
	}
	task, err := router.deps.Inventory.CreateTask(c.Request.Context(), actor(c), in)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	sendSuccess(c, http.StatusCreated, task)
}

func (router *APIRouter) handleGetTask(c *gin.Context) {
	router.taskResult(c)(router.deps.Inventory.GetTask(c.Request.Context(), actor(c), c.Param("id")))
}

func (router *APIRouter) handleListTaskItems(c *gin.Context) {
	var filter models.TaskItemFilter
	for _, s := range queryStrings(c, "status") {
		filter.Statuses = append(filter.Statuses, models.ItemStatus(s))
	}
	var ok bool
	if filter.EmployeeID, ok = queryInt64(c, "employee_id"); !ok {
		return
	}
	if filter.DepartmentID, ok = queryInt64(c, "department_id"); !ok {
		return
	}
	items, err := router.deps.Inventory.ListTaskItems(c.Request.Context(), actor(c), c.Param("id"), filter)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, items)
}

type itemActionRequest struct {
	Action  models.ItemAction `json:"action" binding:"required"`
	Purpose *string           `json:"purpose"`
	Comment *string           `json:"comment"`
}

func (router *APIRouter) handleItemAction(c *gin.Context) {
	var req itemActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendInvalidRequest(c, err)
		return
	}
	item, err := router.deps.Inventory.PerformItemAction(c.Request.Context(), actor(c), service.ItemActionInput{
		TaskID:  c.Param("id"),
		ItemID:  c.Param("item"),
		Action:  req.Action,
		Purpose: req.Purpose,
		Comment: req.Comment,
	})
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, item)
}

func (router *APIRouter) handleListUnlisted(c *gin.Context) {
	reports, err := router.deps.Inventory.ListUnlistedReports(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, reports)
}

func (router *APIRouter) handleReportUnlisted(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		sendInvalidRequest(c, err)
		return
	}
	if err := validatePayload(unlistedSchema, body); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, err.Error())
		return
	}
	var in service.UnlistedPhoneInput
	if err := json.Unmarshal(body, &in); err != nil {
		sendInvalidRequest(c, err)
		return
	}
	r, err := router.deps.Inventory.ReportUnlistedPhone(c.Request.Context(), actor(c), c.Param("id"), in)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	sendSuccess(c, http.StatusCreated, r)
}

func (router *APIRouter) handleSubmitTask(c *gin.Context) {
	sub, err := router.deps.Inventory.SubmitTask(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, sub)
}

func (router *APIRouter) handleCloseTask(c *gin.Context) {
	router.taskResult(c)(router.deps.Inventory.CloseTask(c.Request.Context(), actor(c), c.Param("id")))
}

// handleExportTask streams the task as an XLSX workbook.
func (router *APIRouter) handleExportTask(c *gin.Context) {
	ctx := c.Request.Context()
	who := actor(c)
	id := c.Param("id")

	task, err := router.deps.Inventory.GetTask(ctx, who, id)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	items, err := router.deps.Inventory.ListTaskItems(ctx, who, id, models.TaskItemFilter{})
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	unlisted, err := router.deps.Inventory.ListUnlistedReports(ctx, who, id)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	exporter := router.deps.Exporter
	if exporter == nil {
		exporter = report.NewExporter(router.deps.Directory, nil)
	}
	var buf bytes.Buffer
	if err := exporter.WriteTask(ctx, &buf, report.TaskExport{Task: task, Items: items, Unlisted: unlisted}); err != nil {
		apierrors.Respond(c, apierrors.Internal(err, "failed to export task %s", id))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="inventory-%s.xlsx"`, task.ID))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (router *APIRouter) taskResult(c *gin.Context) func(*models.InventoryTask, error) {
	return func(t *models.InventoryTask, err error) {
		if err != nil {
			apierrors.Respond(c, err)
			return
		}
		sendSuccess(c, http.StatusOK, t)
	}
}
