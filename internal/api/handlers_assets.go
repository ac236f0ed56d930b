package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/phonedesk/internal/apierrors"
	"github.com/goatkit/phonedesk/internal/models"
	"github.com/goatkit/phonedesk/internal/service"
)

func (router *APIRouter) handleListAssets(c *gin.Context) {
	var filter models.AssetFilter
	for _, s := range queryStrings(c, "status") {
		filter.Statuses = append(filter.Statuses, models.AssetStatus(s))
	}
	var ok bool
	if filter.DepartmentIDs, ok = queryInt64s(c, "department_id"); !ok {
		return
	}
	if filter.HolderIDs, ok = queryInt64s(c, "holder_id"); !ok {
		return
	}
	if filter.ApplicantID, ok = queryInt64(c, "applicant_id"); !ok {
		return
	}
	if filter.Limit, ok = queryInt(c, "limit"); !ok {
		return
	}
	if filter.Offset, ok = queryInt(c, "offset"); !ok {
		return
	}
	filter.Vendor = c.Query("vendor")

	assets, err := router.deps.Assets.ListAssets(c.Request.Context(), actor(c), filter)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, assets)
}

func (router *APIRouter) handleRegisterAsset(c *gin.Context) {
	var in service.RegisterAssetInput
	if err := c.ShouldBindJSON(&in); err != nil {
		sendInvalidRequest(c, err)
		return
	}
	a, err := router.deps.Assets.RegisterAsset(c.Request.Context(), actor(c), in)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	sendSuccess(c, http.StatusCreated, a)
}

func (router *APIRouter) handleGetAsset(c *gin.Context) {
	a, err := router.deps.Assets.GetAsset(c.Request.Context(), actor(c), c.Param("phone"))
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, a)
}

func (router *APIRouter) handleDeleteAsset(c *gin.Context) {
	if err := router.deps.Assets.DeleteAsset(c.Request.Context(), actor(c), c.Param("phone")); err != nil {
		apierrors.Respond(c, err)
		return
	}
	noContent(c)
}

type assignRequest struct {
	EmployeeID int64     `json:"employee_id" binding:"required"`
	Purpose    string    `json:"purpose"`
	Date       time.Time `json:"date"`
}

func (router *APIRouter) handleAssign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendInvalidRequest(c, err)
		return
	}
	router.assetResult(c)(router.deps.Assets.Assign(c.Request.Context(), actor(c), c.Param("phone"), req.EmployeeID, req.Purpose, req.Date))
}

type recoverRequest struct {
	Date time.Time `json:"date"`
}

func (router *APIRouter) handleRecover(c *gin.Context) {
	var req recoverRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	router.assetResult(c)(router.deps.Assets.Recover(c.Request.Context(), actor(c), c.Param("phone"), req.Date))
}

type deactivationRequest struct {
	Initiator models.DeactivationInitiator `json:"initiator" binding:"required"`
}

func (router *APIRouter) handleRequestDeactivation(c *gin.Context) {
	var req deactivationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendInvalidRequest(c, err)
		return
	}
	router.assetResult(c)(router.deps.Assets.RequestDeactivation(c.Request.Context(), actor(c), c.Param("phone"), req.Initiator))
}

func (router *APIRouter) handleFinalizeDeactivation(c *gin.Context) {
	router.assetResult(c)(router.deps.Assets.FinalizeDeactivation(c.Request.Context(), actor(c), c.Param("phone")))
}

type riskRequest struct {
	Reason models.RiskReason `json:"reason" binding:"required"`
}

func (router *APIRouter) handleFlagRisk(c *gin.Context) {
	var req riskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendInvalidRequest(c, err)
		return
	}
	router.assetResult(c)(router.deps.Assets.FlagRisk(c.Request.Context(), actor(c), c.Param("phone"), req.Reason))
}

func (router *APIRouter) handleClearRisk(c *gin.Context) {
	router.assetResult(c)(router.deps.Assets.ClearRisk(c.Request.Context(), actor(c), c.Param("phone")))
}

func (router *APIRouter) handleSuspend(c *gin.Context) {
	router.assetResult(c)(router.deps.Assets.Suspend(c.Request.Context(), actor(c), c.Param("phone")))
}

func (router *APIRouter) handleResume(c *gin.Context) {
	router.assetResult(c)(router.deps.Assets.Resume(c.Request.Context(), actor(c), c.Param("phone")))
}

func (router *APIRouter) handleStartCardReplacement(c *gin.Context) {
	router.assetResult(c)(router.deps.Assets.StartCardReplacement(c.Request.Context(), actor(c), c.Param("phone")))
}

func (router *APIRouter) handleFinishCardReplacement(c *gin.Context) {
	router.assetResult(c)(router.deps.Assets.FinishCardReplacement(c.Request.Context(), actor(c), c.Param("phone")))
}

// assetResult renders the outcome of a state transition.
func (router *APIRouter) assetResult(c *gin.Context) func(*models.PhoneAsset, error) {
	return func(a *models.PhoneAsset, err error) {
		if err != nil {
			apierrors.Respond(c, err)
			return
		}
		sendSuccess(c, http.StatusOK, a)
	}
}
