package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/phonedesk/internal/apierrors"
	"github.com/goatkit/phonedesk/internal/models"
	"github.com/goatkit/phonedesk/internal/service"
)

func (router *APIRouter) handleListTransfers(c *gin.Context) {
	filter := models.TransferFilter{PhoneNumber: c.Query("phone_number")}
	var ok bool
	if filter.EmployeeID, ok = queryInt64(c, "employee_id"); !ok {
		return
	}
	for _, s := range queryStrings(c, "state") {
		filter.States = append(filter.States, models.TransferState(s))
	}
	reqs, err := router.deps.Transfers.List(c.Request.Context(), actor(c), filter)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, reqs)
}

func (router *APIRouter) handleInitiateTransfer(c *gin.Context) {
	var in service.InitiateTransferInput
	if err := c.ShouldBindJSON(&in); err != nil {
		sendInvalidRequest(c, err)
		return
	}
	req, err := router.deps.Transfers.Initiate(c.Request.Context(), actor(c), in)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	sendSuccess(c, http.StatusCreated, req)
}

func (router *APIRouter) handleGetTransfer(c *gin.Context) {
	router.transferResult(c)(router.deps.Transfers.Get(c.Request.Context(), actor(c), c.Param("id")))
}

func (router *APIRouter) handleAcceptTransfer(c *gin.Context) {
	router.transferResult(c)(router.deps.Transfers.Accept(c.Request.Context(), actor(c), c.Param("id")))
}

func (router *APIRouter) handleRejectTransfer(c *gin.Context) {
	router.transferResult(c)(router.deps.Transfers.Reject(c.Request.Context(), actor(c), c.Param("id")))
}

func (router *APIRouter) handleCancelTransfer(c *gin.Context) {
	router.transferResult(c)(router.deps.Transfers.Cancel(c.Request.Context(), actor(c), c.Param("id")))
}

func (router *APIRouter) transferResult(c *gin.Context) func(*models.TransferRequest, error) {
	return func(req *models.TransferRequest, err error) {
		if err != nil {
			apierrors.Respond(c, err)
			return
		}
		sendSuccess(c, http.StatusOK, req)
	}
}
