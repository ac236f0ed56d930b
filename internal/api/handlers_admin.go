package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"

	"github.com/goatkit/phonedesk/internal/apierrors"
	"github.com/goatkit/phonedesk/internal/directory"
	"github.com/goatkit/phonedesk/internal/services/scheduler"
)

// handleDepartmentTree returns the department hierarchy, siblings ordered by
// name in the requested language.
func (router *APIRouter) handleDepartmentTree(c *gin.Context) {
	opts := directory.TreeOptions{}
	if v := c.Query("include_inactive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "invalid include_inactive: "+v)
			return
		}
		opts.IncludeInactive = b
	}
	if lang := c.Query("lang"); lang != "" {
		tag, err := language.Parse(lang)
		if err != nil {
			apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "invalid lang: "+lang)
			return
		}
		opts.Language = tag
	}

	deps, err := router.deps.Directory.ListDepartments(c.Request.Context())
	if err != nil {
		apierrors.Respond(c, apierrors.Internal(err, "failed to list departments"))
		return
	}
	tree, err := directory.BuildTree(deps, opts)
	if err != nil {
		apierrors.Respond(c, apierrors.Internal(err, "department hierarchy is inconsistent"))
		return
	}
	sendSuccess(c, http.StatusOK, tree)
}

// requireSuperAdmin admits only super-admins to operational endpoints.
func (router *APIRouter) requireSuperAdmin(c *gin.Context) bool {
	who := actor(c)
	if who.UserID != 0 {
		u, err := router.deps.Directory.GetUser(c.Request.Context(), who.UserID)
		if err == nil && u.IsSuperAdmin {
			return true
		}
		if err != nil && !errors.Is(err, directory.ErrNotFound) {
			apierrors.Respond(c, apierrors.Internal(err, "failed to load user"))
			return false
		}
	}
	apierrors.ErrorWithMessage(c, apierrors.CodeForbidden, "super-admin required")
	return false
}

func (router *APIRouter) handleListJobs(c *gin.Context) {
	if !router.requireSuperAdmin(c) {
		return
	}
	if router.deps.Scheduler == nil {
		sendSuccess(c, http.StatusOK, []scheduler.JobStatus{})
		return
	}
	sendSuccess(c, http.StatusOK, router.deps.Scheduler.Status())
}

func (router *APIRouter) handleRunJob(c *gin.Context) {
	if !router.requireSuperAdmin(c) {
		return
	}
	if router.deps.Scheduler == nil {
		apierrors.SendError(c, apierrors.CodeServiceUnavailable)
		return
	}
	err := router.deps.Scheduler.RunNow(c.Request.Context(), c.Param("slug"))
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		apierrors.ErrorWithMessage(c, apierrors.CodeNotFound, err.Error())
	case err != nil:
		apierrors.Respond(c, apierrors.Internal(err, "job %s failed", c.Param("slug")))
	default:
		sendSuccess(c, http.StatusOK, gin.H{"slug": c.Param("slug"), "status": "completed"})
	}
}
