package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/phonedesk/internal/apierrors"
	"github.com/goatkit/phonedesk/internal/middleware"
	"github.com/goatkit/phonedesk/internal/models"
)

func sendSuccess(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func sendInvalidRequest(c *gin.Context, err error) {
	apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "Invalid request body: "+err.Error())
}

// actor returns the authenticated actor. RequireActor guarantees presence.
func actor(c *gin.Context) models.Actor {
	a, _ := middleware.ActorFrom(c)
	return a
}

// bindOptionalJSON binds the body when there is one.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		sendInvalidRequest(c, err)
		return false
	}
	return true
}

// queryInt64s collects ids from repeated or comma separated query values.
func queryInt64s(c *gin.Context, key string) ([]int64, bool) {
	var out []int64
	for _, raw := range c.QueryArray(key) {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "invalid "+key+": "+part)
				return nil, false
			}
			out = append(out, id)
		}
	}
	return out, true
}

func queryInt64(c *gin.Context, key string) (int64, bool) {
	ids, ok := queryInt64s(c, key)
	if !ok {
		return 0, false
	}
	if len(ids) > 1 {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, key+" accepts a single value")
		return 0, false
	}
	if len(ids) == 0 {
		return 0, true
	}
	return ids[0], true
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "invalid "+key+": "+raw)
		return 0, false
	}
	return n, true
}

func queryStrings(c *gin.Context, key string) []string {
	var out []string
	for _, raw := range c.QueryArray(key) {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

