// Package api exposes the phonedesk operations over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/goatkit/phonedesk/internal/directory"
	"github.com/goatkit/phonedesk/internal/middleware"
	"github.com/goatkit/phonedesk/internal/report"
	"github.com/goatkit/phonedesk/internal/service"
	"github.com/goatkit/phonedesk/internal/services/scheduler"
)

// Dependencies wires the router to the core services.
type Dependencies struct {
	Assets    *service.AssetService
	Transfers *service.TransferService
	Inventory *service.InventoryService
	Directory directory.Directory
	Exporter  *report.Exporter
	Scheduler *scheduler.Service // optional

	Tokens    middleware.TokenParser
	Limiter   *middleware.RateLimiter // optional
	RateLimit int

	Logger   *zap.Logger
	Gatherer prometheus.Gatherer
	// Ping reports backing store health for /healthz. Optional.
	Ping func(ctx context.Context) error
}

// APIRouter holds the handlers of the v1 API.
type APIRouter struct {
	deps   Dependencies
	logger *zap.Logger
}

// NewAPIRouter creates the router.
func NewAPIRouter(deps Dependencies) *APIRouter {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &APIRouter{deps: deps, logger: logger}
}

// Engine builds a gin engine with every route registered.
func (router *APIRouter) Engine() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(router.logger), middleware.RequestLogger(router.logger))
	router.Register(r)
	return r
}

// Register adds the routes to r.
func (router *APIRouter) Register(r gin.IRouter) {
	r.GET("/healthz", router.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(router.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	v1.Use(middleware.RequireActor(router.deps.Tokens))
	if router.deps.Limiter != nil {
		v1.Use(middleware.RateLimit(router.deps.Limiter, router.deps.RateLimit))
	}

	assets := v1.Group("/assets")
	assets.GET("", router.handleListAssets)
	assets.POST("", router.handleRegisterAsset)
	assets.GET("/:phone", router.handleGetAsset)
	assets.DELETE("/:phone", router.handleDeleteAsset)
	assets.POST("/:phone/assign", router.handleAssign)
	assets.POST("/:phone/recover", router.handleRecover)
	assets.POST("/:phone/deactivation", router.handleRequestDeactivation)
	assets.POST("/:phone/finalize", router.handleFinalizeDeactivation)
	assets.POST("/:phone/risk", router.handleFlagRisk)
	assets.POST("/:phone/clear-risk", router.handleClearRisk)
	assets.POST("/:phone/suspend", router.handleSuspend)
	assets.POST("/:phone/resume", router.handleResume)
	assets.POST("/:phone/card-replacement", router.handleStartCardReplacement)
	assets.POST("/:phone/card-replacement/finish", router.handleFinishCardReplacement)

	transfers := v1.Group("/transfers")
	transfers.GET("", router.handleListTransfers)
	transfers.POST("", router.handleInitiateTransfer)
	transfers.GET("/:id", router.handleGetTransfer)
	transfers.POST("/:id/accept", router.handleAcceptTransfer)
	transfers.POST("/:id/reject", router.handleRejectTransfer)
	transfers.POST("/:id/cancel", router.handleCancelTransfer)

	tasks := v1.Group("/tasks")
	tasks.GET("", router.handleListTasks)
	tasks.POST("", router.handleCreateTask)
	tasks.GET("/:id", router.handleGetTask)
	tasks.GET("/:id/items", router.handleListTaskItems)
	tasks.POST("/:id/items/:item/action", router.handleItemAction)
	tasks.GET("/:id/unlisted", router.handleListUnlisted)
	tasks.POST("/:id/unlisted", router.handleReportUnlisted)
	tasks.POST("/:id/submit", router.handleSubmitTask)
	tasks.POST("/:id/close", router.handleCloseTask)
	tasks.GET("/:id/export", router.handleExportTask)

	v1.GET("/departments", router.handleDepartmentTree)

	v1.GET("/jobs", router.handleListJobs)
	v1.POST("/jobs/:slug/run", router.handleRunJob)
}

// handleHealth reports liveness and, when configured, store reachability.
func (router *APIRouter) handleHealth(c *gin.Context) {
	if router.deps.Ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := router.deps.Ping(ctx); err != nil {
			router.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
