package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/handler"
	"github.com/noah-isme/krs-api/internal/middleware"
	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/internal/service"
	"github.com/noah-isme/krs-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/krs-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/krs-api/pkg/middleware/requestid"
)

// Handlers groups every HTTP handler served by the API.
type Handlers struct {
	Registration *handler.RegistrationHandler
	Swap         *handler.SwapHandler
	ManualJoin   *handler.ManualJoinHandler
	Drop         *handler.DropHandler
	Metrics      *handler.MetricsHandler
}

// Options tunes router setup.
type Options struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	EnableMetrics  bool
}

// Setup builds the gin engine with middleware and routes.
func Setup(opts Options, h Handlers, auth middleware.TokenValidator, metrics *service.MetricsService, logr *zap.Logger) *gin.Engine {
	if logr == nil {
		logr = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(opts.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, "/metrics", "/health", "/ready"))

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	if opts.EnableMetrics {
		r.GET("/metrics", h.Metrics.Prometheus)
	}
	if opts.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	prefix := opts.APIPrefix
	if prefix == "" {
		prefix = "/api/v1"
	}
	api := r.Group(prefix)
	api.Use(middleware.JWT(auth))

	approvers := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleLecturer)
	students := middleware.RequireRoles(models.RoleStudent)

	student := api.Group("/students/:id")
	{
		read := middleware.RBAC(middleware.RoleSelf, string(models.RoleSuperAdmin), string(models.RoleAdmin), string(models.RoleLecturer))
		write := middleware.RBAC(middleware.RoleSelf, string(models.RoleSuperAdmin), string(models.RoleAdmin))

		student.GET("/enrollments", read, h.Registration.List)
		student.GET("/schedule", read, h.Registration.Timetable)
		student.POST("/enrollments", write, middleware.Audit(logr, "register"), h.Registration.Register)
		student.DELETE("/enrollments/:enrollmentId", write, middleware.Audit(logr, "unregister"), h.Registration.Unregister)
	}

	api.GET("/sections/:id/availability", h.Registration.Availability)

	swaps := api.Group("/swaps")
	{
		swaps.GET("", h.Swap.List)
		swaps.POST("", students, middleware.Audit(logr, "swap_create"), h.Swap.Create)
		swaps.POST("/:id/respond", students, middleware.Audit(logr, "swap_respond"), h.Swap.Respond)
		swaps.POST("/:id/cancel", students, middleware.Audit(logr, "swap_cancel"), h.Swap.Cancel)
	}

	manualJoins := api.Group("/manual-joins")
	{
		manualJoins.GET("", h.ManualJoin.List)
		manualJoins.POST("", students, middleware.Audit(logr, "manual_join_create"), h.ManualJoin.Create)
		manualJoins.POST("/:id/approve", approvers, middleware.Audit(logr, "manual_join_approve"), h.ManualJoin.Approve)
		manualJoins.POST("/:id/reject", approvers, middleware.Audit(logr, "manual_join_reject"), h.ManualJoin.Reject)
	}

	drops := api.Group("/drops")
	{
		drops.GET("", h.Drop.List)
		drops.POST("", students, middleware.Audit(logr, "drop_create"), h.Drop.Create)
		drops.POST("/:id/approve", approvers, middleware.Audit(logr, "drop_approve"), h.Drop.Approve)
		drops.POST("/:id/reject", approvers, middleware.Audit(logr, "drop_reject"), h.Drop.Reject)
	}

	return r
}
