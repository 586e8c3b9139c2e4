package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"jobscheduler/internal/controllers"
	"jobscheduler/internal/controllers/job"
	"jobscheduler/internal/middleware"
	"jobscheduler/internal/service"
	"jobscheduler/pkg/logger"
)

// New gin router
func New(srv service.Service, log *zap.Logger) *gin.Engine {
	// init
	router := gin.New()

	// add middleware
	router.Use(
		middleware.RequestLogger(log),
		middleware.Tracing("jobscheduler/http"),
		middleware.Log,
		middleware.Recovery,
	)

	router.GET("/health", controllers.Health(srv))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	logger.RegisterLog(router)

	v1RouterGroup(router, srv)

	return router
}

func v1RouterGroup(router *gin.Engine, srv service.Service) {
	v1Router := router.Group("/v1")
	jobController := job.NewJobController(srv)

	v1Router.GET("/jobs", jobController.List)
	v1Router.POST("/triggers/errors/reschedule", jobController.RescheduleErroneous)

	tenantRouter := v1Router.Group("/tenants/:" + middleware.ParamTenant)
	tenantRouter.Use(middleware.Tenant)
	{
		tenantRouter.POST("/pause", jobController.Pause)
		tenantRouter.POST("/resume", jobController.Resume)
		tenantRouter.PUT("/clean-job-logs", jobController.ScheduleCleanJobLogs)
		tenantRouter.GET("/jobs/:id/logs", jobController.Logs)
		tenantRouter.POST("/jobs/:id/retry", jobController.Retry)
		tenantRouter.DELETE("/jobs/:name", jobController.Delete)
	}
}
