package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"jobscheduler/internal/service"
	"jobscheduler/pkg/code"
	"jobscheduler/pkg/resp"
)

// Health 健康检查,用于k8s pod的心跳检查;调度器未启动时返回503
func Health(srv service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !srv.Started() {
			resp.Error(c, code.ErrSchedulerNotStarted)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
