package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jobscheduler/internal/scheduler"
	"jobscheduler/pkg/code"
	"jobscheduler/pkg/logger"
	"jobscheduler/pkg/resp"
)

// ParamTenant 路径中的租户参数名
const ParamTenant = "tenant"

// Tenant 解析路径中的租户并写入上下文
func Tenant(c *gin.Context) {
	tenantID, err := strconv.ParseInt(c.Param(ParamTenant), 10, 64)
	if err != nil || tenantID <= 0 {
		resp.Error(c, code.ErrTenantRequired.WithResult(c.Param(ParamTenant)))
		return
	}
	ctx := scheduler.WithTenant(c.Request.Context(), tenantID)
	ctx = logger.With(ctx, logger.From(ctx).With(zap.Int64("tenant_id", tenantID)))
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}
