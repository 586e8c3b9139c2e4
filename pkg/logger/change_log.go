package logger

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"jobscheduler/pkg/code"
)

// level 所有通过 New 创建的日志共享,可由 /log 动态调整
var level = zap.NewAtomicLevel()

// RegisterLog GET 查询当前日志级别, PUT 修改日志级别
func RegisterLog(router gin.IRouter) {
	router.GET("/log", getLog)
	router.PUT("/log", updateLog)
}

type LevelContent struct {
	Level string `json:"level" binding:"required"`
}

func getLog(c *gin.Context) {
	c.JSON(http.StatusOK, LevelContent{Level: level.String()})
}

func updateLog(c *gin.Context) {
	var req LevelContent
	if err := c.ShouldBindWith(&req, binding.JSON); err != nil {
		c.AbortWithStatusJSON(code.ErrInvalidParam.StatusCode(), code.ErrInvalidParam.WithResult(err.Error()))
		return
	}
	if err := level.UnmarshalText([]byte(req.Level)); err != nil {
		c.AbortWithStatusJSON(code.ErrInvalidParam.StatusCode(), code.ErrInvalidParam.WithResult(err.Error()))
		return
	}
	c.Status(http.StatusNoContent)
}
