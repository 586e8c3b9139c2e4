package resp

import (
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"jobscheduler/pkg/code"
	"jobscheduler/pkg/logger"
)

type response struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Result  interface{} `json:"result"`
}

// Error gin Response with error
func Error(c *gin.Context, err error) {
	logger.From(c.Request.Context()).Error("response failed", zap.Error(err))
	var e code.ErrorCode
	if !errors.As(err, &e) {
		c.AbortWithStatusJSON(code.ErrCodeUnknown.StatusCode(), &response{
			Code:    code.Format(code.ErrCodeUnknown),
			Message: code.ErrCodeUnknown.Message(),
			Result:  err.Error(),
		})
		return
	}
	c.AbortWithStatusJSON(e.StatusCode(), &response{
		Code:    code.Format(e),
		Message: e.Message(),
		Result:  e.Result(),
	})
}

// ErrorParam gin response with invalid parameter tip
func ErrorParam(c *gin.Context, err error) {
	Error(c, code.ErrInvalidParam.WithResult(err.Error()))
}
