package middleware

import (
	"fmt"
	"net"
	"net/http/httputil"
	"os"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"jobscheduler/pkg/code"
	"jobscheduler/pkg/logger"
	metrics "jobscheduler/pkg/prometheus"
	"jobscheduler/pkg/resp"
)

// Recovery 捕获 panic,返回500并计数
func Recovery(c *gin.Context) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		metrics.PanicCounterVec.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
		logger.From(c.Request.Context()).Error("panic recovered",
			zap.Any("panic", r),
			zap.String("request", dumpRequest(c)),
			zap.ByteString("stack", debug.Stack()))
		extra := fmt.Sprint(r)
		if isBrokenPipe(r) {
			extra = "broken pipe or connection reset by peer;" + extra
		}
		resp.Error(c, code.ErrInternalServerError.WithResult(extra))
	}()
	c.Next()
}

func isBrokenPipe(r interface{}) bool {
	ne, ok := r.(*net.OpError)
	if !ok {
		return false
	}
	var se *os.SyscallError
	if !errors.As(ne.Err, &se) {
		return false
	}
	msg := strings.ToLower(se.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}

// dumpRequest 请求头,Authorization 脱敏
func dumpRequest(c *gin.Context) string {
	raw, err := httputil.DumpRequest(c.Request, false)
	if err != nil {
		return err.Error()
	}
	headers := strings.Split(string(raw), "\r\n")
	for i, header := range headers {
		if strings.HasPrefix(strings.ToLower(header), "authorization:") {
			headers[i] = "Authorization: *"
		}
	}
	return strings.Join(headers, "\r\n")
}
