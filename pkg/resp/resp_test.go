package resp

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobscheduler/pkg/code"
	"jobscheduler/pkg/json"
)

func TestError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	testList := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "code", err: code.ErrJobNotFound, status: http.StatusNotFound, code: "4040010104"},
		{name: "wrapped", err: pkgerrors.Wrap(code.ErrTenantRequired, "schedule"), status: http.StatusBadRequest, code: "4000010103"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "5000000005"},
	}
	for _, data := range testList {
		t.Run(data.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			Error(c, data.err)
			assert.Equal(t, data.status, w.Code)
			var body response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, data.code, body.Code)
		})
	}
}

func TestSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Success(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	Success(c, []int{1})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"code":"200","message":"请求成功","result":[1]}`, w.Body.String())
}
