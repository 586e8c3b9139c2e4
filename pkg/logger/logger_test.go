package logger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"jobscheduler/pkg/json"
)

func TestNew(t *testing.T) {
	t.Cleanup(func() { level.SetLevel(zapcore.InfoLevel) })
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithFormat(FormatJSON), WithLevel("info"),
		WithServerName("jobscheduler"), WithFields(zap.String("node", "n1")))
	l.Debug("hidden")
	l.Info("shown", zap.Int("n", 1))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "shown", entry["Message"])
	assert.Equal(t, "INFO", entry["Level"])
	assert.Equal(t, "jobscheduler", entry["service_name"])
	assert.Equal(t, "n1", entry["node"])
	assert.Equal(t, float64(1), entry["n"])
}

func TestContext(t *testing.T) {
	assert.NotNil(t, From(context.Background()))
	l := zap.NewExample()
	assert.Same(t, l, From(With(context.Background(), l)))
}

func TestRegisterLog(t *testing.T) {
	t.Cleanup(func() { level.SetLevel(zapcore.InfoLevel) })
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithLevel("info"))
	r := gin.New()
	RegisterLog(r)

	testList := []struct {
		name   string
		body   string
		status int
		expect string
	}{
		{name: "debug", body: `{"level":"debug"}`, status: http.StatusNoContent, expect: "debug"},
		{name: "missing", body: `{}`, status: http.StatusBadRequest, expect: "debug"},
		{name: "unknown", body: `{"level":"verbose"}`, status: http.StatusBadRequest, expect: "debug"},
		{name: "warn", body: `{"level":"warn"}`, status: http.StatusNoContent, expect: "warn"},
	}
	for _, data := range testList {
		t.Run(data.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/log", strings.NewReader(data.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, data.status, w.Code, w.Body.String())

			w = httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/log", nil))
			require.Equal(t, http.StatusOK, w.Code)
			var content LevelContent
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &content))
			assert.Equal(t, data.expect, content.Level)
		})
	}

	l.Info("below warn")
	assert.Empty(t, buf.String())
	l.Warn("warn")
	assert.Contains(t, buf.String(), "warn")
}
