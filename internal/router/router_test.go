package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobscheduler/internal/jobs"
	"jobscheduler/internal/model"
	"jobscheduler/internal/response"
	"jobscheduler/internal/scheduler"
	"jobscheduler/internal/service"
	"jobscheduler/internal/store/mysql"
	"jobscheduler/pkg/job"
	"jobscheduler/pkg/job/gormstore"
	"jobscheduler/pkg/json"
	"jobscheduler/pkg/storage"
	"jobscheduler/pkg/storage/storagetest"
	"jobscheduler/pkg/validator"
)

func newTestRouter(t *testing.T) (*gin.Engine, *scheduler.Service) {
	gin.SetMode(gin.TestMode)
	require.NoError(t, validator.Setup())
	db := storagetest.NewDB(t, append(model.Models(), gormstore.Models()...)...)
	engine := job.NewEngine(gormstore.New(db.DB), job.WithIdleWait(50*time.Millisecond))
	stores := mysql.NewFactory(db.DB)
	registry := scheduler.NewRegistry()
	require.NoError(t, jobs.Register(registry))
	sched := scheduler.NewService(engine, stores, storage.NewTxManager(db.DB), scheduler.WithRegistry(registry))
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(func() {
		_ = sched.Stop(context.Background())
	})
	return New(service.NewService(stores, sched), zap.NewNop()), sched
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func listJobs(t *testing.T, r *gin.Engine, tenantID string) *response.ListJobsRes {
	w := do(r, http.MethodGet, "/v1/jobs?tenant_id="+tenantID, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result response.ListJobsRes
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	return &result
}

func TestRoutes(t *testing.T) {
	r, _ := newTestRouter(t)
	testList := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "health", method: http.MethodGet, path: "/health", status: http.StatusNoContent},
		{name: "metrics", method: http.MethodGet, path: "/metrics", status: http.StatusOK},
		{name: "log", method: http.MethodGet, path: "/log", status: http.StatusOK},
		{name: "bad tenant", method: http.MethodPost, path: "/v1/tenants/abc/pause", status: http.StatusBadRequest},
		{name: "pause", method: http.MethodPost, path: "/v1/tenants/7/pause", status: http.StatusNoContent},
		{name: "resume", method: http.MethodPost, path: "/v1/tenants/7/resume", status: http.StatusNoContent},
		{name: "bad job id", method: http.MethodGet, path: "/v1/tenants/7/jobs/abc/logs", status: http.StatusBadRequest},
		{name: "no logs", method: http.MethodGet, path: "/v1/tenants/7/jobs/1/logs", status: http.StatusOK},
		{name: "retry unknown", method: http.MethodPost, path: "/v1/tenants/7/jobs/123/retry", status: http.StatusNotFound},
		{name: "delete unknown", method: http.MethodDelete, path: "/v1/tenants/7/jobs/none", status: http.StatusNotFound},
		{name: "bad sort", method: http.MethodGet, path: "/v1/jobs?sort=jobName", status: http.StatusBadRequest},
		{name: "list", method: http.MethodGet, path: "/v1/jobs?sort=job_name%20asc&page_size=5", status: http.StatusOK},
		{name: "reschedule", method: http.MethodPost, path: "/v1/triggers/errors/reschedule", status: http.StatusNoContent},
		{name: "bad hour", method: http.MethodPut, path: "/v1/tenants/7/clean-job-logs",
			body: `{"day":1,"hours":[30]}`, status: http.StatusBadRequest},
		{name: "no cycle", method: http.MethodPut, path: "/v1/tenants/7/clean-job-logs",
			body: `{"hours":[3]}`, status: http.StatusBadRequest},
		{name: "bad retention", method: http.MethodPut, path: "/v1/tenants/7/clean-job-logs",
			body: `{"day":1,"hours":[3],"retention":"soon"}`, status: http.StatusBadRequest},
	}
	for _, data := range testList {
		t.Run(data.name, func(t *testing.T) {
			w := do(r, data.method, data.path, data.body)
			assert.Equal(t, data.status, w.Code, w.Body.String())
		})
	}
}

func TestCleanJobLogsSchedule(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPut, "/v1/tenants/7/clean-job-logs", `{"day":1,"hours":[3]}`)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	// 再次设置时替换原任务
	w = do(r, http.MethodPut, "/v1/tenants/7/clean-job-logs", `{"weeks":[1,3],"hours":[4],"retention":"48h"}`)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	result := listJobs(t, r, "7")
	require.Len(t, result.List, 1)
	assert.Equal(t, "clean-job-logs", result.List[0].JobName)
	assert.Equal(t, jobs.CleanJobLogsType, result.List[0].JobType)
	assert.True(t, result.List[0].DisallowConcurrent)
	assert.Empty(t, listJobs(t, r, "8").List)

	w = do(r, http.MethodDelete, "/v1/tenants/7/jobs/clean-job-logs", "")
	assert.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	assert.Empty(t, listJobs(t, r, "7").List)
	w = do(r, http.MethodDelete, "/v1/tenants/7/jobs/clean-job-logs", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	r, sched := newTestRouter(t)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/health", "").Code)

	require.NoError(t, sched.Stop(context.Background()))
	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "5030010101")
}
