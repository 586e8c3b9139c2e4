package job

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"jobscheduler/internal/request"
	"jobscheduler/internal/service"
	"jobscheduler/pkg/resp"
)

type JobController struct {
	srv service.Service
}

func NewJobController(srv service.Service) *JobController {
	return &JobController{
		srv: srv,
	}
}

// List 分页查询任务
func (j *JobController) List(c *gin.Context) {
	ctx := c.Request.Context()
	var req request.ListJobsReq
	if err := c.ShouldBindQuery(&req); err != nil {
		resp.ErrorParam(c, err)
		return
	}
	result, err := j.srv.Jobs().List(ctx, &req)
	if err != nil {
		resp.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Logs 查询任务失败记录
func (j *JobController) Logs(c *gin.Context) {
	jobID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		resp.ErrorParam(c, err)
		return
	}
	result, err := j.srv.Jobs().Logs(c.Request.Context(), jobID)
	if err != nil {
		resp.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Pause 暂停租户下全部任务
func (j *JobController) Pause(c *gin.Context) {
	if err := j.srv.Jobs().Pause(c.Request.Context(), tenantOf(c)); err != nil {
		resp.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Resume 恢复租户下全部任务
func (j *JobController) Resume(c *gin.Context) {
	if err := j.srv.Jobs().Resume(c.Request.Context(), tenantOf(c)); err != nil {
		resp.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Retry 重新执行失败的任务
func (j *JobController) Retry(c *gin.Context) {
	jobID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		resp.ErrorParam(c, err)
		return
	}
	var req request.RetryJobReq
	if c.Request.ContentLength > 0 {
		if err = c.ShouldBindWith(&req, binding.JSON); err != nil {
			resp.ErrorParam(c, err)
			return
		}
	}
	if err = j.srv.Jobs().Retry(c.Request.Context(), jobID, &req); err != nil {
		resp.Error(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// Delete 删除任务及其触发器
func (j *JobController) Delete(c *gin.Context) {
	if err := j.srv.Jobs().Delete(c.Request.Context(), c.Param("name")); err != nil {
		resp.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RescheduleErroneous 重新调度异常状态的触发器
func (j *JobController) RescheduleErroneous(c *gin.Context) {
	if err := j.srv.Jobs().RescheduleErroneous(c.Request.Context()); err != nil {
		resp.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ScheduleCleanJobLogs 设置租户的失败记录清理周期
func (j *JobController) ScheduleCleanJobLogs(c *gin.Context) {
	var req request.ScheduleCleanJobLogsReq
	if err := c.ShouldBindWith(&req, binding.JSON); err != nil {
		resp.ErrorParam(c, err)
		return
	}
	if err := j.srv.Jobs().ScheduleCleanJobLogs(c.Request.Context(), &req); err != nil {
		resp.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func tenantOf(c *gin.Context) int64 {
	tenantID, _ := strconv.ParseInt(c.Param("tenant"), 10, 64)
	return tenantID
}
