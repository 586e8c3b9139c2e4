package job

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"jobscheduler/internal/jobs"
	"jobscheduler/internal/model"
	"jobscheduler/internal/request"
	"jobscheduler/internal/response"
	"jobscheduler/internal/scheduler"
	"jobscheduler/internal/store"
	"jobscheduler/pkg/code"
	"jobscheduler/pkg/logger"
)

// CleanJobLogsName 每个租户仅一个清理任务
const CleanJobLogsName = "clean-job-logs"

type JobSrv interface {
	List(ctx context.Context, req *request.ListJobsReq) (*response.ListJobsRes, error)
	Logs(ctx context.Context, jobID uint64) (*response.JobLogsRes, error)
	Pause(ctx context.Context, tenantID int64) error
	Resume(ctx context.Context, tenantID int64) error
	Retry(ctx context.Context, jobID uint64, req *request.RetryJobReq) error
	Delete(ctx context.Context, jobName string) error
	RescheduleErroneous(ctx context.Context) error
	ScheduleCleanJobLogs(ctx context.Context, req *request.ScheduleCleanJobLogsReq) error
}

func NewJobSrv(stores store.Factory, sched *scheduler.Service) JobSrv {
	return jobSrv{
		stores: stores,
		sched:  sched,
	}
}

type jobSrv struct {
	stores store.Factory
	sched  *scheduler.Service
}

func (j jobSrv) List(ctx context.Context, req *request.ListJobsReq) (*response.ListJobsRes, error) {
	descriptors, err := j.stores.JobDescriptors().List(ctx, req.TenantID, &req.ListQuery)
	if err != nil {
		logger.From(ctx).Error("The database failed to query the job list",
			zap.Any("param", req), zap.Error(err))
		return nil, err
	}
	results := &response.ListJobsRes{Pagination: req.Pagination}
	results.List = make([]*response.JobItem, len(descriptors))
	for i, d := range descriptors {
		results.List[i] = &response.JobItem{
			ID:                 d.PK(),
			CreatedAt:          d.CreatedAt,
			UpdatedAt:          d.UpdatedAt,
			TenantID:           d.TenantID,
			JobName:            d.JobName,
			JobType:            d.JobType,
			Description:        d.Description,
			DisallowConcurrent: d.DisallowConcurrent,
		}
	}
	return results, nil
}

func (j jobSrv) Logs(ctx context.Context, jobID uint64) (*response.JobLogsRes, error) {
	tenantID, ok := scheduler.TenantFrom(ctx)
	if !ok {
		return nil, errors.WithStack(code.ErrTenantRequired)
	}
	logs, err := j.stores.JobLogs().List(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	results := &response.JobLogsRes{List: make([]*response.JobLogItem, len(logs))}
	for i, l := range logs {
		results.List[i] = &response.JobLogItem{
			ID:               l.PK(),
			JobID:            strconv.FormatUint(l.JobDescriptorID, 10),
			ExceptionMessage: l.ExceptionMessage,
			Stack:            l.Stack,
			RetryNumber:      l.RetryNumber,
			LastUpdateDate:   l.LastUpdateDate,
		}
	}
	return results, nil
}

func (j jobSrv) Pause(ctx context.Context, tenantID int64) error {
	return j.sched.PauseJobs(ctx, tenantID)
}

func (j jobSrv) Resume(ctx context.Context, tenantID int64) error {
	return j.sched.ResumeJobs(ctx, tenantID)
}

func (j jobSrv) Retry(ctx context.Context, jobID uint64, req *request.RetryJobReq) error {
	return j.sched.RetryJobThatFailed(ctx, jobID, req.Params)
}

func (j jobSrv) Delete(ctx context.Context, jobName string) error {
	deleted, err := j.sched.Delete(ctx, jobName)
	if err != nil {
		return err
	}
	if !deleted {
		return errors.WithStack(code.ErrJobNotFound.WithResult(jobName))
	}
	return nil
}

func (j jobSrv) RescheduleErroneous(ctx context.Context) error {
	return j.sched.RescheduleErroneousTriggers(ctx)
}

// ScheduleCleanJobLogs 替换当前租户的日志清理任务
func (j jobSrv) ScheduleCleanJobLogs(ctx context.Context, req *request.ScheduleCleanJobLogsReq) error {
	expr, err := req.ToCronJobExpr()
	if err != nil {
		return errors.WithStack(code.ErrInvalidParam.WithResult(err.Error()))
	}
	var params map[string]interface{}
	if req.Retention != "" {
		retention, err := time.ParseDuration(req.Retention)
		if err != nil || retention <= 0 {
			return errors.WithStack(code.ErrInvalidParam.WithResult("invalid retention " + req.Retention))
		}
		params = map[string]interface{}{jobs.ParamRetention: req.Retention}
	}
	return j.sched.Services().Tx.Transactional(ctx, func(ctx context.Context) error {
		if _, err := j.sched.Delete(ctx, CleanJobLogsName); err != nil {
			return err
		}
		return j.sched.Schedule(ctx, &model.JobDescriptor{
			JobName:            CleanJobLogsName,
			JobType:            jobs.CleanJobLogsType,
			Description:        "clean failure logs",
			DisallowConcurrent: true,
		}, params, &scheduler.CronTrigger{
			TriggerName:   CleanJobLogsName,
			Expression:    expr,
			MisfirePolicy: scheduler.MisfireOne,
			TimeZone:      req.TimeZone,
		})
	})
}
