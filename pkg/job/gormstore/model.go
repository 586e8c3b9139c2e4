package gormstore

import (
	"gorm.io/datatypes"

	"jobscheduler/pkg/job"
	"jobscheduler/pkg/json"
	"jobscheduler/pkg/timex"
)

// JobDetail 调度任务表
type JobDetail struct {
	JobGroup           string         `gorm:"column:job_group;primaryKey;type:varchar(190);comment:任务分组"`
	JobName            string         `gorm:"column:job_name;primaryKey;type:varchar(190);comment:任务名称"`
	Kind               string         `gorm:"column:kind;type:varchar(120);not null;comment:任务类型"`
	Description        string         `gorm:"column:description;type:varchar(250);comment:描述"`
	JobData            datatypes.JSON `gorm:"column:job_data;comment:任务数据"`
	Durable            bool           `gorm:"column:durable;not null;comment:无触发器时是否保留"`
	DisallowConcurrent bool           `gorm:"column:disallow_concurrent;not null;comment:是否禁止并发"`
	Blocked            bool           `gorm:"column:blocked;not null;comment:是否正在独占执行"`
}

func (JobDetail) TableName() string {
	return "sched_job_detail"
}

// Trigger 调度触发器表,时间均为毫秒时间戳
type Trigger struct {
	TriggerGroup       string `gorm:"column:trigger_group;primaryKey;type:varchar(190);comment:触发器分组"`
	TriggerName        string `gorm:"column:trigger_name;primaryKey;type:varchar(190);comment:触发器名称"`
	JobGroup           string `gorm:"column:job_group;type:varchar(190);not null;index:idx_sched_trigger_job;comment:任务分组"`
	JobName            string `gorm:"column:job_name;type:varchar(190);not null;index:idx_sched_trigger_job;comment:任务名称"`
	Description        string `gorm:"column:description;type:varchar(250);comment:描述"`
	ScheduleType       string `gorm:"column:schedule_type;type:varchar(16);not null;comment:触发类型"`
	StartTime          int64  `gorm:"column:start_time;not null;comment:开始时间"`
	EndTime            int64  `gorm:"column:end_time;not null;comment:结束时间"`
	CronExpression     string `gorm:"column:cron_expression;type:varchar(120);comment:cron表达式"`
	TimeZone           string `gorm:"column:time_zone;type:varchar(80);comment:时区"`
	Priority           int    `gorm:"column:priority;not null;comment:优先级"`
	MisfireInstruction int    `gorm:"column:misfire_instruction;not null;comment:错过触发处理策略"`
	NextFireTime       int64  `gorm:"column:next_fire_time;not null;index:idx_sched_trigger_next;comment:下次触发时间"`
	PrevFireTime       int64  `gorm:"column:prev_fire_time;not null;comment:上次触发时间"`
	TimesTriggered     int    `gorm:"column:times_triggered;not null;comment:触发次数"`
	State              string `gorm:"column:state;type:varchar(16);not null;index:idx_sched_trigger_next;comment:状态"`
	FireInstanceID     string `gorm:"column:fire_instance_id;type:varchar(64);comment:触发实例ID"`
}

func (Trigger) TableName() string {
	return "sched_trigger"
}

// PausedGroup 暂停的触发器分组
type PausedGroup struct {
	TriggerGroup string `gorm:"column:trigger_group;primaryKey;type:varchar(190);comment:触发器分组"`
}

func (PausedGroup) TableName() string {
	return "sched_paused_group"
}

// Models lists the tables of the store for migration.
func Models() []interface{} {
	return []interface{}{&JobDetail{}, &Trigger{}, &PausedGroup{}}
}

func fromJobDetail(j *job.JobDetail) (*JobDetail, error) {
	data, err := json.Marshal(j.Data)
	if err != nil {
		return nil, err
	}
	return &JobDetail{
		JobGroup:           j.Key.Group,
		JobName:            j.Key.Name,
		Kind:               j.Kind,
		Description:        j.Description,
		JobData:            data,
		Durable:            j.Durable,
		DisallowConcurrent: j.DisallowConcurrent,
	}, nil
}

func (m *JobDetail) toJobDetail() (*job.JobDetail, error) {
	j := &job.JobDetail{
		Key:                job.NewJobKey(m.JobGroup, m.JobName),
		Kind:               m.Kind,
		Description:        m.Description,
		Data:               map[string]string{},
		Durable:            m.Durable,
		DisallowConcurrent: m.DisallowConcurrent,
	}
	if len(m.JobData) > 0 {
		if err := json.Unmarshal(m.JobData, &j.Data); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func fromTrigger(t *job.Trigger) *Trigger {
	return &Trigger{
		TriggerGroup:       t.Key.Group,
		TriggerName:        t.Key.Name,
		JobGroup:           t.JobKey.Group,
		JobName:            t.JobKey.Name,
		Description:        t.Description,
		ScheduleType:       string(t.Type),
		StartTime:          timex.UnixMilli(t.StartTime),
		EndTime:            timex.UnixMilli(t.EndTime),
		CronExpression:     t.CronExpression,
		TimeZone:           t.TimeZone,
		Priority:           t.Priority,
		MisfireInstruction: int(t.MisfireInstruction),
		NextFireTime:       timex.UnixMilli(t.NextFireTime),
		PrevFireTime:       timex.UnixMilli(t.PreviousFireTime),
		TimesTriggered:     t.TimesTriggered,
		State:              string(t.State),
		FireInstanceID:     t.FireInstanceID,
	}
}

func (m *Trigger) toTrigger() *job.Trigger {
	return &job.Trigger{
		Key:                job.NewTriggerKey(m.TriggerGroup, m.TriggerName),
		JobKey:             job.NewJobKey(m.JobGroup, m.JobName),
		Description:        m.Description,
		Type:               job.ScheduleType(m.ScheduleType),
		StartTime:          timex.FromUnixMilli(m.StartTime),
		EndTime:            timex.FromUnixMilli(m.EndTime),
		CronExpression:     m.CronExpression,
		TimeZone:           m.TimeZone,
		Priority:           m.Priority,
		MisfireInstruction: job.MisfireInstruction(m.MisfireInstruction),
		NextFireTime:       timex.FromUnixMilli(m.NextFireTime),
		PreviousFireTime:   timex.FromUnixMilli(m.PrevFireTime),
		TimesTriggered:     m.TimesTriggered,
		State:              job.TriggerState(m.State),
		FireInstanceID:     m.FireInstanceID,
	}
}
