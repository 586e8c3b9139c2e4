package model

import (
	"time"

	"gorm.io/datatypes"

	"jobscheduler/pkg/json"
	"jobscheduler/pkg/storage"
)

// JobDescriptor 持久化的任务描述,同一租户下任务名唯一
type JobDescriptor struct {
	storage.Base
	TenantID    int64  `json:"tenant_id" gorm:"column:tenant_id;not null;uniqueIndex:idx_job_descriptor_tenant_name,priority:1;comment:租户ID"`
	JobName     string `json:"job_name" gorm:"column:job_name;type:varchar(100);not null;uniqueIndex:idx_job_descriptor_tenant_name,priority:2;comment:任务名称"` // nolint:lll
	JobType     string `json:"job_type" gorm:"column:job_type;type:varchar(120);not null;comment:任务类型"`
	Description string `json:"description" gorm:"column:description;type:varchar(250);comment:描述"`
	// DisallowConcurrent 同一任务的多次触发不可重叠执行
	DisallowConcurrent bool `json:"disallow_concurrent" gorm:"column:disallow_concurrent;not null;comment:是否禁止并发"`
}

func (JobDescriptor) TableName() string {
	return "job_descriptor"
}

// JobParameter 任务参数,值以json保存
type JobParameter struct {
	storage.Base
	storage.Tenant
	JobDescriptorID uint64         `json:"job_descriptor_id,string" gorm:"column:job_descriptor_id;not null;index;comment:任务ID"`
	Key             string         `json:"key" gorm:"column:param_key;type:varchar(100);not null;comment:参数名"`
	Value           datatypes.JSON `json:"value" gorm:"column:param_value;comment:参数值"`
	ValueType       string         `json:"value_type" gorm:"column:value_type;type:varchar(16);not null;comment:参数值类型"`
}

func (JobParameter) TableName() string {
	return "job_parameter"
}

// NewJobParameter encodes value as json.
func NewJobParameter(tenantID int64, jobID uint64, key string, value interface{}) (*JobParameter, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return &JobParameter{
		Tenant:          storage.Tenant{TenantID: tenantID},
		JobDescriptorID: jobID,
		Key:             key,
		Value:           data,
		ValueType:       valueType(value),
	}, nil
}

// Decode 还原参数值,数字统一为 json.Number 避免精度丢失
func (p *JobParameter) Decode() (interface{}, error) {
	if len(p.Value) == 0 {
		return nil, nil
	}
	var value interface{}
	if err := json.UnmarshalNumber(p.Value, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func valueType(value interface{}) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return "number"
	case []interface{}, []string:
		return "array"
	}
	return "object"
}

// JobLog 任务执行失败记录,每个任务仅一条,再次失败时累加重试次数
type JobLog struct {
	storage.Base
	storage.Tenant
	JobDescriptorID  uint64    `json:"job_descriptor_id,string" gorm:"column:job_descriptor_id;not null;uniqueIndex;comment:任务ID"`
	ExceptionMessage string    `json:"exception_message" gorm:"column:exception_message;type:text;comment:异常信息"`
	Stack            string    `json:"stack" gorm:"column:stack;type:text;comment:异常堆栈"`
	RetryNumber      int       `json:"retry_number" gorm:"column:retry_number;not null;comment:重试次数"`
	LastUpdateDate   time.Time `json:"last_update_date" gorm:"column:last_update_date;not null;index;comment:最后失败时间"`
}

func (JobLog) TableName() string {
	return "job_log"
}

// Models lists the tables owned by the scheduler.
func Models() []interface{} {
	return []interface{}{&JobDescriptor{}, &JobParameter{}, &JobLog{}}
}
