package storage

import (
	"strconv"
	"time"

	"gorm.io/gorm"

	"jobscheduler/pkg/idx"
)

// Base 雪花主键和创建/更新时间
type Base struct {
	ID        uint64    `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;not null;comment:创建时间"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;not null;index;comment:更新时间"`
}

// BeforeCreate 未指定主键时生成雪花 id
func (b *Base) BeforeCreate(*gorm.DB) error {
	if b.ID != 0 {
		return nil
	}
	id, err := idx.NextID()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

// PK 主键的字符串形式,uint64 在前端会丢失精度
func (b *Base) PK() string {
	return strconv.FormatUint(b.ID, 10)
}

// Tenant 租户分区字段
type Tenant struct {
	TenantID int64 `json:"tenant_id" gorm:"column:tenant_id;not null;index;comment:租户ID"`
}
