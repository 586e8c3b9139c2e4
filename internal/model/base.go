package model

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

const (
	DefaultPageNum  = 1
	DefaultPageSize = 20
)

// Pagination 分页
type Pagination struct {
	// 查询第几页
	// Example: 1
	PageNum int `form:"page_num,default=1" json:"page_num" binding:"omitempty,min=0"`
	// 查询每页显示条目
	// Example: 100
	PageSize int `form:"page_size,default=20" json:"page_size" binding:"omitempty,min=-1"`
	// 总计条目
	// Example: 300
	Total int64 `json:"total"`
}

func (p *Pagination) Build(_ context.Context, query *gorm.DB) *gorm.DB {
	query.Count(&p.Total)
	// -1表示全量查询
	if p.PageSize == -1 {
		return query
	}
	if p.PageNum == 0 {
		p.PageNum = DefaultPageNum
	}
	if p.PageSize == 0 {
		p.PageSize = DefaultPageSize
	}
	return query.Limit(p.PageSize).Offset((p.PageNum - 1) * p.PageSize)
}

// Sort 排序
type Sort struct {
	// 排序信息【格式:字段 排序方式】,desc-降序,asc-升序,默认按创建时间倒序,例如:[job_name asc]
	// 给多个字段排序 job_name, id asc => order by job_name desc, id asc
	SortField string `form:"sort" json:"sort" binding:"omitempty,order"`
}

func (s *Sort) Build(_ context.Context, query *gorm.DB) *gorm.DB {
	defaultCreatedAtSort := true
	if s.SortField != "" {
		for _, field := range strings.Split(s.SortField, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			if strings.Contains(field, "created_at") {
				defaultCreatedAtSort = false
			}
			// 未指明asc或desc时按倒序
			if !strings.HasSuffix(field, "asc") && !strings.HasSuffix(field, "desc") {
				query = query.Order(fmt.Sprintf("%s desc", field))
				continue
			}
			query = query.Order(field)
		}
	}
	if defaultCreatedAtSort {
		query = query.Order("created_at desc")
	}
	return query
}

type ListQuery struct {
	Pagination
	Sort
}

func (l *ListQuery) Build(ctx context.Context, query *gorm.DB) *gorm.DB {
	query = l.Sort.Build(ctx, query)
	return l.Pagination.Build(ctx, query)
}
