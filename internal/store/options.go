package store

import (
	"time"

	"gorm.io/gorm"
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type ExecutionQueryFilter BaseQuerier

func NewExecutionQueryFilter() *ExecutionQueryFilter {
	return &ExecutionQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *ExecutionQueryFilter) ByName(name string) *ExecutionQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("name = ?", name)
	})
	return qf
}

func (qf *ExecutionQueryFilter) ByStatus(status string) *ExecutionQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status = ?", status)
	})
	return qf
}

func (qf *ExecutionQueryFilter) ByTenantOrg(tenantID, orgID string) *ExecutionQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("tenant_id = ? AND org_id = ?", tenantID, orgID)
	})
	return qf
}

func (qf *ExecutionQueryFilter) BySingletonKey(key string) *ExecutionQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("singleton_key = ?", key)
	})
	return qf
}

func (qf *ExecutionQueryFilter) WithoutDismissed() *ExecutionQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("dismissed_at IS NULL")
	})
	return qf
}

func (qf *ExecutionQueryFilter) ByStatusIn(statuses []string) *ExecutionQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status IN ?", statuses)
	})
	return qf
}

func (qf *ExecutionQueryFilter) CreatedBefore(t time.Time) *ExecutionQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("created_at < ?", t)
	})
	return qf
}

type ExecutionQueryOptions BaseQuerier

func NewExecutionQueryOptions() *ExecutionQueryOptions {
	return &ExecutionQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *ExecutionQueryOptions) WithLimit(limit int) *ExecutionQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

func (o *ExecutionQueryOptions) WithOffset(offset int) *ExecutionQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Offset(offset)
	})
	return o
}

func (o *ExecutionQueryOptions) WithOrder(order string) *ExecutionQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Order(order)
	})
	return o
}
