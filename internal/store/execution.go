package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fleetworks/jobfleet/internal/store/model"
)

// Execution is the job execution ledger: durable record of every job run
// and the operations that mutate it. Every operation is scoped by execution
// id, which is never reused across tenants.
type Execution interface {
	InitialMigration() error
	Create(ctx context.Context, execution model.JobExecution) (*model.JobExecution, error)
	Get(ctx context.Context, id string) (*model.JobExecution, error)
	List(ctx context.Context, filter *ExecutionQueryFilter, opts *ExecutionQueryOptions) (model.JobExecutionList, error)
	UpdateStatus(ctx context.Context, id string, status string, startedAt, completedAt *time.Time, errMsg, errStack *string) error
	AppendLog(ctx context.Context, id string, entry model.LogEntry) error
	UpdateStats(ctx context.Context, id string, stats []byte) error
	UpdateCompletionInfo(ctx context.Context, id string, info []byte) error
	Pin(ctx context.Context, id string, byUserID *string) (*model.JobExecution, error)
	Unpin(ctx context.Context, id string, byUserID *string) (*model.JobExecution, error)
	Dismiss(ctx context.Context, id string, byUserID *string) (*model.JobExecution, error)
	ClaimNext(ctx context.Context, tenantID, orgID string) (*model.JobExecution, error)
	Stats(ctx context.Context, excludedNames []string, retriesSince time.Time) (model.ExecutionStats, error)
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
	DeleteAll(ctx context.Context) error
}

type ExecutionStore struct {
	db *gorm.DB
}

// Make sure we conform to Execution interface
var _ Execution = (*ExecutionStore)(nil)

func NewExecutionStore(db *gorm.DB) Execution {
	return &ExecutionStore{db: db}
}

func (s *ExecutionStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.JobExecution{})
}

func (s *ExecutionStore) Create(ctx context.Context, execution model.JobExecution) (*model.JobExecution, error) {
	if execution.Status == "" {
		execution.Status = model.ExecutionStatusQueued
	}
	result := s.getDB(ctx).Create(&execution)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating execution: %w", result.Error)
	}
	return &execution, nil
}

func (s *ExecutionStore) Get(ctx context.Context, id string) (*model.JobExecution, error) {
	var execution model.JobExecution
	result := s.getDB(ctx).First(&execution, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying execution: %w", result.Error)
	}
	return &execution, nil
}

func (s *ExecutionStore) List(ctx context.Context, filter *ExecutionQueryFilter, opts *ExecutionQueryOptions) (model.JobExecutionList, error) {
	var executions model.JobExecutionList

	tx := s.getDB(ctx).Model(&model.JobExecution{})
	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if result := tx.Find(&executions); result.Error != nil {
		return nil, result.Error
	}
	return executions, nil
}

// UpdateStatus persists exactly the fields given. Forward-only transition
// discipline belongs to the scheduler calling it, not to the ledger.
func (s *ExecutionStore) UpdateStatus(ctx context.Context, id string, status string, startedAt, completedAt *time.Time, errMsg, errStack *string) error {
	updates := map[string]any{"status": status}
	if startedAt != nil {
		updates["started_at"] = *startedAt
	}
	if completedAt != nil {
		updates["completed_at"] = *completedAt
	}
	if errMsg != nil {
		updates["error"] = *errMsg
	}
	if errStack != nil {
		updates["error_stack"] = *errStack
	}

	result := s.getDB(ctx).Model(&model.JobExecution{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("updating execution status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// appendLogMaxAttempts bounds the reread loop when appends race on the same
// execution.
const appendLogMaxAttempts = 50

// AppendLog appends one entry to the execution's log sequence. The sequence
// is never truncated or reordered. Concurrent writers race on the serialized
// column, so the write is guarded by the log version and retried when
// another append lands in between, the same way ClaimNext guards the claim.
func (s *ExecutionStore) AppendLog(ctx context.Context, id string, entry model.LogEntry) error {
	for attempt := 0; attempt < appendLogMaxAttempts; attempt++ {
		execution, err := s.Get(ctx, id)
		if err != nil {
			return err
		}

		entries, err := execution.LogEntries()
		if err != nil {
			return fmt.Errorf("decoding execution logs: %w", err)
		}
		entries = append(entries, entry)

		encoded, err := model.EncodeLogEntries(entries)
		if err != nil {
			return fmt.Errorf("encoding execution logs: %w", err)
		}

		result := s.getDB(ctx).Model(&model.JobExecution{}).
			Where("id = ? AND log_version = ?", id, execution.LogVersion).
			Updates(map[string]any{"logs": encoded, "log_version": execution.LogVersion + 1})
		if result.Error != nil {
			return fmt.Errorf("appending execution log: %w", result.Error)
		}
		if result.RowsAffected == 1 {
			return nil
		}
		// lost the race, reread and try again
	}
	return fmt.Errorf("appending execution log: too many concurrent appends for %s", id)
}

// UpdateStats replaces the progress payload wholesale. Nothing is merged.
func (s *ExecutionStore) UpdateStats(ctx context.Context, id string, stats []byte) error {
	return s.updateColumn(ctx, id, "stats", stats)
}

// UpdateCompletionInfo replaces the completion payload wholesale.
func (s *ExecutionStore) UpdateCompletionInfo(ctx context.Context, id string, info []byte) error {
	return s.updateColumn(ctx, id, "completion_info", info)
}

func (s *ExecutionStore) updateColumn(ctx context.Context, id string, column string, value []byte) error {
	result := s.getDB(ctx).Model(&model.JobExecution{}).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		return fmt.Errorf("updating execution %s: %w", column, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *ExecutionStore) Pin(ctx context.Context, id string, byUserID *string) (*model.JobExecution, error) {
	now := time.Now().UTC()
	return s.mark(ctx, id, "pinned_at", &now, markerLogMessage("Job pinned", byUserID))
}

func (s *ExecutionStore) Unpin(ctx context.Context, id string, byUserID *string) (*model.JobExecution, error) {
	return s.mark(ctx, id, "pinned_at", nil, markerLogMessage("Job unpinned", byUserID))
}

// Dismiss hides the execution from active dashboard views. There is no
// reverse operation.
func (s *ExecutionStore) Dismiss(ctx context.Context, id string, byUserID *string) (*model.JobExecution, error) {
	now := time.Now().UTC()
	return s.mark(ctx, id, "dismissed_at", &now, markerLogMessage("Job dismissed", byUserID))
}

// mark sets or clears a marker column and appends a matching info log entry.
// Missing ids fail with ErrRecordNotFound before any mutation happens.
func (s *ExecutionStore) mark(ctx context.Context, id string, column string, value *time.Time, message string) (*model.JobExecution, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	var columnValue any
	if value != nil {
		columnValue = *value
	}
	result := s.getDB(ctx).Model(&model.JobExecution{}).Where("id = ?", id).Update(column, columnValue)
	if result.Error != nil {
		return nil, fmt.Errorf("updating execution %s: %w", column, result.Error)
	}

	entry := model.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     "info",
		Message:   message,
	}
	if err := s.AppendLog(ctx, id, entry); err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

func markerLogMessage(action string, byUserID *string) string {
	if byUserID != nil {
		return fmt.Sprintf("%s by user %s", action, *byUserID)
	}
	return action
}

// ClaimNext marks the oldest queued, non-dismissed execution of the pair as
// active. The conditional update guards against a concurrent claim of the
// same row.
func (s *ExecutionStore) ClaimNext(ctx context.Context, tenantID, orgID string) (*model.JobExecution, error) {
	var execution model.JobExecution
	result := s.getDB(ctx).
		Where("tenant_id = ? AND org_id = ? AND status = ? AND dismissed_at IS NULL", tenantID, orgID, model.ExecutionStatusQueued).
		Order("created_at").
		First(&execution)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying next queued execution: %w", result.Error)
	}

	now := time.Now().UTC()
	claim := s.getDB(ctx).Model(&model.JobExecution{}).
		Where("id = ? AND status = ?", execution.ID, model.ExecutionStatusQueued).
		Updates(map[string]any{"status": model.ExecutionStatusActive, "started_at": now})
	if claim.Error != nil {
		return nil, fmt.Errorf("claiming execution: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}

	execution.Status = model.ExecutionStatusActive
	execution.StartedAt = &now
	return &execution, nil
}

// Stats aggregates execution counts over job types not excluded from stats.
// TotalRetries is summed only over non-active executions updated after
// retriesSince.
func (s *ExecutionStore) Stats(ctx context.Context, excludedNames []string, retriesSince time.Time) (model.ExecutionStats, error) {
	var stats model.ExecutionStats

	base := func() *gorm.DB {
		tx := s.getDB(ctx).Model(&model.JobExecution{})
		if len(excludedNames) > 0 {
			tx = tx.Where("name NOT IN ?", excludedNames)
		}
		return tx
	}

	if result := base().Where("status = ?", model.ExecutionStatusActive).Count(&stats.ActiveCount); result.Error != nil {
		return stats, result.Error
	}
	if result := base().Where("status = ?", model.ExecutionStatusCompleted).Count(&stats.CompletedCount); result.Error != nil {
		return stats, result.Error
	}
	if result := base().Where("status = ?", model.ExecutionStatusFailed).Count(&stats.FailedCount); result.Error != nil {
		return stats, result.Error
	}

	var totalRetries *int64
	result := base().
		Where("status != ?", model.ExecutionStatusActive).
		Where("updated_at >= ?", retriesSince).
		Select("SUM(retry_count)").
		Scan(&totalRetries)
	if result.Error != nil {
		return stats, result.Error
	}
	if totalRetries != nil {
		stats.TotalRetries = *totalRetries
	}

	return stats, nil
}

// DeleteOlderThan removes executions created more than the given number of
// days ago. Pinned executions are exempt regardless of age.
func (s *ExecutionStore) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	result := s.getDB(ctx).
		Where("created_at < ? AND pinned_at IS NULL", cutoff).
		Delete(&model.JobExecution{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting old executions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteAll is an unconditional bulk delete, for test/reset use only.
func (s *ExecutionStore) DeleteAll(ctx context.Context) error {
	result := s.getDB(ctx).Exec("DELETE FROM job_executions")
	return result.Error
}

func (s *ExecutionStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
