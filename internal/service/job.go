package service

import (
	"context"
	"errors"
	"time"

	"github.com/thoas/go-funk"

	api "github.com/fleetworks/jobfleet/internal/api/v1alpha1"
	"github.com/fleetworks/jobfleet/internal/events"
	"github.com/fleetworks/jobfleet/internal/jobs"
	"github.com/fleetworks/jobfleet/internal/service/mappers"
	"github.com/fleetworks/jobfleet/internal/store"
	"github.com/fleetworks/jobfleet/internal/store/model"
)

// retriesWindow bounds the "recent" executions whose retry counts feed the
// aggregate stats.
const retriesWindow = 7 * 24 * time.Hour

var knownStatuses = []string{
	model.ExecutionStatusQueued,
	model.ExecutionStatusActive,
	model.ExecutionStatusCompleted,
	model.ExecutionStatusFailed,
	model.ExecutionStatusCancelled,
}

// ListJobTypes returns every registered job definition.
func (h *ServiceHandler) ListJobTypes(ctx context.Context) []api.JobType {
	defs := h.defs.List()
	out := make([]api.JobType, 0, len(defs))
	for _, def := range defs {
		out = append(out, mappers.DefinitionToApi(def))
	}
	return out
}

// QueueJob writes a new queued execution to the ledger.
func (h *ServiceHandler) QueueJob(ctx context.Context, request api.QueueJobRequest) (*api.JobExecution, error) {
	if request.Name == "" {
		return nil, NewErrInvalidRequest("job name is required")
	}
	if request.Options.Cron != "" {
		return nil, NewErrInvalidRequest("cron schedules are declared on the job definition, not per queue request")
	}

	execution, err := h.enqueuer.Enqueue(ctx, jobs.EnqueueRequest{
		Name:     request.Name,
		Title:    request.Title,
		TenantID: request.TenantID,
		OrgID:    request.OrgID,
		Params:   request.Params,
		Options: jobs.EnqueueOptions{
			SingletonKey: request.Options.SingletonKey,
		},
	})
	if err != nil {
		var unknown *jobs.ErrUnknownJobType
		var conflict *jobs.ErrSingletonConflict
		var invalid *jobs.ErrInvalidParams
		if errors.As(err, &unknown) || errors.As(err, &conflict) || errors.As(err, &invalid) {
			return nil, NewErrInvalidRequest("%s", err.Error())
		}
		return nil, err
	}

	result := mappers.ExecutionToApi(*execution)
	return &result, nil
}

// ListExecutions returns execution history; unfiltered fields are wildcard.
func (h *ServiceHandler) ListExecutions(ctx context.Context, name, status string, limit, offset int) (api.JobExecutionList, error) {
	filter := store.NewExecutionQueryFilter()
	if name != "" {
		filter = filter.ByName(name)
	}
	if status != "" {
		if !funk.ContainsString(knownStatuses, status) {
			return nil, NewErrInvalidRequest("unknown status %s", status)
		}
		filter = filter.ByStatus(status)
	}

	opts := store.NewExecutionQueryOptions().WithOrder("created_at DESC")
	if limit > 0 {
		opts = opts.WithLimit(limit)
	}
	if offset > 0 {
		opts = opts.WithOffset(offset)
	}

	executions, err := h.store.Execution().List(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return mappers.ExecutionListToApi(executions), nil
}

// GetExecution fetches one execution by id.
func (h *ServiceHandler) GetExecution(ctx context.Context, id string) (*api.JobExecution, error) {
	execution, err := h.store.Execution().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrExecutionNotFound(id)
		}
		return nil, err
	}
	result := mappers.ExecutionToApi(*execution)
	return &result, nil
}

// CancelExecution cancels a queued or active execution. Status transitions
// are forward-only except queued/active to cancelled.
func (h *ServiceHandler) CancelExecution(ctx context.Context, id string, byUserID string) (*api.JobExecution, error) {
	execution, err := h.store.Execution().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrExecutionNotFound(id)
		}
		return nil, err
	}

	if execution.Status != model.ExecutionStatusQueued && execution.Status != model.ExecutionStatusActive {
		return nil, NewErrInvalidTransition(id, execution.Status, model.ExecutionStatusCancelled)
	}

	now := time.Now().UTC()
	if err := h.store.Execution().UpdateStatus(ctx, id, model.ExecutionStatusCancelled, nil, &now, nil, nil); err != nil {
		return nil, err
	}

	entry := model.LogEntry{Timestamp: now, Level: "info", Message: actionMessage("Job cancelled", byUserID)}
	if err := h.store.Execution().AppendLog(ctx, id, entry); err != nil {
		return nil, err
	}

	h.emit(ctx, events.JobCancelledKind, execution.Name, id, execution.TenantID, execution.OrgID)

	return h.GetExecution(ctx, id)
}

// RetryExecution queues a new execution referencing a failed original.
func (h *ServiceHandler) RetryExecution(ctx context.Context, id string, byUserID string) (*api.JobExecution, error) {
	original, err := h.store.Execution().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrExecutionNotFound(id)
		}
		return nil, err
	}

	if original.Status != model.ExecutionStatusFailed {
		return nil, NewErrInvalidRequest("only failed executions can be retried, %s is %s", id, original.Status)
	}

	request := jobs.EnqueueRequest{
		Name:        original.Name,
		TenantID:    original.TenantID,
		OrgID:       original.OrgID,
		Params:      original.Params,
		SourceJobID: original.ID,
		RetryCount:  original.RetryCount + 1,
		IsRetry:     true,
	}
	if original.Title != nil {
		request.Title = *original.Title
	}

	retry, err := h.enqueuer.Enqueue(ctx, request)
	if err != nil {
		return nil, err
	}

	entry := model.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     "info",
		Message:   actionMessage("Retry queued as job "+retry.ID, byUserID),
	}
	if err := h.store.Execution().AppendLog(ctx, id, entry); err != nil {
		return nil, err
	}

	result := mappers.ExecutionToApi(*retry)
	return &result, nil
}

// PinExecution marks an execution exempt from retention deletion.
func (h *ServiceHandler) PinExecution(ctx context.Context, id string, byUserID string) (*api.JobExecution, error) {
	return h.markExecution(ctx, id, byUserID, h.store.Execution().Pin)
}

// UnpinExecution clears the retention-exemption marker.
func (h *ServiceHandler) UnpinExecution(ctx context.Context, id string, byUserID string) (*api.JobExecution, error) {
	return h.markExecution(ctx, id, byUserID, h.store.Execution().Unpin)
}

// DismissExecution hides an execution from active dashboard views.
func (h *ServiceHandler) DismissExecution(ctx context.Context, id string, byUserID string) (*api.JobExecution, error) {
	return h.markExecution(ctx, id, byUserID, h.store.Execution().Dismiss)
}

func (h *ServiceHandler) markExecution(ctx context.Context, id string, byUserID string, op func(context.Context, string, *string) (*model.JobExecution, error)) (*api.JobExecution, error) {
	var userID *string
	if byUserID != "" {
		userID = &byUserID
	}

	execution, err := op(ctx, id, userID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrExecutionNotFound(id)
		}
		return nil, err
	}

	result := mappers.ExecutionToApi(*execution)
	return &result, nil
}

// Statistics aggregates execution counts over job types not flagged out of
// stats.
func (h *ServiceHandler) Statistics(ctx context.Context) (api.ExecutionStats, error) {
	stats, err := h.store.Execution().Stats(ctx, h.defs.ExcludedFromStats(), time.Now().UTC().Add(-retriesWindow))
	if err != nil {
		return api.ExecutionStats{}, err
	}
	return mappers.StatsToApi(stats), nil
}

func (h *ServiceHandler) emit(ctx context.Context, kind, name, id, tenantID, orgID string) {
	event := events.JobEvent{
		JobID:    id,
		Name:     name,
		TenantID: tenantID,
		OrgID:    orgID,
	}
	if def, ok := h.defs.Get(name); ok {
		event.ShowInDashboard = def.ShowInDashboard
	}
	_ = h.producer.EmitJob(ctx, kind, event)
}

func actionMessage(action, byUserID string) string {
	if byUserID != "" {
		return action + " by user " + byUserID
	}
	return action
}
