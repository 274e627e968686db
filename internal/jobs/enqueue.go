package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetworks/jobfleet/internal/store"
	"github.com/fleetworks/jobfleet/internal/store/model"
)

// loopChainLimit bounds how far up the source-job chain loop detection walks.
const loopChainLimit = 10

type ErrUnknownJobType struct {
	error
}

func NewErrUnknownJobType(name string) *ErrUnknownJobType {
	return &ErrUnknownJobType{fmt.Errorf("unknown job type %s", name)}
}

type ErrSingletonConflict struct {
	error
}

func NewErrSingletonConflict(key string) *ErrSingletonConflict {
	return &ErrSingletonConflict{fmt.Errorf("a job with singleton key %s is already queued or active", key)}
}

// EnqueueOptions mirror the queue options of the management surface.
// Cron schedules live on the job definition, not here; the service layer
// rejects per-request cron specs before they reach the enqueuer.
type EnqueueOptions struct {
	SingletonKey string
}

// EnqueueRequest describes one execution to be written to the ledger in the
// queued state.
type EnqueueRequest struct {
	ID          string
	Name        string
	Title       string
	TenantID    string
	OrgID       string
	Params      json.RawMessage
	SourceJobID string
	RetryCount  uint
	// IsRetry marks a manual re-run of a failed execution. Retries reference
	// their original through SourceJobID, which would otherwise look like a
	// same-type trigger chain to loop detection.
	IsRetry bool
	Options EnqueueOptions
}

// Enqueuer validates and persists new job executions. It is the only writer
// of queued records; schedulers only ever claim them.
type Enqueuer struct {
	store store.Store
	defs  *DefinitionRegistry
}

func NewEnqueuer(s store.Store, defs *DefinitionRegistry) *Enqueuer {
	return &Enqueuer{store: s, defs: defs}
}

func (e *Enqueuer) Enqueue(ctx context.Context, req EnqueueRequest) (*model.JobExecution, error) {
	def, ok := e.defs.Get(req.Name)
	if !ok {
		return nil, NewErrUnknownJobType(req.Name)
	}

	if err := def.ValidateParams(req.Params); err != nil {
		return nil, err
	}

	if req.Options.SingletonKey != "" {
		conflict, err := e.singletonConflict(ctx, req.Options.SingletonKey)
		if err != nil {
			return nil, err
		}
		if conflict {
			return nil, NewErrSingletonConflict(req.Options.SingletonKey)
		}
	}

	execution := model.JobExecution{
		ID:         req.ID,
		Name:       req.Name,
		TenantID:   req.TenantID,
		OrgID:      req.OrgID,
		Params:     req.Params,
		Status:     model.ExecutionStatusQueued,
		RetryCount: req.RetryCount,
	}
	if execution.ID == "" {
		execution.ID = uuid.NewString()
	}
	if req.Title != "" {
		execution.Title = &req.Title
	}
	if req.SourceJobID != "" {
		execution.SourceJobID = &req.SourceJobID
	}
	if req.Options.SingletonKey != "" {
		execution.SingletonKey = &req.Options.SingletonKey
	}

	if req.SourceJobID != "" && !req.IsRetry {
		looped, reason, err := e.detectLoop(ctx, req.Name, req.SourceJobID)
		if err != nil {
			return nil, err
		}
		if looped {
			// The record is still written so the loop shows up in job
			// history, but it never becomes claimable.
			execution.LoopPrevented = true
			execution.LoopReason = &reason
			execution.Status = model.ExecutionStatusCancelled
			zap.S().Named("jobs").Warnw("event loop prevented", "job", req.Name, "source_job_id", req.SourceJobID, "reason", reason)
		}
	}

	created, err := e.store.Execution().Create(ctx, execution)
	if err != nil {
		return nil, err
	}

	if created.LoopPrevented {
		entry := model.LogEntry{Timestamp: time.Now().UTC(), Level: "warn", Message: *created.LoopReason}
		if err := e.store.Execution().AppendLog(ctx, created.ID, entry); err != nil {
			zap.S().Named("jobs").Errorw("failed to log loop prevention", "job_id", created.ID, "error", err)
		}
	}

	return created, nil
}

func (e *Enqueuer) singletonConflict(ctx context.Context, key string) (bool, error) {
	filter := store.NewExecutionQueryFilter().
		BySingletonKey(key).
		ByStatusIn([]string{model.ExecutionStatusQueued, model.ExecutionStatusActive})
	existing, err := e.store.Execution().List(ctx, filter, store.NewExecutionQueryOptions().WithLimit(1))
	if err != nil {
		return false, err
	}
	return len(existing) > 0, nil
}

// detectLoop walks the source-job chain looking for an execution of the same
// job type. A chain that triggers its own type again is the signature of an
// event feedback loop.
func (e *Enqueuer) detectLoop(ctx context.Context, name, sourceJobID string) (bool, string, error) {
	currentID := sourceJobID
	for depth := 0; depth < loopChainLimit && currentID != ""; depth++ {
		source, err := e.store.Execution().Get(ctx, currentID)
		if err != nil {
			if err == store.ErrRecordNotFound {
				return false, "", nil
			}
			return false, "", err
		}

		if source.Name == name {
			reason := fmt.Sprintf("job %s was triggered by an execution of the same type (%s)", name, currentID)
			return true, reason, nil
		}

		if source.SourceJobID == nil {
			return false, "", nil
		}
		currentID = *source.SourceJobID
	}
	return false, "", nil
}
