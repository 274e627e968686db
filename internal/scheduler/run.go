package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fleetworks/jobfleet/internal/events"
	"github.com/fleetworks/jobfleet/internal/jobs"
	"github.com/fleetworks/jobfleet/internal/store"
	"github.com/fleetworks/jobfleet/internal/store/model"
)

// jobRun is the handler-facing view of one claimed execution. Log lines go
// to the execution's append-only log, stats replace the progress payload
// wholesale and fire a stats-updated event.
type jobRun struct {
	store     store.Store
	producer  *events.EventProducer
	execution *model.JobExecution
	log       *zap.SugaredLogger
}

// Make sure we conform to the handler contract
var _ jobs.Run = (*jobRun)(nil)

func newJobRun(s store.Store, producer *events.EventProducer, execution *model.JobExecution) *jobRun {
	return &jobRun{
		store:     s,
		producer:  producer,
		execution: execution,
		log:       zap.S().Named("job_run").With("job_id", execution.ID, "job", execution.Name),
	}
}

func (r *jobRun) ExecutionID() string {
	return r.execution.ID
}

func (r *jobRun) TenantID() string {
	return r.execution.TenantID
}

func (r *jobRun) OrgID() string {
	return r.execution.OrgID
}

func (r *jobRun) Params() json.RawMessage {
	return json.RawMessage(r.execution.Params)
}

func (r *jobRun) Log(level, format string, args ...any) {
	entry := model.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
	}
	if err := r.store.Execution().AppendLog(context.Background(), r.execution.ID, entry); err != nil {
		r.log.Errorw("failed to append job log", "error", err)
	}
}

func (r *jobRun) UpdateStats(stats any) error {
	encoded, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	if err := r.store.Execution().UpdateStats(context.Background(), r.execution.ID, encoded); err != nil {
		return err
	}

	event := events.JobEvent{
		JobID:    r.execution.ID,
		Name:     r.execution.Name,
		TenantID: r.execution.TenantID,
		OrgID:    r.execution.OrgID,
		Status:   model.ExecutionStatusActive,
	}
	return r.producer.EmitJob(context.Background(), events.JobStatsUpdatedKind, event)
}

func (r *jobRun) SetCompletionInfo(info any) error {
	encoded, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return r.store.Execution().UpdateCompletionInfo(context.Background(), r.execution.ID, encoded)
}
