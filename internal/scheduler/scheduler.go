package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lthibault/jitterbug/v2"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fleetworks/jobfleet/internal/events"
	"github.com/fleetworks/jobfleet/internal/fleet"
	"github.com/fleetworks/jobfleet/internal/jobs"
	"github.com/fleetworks/jobfleet/internal/registry"
	"github.com/fleetworks/jobfleet/internal/store"
	"github.com/fleetworks/jobfleet/internal/store/model"
)

const (
	defaultClaimInterval = 2 * time.Second
	defaultJobTimeout    = 5 * time.Minute
)

// Scheduler is the per-tenant-org worker: it claims queued executions from
// the ledger for its pair and runs the registered handlers. Its lifecycle is
// owned by the fleet poller.
type Scheduler struct {
	tenant registry.Tenant
	org    registry.Org

	store    store.Store
	defs     *jobs.DefinitionRegistry
	producer *events.EventProducer

	claimInterval time.Duration
	jobTimeout    time.Duration

	cancel context.CancelFunc
	doneCh chan struct{}

	log *zap.SugaredLogger
}

// Make sure we satisfy the fleet lifecycle contract
var _ fleet.Scheduler = (*Scheduler)(nil)

type Option func(*Scheduler)

func WithClaimInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.claimInterval = d }
}

func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.jobTimeout = d }
}

func New(tenant registry.Tenant, org registry.Org, s store.Store, defs *jobs.DefinitionRegistry, producer *events.EventProducer, opts ...Option) *Scheduler {
	scheduler := &Scheduler{
		tenant:        tenant,
		org:           org,
		store:         s,
		defs:          defs,
		producer:      producer,
		claimInterval: defaultClaimInterval,
		jobTimeout:    defaultJobTimeout,
		doneCh:        make(chan struct{}),
		log:           zap.S().Named("scheduler").With("tenant", tenant.Slug, "org", org.Slug),
	}
	for _, o := range opts {
		o(scheduler)
	}
	return scheduler
}

// Start verifies the ledger is reachable and spawns the claim loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.store == nil || s.defs == nil {
		return &fleet.ResourceInitError{Resource: "ledger", Err: fmt.Errorf("scheduler wiring incomplete for %s:%s", s.tenant.ID, s.org.ID)}
	}

	// a failing ledger shows up now, as a startup failure, not later in the
	// claim loop
	if _, err := s.store.Execution().List(ctx,
		store.NewExecutionQueryFilter().ByTenantOrg(s.tenant.ID, s.org.ID),
		store.NewExecutionQueryOptions().WithLimit(1)); err != nil {
		return &fleet.ResourceInitError{Resource: "ledger", Err: err}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.run(loopCtx)
	s.log.Info("scheduler started")
	return nil
}

// Stop terminates the claim loop and waits for the in-flight job, if any,
// bounded by the caller's context.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	select {
	case <-s.doneCh:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler %s:%s did not stop in time: %w", s.tenant.ID, s.org.ID, ctx.Err())
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := jitterbug.New(s.claimInterval, &jitterbug.Norm{Stdev: 50 * time.Millisecond})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// drain everything claimable on this tick
		for {
			claimed, err := s.claimAndRun(ctx)
			if err != nil {
				s.log.Errorw("claim pass failed", "error", err)
				break
			}
			if !claimed {
				break
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// claimAndRun claims the oldest queued execution of the pair and runs it to
// a terminal status. It returns false when nothing was claimable.
func (s *Scheduler) claimAndRun(ctx context.Context) (bool, error) {
	execution, err := s.store.Execution().ClaimNext(ctx, s.tenant.ID, s.org.ID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	s.emit(ctx, events.JobStartedKind, *execution)
	s.execute(ctx, execution)
	return true, nil
}

func (s *Scheduler) execute(ctx context.Context, execution *model.JobExecution) {
	def, ok := s.defs.Get(execution.Name)
	if !ok {
		s.finishFailed(ctx, execution, fmt.Errorf("no definition registered for job type %s", execution.Name))
		return
	}

	run := newJobRun(s.store, s.producer, execution)
	jobCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	err := runHandler(jobCtx, def.Handler, run)
	switch {
	case err == nil:
		s.finishCompleted(ctx, execution)
	case errors.Is(err, context.Canceled):
		s.finishCancelled(ctx, execution)
	default:
		s.finishFailed(ctx, execution, err)
	}
}

// runHandler converts a handler panic into an error so one broken job type
// cannot take the claim loop down.
func runHandler(ctx context.Context, handler jobs.Handler, run jobs.Run) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, run)
}

func (s *Scheduler) finishCompleted(ctx context.Context, execution *model.JobExecution) {
	now := time.Now().UTC()
	if err := s.store.Execution().UpdateStatus(ctx, execution.ID, model.ExecutionStatusCompleted, nil, &now, nil, nil); err != nil {
		s.log.Errorw("failed to mark execution completed", "job_id", execution.ID, "error", err)
		return
	}
	execution.Status = model.ExecutionStatusCompleted
	s.emit(ctx, events.JobCompletedKind, *execution)
}

func (s *Scheduler) finishCancelled(ctx context.Context, execution *model.JobExecution) {
	now := time.Now().UTC()
	if err := s.store.Execution().UpdateStatus(ctx, execution.ID, model.ExecutionStatusCancelled, nil, &now, nil, nil); err != nil {
		s.log.Errorw("failed to mark execution cancelled", "job_id", execution.ID, "error", err)
		return
	}
	execution.Status = model.ExecutionStatusCancelled
	s.emit(ctx, events.JobCancelledKind, *execution)
}

func (s *Scheduler) finishFailed(ctx context.Context, execution *model.JobExecution, jobErr error) {
	now := time.Now().UTC()
	errMsg := jobErr.Error()
	errStack := fmt.Sprintf("%+v", pkgerrors.WithStack(jobErr))

	if err := s.store.Execution().UpdateStatus(ctx, execution.ID, model.ExecutionStatusFailed, nil, &now, &errMsg, &errStack); err != nil {
		s.log.Errorw("failed to mark execution failed", "job_id", execution.ID, "error", err)
		return
	}
	execution.Status = model.ExecutionStatusFailed
	execution.Error = &errMsg
	s.emit(ctx, events.JobFailedKind, *execution)
	s.log.Warnw("job failed", "job_id", execution.ID, "job", execution.Name, "error", errMsg)
}

func (s *Scheduler) emit(ctx context.Context, kind string, execution model.JobExecution) {
	event := events.JobEvent{
		JobID:    execution.ID,
		Name:     execution.Name,
		TenantID: execution.TenantID,
		OrgID:    execution.OrgID,
		Status:   execution.Status,
	}
	if execution.Title != nil {
		event.Title = *execution.Title
	}
	if execution.Error != nil {
		event.Error = *execution.Error
	}
	if def, ok := s.defs.Get(execution.Name); ok {
		event.ShowInDashboard = def.ShowInDashboard
	}

	if err := s.producer.EmitJob(ctx, kind, event); err != nil {
		s.log.Errorw("failed to emit job event", "kind", kind, "job_id", execution.ID, "error", err)
	}
}
