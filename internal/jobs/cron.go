package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Cron-fired executions are written under a reserved pair so they are picked
// up by the system scheduler instead of a tenant one.
const (
	CronTenantID = "system"
	CronOrgID    = "system"
)

// CronRunner fires the definitions that carry a cron schedule. Each fire
// enqueues one execution under the system pair with a per-definition
// singleton key, so a run that is still queued or active is never doubled
// up by the next tick.
type CronRunner struct {
	cron     *cron.Cron
	defs     *DefinitionRegistry
	enqueuer *Enqueuer
	log      *zap.SugaredLogger
}

func NewCronRunner(defs *DefinitionRegistry, enqueuer *Enqueuer) *CronRunner {
	return &CronRunner{
		cron:     cron.New(),
		defs:     defs,
		enqueuer: enqueuer,
		log:      zap.S().Named("cron"),
	}
}

// Start registers every cron-carrying definition and begins firing. A
// definition with an unparsable schedule fails Start instead of being
// skipped silently.
func (r *CronRunner) Start() error {
	for _, def := range r.defs.List() {
		if def.Cron == "" {
			continue
		}
		if _, err := r.cron.AddFunc(def.Cron, func() { r.fire(def) }); err != nil {
			return fmt.Errorf("scheduling job %s with cron spec %q: %w", def.Name, def.Cron, err)
		}
		r.log.Infow("job scheduled", "job", def.Name, "cron", def.Cron)
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule and waits for in-flight fires to return.
func (r *CronRunner) Stop() {
	<-r.cron.Stop().Done()
}

// Entries returns the number of registered schedules.
func (r *CronRunner) Entries() int {
	return len(r.cron.Entries())
}

func (r *CronRunner) fire(def *JobDefinition) {
	if err := r.enqueueScheduled(context.Background(), def); err != nil {
		r.log.Errorw("scheduled enqueue failed", "job", def.Name, "error", err)
	}
}

func (r *CronRunner) enqueueScheduled(ctx context.Context, def *JobDefinition) error {
	_, err := r.enqueuer.Enqueue(ctx, EnqueueRequest{
		Name:     def.Name,
		TenantID: CronTenantID,
		OrgID:    CronOrgID,
		Options:  EnqueueOptions{SingletonKey: "cron/" + def.Name},
	})
	var conflict *ErrSingletonConflict
	if errors.As(err, &conflict) {
		// the previous scheduled run has not finished yet
		r.log.Debugw("scheduled run still pending, skipping fire", "job", def.Name)
		return nil
	}
	return err
}
