package fleet

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fleetworks/jobfleet/internal/registry"
	"github.com/fleetworks/jobfleet/pkg/metrics"
)

// SchedulerManager is the single authority for the at-most-one-live-scheduler-
// per-key invariant. GetScheduler memoizes per key: an existing running
// scheduler is returned as is, otherwise a new one is built, started and
// stored. The lock makes concurrent calls for the same key safe even if two
// reconciliation passes ever overlap.
type SchedulerManager struct {
	mu      sync.Mutex
	factory SchedulerFactory
	running map[string]Scheduler
}

func NewSchedulerManager(factory SchedulerFactory) *SchedulerManager {
	return &SchedulerManager{
		factory: factory,
		running: make(map[string]Scheduler),
	}
}

// GetScheduler returns the running scheduler for the pair, starting a new
// one if needed. A scheduler is stored only after its Start succeeds.
func (m *SchedulerManager) GetScheduler(ctx context.Context, tenant registry.Tenant, org registry.Org) (Scheduler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := PollingKey(tenant.ID, org.ID)
	if scheduler, ok := m.running[key]; ok {
		return scheduler, nil
	}

	scheduler := m.factory(tenant, org)
	if err := scheduler.Start(ctx); err != nil {
		return nil, err
	}

	m.running[key] = scheduler
	metrics.RunningSchedulersGauge.Set(float64(len(m.running)))
	return scheduler, nil
}

// IsRunning reports whether a live scheduler exists for the key.
func (m *SchedulerManager) IsRunning(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[key]
	return ok
}

// Count returns the number of live schedulers.
func (m *SchedulerManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Keys returns a snapshot of the running polling keys.
func (m *SchedulerManager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.running))
	for key := range m.running {
		keys = append(keys, key)
	}
	return keys
}

// StopAll stops every running scheduler concurrently. Each stop failure is
// logged individually so one stuck scheduler cannot block the others. The
// running set is cleared last.
func (m *SchedulerManager) StopAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for key, scheduler := range m.running {
		key, scheduler := key, scheduler
		g.Go(func() error {
			if err := scheduler.Stop(ctx); err != nil {
				zap.S().Named("scheduler_manager").Errorw("failed to stop scheduler", "key", key, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.running = make(map[string]Scheduler)
	metrics.RunningSchedulersGauge.Set(0)
}
