package fleet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/fleetworks/jobfleet/internal/registry"
	"github.com/fleetworks/jobfleet/pkg/metrics"
)

// Config carries the poller tuning knobs. Every field must be positive.
type Config struct {
	PollInterval            time.Duration
	MaxConcurrentSchedulers int
	RetryMaxRetries         uint
	RetryBaseDelay          time.Duration
	RetryMaxDelay           time.Duration
	RetryResetAfter         time.Duration
	StartupTimeout          time.Duration
}

func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.MaxConcurrentSchedulers <= 0 {
		return fmt.Errorf("max concurrent schedulers must be positive")
	}
	if c.RetryMaxRetries == 0 {
		return fmt.Errorf("retry max retries must be positive")
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay <= 0 || c.RetryResetAfter <= 0 {
		return fmt.Errorf("retry delays must be positive")
	}
	if c.StartupTimeout <= 0 {
		return fmt.Errorf("startup timeout must be positive")
	}
	return nil
}

// Poller keeps the set of running tenant-org schedulers in sync with the set
// of active tenant/org pairs. Growth is bounded by the concurrency cap and a
// per-key backoff keeps a persistently failing pair from destabilizing the
// rest of the fleet.
type Poller struct {
	cfg      Config
	registry registry.Client
	manager  *SchedulerManager
	backoff  *backoffTracker

	// inFlight serializes reconciliation passes: a tick that fires while a
	// pass is still running is dropped, not queued.
	inFlight     atomic.Bool
	shuttingDown atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	log *zap.SugaredLogger
}

func NewPoller(cfg Config, client registry.Client, manager *SchedulerManager) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Poller{
		cfg:      cfg,
		registry: client,
		manager:  manager,
		backoff:  newBackoffTracker(cfg.RetryMaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay, cfg.RetryResetAfter),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		log:      zap.S().Named("fleet_poller"),
	}, nil
}

// Start performs one immediate reconciliation pass, then arms a repeating
// jittered timer. Stop the poller through Stop.
func (p *Poller) Start(ctx context.Context) {
	p.runPass(ctx)

	ticker := jitterbug.New(p.cfg.PollInterval, &jitterbug.Norm{Stdev: 100 * time.Millisecond})
	go func() {
		defer close(p.doneCh)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.runPass(ctx)
			}
		}
	}()
}

// Stop flags shutdown, stops the timer loop and stops every running
// scheduler. Calling Stop twice is safe.
func (p *Poller) Stop(ctx context.Context) {
	p.stopOnce.Do(func() {
		p.shuttingDown.Store(true)
		close(p.stopCh)
		<-p.doneCh

		p.manager.StopAll(ctx)
		p.log.Info("fleet poller stopped")
	})
}

func (p *Poller) runPass(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.log.Warn("previous reconciliation pass still in flight, skipping tick")
		return
	}
	defer p.inFlight.Store(false)

	if err := p.refresh(ctx); err != nil {
		// no mutations to the running set happen before this point in the
		// pass, the next tick retries from scratch
		p.log.Errorw("reconciliation pass aborted", "error", err)
	}
}

// refresh is one reconciliation pass. Pairs are processed in registry order,
// sequentially; one pair's failure never aborts the pass.
func (p *Poller) refresh(ctx context.Context) error {
	tenants, err := p.registry.ListTenants(ctx)
	if err != nil {
		return err
	}

	for _, tenant := range tenants {
		if !tenant.IsActive() {
			continue
		}

		orgs, err := p.registry.ListOrgs(ctx, tenant.ID)
		if err != nil {
			return err
		}

		for _, org := range orgs {
			if !org.IsActive() {
				continue
			}
			if p.shuttingDown.Load() {
				p.log.Info("shutdown in progress, aborting reconciliation pass")
				return nil
			}

			key := PollingKey(tenant.ID, org.ID)
			if p.manager.IsRunning(key) {
				continue
			}

			// Existing schedulers are never evicted to make room; growth
			// halts until capacity frees up.
			if p.manager.Count() >= p.cfg.MaxConcurrentSchedulers {
				p.log.Infow("scheduler capacity reached, deferring remaining pairs", "cap", p.cfg.MaxConcurrentSchedulers)
				return nil
			}

			if skip, reason := p.backoff.ShouldSkip(key); skip {
				p.log.Debugw("skipping pair", "key", key, "reason", reason)
				continue
			}

			p.startPair(ctx, key, tenant, org)
		}
	}

	return nil
}

// startPair fetches the full tenant/org detail and gets-or-starts a
// scheduler for the pair. Registry and startup calls share one timeout;
// a timeout is an ordinary startup failure feeding the backoff policy.
func (p *Poller) startPair(ctx context.Context, key string, tenantSummary registry.TenantSummary, orgSummary registry.OrgSummary) {
	startCtx, cancel := context.WithTimeout(ctx, p.cfg.StartupTimeout)
	defer cancel()

	tenant, err := p.registry.GetTenant(startCtx, tenantSummary.ID)
	if err != nil {
		p.recordFailure(key, err)
		return
	}
	org, err := p.registry.GetOrg(startCtx, orgSummary.ID)
	if err != nil {
		p.recordFailure(key, err)
		return
	}
	if tenant == nil || org == nil {
		// transient registry lag, retried next pass with no failure penalty
		p.log.Infow("tenant or org detail missing, skipping pair", "key", key)
		return
	}

	if _, err := p.manager.GetScheduler(startCtx, *tenant, *org); err != nil {
		p.recordFailure(key, err)
		return
	}

	p.backoff.Clear(key)
	p.log.Infow("scheduler started", "key", key, "tenant", tenant.Slug, "org", org.Slug)
}

func (p *Poller) recordFailure(key string, err error) {
	record := p.backoff.RecordFailure(key)
	class := Classify(err)
	metrics.SchedulerStartFailuresCounter.WithLabelValues(string(class)).Inc()

	p.log.Errorw("scheduler startup failed",
		"key", key,
		"failures", record.Count,
		"class", class,
		"error", FailureMessage(err),
	)
}
