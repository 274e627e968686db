package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apiserver "github.com/fleetworks/jobfleet/internal/api_server"
	"github.com/fleetworks/jobfleet/internal/config"
	"github.com/fleetworks/jobfleet/internal/events"
	"github.com/fleetworks/jobfleet/internal/fleet"
	"github.com/fleetworks/jobfleet/internal/jobs"
	"github.com/fleetworks/jobfleet/internal/registry"
	"github.com/fleetworks/jobfleet/internal/scheduler"
	"github.com/fleetworks/jobfleet/internal/service"
	"github.com/fleetworks/jobfleet/internal/store"
	"github.com/fleetworks/jobfleet/pkg/log"
	"github.com/fleetworks/jobfleet/pkg/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the jobfleet api and worker fleet",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		logLvl, err := zap.ParseAtomicLevel(cfg.Service.LogLevel)
		if err != nil {
			logLvl = zap.NewAtomicLevelAt(zap.InfoLevel)
		}
		logger := log.InitLog(logLvl)
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting jobfleet service")
		defer zap.S().Info("Jobfleet service stopped")

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalf("initializing data store: %v", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		if err := s.InitialMigration(); err != nil {
			zap.S().Fatalf("running initial migration: %v", err)
		}

		metrics.MustRegisterFleet()

		defs := jobs.NewDefinitionRegistry()
		if err := defs.Register(jobs.NewRetentionCleanupDefinition(s, cfg.Fleet.RetentionDays)); err != nil {
			zap.S().Fatalf("registering builtin jobs: %v", err)
		}

		stream := events.NewStreamWriter()
		producer := events.NewEventProducer(events.NewMultiWriter(stream, &events.StdoutWriter{}))
		defer producer.Close()

		enqueuer := jobs.NewEnqueuer(s, defs)
		svc := service.NewServiceHandler(s, defs, enqueuer, producer)

		registryClient := registry.NewHTTPClient(cfg.Service.RegistryBaseUrl)

		manager := fleet.NewSchedulerManager(func(tenant registry.Tenant, org registry.Org) fleet.Scheduler {
			return scheduler.New(tenant, org, s, defs, producer)
		})

		poller, err := fleet.NewPoller(fleet.Config{
			PollInterval:            time.Duration(cfg.Fleet.PollInterval) * time.Millisecond,
			MaxConcurrentSchedulers: cfg.Fleet.MaxConcurrentSchedulers,
			RetryMaxRetries:         uint(cfg.Fleet.RetryMaxRetries),
			RetryBaseDelay:          time.Duration(cfg.Fleet.RetryBaseDelay) * time.Millisecond,
			RetryMaxDelay:           time.Duration(cfg.Fleet.RetryMaxDelay) * time.Millisecond,
			RetryResetAfter:         time.Duration(cfg.Fleet.RetryResetAfter) * time.Millisecond,
			StartupTimeout:          time.Duration(cfg.Fleet.StartupTimeout) * time.Millisecond,
		}, registryClient, manager)
		if err != nil {
			zap.S().Fatalf("configuring fleet poller: %v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		// housekeeping jobs run under a reserved pair outside the tenant fleet
		systemScheduler := scheduler.New(
			registry.Tenant{ID: jobs.CronTenantID, Slug: jobs.CronTenantID, Name: "System", Status: registry.StatusActive},
			registry.Org{ID: jobs.CronOrgID, TenantID: jobs.CronTenantID, Slug: jobs.CronOrgID, Name: "System", Status: registry.StatusActive},
			s, defs, producer)
		if err := systemScheduler.Start(ctx); err != nil {
			zap.S().Fatalf("starting system scheduler: %v", err)
		}

		cronRunner := jobs.NewCronRunner(defs, enqueuer)
		if err := cronRunner.Start(); err != nil {
			zap.S().Fatalf("starting cron schedules: %v", err)
		}

		poller.Start(ctx)

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.Address)
			if err != nil {
				zap.S().Fatalf("creating listener: %s", err)
			}

			server := apiserver.New(cfg, svc, stream, listener)
			if err := server.Run(ctx); err != nil {
				zap.S().Fatalf("Error running server: %s", err)
			}
		}()

		<-ctx.Done()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		cronRunner.Stop()
		poller.Stop(stopCtx)
		if err := systemScheduler.Stop(stopCtx); err != nil {
			zap.S().Errorf("stopping system scheduler: %v", err)
		}

		return nil
	},
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
