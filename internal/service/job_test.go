package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	api "github.com/fleetworks/jobfleet/internal/api/v1alpha1"
	"github.com/fleetworks/jobfleet/internal/config"
	"github.com/fleetworks/jobfleet/internal/events"
	"github.com/fleetworks/jobfleet/internal/jobs"
	"github.com/fleetworks/jobfleet/internal/service"
	"github.com/fleetworks/jobfleet/internal/store"
	"github.com/fleetworks/jobfleet/internal/store/model"
)

type reportParams struct {
	Month string `json:"month" validate:"required"`
}

var _ = Describe("job handler", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		defs   *jobs.DefinitionRegistry
	)

	newHandler := func(writer events.Writer) *service.ServiceHandler {
		producer := events.NewEventProducer(writer)
		return service.NewServiceHandler(s, defs, jobs.NewEnqueuer(s, defs), producer)
	}

	queueRequest := func() api.QueueJobRequest {
		return api.QueueJobRequest{
			Name:     "report:build",
			TenantID: "t1",
			OrgID:    "o1",
			Params:   json.RawMessage(`{"month":"2026-08"}`),
		}
	}

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(BeNil())

		defs = jobs.NewDefinitionRegistry()
		noop := func(ctx context.Context, run jobs.Run) error { return nil }
		Expect(defs.Register(&jobs.JobDefinition{
			Name:            "report:build",
			Description:     "Builds the monthly usage report",
			ParamsPrototype: reportParams{},
			ShowInDashboard: true,
			Handler:         noop,
		})).To(BeNil())
		Expect(defs.Register(&jobs.JobDefinition{
			Name:             "retention:cleanup",
			ExcludeFromStats: true,
			Handler:          noop,
		})).To(BeNil())
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM job_executions;")
	})

	Context("job types", func() {
		It("lists the registered definitions", func() {
			srv := newHandler(newTestWriter())
			types := srv.ListJobTypes(context.TODO())
			Expect(types).To(HaveLen(2))
			Expect(types[0].Name).To(Equal("report:build"))
			Expect(types[1].Name).To(Equal("retention:cleanup"))
		})
	})

	Context("queue", func() {
		It("queues a job", func() {
			srv := newHandler(newTestWriter())
			execution, err := srv.QueueJob(context.TODO(), queueRequest())
			Expect(err).To(BeNil())
			Expect(execution.Status).To(Equal(model.ExecutionStatusQueued))
			Expect(execution.TenantID).To(Equal("t1"))
		})

		It("rejects an unknown job type", func() {
			srv := newHandler(newTestWriter())
			request := queueRequest()
			request.Name = "no:such:job"
			_, err := srv.QueueJob(context.TODO(), request)

			var invalid *service.ErrInvalidRequest
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})

		It("rejects invalid params", func() {
			srv := newHandler(newTestWriter())
			request := queueRequest()
			request.Params = json.RawMessage(`{}`)
			_, err := srv.QueueJob(context.TODO(), request)

			var invalid *service.ErrInvalidRequest
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})

		It("rejects a per-request cron schedule", func() {
			srv := newHandler(newTestWriter())
			request := queueRequest()
			request.Options.Cron = "0 3 * * *"
			_, err := srv.QueueJob(context.TODO(), request)

			var invalid *service.ErrInvalidRequest
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})

		It("rejects a second job with the same singleton key", func() {
			srv := newHandler(newTestWriter())
			request := queueRequest()
			request.Options.SingletonKey = "report:t1:o1"

			_, err := srv.QueueJob(context.TODO(), request)
			Expect(err).To(BeNil())

			_, err = srv.QueueJob(context.TODO(), request)
			var invalid *service.ErrInvalidRequest
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})
	})

	Context("list and get", func() {
		It("lists newest first", func() {
			srv := newHandler(newTestWriter())
			first, err := srv.QueueJob(context.TODO(), queueRequest())
			Expect(err).To(BeNil())
			gormdb.Exec("UPDATE job_executions SET created_at = ? WHERE id = ?", time.Now().UTC().Add(-time.Hour), first.ID)
			second, err := srv.QueueJob(context.TODO(), queueRequest())
			Expect(err).To(BeNil())

			executions, err := srv.ListExecutions(context.TODO(), "", "", 0, 0)
			Expect(err).To(BeNil())
			Expect(executions).To(HaveLen(2))
			Expect(executions[0].ID).To(Equal(second.ID))
		})

		It("rejects an unknown status filter", func() {
			srv := newHandler(newTestWriter())
			_, err := srv.ListExecutions(context.TODO(), "", "bogus", 0, 0)

			var invalid *service.ErrInvalidRequest
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})

		It("returns not found for an unknown id", func() {
			srv := newHandler(newTestWriter())
			_, err := srv.GetExecution(context.TODO(), uuid.NewString())

			var notFound *service.ErrResourceNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})
	})

	Context("cancel", func() {
		It("cancels a queued job and emits the event", func() {
			writer := newTestWriter()
			srv := newHandler(writer)

			queued, err := srv.QueueJob(context.TODO(), queueRequest())
			Expect(err).To(BeNil())

			cancelled, err := srv.CancelExecution(context.TODO(), queued.ID, "7")
			Expect(err).To(BeNil())
			Expect(cancelled.Status).To(Equal(model.ExecutionStatusCancelled))
			Expect(cancelled.CompletedAt).NotTo(BeNil())
			Expect(cancelled.Logs[len(cancelled.Logs)-1].Message).To(Equal("Job cancelled by user 7"))

			<-time.After(500 * time.Millisecond)
			Expect(writer.Messages).To(HaveLen(1))
			Expect(writer.Messages[0].Type()).To(Equal(events.JobCancelledKind))
		})

		It("refuses to cancel a completed job", func() {
			srv := newHandler(newTestWriter())
			queued, err := srv.QueueJob(context.TODO(), queueRequest())
			Expect(err).To(BeNil())

			now := time.Now().UTC()
			Expect(s.Execution().UpdateStatus(context.TODO(), queued.ID, model.ExecutionStatusCompleted, nil, &now, nil, nil)).To(BeNil())

			_, err = srv.CancelExecution(context.TODO(), queued.ID, "")
			var invalid *service.ErrInvalidTransition
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})
	})

	Context("retry", func() {
		It("queues a new execution referencing the failed original", func() {
			srv := newHandler(newTestWriter())
			queued, err := srv.QueueJob(context.TODO(), queueRequest())
			Expect(err).To(BeNil())

			now := time.Now().UTC()
			Expect(s.Execution().UpdateStatus(context.TODO(), queued.ID, model.ExecutionStatusFailed, nil, &now, nil, nil)).To(BeNil())

			retry, err := srv.RetryExecution(context.TODO(), queued.ID, "7")
			Expect(err).To(BeNil())
			Expect(retry.ID).NotTo(Equal(queued.ID))
			Expect(retry.SourceJobID).To(Equal(queued.ID))
			Expect(retry.RetryCount).To(Equal(uint(1)))
			Expect(retry.Status).To(Equal(model.ExecutionStatusQueued))

			original, err := srv.GetExecution(context.TODO(), queued.ID)
			Expect(err).To(BeNil())
			Expect(original.Logs[len(original.Logs)-1].Message).To(Equal("Retry queued as job " + retry.ID + " by user 7"))
		})

		It("refuses to retry a queued job", func() {
			srv := newHandler(newTestWriter())
			queued, err := srv.QueueJob(context.TODO(), queueRequest())
			Expect(err).To(BeNil())

			_, err = srv.RetryExecution(context.TODO(), queued.ID, "")
			var invalid *service.ErrInvalidRequest
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})
	})

	Context("pin, unpin and dismiss", func() {
		It("pins and unpins", func() {
			srv := newHandler(newTestWriter())
			queued, err := srv.QueueJob(context.TODO(), queueRequest())
			Expect(err).To(BeNil())

			pinned, err := srv.PinExecution(context.TODO(), queued.ID, "7")
			Expect(err).To(BeNil())
			Expect(pinned.IsPinned).To(BeTrue())

			unpinned, err := srv.UnpinExecution(context.TODO(), queued.ID, "7")
			Expect(err).To(BeNil())
			Expect(unpinned.IsPinned).To(BeFalse())
		})

		It("dismisses", func() {
			srv := newHandler(newTestWriter())
			queued, err := srv.QueueJob(context.TODO(), queueRequest())
			Expect(err).To(BeNil())

			dismissed, err := srv.DismissExecution(context.TODO(), queued.ID, "")
			Expect(err).To(BeNil())
			Expect(dismissed.IsDismissed).To(BeTrue())
		})

		It("returns not found for an unknown id", func() {
			srv := newHandler(newTestWriter())
			_, err := srv.PinExecution(context.TODO(), uuid.NewString(), "")

			var notFound *service.ErrResourceNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})
	})

	Context("statistics", func() {
		It("skips job types excluded from stats", func() {
			srv := newHandler(newTestWriter())

			execution := model.JobExecution{ID: uuid.NewString(), Name: "report:build", Status: model.ExecutionStatusCompleted}
			_, err := s.Execution().Create(context.TODO(), execution)
			Expect(err).To(BeNil())

			excluded := model.JobExecution{ID: uuid.NewString(), Name: "retention:cleanup", Status: model.ExecutionStatusCompleted}
			_, err = s.Execution().Create(context.TODO(), excluded)
			Expect(err).To(BeNil())

			stats, err := srv.Statistics(context.TODO())
			Expect(err).To(BeNil())
			Expect(stats.CompletedCount).To(Equal(int64(1)))
		})
	})
})
