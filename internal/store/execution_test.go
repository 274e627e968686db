package store_test

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/fleetworks/jobfleet/internal/config"
	"github.com/fleetworks/jobfleet/internal/store"
	"github.com/fleetworks/jobfleet/internal/store/model"
)

func strPtr(s string) *string {
	return &s
}

var _ = Describe("execution store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	newExecution := func(name, tenantID, orgID string) model.JobExecution {
		return model.JobExecution{
			ID:       uuid.NewString(),
			Name:     name,
			TenantID: tenantID,
			OrgID:    orgID,
		}
	}

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(BeNil())
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM job_executions;")
	})

	Context("create", func() {
		It("defaults a new execution to queued", func() {
			execution, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())
			Expect(execution.Status).To(Equal(model.ExecutionStatusQueued))
			Expect(execution.CreatedAt).NotTo(BeZero())
		})

		It("rejects a duplicate id", func() {
			execution := newExecution("report:build", "t1", "o1")
			_, err := s.Execution().Create(context.TODO(), execution)
			Expect(err).To(BeNil())

			_, err = s.Execution().Create(context.TODO(), execution)
			Expect(err).To(MatchError(store.ErrDuplicateKey))
		})
	})

	Context("get", func() {
		It("round-trips an execution", func() {
			created, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			found, err := s.Execution().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			Expect(found.Name).To(Equal("report:build"))
			Expect(found.TenantID).To(Equal("t1"))
			Expect(found.OrgID).To(Equal("o1"))
		})

		It("returns not found for an unknown id", func() {
			_, err := s.Execution().Get(context.TODO(), uuid.NewString())
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("list", func() {
		It("filters by tenant and org", func() {
			_, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())
			_, err = s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o2"))
			Expect(err).To(BeNil())
			_, err = s.Execution().Create(context.TODO(), newExecution("report:build", "t2", "o3"))
			Expect(err).To(BeNil())

			executions, err := s.Execution().List(context.TODO(), store.NewExecutionQueryFilter().ByTenantOrg("t1", "o1"), nil)
			Expect(err).To(BeNil())
			Expect(executions).To(HaveLen(1))
			Expect(executions[0].OrgID).To(Equal("o1"))
		})

		It("filters by status and excludes dismissed", func() {
			queued, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())
			dismissed, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())
			_, err = s.Execution().Dismiss(context.TODO(), dismissed.ID, nil)
			Expect(err).To(BeNil())

			executions, err := s.Execution().List(context.TODO(),
				store.NewExecutionQueryFilter().ByStatus(model.ExecutionStatusQueued).WithoutDismissed(), nil)
			Expect(err).To(BeNil())
			Expect(executions).To(HaveLen(1))
			Expect(executions[0].ID).To(Equal(queued.ID))
		})

		It("honors limit and order", func() {
			for _, name := range []string{"a", "b", "c"} {
				_, err := s.Execution().Create(context.TODO(), newExecution(name, "t1", "o1"))
				Expect(err).To(BeNil())
			}

			executions, err := s.Execution().List(context.TODO(), nil,
				store.NewExecutionQueryOptions().WithOrder("name DESC").WithLimit(2))
			Expect(err).To(BeNil())
			Expect(executions).To(HaveLen(2))
			Expect(executions[0].Name).To(Equal("c"))
			Expect(executions[1].Name).To(Equal("b"))
		})
	})

	Context("update status", func() {
		It("updates only the fields given", func() {
			created, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			startedAt := time.Now().UTC()
			err = s.Execution().UpdateStatus(context.TODO(), created.ID, model.ExecutionStatusActive, &startedAt, nil, nil, nil)
			Expect(err).To(BeNil())

			found, err := s.Execution().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(model.ExecutionStatusActive))
			Expect(found.StartedAt).NotTo(BeNil())
			Expect(found.CompletedAt).To(BeNil())
			Expect(found.Error).To(BeNil())
		})

		It("records a failure with message and stack", func() {
			created, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			completedAt := time.Now().UTC()
			err = s.Execution().UpdateStatus(context.TODO(), created.ID, model.ExecutionStatusFailed,
				nil, &completedAt, strPtr("exporter unreachable"), strPtr("stack trace"))
			Expect(err).To(BeNil())

			found, err := s.Execution().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(model.ExecutionStatusFailed))
			Expect(*found.Error).To(Equal("exporter unreachable"))
			Expect(*found.ErrorStack).To(Equal("stack trace"))
		})

		It("returns not found for an unknown id", func() {
			err := s.Execution().UpdateStatus(context.TODO(), uuid.NewString(), model.ExecutionStatusActive, nil, nil, nil, nil)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("append log", func() {
		It("preserves entry order", func() {
			created, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			for _, msg := range []string{"first", "second", "third"} {
				err = s.Execution().AppendLog(context.TODO(), created.ID, model.LogEntry{
					Timestamp: time.Now().UTC(),
					Level:     "info",
					Message:   msg,
				})
				Expect(err).To(BeNil())
			}

			found, err := s.Execution().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			entries, err := found.LogEntries()
			Expect(err).To(BeNil())
			Expect(entries).To(HaveLen(3))
			Expect(entries[0].Message).To(Equal("first"))
			Expect(entries[2].Message).To(Equal("third"))
		})

		It("keeps every entry under concurrent appends", func() {
			created, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			var group errgroup.Group
			for i := 0; i < 10; i++ {
				msg := fmt.Sprintf("entry-%d", i)
				group.Go(func() error {
					return s.Execution().AppendLog(context.TODO(), created.ID, model.LogEntry{
						Timestamp: time.Now().UTC(),
						Level:     "info",
						Message:   msg,
					})
				})
			}
			Expect(group.Wait()).To(BeNil())

			found, err := s.Execution().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			entries, err := found.LogEntries()
			Expect(err).To(BeNil())
			Expect(entries).To(HaveLen(10))

			seen := make(map[string]bool)
			for _, entry := range entries {
				seen[entry.Message] = true
			}
			Expect(seen).To(HaveLen(10))
		})

		It("returns not found for an unknown id", func() {
			err := s.Execution().AppendLog(context.TODO(), uuid.NewString(), model.LogEntry{Message: "orphan"})
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("stats and completion info", func() {
		It("replaces the stats payload wholesale", func() {
			created, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			Expect(s.Execution().UpdateStats(context.TODO(), created.ID, []byte(`{"processed":10}`))).To(BeNil())
			Expect(s.Execution().UpdateStats(context.TODO(), created.ID, []byte(`{"processed":25}`))).To(BeNil())

			found, err := s.Execution().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			Expect(string(found.Stats)).To(Equal(`{"processed":25}`))
		})

		It("stores the completion payload", func() {
			created, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			Expect(s.Execution().UpdateCompletionInfo(context.TODO(), created.ID, []byte(`{"url":"/reports/42"}`))).To(BeNil())

			found, err := s.Execution().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			Expect(string(found.CompletionInfo)).To(Equal(`{"url":"/reports/42"}`))
		})
	})

	Context("pin and unpin", func() {
		It("pins an execution and logs the actor", func() {
			created, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			pinned, err := s.Execution().Pin(context.TODO(), created.ID, strPtr("7"))
			Expect(err).To(BeNil())
			Expect(pinned.IsPinned()).To(BeTrue())

			entries, err := pinned.LogEntries()
			Expect(err).To(BeNil())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Message).To(Equal("Job pinned by user 7"))
			Expect(entries[0].Level).To(Equal("info"))
		})

		It("pins without an actor", func() {
			created, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			pinned, err := s.Execution().Pin(context.TODO(), created.ID, nil)
			Expect(err).To(BeNil())

			entries, err := pinned.LogEntries()
			Expect(err).To(BeNil())
			Expect(entries[0].Message).To(Equal("Job pinned"))
		})

		It("unpins a never-pinned execution without error", func() {
			created, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			unpinned, err := s.Execution().Unpin(context.TODO(), created.ID, nil)
			Expect(err).To(BeNil())
			Expect(unpinned.IsPinned()).To(BeFalse())

			entries, err := unpinned.LogEntries()
			Expect(err).To(BeNil())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Message).To(Equal("Job unpinned"))
		})

		It("returns not found before mutating anything", func() {
			_, err := s.Execution().Pin(context.TODO(), uuid.NewString(), nil)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("dismiss", func() {
		It("marks the execution dismissed", func() {
			created, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			dismissed, err := s.Execution().Dismiss(context.TODO(), created.ID, strPtr("9"))
			Expect(err).To(BeNil())
			Expect(dismissed.IsDismissed()).To(BeTrue())

			entries, err := dismissed.LogEntries()
			Expect(err).To(BeNil())
			Expect(entries[0].Message).To(Equal("Job dismissed by user 9"))
		})
	})

	Context("claim next", func() {
		It("claims the oldest queued execution for the pair", func() {
			first, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())
			gormdb.Exec("UPDATE job_executions SET created_at = ? WHERE id = ?", time.Now().UTC().Add(-time.Hour), first.ID)
			_, err = s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			claimed, err := s.Execution().ClaimNext(context.TODO(), "t1", "o1")
			Expect(err).To(BeNil())
			Expect(claimed.ID).To(Equal(first.ID))
			Expect(claimed.Status).To(Equal(model.ExecutionStatusActive))
			Expect(claimed.StartedAt).NotTo(BeNil())
		})

		It("skips dismissed executions", func() {
			created, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())
			_, err = s.Execution().Dismiss(context.TODO(), created.ID, nil)
			Expect(err).To(BeNil())

			_, err = s.Execution().ClaimNext(context.TODO(), "t1", "o1")
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("never claims across pairs", func() {
			_, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o2"))
			Expect(err).To(BeNil())

			_, err = s.Execution().ClaimNext(context.TODO(), "t1", "o1")
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("stats", func() {
		It("aggregates counts and recent retries", func() {
			seed := func(status string, retries uint) {
				execution := newExecution("report:build", "t1", "o1")
				execution.Status = status
				execution.RetryCount = retries
				_, err := s.Execution().Create(context.TODO(), execution)
				Expect(err).To(BeNil())
			}
			seed(model.ExecutionStatusActive, 0)
			seed(model.ExecutionStatusCompleted, 1)
			seed(model.ExecutionStatusCompleted, 0)
			seed(model.ExecutionStatusFailed, 2)

			stats, err := s.Execution().Stats(context.TODO(), nil, time.Now().UTC().Add(-time.Hour))
			Expect(err).To(BeNil())
			Expect(stats.ActiveCount).To(Equal(int64(1)))
			Expect(stats.CompletedCount).To(Equal(int64(2)))
			Expect(stats.FailedCount).To(Equal(int64(1)))
			Expect(stats.TotalRetries).To(Equal(int64(3)))
		})

		It("excludes housekeeping job types", func() {
			execution := newExecution("retention:cleanup", "t1", "o1")
			execution.Status = model.ExecutionStatusCompleted
			_, err := s.Execution().Create(context.TODO(), execution)
			Expect(err).To(BeNil())

			stats, err := s.Execution().Stats(context.TODO(), []string{"retention:cleanup"}, time.Now().UTC().Add(-time.Hour))
			Expect(err).To(BeNil())
			Expect(stats.CompletedCount).To(Equal(int64(0)))
		})

		It("ignores retries outside the window", func() {
			execution := newExecution("report:build", "t1", "o1")
			execution.Status = model.ExecutionStatusFailed
			execution.RetryCount = 4
			created, err := s.Execution().Create(context.TODO(), execution)
			Expect(err).To(BeNil())
			gormdb.Exec("UPDATE job_executions SET updated_at = ? WHERE id = ?", time.Now().UTC().Add(-48*time.Hour), created.ID)

			stats, err := s.Execution().Stats(context.TODO(), nil, time.Now().UTC().Add(-time.Hour))
			Expect(err).To(BeNil())
			Expect(stats.TotalRetries).To(Equal(int64(0)))
		})
	})

	Context("retention", func() {
		It("deletes old executions but never pinned ones", func() {
			old, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())
			oldPinned, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())
			_, err = s.Execution().Pin(context.TODO(), oldPinned.ID, nil)
			Expect(err).To(BeNil())
			fresh, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			stale := time.Now().UTC().AddDate(0, 0, -45)
			gormdb.Exec("UPDATE job_executions SET created_at = ? WHERE id IN (?, ?)", stale, old.ID, oldPinned.ID)

			deleted, err := s.Execution().DeleteOlderThan(context.TODO(), 30)
			Expect(err).To(BeNil())
			Expect(deleted).To(Equal(int64(1)))

			_, err = s.Execution().Get(context.TODO(), old.ID)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
			_, err = s.Execution().Get(context.TODO(), oldPinned.ID)
			Expect(err).To(BeNil())
			_, err = s.Execution().Get(context.TODO(), fresh.ID)
			Expect(err).To(BeNil())
		})

		It("deletes everything on demand", func() {
			_, err := s.Execution().Create(context.TODO(), newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			Expect(s.Execution().DeleteAll(context.TODO())).To(BeNil())

			executions, err := s.Execution().List(context.TODO(), nil, nil)
			Expect(err).To(BeNil())
			Expect(executions).To(BeEmpty())
		})
	})

	Context("transaction", func() {
		It("rolls back an uncommitted create", func() {
			ctx, err := s.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			created, err := s.Execution().Create(ctx, newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			_, err = store.Rollback(ctx)
			Expect(err).To(BeNil())

			_, err = s.Execution().Get(context.TODO(), created.ID)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("commits a create", func() {
			ctx, err := s.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			created, err := s.Execution().Create(ctx, newExecution("report:build", "t1", "o1"))
			Expect(err).To(BeNil())

			_, err = store.Commit(ctx)
			Expect(err).To(BeNil())

			_, err = s.Execution().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
		})
	})
})
