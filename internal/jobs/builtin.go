package jobs

import (
	"context"

	"github.com/fleetworks/jobfleet/internal/store"
)

const RetentionCleanupJobName = "retention:cleanup"

type retentionParams struct {
	Days int `json:"days" validate:"gt=0"`
}

type retentionResult struct {
	Deleted int64 `json:"deleted"`
}

// NewRetentionCleanupDefinition builds the housekeeping job that deletes
// executions older than the requested age. A run without params falls back
// to defaultDays. Pinned executions survive regardless of age.
func NewRetentionCleanupDefinition(s store.Store, defaultDays int) *JobDefinition {
	return &JobDefinition{
		Name:             RetentionCleanupJobName,
		Description:      "Deletes job executions older than the configured retention window.",
		Category:         "maintenance",
		ExcludeFromStats: true,
		ShowInDashboard:  false,
		Cron:             "0 3 * * *",
		Handler: func(ctx context.Context, run Run) error {
			params := retentionParams{Days: defaultDays}
			if len(run.Params()) > 0 {
				if err := decodeParams(run.Params(), &params); err != nil {
					return err
				}
			}
			if err := validate.Struct(params); err != nil {
				return &ErrInvalidParams{err}
			}

			deleted, err := s.Execution().DeleteOlderThan(ctx, params.Days)
			if err != nil {
				return err
			}

			run.Log("info", "deleted %d executions older than %d days", deleted, params.Days)
			return run.SetCompletionInfo(retentionResult{Deleted: deleted})
		},
	}
}
