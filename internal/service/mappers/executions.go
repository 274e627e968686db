package mappers

import (
	"encoding/json"

	api "github.com/fleetworks/jobfleet/internal/api/v1alpha1"
	"github.com/fleetworks/jobfleet/internal/jobs"
	"github.com/fleetworks/jobfleet/internal/store/model"
)

func ExecutionToApi(execution model.JobExecution) api.JobExecution {
	out := api.JobExecution{
		ID:             execution.ID,
		Name:           execution.Name,
		TenantID:       execution.TenantID,
		OrgID:          execution.OrgID,
		LoopPrevented:  execution.LoopPrevented,
		Params:         json.RawMessage(execution.Params),
		Status:         execution.Status,
		StartedAt:      execution.StartedAt,
		CompletedAt:    execution.CompletedAt,
		RetryCount:     execution.RetryCount,
		Stats:          json.RawMessage(execution.Stats),
		CompletionInfo: json.RawMessage(execution.CompletionInfo),
		IsPinned:       execution.IsPinned(),
		IsDismissed:    execution.IsDismissed(),
		PinnedAt:       execution.PinnedAt,
		DismissedAt:    execution.DismissedAt,
		CreatedAt:      execution.CreatedAt,
		UpdatedAt:      execution.UpdatedAt,
	}
	if execution.Title != nil {
		out.Title = *execution.Title
	}
	if execution.SourceJobID != nil {
		out.SourceJobID = *execution.SourceJobID
	}
	if execution.LoopReason != nil {
		out.LoopReason = *execution.LoopReason
	}
	if execution.Error != nil {
		out.Error = *execution.Error
	}
	if execution.ErrorStack != nil {
		out.ErrorStack = *execution.ErrorStack
	}

	if entries, err := execution.LogEntries(); err == nil {
		for _, entry := range entries {
			out.Logs = append(out.Logs, api.LogEntry{
				Timestamp: entry.Timestamp,
				Level:     entry.Level,
				Message:   entry.Message,
			})
		}
	}

	return out
}

func ExecutionListToApi(executions model.JobExecutionList) api.JobExecutionList {
	out := make(api.JobExecutionList, 0, len(executions))
	for _, execution := range executions {
		out = append(out, ExecutionToApi(execution))
	}
	return out
}

func DefinitionToApi(def *jobs.JobDefinition) api.JobType {
	return api.JobType{
		Name:                    def.Name,
		Description:             def.Description,
		Category:                def.Category,
		ShowInDashboard:         def.ShowInDashboard,
		ExcludeFromStats:        def.ExcludeFromStats,
		KeepCardAfterCompletion: def.KeepCardAfterCompletion,
		TriggerEvents:           def.TriggerEvents,
		Cron:                    def.Cron,
	}
}

func StatsToApi(stats model.ExecutionStats) api.ExecutionStats {
	return api.ExecutionStats(stats)
}
