package v1alpha1

import (
	"encoding/json"
	"time"
)

// JobType is the management-surface view of a registered job definition.
type JobType struct {
	Name                    string   `json:"name"`
	Description             string   `json:"description,omitempty"`
	Category                string   `json:"category,omitempty"`
	ShowInDashboard         bool     `json:"showInDashboard"`
	ExcludeFromStats        bool     `json:"excludeFromStats"`
	KeepCardAfterCompletion bool     `json:"keepCardAfterCompletion"`
	TriggerEvents           []string `json:"triggerEvents,omitempty"`
	Cron                    string   `json:"cron,omitempty"`
}

// LogEntry is one line of an execution's log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// JobExecution is the management-surface view of one ledger record.
type JobExecution struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Title          string          `json:"title,omitempty"`
	TenantID       string          `json:"tenantId,omitempty"`
	OrgID          string          `json:"orgId,omitempty"`
	SourceJobID    string          `json:"sourceJobId,omitempty"`
	LoopPrevented  bool            `json:"loopPrevented,omitempty"`
	LoopReason     string          `json:"loopReason,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Status         string          `json:"status"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	Error          string          `json:"error,omitempty"`
	ErrorStack     string          `json:"errorStack,omitempty"`
	Logs           []LogEntry      `json:"logs,omitempty"`
	RetryCount     uint            `json:"retryCount"`
	Stats          json.RawMessage `json:"stats,omitempty"`
	CompletionInfo json.RawMessage `json:"completionInfo,omitempty"`
	IsPinned       bool            `json:"isPinned"`
	IsDismissed    bool            `json:"isDismissed"`
	PinnedAt       *time.Time      `json:"pinnedAt,omitempty"`
	DismissedAt    *time.Time      `json:"dismissedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type JobExecutionList []JobExecution

// QueueJobRequest queues one job execution.
type QueueJobRequest struct {
	Name     string          `json:"name"`
	Title    string          `json:"title,omitempty"`
	TenantID string          `json:"tenantId"`
	OrgID    string          `json:"orgId"`
	Params   json.RawMessage `json:"params,omitempty"`
	Options  QueueJobOptions `json:"options,omitempty"`
}

type QueueJobOptions struct {
	Cron         string `json:"cron,omitempty"`
	SingletonKey string `json:"singletonKey,omitempty"`
}

// ActionRequest carries the acting user for pin/unpin/dismiss/retry.
type ActionRequest struct {
	UserID string `json:"userId,omitempty"`
}

// ExecutionStats is the aggregate stats view.
type ExecutionStats struct {
	ActiveCount    int64 `json:"activeCount"`
	CompletedCount int64 `json:"completedCount"`
	FailedCount    int64 `json:"failedCount"`
	TotalRetries   int64 `json:"totalRetries"`
}

// Error is the generic error body.
type Error struct {
	Message string `json:"message"`
}
