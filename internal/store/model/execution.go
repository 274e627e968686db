package model

import (
	"encoding/json"
	"time"
)

// Execution status constants
const (
	ExecutionStatusQueued    = "queued"
	ExecutionStatusActive    = "active"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusCancelled = "cancelled"
)

// LogEntry is one line of a job execution's append-only log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// JobExecution is the ledger's primary entity: one durable record per job run.
// Params, Stats and CompletionInfo are opaque JSON payloads owned by the job
// type; the ledger never inspects them. Logs is a serialized []LogEntry and
// only ever grows.
type JobExecution struct {
	ID       string  `gorm:"primaryKey"`
	Name     string  `gorm:"index;not null"`
	Title    *string `gorm:""`
	TenantID string  `gorm:"index:executions_tenant_org"`
	OrgID    string  `gorm:"index:executions_tenant_org"`

	SourceJobID   *string `gorm:"index"`
	LoopPrevented bool
	LoopReason    *string

	Params []byte `gorm:"type:jsonb"`
	Status string `gorm:"index;not null"`

	StartedAt   *time.Time
	CompletedAt *time.Time

	Error      *string
	ErrorStack *string

	Logs []byte `gorm:"type:jsonb"`
	// LogVersion guards concurrent appends to Logs; it only moves forward.
	LogVersion uint

	RetryCount     uint
	Stats          []byte `gorm:"type:jsonb"`
	CompletionInfo []byte `gorm:"type:jsonb"`

	SingletonKey *string `gorm:"index"`

	PinnedAt    *time.Time
	DismissedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type JobExecutionList []JobExecution

func (e JobExecution) String() string {
	val, _ := json.Marshal(e)
	return string(val)
}

// IsPinned reports whether the execution carries the retention-exemption marker.
func (e JobExecution) IsPinned() bool {
	return e.PinnedAt != nil
}

// IsDismissed reports whether the execution is hidden from active dashboard views.
func (e JobExecution) IsDismissed() bool {
	return e.DismissedAt != nil
}

// LogEntries decodes the serialized log sequence. An empty column decodes to nil.
func (e JobExecution) LogEntries() ([]LogEntry, error) {
	if len(e.Logs) == 0 {
		return nil, nil
	}
	var entries []LogEntry
	if err := json.Unmarshal(e.Logs, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// EncodeLogEntries serializes a log sequence for storage.
func EncodeLogEntries(entries []LogEntry) ([]byte, error) {
	return json.Marshal(entries)
}

// ExecutionStats is the aggregate view exposed by the job management surface.
type ExecutionStats struct {
	ActiveCount    int64 `json:"activeCount"`
	CompletedCount int64 `json:"completedCount"`
	FailedCount    int64 `json:"failedCount"`
	TotalRetries   int64 `json:"totalRetries"`
}
