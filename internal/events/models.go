package events

// Job lifecycle event kinds emitted on the event stream.
const (
	JobStartedKind      string = "job:started"
	JobCompletedKind    string = "job:completed"
	JobFailedKind       string = "job:failed"
	JobCancelledKind    string = "job:cancelled"
	JobStatsUpdatedKind string = "job:stats-updated"
)

// JobEvent is the payload carried by every job lifecycle event.
type JobEvent struct {
	JobID           string `json:"jobId"`
	Name            string `json:"name"`
	Title           string `json:"title,omitempty"`
	TenantID        string `json:"tenantId,omitempty"`
	OrgID           string `json:"orgId,omitempty"`
	Status          string `json:"status,omitempty"`
	Error           string `json:"error,omitempty"`
	ShowInDashboard bool   `json:"showInDashboard"`
}
