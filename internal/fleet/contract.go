package fleet

import (
	"context"
	"fmt"

	"github.com/fleetworks/jobfleet/internal/registry"
)

// Scheduler is the lifecycle contract a tenant-org scheduler exposes to the
// fleet. Internally it claims and executes jobs against the ledger; the
// fleet only ever starts and stops it.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// SchedulerFactory builds a scheduler bound to one tenant/org pair.
type SchedulerFactory func(tenant registry.Tenant, org registry.Org) Scheduler

// PollingKey uniquely identifies one scheduler instance. At most one live
// scheduler exists per key at any time.
func PollingKey(tenantID, orgID string) string {
	return fmt.Sprintf("%s:%s", tenantID, orgID)
}
