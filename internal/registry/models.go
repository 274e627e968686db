package registry

const StatusActive = "active"

// TenantSummary is the read-only tenant listing entry returned by the
// registry service.
type TenantSummary struct {
	ID     string `json:"id"`
	Slug   string `json:"slug"`
	Status string `json:"status"`
}

// OrgSummary is the read-only org listing entry returned by the registry
// service.
type OrgSummary struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Slug     string `json:"slug"`
	Status   string `json:"status"`
}

// Tenant is the full tenant detail record.
type Tenant struct {
	ID       string            `json:"id"`
	Slug     string            `json:"slug"`
	Name     string            `json:"name"`
	Status   string            `json:"status"`
	Settings map[string]string `json:"settings,omitempty"`
}

// Org is the full org detail record.
type Org struct {
	ID       string            `json:"id"`
	TenantID string            `json:"tenantId"`
	Slug     string            `json:"slug"`
	Name     string            `json:"name"`
	Status   string            `json:"status"`
	Settings map[string]string `json:"settings,omitempty"`
}

func (t TenantSummary) IsActive() bool {
	return t.Status == StatusActive
}

func (o OrgSummary) IsActive() bool {
	return o.Status == StatusActive
}
