package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// Client enumerates tenants and orgs. GetTenant/GetOrg return
// (nil, nil) when the record does not exist; every other failure is an
// error.
type Client interface {
	ListTenants(ctx context.Context) ([]TenantSummary, error)
	ListOrgs(ctx context.Context, tenantID string) ([]OrgSummary, error)
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	GetOrg(ctx context.Context, id string) (*Org, error)
}

type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// Make sure we conform to Client interface
var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) ListTenants(ctx context.Context) ([]TenantSummary, error) {
	var tenants []TenantSummary
	if err := c.get(ctx, "/api/v1/tenants", &tenants); err != nil {
		return nil, &RequestError{Op: "list tenants", Err: err}
	}
	return tenants, nil
}

func (c *HTTPClient) ListOrgs(ctx context.Context, tenantID string) ([]OrgSummary, error) {
	var orgs []OrgSummary
	path := fmt.Sprintf("/api/v1/tenants/%s/orgs", url.PathEscape(tenantID))
	if err := c.get(ctx, path, &orgs); err != nil {
		return nil, &RequestError{Op: fmt.Sprintf("list orgs of tenant %s", tenantID), Err: err}
	}
	return orgs, nil
}

func (c *HTTPClient) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	var tenant Tenant
	found, err := c.getOptional(ctx, fmt.Sprintf("/api/v1/tenants/%s", url.PathEscape(id)), &tenant)
	if err != nil {
		return nil, &RequestError{Op: fmt.Sprintf("get tenant %s", id), Err: err}
	}
	if !found {
		return nil, nil
	}
	return &tenant, nil
}

func (c *HTTPClient) GetOrg(ctx context.Context, id string) (*Org, error) {
	var org Org
	found, err := c.getOptional(ctx, fmt.Sprintf("/api/v1/orgs/%s", url.PathEscape(id)), &org)
	if err != nil {
		return nil, &RequestError{Op: fmt.Sprintf("get org %s", id), Err: err}
	}
	if !found {
		return nil, nil
	}
	return &org, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	found, err := c.getOptional(ctx, path, out)
	if err != nil {
		return err
	}
	if !found {
		return errors.Errorf("unexpected status 404 for %s", path)
	}
	return nil
}

func (c *HTTPClient) getOptional(ctx context.Context, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, errors.Errorf("unexpected status %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, errors.Wrap(err, "decoding registry response")
	}
	return true, nil
}
