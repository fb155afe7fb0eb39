// Package registry provides the client for the tenant registry service,
// the authority for tenant database credentials and enablement.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"identity_backend/platform/config"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// ErrTenantNotFound is returned when the registry does not know the tenant.
var ErrTenantNotFound = errors.New("tenant not found")

// Tenant is the registry's view of a tenant. DatabasePassword is the only
// secret; the database username is the tenant id by convention.
type Tenant struct {
	TenantID         string `json:"tenantId"`
	DatabasePassword string `json:"databasePassword"`
	OrganizationName string `json:"organizationName"`
	Enabled          bool   `json:"enabled"`
}

// Client looks up tenants by id or domain.
type Client interface {
	LookupByID(ctx context.Context, tenantID string) (Tenant, error)
	LookupByDomain(ctx context.Context, domain string) (Tenant, error)
}

// HTTPClient is the production registry client. Calls are rate limited,
// authenticated with a short-lived service token, and retried with
// exponential backoff on transient failures.
type HTTPClient struct {
	baseURL       string
	signingSecret []byte
	httpClient    *http.Client
	limiter       *rate.Limiter
}

// NewHTTPClient creates a registry client from configuration.
func NewHTTPClient(cfg config.RegistryConfig) *HTTPClient {
	rps := cfg.GetRegistryRequestsPerSecond()
	if rps <= 0 {
		rps = 50
	}
	return &HTTPClient{
		baseURL:       cfg.GetRegistryBaseURL(),
		signingSecret: []byte(cfg.GetRegistrySigningSecret()),
		httpClient:    &http.Client{Timeout: cfg.GetRegistryTimeout()},
		limiter:       rate.NewLimiter(rate.Limit(rps), int(rps)),
	}
}

// LookupByID fetches a tenant by its stable identifier.
func (c *HTTPClient) LookupByID(ctx context.Context, tenantID string) (Tenant, error) {
	return c.lookup(ctx, "/tenants/"+url.PathEscape(tenantID))
}

// LookupByDomain fetches a tenant by its domain.
func (c *HTTPClient) LookupByDomain(ctx context.Context, domain string) (Tenant, error) {
	return c.lookup(ctx, "/tenants/domain/"+url.PathEscape(domain))
}

func (c *HTTPClient) lookup(ctx context.Context, path string) (Tenant, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Tenant{}, err
	}

	operation := func() (Tenant, error) {
		tenant, err := c.doLookup(ctx, path)
		if err != nil {
			// Not-found is authoritative; retrying will not change it.
			if errors.Is(err, ErrTenantNotFound) {
				return Tenant{}, backoff.Permanent(err)
			}
			return Tenant{}, err
		}
		return tenant, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4),
	)
}

func (c *HTTPClient) doLookup(ctx context.Context, path string) (Tenant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return Tenant{}, err
	}

	token, err := c.serviceToken()
	if err != nil {
		return Tenant{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Tenant{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var tenant Tenant
		if err := json.NewDecoder(resp.Body).Decode(&tenant); err != nil {
			return Tenant{}, fmt.Errorf("decoding registry response: %w", err)
		}
		if tenant.TenantID == "" {
			return Tenant{}, fmt.Errorf("registry returned tenant without id")
		}
		return tenant, nil
	case resp.StatusCode == http.StatusNotFound:
		return Tenant{}, ErrTenantNotFound
	default:
		// Drain the body so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Tenant{}, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}
}

// serviceToken mints a short-lived HS256 token for machine-to-machine
// authentication against the registry.
func (c *HTTPClient) serviceToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    "identity-backend",
		Audience:  jwt.ClaimStrings{"tenant-registry"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(2 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingSecret)
}

var _ Client = (*HTTPClient)(nil)
