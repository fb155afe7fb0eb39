// Package resolver produces TenantContexts from tenant identifiers or
// domains, caching credentials so the registry is not consulted on every
// operation.
package resolver

import (
	"context"
	"errors"

	"identity_backend/internal/tenants"
	"identity_backend/internal/tenants/registry"
	"identity_backend/platform/apperr"
	"identity_backend/platform/config"
	"identity_backend/platform/logger"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Resolver wraps the tenant registry with a credential cache. Concurrent
// cache misses for the same tenant collapse to a single registry call.
//
// The cache holds only the database password; the username equals the tenant
// id in this system, so a cache hit reconstructs the full credential pair
// without touching the registry. Tenant domains are the tenant id in this
// deployment, which lets domain lookups share the same cache entries.
type Resolver struct {
	registry registry.Client
	cache    *credentialCache
	group    singleflight.Group
	log      *logger.Logger
}

// New creates a resolver backed by the given registry client and redis
// credential cache.
func New(registryClient registry.Client, redisClient *goredis.Client, cfg config.ResolverConfig, log *logger.Logger) *Resolver {
	return &Resolver{
		registry: registryClient,
		cache:    newCredentialCache(redisClient, cfg.GetCredentialCacheTTL()),
		log:      log,
	}
}

// ResolveByID resolves a tenant context from the tenant's stable identifier.
func (r *Resolver) ResolveByID(ctx context.Context, tenantID string) (tenants.TenantContext, error) {
	return r.resolve(ctx, tenantID, func(ctx context.Context) (registry.Tenant, error) {
		return r.registry.LookupByID(ctx, tenantID)
	})
}

// ResolveByDomain resolves a tenant context from the tenant's domain. The
// returned credentials are byte-identical to those from ResolveByID for the
// same tenant.
func (r *Resolver) ResolveByDomain(ctx context.Context, domain string) (tenants.TenantContext, error) {
	return r.resolve(ctx, domain, func(ctx context.Context) (registry.Tenant, error) {
		return r.registry.LookupByDomain(ctx, domain)
	})
}

// Invalidate evicts the cached credential for a tenant. Wired to password
// rotation events so rotated credentials do not linger until TTL expiry.
func (r *Resolver) Invalidate(ctx context.Context, tenantID string) error {
	return r.cache.Delete(ctx, tenantID)
}

func (r *Resolver) resolve(ctx context.Context, key string, lookup func(context.Context) (registry.Tenant, error)) (tenants.TenantContext, error) {
	if password, err := r.cache.Get(ctx, key); err == nil {
		return contextFromCache(key, password), nil
	} else if !errors.Is(err, errCacheMiss) {
		// A broken cache degrades to registry lookups; it must not take
		// tenant resolution down with it.
		r.log.Warn("credential cache read failed", "tenant_id", key, "error", err)
	}

	result, err, _ := r.group.Do(key, func() (any, error) {
		// Another flight may have populated the cache while we waited.
		if password, err := r.cache.Get(ctx, key); err == nil {
			return contextFromCache(key, password), nil
		}

		tenant, err := lookup(ctx)
		if err != nil {
			r.log.RegistryError(key, err)
			if errors.Is(err, registry.ErrTenantNotFound) {
				return nil, apperr.Wrap(apperr.KindTenantResolution, "tenant not found", err)
			}
			return nil, apperr.Wrap(apperr.KindTenantResolution, "tenant registry lookup failed", err)
		}

		if !tenant.Enabled {
			// Disabled tenants are never cached and never yield a usable
			// context; callers must not open a data connection.
			return nil, apperr.TenantDisabled("tenant is disabled")
		}

		if err := r.cache.Set(ctx, tenant.TenantID, tenant.DatabasePassword); err != nil {
			r.log.Warn("credential cache write failed", "tenant_id", tenant.TenantID, "error", err)
		}

		return tenants.TenantContext{
			TenantID:         tenant.TenantID,
			DatabaseUsername: tenant.TenantID,
			DatabasePassword: tenant.DatabasePassword,
			OrganizationName: tenant.OrganizationName,
			Enabled:          true,
		}, nil
	})
	if err != nil {
		return tenants.TenantContext{}, err
	}

	return result.(tenants.TenantContext), nil
}

// contextFromCache rebuilds a tenant context from a cached password. The
// username is the tenant id by convention, and only enabled tenants are ever
// cached. The organization name is display-only and not worth a registry
// round trip.
func contextFromCache(tenantID, password string) tenants.TenantContext {
	return tenants.TenantContext{
		TenantID:         tenantID,
		DatabaseUsername: tenantID,
		DatabasePassword: password,
		Enabled:          true,
	}
}
