// Package tenants defines the tenant context and its resolution machinery.
// Every data operation in the system is scoped to exactly one tenant through
// a TenantContext produced here.
package tenants

import "log/slog"

// TenantContext identifies one tenant's isolated data scope. It is derived
// per lookup and must not outlive the request or cache entry that produced
// it. The database password is sensitive and is redacted from logs.
type TenantContext struct {
	TenantID         string
	DatabaseUsername string
	DatabasePassword string
	OrganizationName string
	Enabled          bool
}

// LogValue implements slog.LogValuer so a context can be logged without
// leaking credentials.
func (t TenantContext) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("tenant_id", t.TenantID),
		slog.String("database_username", t.DatabaseUsername),
		slog.String("database_password", "[redacted]"),
		slog.Bool("enabled", t.Enabled),
	)
}
