package users

import (
	"time"

	"github.com/google/uuid"
)

// User is a tenant-scoped account. A user belongs to exactly one tenant for
// its lifetime and holds exactly one role at any committed instant; role
// membership is stored separately because add and remove are independent
// commits at the storage layer.
type User struct {
	ID             uuid.UUID
	Email          string
	FirstName      string
	LastName       string
	TenantID       string
	EmailConfirmed bool
	// AuthorizedProjects only constrains non-apex, non-owner roles; owners
	// and the primary owner implicitly see every project.
	AuthorizedProjects []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
