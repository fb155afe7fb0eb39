package repository

import (
	"context"
	"errors"

	"identity_backend/internal/tenants"
	"identity_backend/internal/users"
	"identity_backend/platform/config"
	"identity_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against the tenant's slice of the shared
// cluster, connected with the tenant's own credentials.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresFactory returns a Factory that opens a store using the
// credentials carried by the tenant context. The returned store owns its
// pool; callers close it when the unit of work completes.
func NewPostgresFactory(cfg config.DatabaseConfig) Factory {
	return func(ctx context.Context, tc tenants.TenantContext) (Store, error) {
		pool, err := db.NewTenantPool(ctx, cfg, tc.DatabaseUsername, tc.DatabasePassword)
		if err != nil {
			return nil, err
		}
		return &PostgresStore{pool: pool}, nil
	}
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (users.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, tenant_id, is_email_confirmed, authorized_projects, created_at, updated_at
		FROM users WHERE lower(email) = lower($1)
	`, email))
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (users.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, tenant_id, is_email_confirmed, authorized_projects, created_at, updated_at
		FROM users WHERE id = $1
	`, id))
}

func (s *PostgresStore) Create(ctx context.Context, user users.User, passwordHash string) (users.User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, first_name, last_name, tenant_id, is_email_confirmed, authorized_projects, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, email, first_name, last_name, tenant_id, is_email_confirmed, authorized_projects, created_at, updated_at
	`, user.ID, user.Email, user.FirstName, user.LastName, user.TenantID, user.EmailConfirmed, user.AuthorizedProjects, passwordHash)

	created, err := s.scanUser(row)
	if isUniqueViolation(err) {
		return users.User{}, ErrDuplicateEmail
	}
	return created, err
}

func (s *PostgresStore) Update(ctx context.Context, user users.User) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET first_name = $2, last_name = $3, is_email_confirmed = $4, authorized_projects = $5, updated_at = now()
		WHERE id = $1
	`, user.ID, user.FirstName, user.LastName, user.EmailConfirmed, user.AuthorizedProjects)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddRole commits a single membership row. Idempotent so compensation can
// re-add a role without tracking whether the original add survived.
func (s *PostgresStore) AddRole(ctx context.Context, userID uuid.UUID, role users.Role) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO NOTHING
	`, userID, role.String())
	return err
}

// RemoveRole commits a single membership deletion. Removing an absent role
// is not an error, for the same compensation reason as AddRole.
func (s *PostgresStore) RemoveRole(ctx context.Context, userID uuid.UUID, role users.Role) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM user_roles WHERE user_id = $1 AND role = $2
	`, userID, role.String())
	return err
}

func (s *PostgresStore) ListRoles(ctx context.Context, userID uuid.UUID) ([]users.Role, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []users.Role
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		role, err := users.ParseRole(name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) scanUser(row pgx.Row) (users.User, error) {
	var user users.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.TenantID,
		&user.EmailConfirmed,
		&user.AuthorizedProjects,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return users.User{}, ErrNotFound
	}
	if err != nil {
		return users.User{}, err
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

var _ Store = (*PostgresStore)(nil)
