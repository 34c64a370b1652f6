package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/osval-do/USOP/internal/domain"
	"github.com/osval-do/USOP/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ServiceRepository    = (*Repository)(nil)
	_ repository.TransitionRepository = (*Repository)(nil)
)

const serviceColumns = `s.id, s.ext_id, s.pid, s.name, s.status, s.blocked,
	r.id, r.name, r.namespace, COALESCE(r.disabled, FALSE),
	o.id, o.name, o.namespace,
	s.template_id, s.template_name, s.chart, s.chart_version,
	s.settings, s.created_at, s.updated_at`

const serviceFrom = `FROM services s
	LEFT JOIN regions r ON r.id = s.region_id
	LEFT JOIN orgs o ON o.id = s.org_id`

// CreateService inserts a service, creating its region and org by name when missing.
// An existing region or org keeps its namespace; supplying a different one is a conflict,
// since services already deployed there would be orphaned in the old namespace.
func (r *Repository) CreateService(ctx context.Context, svc *domain.Service) error {
	settings, err := encodeSettings(svc.Settings)
	if err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var regionID, orgID *string
	if svc.Region != nil && strings.TrimSpace(svc.Region.Name) != "" {
		const ensureRegion = `INSERT INTO regions (id, name, namespace, disabled)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id, namespace`
		id := svc.Region.ID
		if id == "" {
			id = uuid.NewString()
		}
		var stored *string
		if err := tx.QueryRow(ctx, ensureRegion, id, svc.Region.Name, emptyToNil(svc.Region.Namespace), svc.Region.Disabled).Scan(&id, &stored); err != nil {
			return mapError(err)
		}
		namespace, err := keepNamespace("region", svc.Region.Name, svc.Region.Namespace, stored)
		if err != nil {
			return err
		}
		svc.Region.ID = id
		svc.Region.Namespace = namespace
		regionID = &id
	}
	if svc.Org != nil && strings.TrimSpace(svc.Org.Name) != "" {
		const ensureOrg = `INSERT INTO orgs (id, name, namespace)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id, namespace`
		id := svc.Org.ID
		if id == "" {
			id = uuid.NewString()
		}
		var stored *string
		if err := tx.QueryRow(ctx, ensureOrg, id, svc.Org.Name, emptyToNil(svc.Org.Namespace)).Scan(&id, &stored); err != nil {
			return mapError(err)
		}
		namespace, err := keepNamespace("org", svc.Org.Name, svc.Org.Namespace, stored)
		if err != nil {
			return err
		}
		svc.Org.ID = id
		svc.Org.Namespace = namespace
		orgID = &id
	}

	const insert = `INSERT INTO services (id, ext_id, pid, name, status, blocked, region_id, org_id,
			template_id, template_name, chart, chart_version, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING created_at, updated_at`
	row := tx.QueryRow(ctx, insert,
		svc.ID,
		svc.ExtID,
		svc.PID,
		svc.Name,
		string(svc.Status),
		svc.Blocked,
		regionID,
		orgID,
		emptyToNil(svc.Template.ID),
		svc.Template.Name,
		svc.Template.Chart,
		emptyToNil(svc.Template.Version),
		settings,
	)
	if err := row.Scan(&svc.CreatedAt, &svc.UpdatedAt); err != nil {
		return mapError(err)
	}

	return tx.Commit(ctx)
}

// GetService fetches a service by storage id.
func (r *Repository) GetService(ctx context.Context, id string) (*domain.Service, error) {
	query := `SELECT ` + serviceColumns + ` ` + serviceFrom + ` WHERE s.id = $1`
	return scanService(r.pool.QueryRow(ctx, query, id))
}

// GetServiceByExtID fetches a service by the id external callers address it with.
func (r *Repository) GetServiceByExtID(ctx context.Context, extID string) (*domain.Service, error) {
	query := `SELECT ` + serviceColumns + ` ` + serviceFrom + ` WHERE s.ext_id = $1`
	return scanService(r.pool.QueryRow(ctx, query, extID))
}

// ListServices returns services ordered by name.
func (r *Repository) ListServices(ctx context.Context, limit int) ([]domain.Service, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + serviceColumns + ` ` + serviceFrom + ` ORDER BY s.name LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []domain.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, *svc)
	}
	return services, rows.Err()
}

// SaveService commits the mutable fields of a service.
func (r *Repository) SaveService(ctx context.Context, svc *domain.Service) error {
	settings, err := encodeSettings(svc.Settings)
	if err != nil {
		return err
	}
	const query = `UPDATE services
		SET status = $2, blocked = $3, settings = $4, chart_version = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	row := r.pool.QueryRow(ctx, query, svc.ID, string(svc.Status), svc.Blocked, settings, emptyToNil(svc.Template.Version))
	if err := row.Scan(&svc.UpdatedAt); err != nil {
		return mapError(err)
	}
	return nil
}

// AppendTransition records a committed lifecycle transition.
func (r *Repository) AppendTransition(ctx context.Context, record *domain.TransitionRecord) error {
	const query = `INSERT INTO service_transitions (service_id, transition, source, target, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at`
	row := r.pool.QueryRow(ctx, query, record.ServiceID, record.Transition, string(record.Source), string(record.Target))
	if err := row.Scan(&record.ID, &record.CreatedAt); err != nil {
		return mapError(err)
	}
	return nil
}

// ListTransitions returns the newest transitions of a service first.
func (r *Repository) ListTransitions(ctx context.Context, serviceID string, limit int) ([]domain.TransitionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, service_id, transition, source, target, created_at
		FROM service_transitions
		WHERE service_id = $1
		ORDER BY id DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, serviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.TransitionRecord
	for rows.Next() {
		var rec domain.TransitionRecord
		var source, target string
		if err := rows.Scan(&rec.ID, &rec.ServiceID, &rec.Transition, &source, &target, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Source = domain.ServiceStatus(source)
		rec.Target = domain.ServiceStatus(target)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanService(row pgx.Row) (*domain.Service, error) {
	var (
		svc                            domain.Service
		status                         string
		regionID, regionName, regionNS sql.NullString
		regionDisabled                 bool
		orgID, orgName, orgNS          sql.NullString
		templateID, chartVersion       sql.NullString
		settings                       []byte
	)
	err := row.Scan(
		&svc.ID, &svc.ExtID, &svc.PID, &svc.Name, &status, &svc.Blocked,
		&regionID, &regionName, &regionNS, &regionDisabled,
		&orgID, &orgName, &orgNS,
		&templateID, &svc.Template.Name, &svc.Template.Chart, &chartVersion,
		&settings, &svc.CreatedAt, &svc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	svc.Status = domain.ServiceStatus(status)
	if regionID.Valid {
		svc.Region = &domain.Region{ID: regionID.String, Name: regionName.String, Namespace: regionNS.String, Disabled: regionDisabled}
	}
	if orgID.Valid {
		svc.Org = &domain.Org{ID: orgID.String, Name: orgName.String, Namespace: orgNS.String}
	}
	svc.Template.ID = templateID.String
	svc.Template.Version = chartVersion.String
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &svc.Settings); err != nil {
			return nil, fmt.Errorf("decode settings for %s: %w", svc.ExtID, err)
		}
	}
	return &svc, nil
}

func encodeSettings(settings map[string]any) ([]byte, error) {
	if settings == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return raw, nil
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23505":
			return repository.ErrConflict
		case "23514", "22P02":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

func emptyToNil(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// keepNamespace returns the namespace stored for an existing region or org. A supplied
// namespace must match it.
func keepNamespace(kind, name, supplied string, stored *string) (string, error) {
	current := ""
	if stored != nil {
		current = *stored
	}
	supplied = strings.TrimSpace(supplied)
	if supplied != "" && supplied != current {
		return "", fmt.Errorf("%w: %s %s already uses namespace %q", repository.ErrConflict, kind, name, current)
	}
	return current, nil
}
