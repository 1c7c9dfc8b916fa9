package data

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const appointmentsSchema = `
CREATE TABLE IF NOT EXISTS appointments (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	client_id    TEXT NOT NULL DEFAULT '',
	client_name  TEXT NOT NULL DEFAULT '',
	pet_id       TEXT NOT NULL DEFAULT '',
	pet_name     TEXT NOT NULL DEFAULT '',
	service_type TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'scheduled',
	starts_at    TIMESTAMPTZ NOT NULL,
	ends_at      TIMESTAMPTZ NOT NULL,
	notes        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS appointments_tenant_start_idx ON appointments (tenant_id, starts_at);
`

const snapshotSQL = `
SELECT id, tenant_id, client_id, client_name, pet_id, pet_name,
       service_type, status, starts_at, ends_at, notes
FROM appointments
WHERE tenant_id = $1 AND starts_at >= $2 AND starts_at < $3
ORDER BY starts_at, id`

// NewPool creates a pgxpool connection pool and verifies it with a ping.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return pool, nil
}

// PostgresStore reads snapshots from the appointments table.
type PostgresStore struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

func NewPostgresStore(pool *pgxpool.Pool, loc *time.Location) *PostgresStore {
	return &PostgresStore{pool: pool, loc: loc}
}

// EnsureSchema creates the appointments table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, appointmentsSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Upsert writes an appointment, replacing any row with the same ID.
func (s *PostgresStore) Upsert(ctx context.Context, a Appointment) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO appointments (id, tenant_id, client_id, client_name, pet_id, pet_name,
                          service_type, status, starts_at, ends_at, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
	tenant_id = EXCLUDED.tenant_id, client_id = EXCLUDED.client_id,
	client_name = EXCLUDED.client_name, pet_id = EXCLUDED.pet_id,
	pet_name = EXCLUDED.pet_name, service_type = EXCLUDED.service_type,
	status = EXCLUDED.status, starts_at = EXCLUDED.starts_at,
	ends_at = EXCLUDED.ends_at, notes = EXCLUDED.notes`,
		a.ID, a.TenantID, a.ClientID, a.ClientName, a.PetID, a.PetName,
		a.ServiceType, a.Status, a.StartsAt, a.EndsAt, a.Notes)
	if err != nil {
		return fmt.Errorf("upsert appointment %s: %w", a.ID, err)
	}
	return nil
}

func (s *PostgresStore) Snapshot(ctx context.Context, tenantID, date string) (*Snapshot, error) {
	start, end, err := DayBounds(date, s.loc)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, snapshotSQL, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	out := make([]Appointment, 0)
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.TenantID, &a.ClientID, &a.ClientName, &a.PetID, &a.PetName,
			&a.ServiceType, &a.Status, &a.StartsAt, &a.EndsAt, &a.Notes); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointments: %w", err)
	}

	return &Snapshot{TenantID: tenantID, Date: date, Appointments: out}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ SnapshotSource = (*PostgresStore)(nil)
