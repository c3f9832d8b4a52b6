package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/config"
)

// Mapping links a social account to a ledger identity within a pool.
type Mapping struct {
	Pool      string    `db:"pool"`
	Account   string    `db:"account"`
	Identity  int       `db:"identity"`
	Tag       string    `db:"tag"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Store reads and writes account-to-identity mappings.
type Store interface {
	// Mappings returns account→identity for the pool, accounts lowercased.
	Mappings(ctx context.Context, pool string) (map[string]int, error)
	// Upsert inserts or updates a mapping keyed by (pool, account).
	Upsert(ctx context.Context, m Mapping) error
	// List returns the pool's mappings ordered by account.
	List(ctx context.Context, pool string) ([]Mapping, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS identity_mappings (
	id         SERIAL PRIMARY KEY,
	pool       TEXT NOT NULL,
	account    TEXT NOT NULL,
	identity   INTEGER NOT NULL,
	tag        TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (pool, account)
)`

type pgStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStore creates a PostgreSQL-backed mapping store.
func NewStore(db *sqlx.DB, timeout time.Duration) Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &pgStore{db: db, timeout: timeout}
}

// Connect opens the identity database and ensures the schema exists.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to identity db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure identity schema: %w", err)
	}
	log.Info().Msg("identity db ready")
	return db, nil
}

func (s *pgStore) Mappings(ctx context.Context, pool string) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT account, identity
		FROM identity_mappings
		WHERE pool = $1`

	rows, err := s.db.QueryxContext(ctx, query, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to query identity mappings: %w", err)
	}
	defer rows.Close()

	mappings := make(map[string]int)
	for rows.Next() {
		var account string
		var identity int
		if err := rows.Scan(&account, &identity); err != nil {
			return nil, fmt.Errorf("failed to scan identity mapping: %w", err)
		}
		mappings[strings.ToLower(account)] = identity
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating identity mappings: %w", err)
	}
	return mappings, nil
}

func (s *pgStore) Upsert(ctx context.Context, m Mapping) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if strings.TrimSpace(m.Account) == "" {
		return fmt.Errorf("mapping missing account")
	}

	query := `
		INSERT INTO identity_mappings (pool, account, identity, tag, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (pool, account)
		DO UPDATE SET identity = EXCLUDED.identity, tag = EXCLUDED.tag, updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query, m.Pool, strings.ToLower(m.Account), m.Identity, m.Tag)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return fmt.Errorf("failed to upsert mapping (%s): %w", pqErr.Code.Name(), err)
		}
		return fmt.Errorf("failed to upsert mapping: %w", err)
	}
	return nil
}

func (s *pgStore) List(ctx context.Context, pool string) ([]Mapping, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT pool, account, identity, tag, updated_at
		FROM identity_mappings
		WHERE pool = $1
		ORDER BY account`

	var mappings []Mapping
	if err := s.db.SelectContext(ctx, &mappings, query, pool); err != nil {
		return nil, fmt.Errorf("failed to list identity mappings: %w", err)
	}
	return mappings, nil
}
