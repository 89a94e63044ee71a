package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LeventeLantos/contact-relay/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS contact_messages (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	email       TEXT NOT NULL,
	message     TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type PostgresMessageRepo struct {
	pool *pgxpool.Pool
}

var (
	_ MessageRepository = (*PostgresMessageRepo)(nil)
	_ Pinger            = (*PostgresMessageRepo)(nil)
)

// NewPool connects and verifies the connection with a ping. maxConns <= 0
// keeps the pgxpool default.
func NewPool(ctx context.Context, connString string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	// Idle connections are kept around for the prober to exercise.
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func NewPostgresMessageRepo(pool *pgxpool.Pool) *PostgresMessageRepo {
	return &PostgresMessageRepo{pool: pool}
}

func (r *PostgresMessageRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

func (r *PostgresMessageRepo) Insert(ctx context.Context, entry model.QueueEntry) (model.PersistedMessage, error) {
	m := model.PersistedMessage{
		Name:      entry.Name,
		Email:     entry.Email,
		Message:   entry.Message,
		CreatedAt: entry.CreatedAt,
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO contact_messages (name, email, message, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, inserted_at
	`, entry.Name, entry.Email, entry.Message, entry.CreatedAt).Scan(&m.ID, &m.InsertedAt)
	if err != nil {
		return model.PersistedMessage{}, err
	}
	return m, nil
}

func (r *PostgresMessageRepo) ListRecent(ctx context.Context, limit, offset int) ([]model.PersistedMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email, message, created_at, inserted_at
		FROM contact_messages
		ORDER BY inserted_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PersistedMessage
	for rows.Next() {
		var m model.PersistedMessage
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.Message, &m.CreatedAt, &m.InsertedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresMessageRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM contact_messages`).Scan(&n)
	return n, err
}

// Ping runs a trivial round trip through the pool, which also counts as
// activity for idle-connection reaping.
func (r *PostgresMessageRepo) Ping(ctx context.Context) error {
	var one int
	return r.pool.QueryRow(ctx, `SELECT 1`).Scan(&one)
}

func (r *PostgresMessageRepo) ServerInfo(ctx context.Context) (ServerInfo, error) {
	var info ServerInfo
	err := r.pool.QueryRow(ctx, `SELECT now(), version()`).Scan(&info.Now, &info.Version)
	return info, err
}
