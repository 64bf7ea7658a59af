// Package store wraps the Postgres-backed relational schema: rave_articles
// and digests. It generalizes the teacher's internal/repository/postgres.go
// — same pgxpool construction, env-driven pool tuning, and transaction
// wrapping shape — to RaveDigest's two tables and its insert-if-absent /
// monotonic-enrichment-upsert semantics instead of blockchain indexing
// writes.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateURL is returned by InsertArticleIfAbsent when another row
// already owns the URL (a race-loser skip, per the spec's duplicate-key
// handling).
var ErrDuplicateURL = errors.New("store: duplicate url")

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("store: not found")

const uniqueViolation = "23505"

// Store wraps a pooled Postgres connection.
type Store struct {
	pool *pgxpool.Pool
}

// Config tunes the connection pool, matching the spec's "pool bounded (size
// 10 + overflow 20), pool_pre_ping on, recycle 3600s" resource model.
type Config struct {
	URL             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// New connects to Postgres and configures pool limits.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: parse url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies connectivity, used by the health checker.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate executes a schema file verbatim, mirroring the teacher's
// Repository.Migrate.
func (s *Store) Migrate(ctx context.Context, schema string) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// withTx acquires a connection, runs fn inside a transaction, and commits or
// rolls back on all exit paths — the scoped-session pattern the spec
// requires for every handler that touches the store.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// InsertArticleIfAbsent inserts a new article row. If the URL already
// exists, it returns ErrDuplicateURL instead of failing the caller with a
// raw constraint violation, matching the "insert-if-absent" operation §9
// asks for in place of exception-for-control-flow.
func (s *Store) InsertArticleIfAbsent(ctx context.Context, a Article) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO rave_articles (id, title, url, summary, categories, published_at, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, a.ID, a.Title, a.URL, a.Summary, a.Categories, a.PublishedAt, a.Source)
		if isUniqueViolation(err) {
			return ErrDuplicateURL
		}
		return err
	})
}

// UpsertEnrichment sets the Analyzer's enrichment fields for an article,
// inserting the full record if it is somehow missing (redelivery racing
// ahead of the Collector's own insert is not expected, but the upsert is
// total regardless). Enrichment fields are monotonic: this always writes
// non-null values, never clears an existing one to null.
func (s *Store) UpsertEnrichment(ctx context.Context, id, title, url, source string, llmSummary string, relevance float64, developerFocus bool) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO rave_articles (id, title, url, source, summary, relevance_score, developer_focus)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				summary = EXCLUDED.summary,
				relevance_score = EXCLUDED.relevance_score,
				developer_focus = EXCLUDED.developer_focus
		`, id, title, url, source, llmSummary, relevance, developerFocus)
		return err
	})
}

// TopDeveloperFocusedArticles returns developer-focused articles ordered by
// relevance descending, capped at limit — the Composer's ranking query. It
// reads current table rows, one per article id, so an article whose
// enriched_articles message was delivered twice is still ranked once.
func (s *Store) TopDeveloperFocusedArticles(ctx context.Context, limit int) ([]Article, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, url, summary, categories, published_at, source,
		       relevance_score, developer_focus, inserted_at
		FROM rave_articles
		WHERE developer_focus = true
		ORDER BY relevance_score DESC NULLS LAST
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query top articles: %w", err)
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		var a Article
		var relevance *float64
		if err := rows.Scan(&a.ID, &a.Title, &a.URL, &a.Summary, &a.Categories,
			&a.PublishedAt, &a.Source, &relevance, &a.DeveloperFocus, &a.InsertedAt); err != nil {
			return nil, fmt.Errorf("store: scan article: %w", err)
		}
		a.RelevanceScore = relevance
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// InsertDigest creates a new digest row.
func (s *Store) InsertDigest(ctx context.Context, d Digest) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO digests (id, title, url, summary, source)
			VALUES ($1, $2, $3, $4, $5)
		`, d.ID, d.Title, d.URL, d.Summary, d.Source)
		return err
	})
}

// GetDigestByID loads a digest row, used by the Publisher before it posts to
// the knowledge base.
func (s *Store) GetDigestByID(ctx context.Context, id string) (*Digest, error) {
	var d Digest
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, url, summary, source, inserted_at
		FROM digests WHERE id = $1
	`, id).Scan(&d.ID, &d.Title, &d.URL, &d.Summary, &d.Source, &d.InsertedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get digest: %w", err)
	}
	return &d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
