package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore is a Store backed by Postgres with the pgvector
// extension. Rows are keyed by the record's document ID; similarity
// search uses cosine distance (the <=> operator).
type PostgresStore struct {
	pool  *pgxpool.Pool
	embed Embedder
}

// NewPostgresStore connects to connString, ensures the schema exists for
// vectors of the given dimension, and returns the store.
func NewPostgresStore(ctx context.Context, connString string, embed Embedder, dims int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{pool: pool, embed: embed}
	if err := s.initSchema(ctx, dims); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) initSchema(ctx context.Context, dims int) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("creating vector extension: %w", err)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS clip_analyses (
			id SERIAL PRIMARY KEY,
			doc_id TEXT NOT NULL UNIQUE,
			clip_path TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			clip_index INTEGER NOT NULL,
			analysis TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dims)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating clip_analyses table: %w", err)
	}

	_, err := s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_clip_analyses_embedding
		ON clip_analyses USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`)
	if err != nil {
		return fmt.Errorf("creating embedding index: %w", err)
	}
	return nil
}

// Store implements Store.Store.
func (s *PostgresStore) Store(ctx context.Context, rec Record) (string, error) {
	if rec.Analysis == "" {
		return "", ErrEmptyAnalysis
	}

	vec, err := s.embed.Embed(ctx, rec.Analysis)
	if err != nil {
		return "", fmt.Errorf("embedding analysis: %w", err)
	}

	id := rec.ID()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO clip_analyses (doc_id, clip_path, start_time, end_time, clip_index, analysis, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (doc_id) DO NOTHING`,
		id, rec.ClipPath, rec.StartTime, rec.EndTime, rec.ClipIndex, rec.Analysis, pgvector.NewVector(vec))
	if err != nil {
		return "", fmt.Errorf("inserting analysis: %w", err)
	}
	return id, nil
}

// Search implements Store.Search.
func (s *PostgresStore) Search(ctx context.Context, query string, topK int, minRelevance float64) ([]Evidence, error) {
	if query == "" || topK <= 0 {
		return nil, nil
	}

	count, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	queryVec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT doc_id, clip_path, start_time, end_time, analysis,
		       1 - (embedding <=> $1) / 2 AS similarity
		FROM clip_analyses
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(queryVec), topK)
	if err != nil {
		return nil, fmt.Errorf("searching analyses: %w", err)
	}
	defer rows.Close()

	var hits []Evidence
	for rows.Next() {
		var ev Evidence
		if err := rows.Scan(&ev.ID, &ev.ClipPath, &ev.StartTime, &ev.EndTime, &ev.Analysis, &ev.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if ev.Similarity < minRelevance {
			continue
		}
		hits = append(hits, ev)
	}
	return hits, rows.Err()
}

// GetAll implements Store.GetAll.
func (s *PostgresStore) GetAll(ctx context.Context) ([]StoredRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doc_id, clip_path, start_time, end_time, clip_index, analysis
		FROM clip_analyses
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}
	defer rows.Close()

	var out []StoredRecord
	for rows.Next() {
		var sr StoredRecord
		if err := rows.Scan(&sr.ID, &sr.ClipPath, &sr.StartTime, &sr.EndTime, &sr.ClipIndex, &sr.Analysis); err != nil {
			return nil, fmt.Errorf("scanning analysis row: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// Delete implements Store.Delete.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM clip_analyses WHERE doc_id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear implements Store.Clear.
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM clip_analyses"); err != nil {
		return fmt.Errorf("clearing analyses: %w", err)
	}
	return nil
}

// Count implements Store.Count.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM clip_analyses").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting analyses: %w", err)
	}
	return n, nil
}
