package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyAnalysis is returned when storing a record whose analysis
	// text is empty.
	ErrEmptyAnalysis = errors.New("analysis text cannot be empty")

	// ErrNotFound is returned when deleting a record that does not exist.
	ErrNotFound = errors.New("record not found")
)

// DefaultMinRelevance is the similarity threshold below which search
// results are excluded.
const DefaultMinRelevance = 0.5

// Record is one clip's analysis as produced by the pipeline worker.
// Records are append-only: they are never updated in place, only
// deleted individually or in bulk.
type Record struct {
	ClipPath  string    `json:"clip_path"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Analysis  string    `json:"analysis"`
	ClipIndex int       `json:"clip_index"`
}

// ID returns the record's document key: "{clipPath}_{startTime}".
func (r Record) ID() string {
	return fmt.Sprintf("%s_%s", r.ClipPath, r.StartTime.Format(time.RFC3339))
}

// StoredRecord is a Record together with its document key.
type StoredRecord struct {
	ID string `json:"id"`
	Record
}

// Evidence is one search hit: a stored record plus its similarity to
// the query. Transient; produced per query and never persisted.
type Evidence struct {
	ID         string    `json:"id"`
	ClipPath   string    `json:"clip_path"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Analysis   string    `json:"analysis"`
	Similarity float64   `json:"similarity"`
}

// Store persists clip analyses and answers top-k similarity queries.
// Similarity is normalized to [0,1] (1 = identical) regardless of the
// backing metric; implementations map cosine distance d in [0,2] via
// similarity = 1 - d/2.
type Store interface {
	// Store persists a record and returns its document ID. Records with
	// empty analysis text are rejected with ErrEmptyAnalysis.
	Store(ctx context.Context, rec Record) (string, error)

	// Search returns up to min(topK, Count()) hits ranked by similarity,
	// excluding any hit below minRelevance. An empty query or an empty
	// store yields an empty result, not an error.
	Search(ctx context.Context, query string, topK int, minRelevance float64) ([]Evidence, error)

	// GetAll returns every stored record.
	GetAll(ctx context.Context) ([]StoredRecord, error)

	// Delete removes one record by document ID.
	Delete(ctx context.Context, id string) error

	// Clear removes all records.
	Clear(ctx context.Context) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}
