package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// InMemoryStore is an in-memory Store implementation. Embeddings are
// computed through the given Embedder and compared with cosine
// similarity. Useful as the default backend when no database is
// configured, and in tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	embed   Embedder
	entries []memoryEntry
}

type memoryEntry struct {
	id     string
	rec    Record
	vector []float32
}

// NewInMemoryStore returns an empty in-memory store backed by embed.
func NewInMemoryStore(embed Embedder) *InMemoryStore {
	return &InMemoryStore{embed: embed}
}

// Store implements Store.Store.
func (s *InMemoryStore) Store(ctx context.Context, rec Record) (string, error) {
	if rec.Analysis == "" {
		return "", ErrEmptyAnalysis
	}

	vec, err := s.embed.Embed(ctx, rec.Analysis)
	if err != nil {
		return "", fmt.Errorf("embedding analysis: %w", err)
	}

	id := rec.ID()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, memoryEntry{id: id, rec: rec, vector: vec})
	return id, nil
}

// Search implements Store.Search.
func (s *InMemoryStore) Search(ctx context.Context, query string, topK int, minRelevance float64) ([]Evidence, error) {
	if query == "" || topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	count := len(s.entries)
	s.mu.RUnlock()
	if count == 0 {
		return nil, nil
	}

	queryVec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]Evidence, 0, len(s.entries))
	for _, e := range s.entries {
		sim := cosineRelevance(queryVec, e.vector)
		if sim < minRelevance {
			continue
		}
		hits = append(hits, Evidence{
			ID:         e.id,
			ClipPath:   e.rec.ClipPath,
			StartTime:  e.rec.StartTime,
			EndTime:    e.rec.EndTime,
			Analysis:   e.rec.Analysis,
			Similarity: sim,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })

	if topK > count {
		topK = count
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// GetAll implements Store.GetAll.
func (s *InMemoryStore) GetAll(ctx context.Context) ([]StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]StoredRecord, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, StoredRecord{ID: e.id, Record: e.rec})
	}
	return out, nil
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Clear implements Store.Clear.
func (s *InMemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}

// Count implements Store.Count.
func (s *InMemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// cosineRelevance maps the cosine of the angle between a and b into the
// store's [0,1] relevance scale: relevance = 1 - cosineDistance/2, with
// cosineDistance = 1 - cos. Mismatched or zero vectors score 0.
func cosineRelevance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (1 + cos) / 2
}
