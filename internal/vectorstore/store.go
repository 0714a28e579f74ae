package vectorstore

import (
	"math"
	"sort"
	"sync"
)

// Match is a scored chunk. Score is (cos+1)/2, in [0, 1].
type Match struct {
	ChunkID string
	Score   float64
}

// Store is an exact (brute force) cosine index keyed by chunk ID
type Store struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// New creates an empty store
func New() *Store {
	return &Store{vectors: make(map[string][]float32)}
}

// Upsert stores a private copy of vector under chunkID
func (s *Store) Upsert(chunkID string, vector []float32) {
	stored := make([]float32, len(vector))
	copy(stored, vector)

	s.mu.Lock()
	s.vectors[chunkID] = stored
	s.mu.Unlock()
}

// Delete removes chunkID if present
func (s *Store) Delete(chunkID string) {
	s.mu.Lock()
	delete(s.vectors, chunkID)
	s.mu.Unlock()
}

// Len returns the number of stored vectors
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Nearest returns up to k matches ordered by score descending, then chunk ID.
// Vectors whose dimension differs from the query are skipped. k <= 0 returns all.
func (s *Store) Nearest(query []float32, k int) []Match {
	s.mu.RLock()
	matches := make([]Match, 0, len(s.vectors))
	for id, vec := range s.vectors {
		if len(vec) != len(query) {
			continue
		}
		matches = append(matches, Match{
			ChunkID: id,
			Score:   (CosineSimilarity(query, vec) + 1) / 2,
		})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})

	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched lengths and zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	cos := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rounding can push identical vectors slightly past 1
	return math.Max(-1, math.Min(1, cos))
}
