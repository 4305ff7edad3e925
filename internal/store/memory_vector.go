package store

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryVector is an in-process VectorStore, used by tests and by local
// development when neither Qdrant nor Postgres is configured. Adapted from
// the teacher's internal/persistence/databases/memory_vector.go.
type MemoryVector struct {
	mu      sync.RWMutex
	vectors map[string]memVec
}

type memVec struct {
	v        []float32
	metadata map[string]string
}

func NewMemoryVector() *MemoryVector {
	return &MemoryVector{vectors: make(map[string]memVec)}
}

func (m *MemoryVector) Upsert(_ context.Context, id string, vector []float32, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]float32, len(vector))
	copy(cp, vector)
	m.vectors[id] = memVec{v: cp, metadata: copyMetadata(metadata)}
	return nil
}

func (m *MemoryVector) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vectors, id)
	return nil
}

func (m *MemoryVector) SimilaritySearch(_ context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	qnorm := vecNorm(vector)
	scores := make([]VectorResult, 0, len(m.vectors))
	for id, v := range m.vectors {
		if !matchesFilter(v.metadata, filter) {
			continue
		}
		scores = append(scores, VectorResult{ID: id, Score: cosine(vector, v.v, qnorm), Metadata: copyMetadata(v.metadata)})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if len(scores) > k {
		scores = scores[:k]
	}
	return scores, nil
}

// Healthy always succeeds: the in-memory backend has no external
// dependency to fail against.
func (m *MemoryVector) Healthy(context.Context) error { return nil }

func matchesFilter(md, f map[string]string) bool {
	if len(f) == 0 {
		return true
	}
	for k, v := range f {
		if md[k] != v {
			return false
		}
	}
	return true
}

func vecNorm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = vecNorm(a)
	}
	bnorm := vecNorm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	return dot(a, b) / (anorm * bnorm)
}
