// Package index implements an in-process nearest-neighbour index over
// unit-normalized vectors with cosine distance. Vectors are held in memory
// and persisted as a JSONL snapshot.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// SnapshotFile is the name of the snapshot inside the data directory.
const SnapshotFile = "index.jsonl"

// Compile-time interface check: Index must implement types.Index.
var _ types.Index = (*Index)(nil)

// Index is a brute-force cosine index. It is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	dims    int
	path    string
	nextID  int64
	vectors map[int64][]float32
}

type header struct {
	Dims   int   `json:"dims"`
	NextID int64 `json:"next_id"`
}

type entry struct {
	ID     int64     `json:"id"`
	Vector []float32 `json:"vector"`
}

// New returns an empty in-memory index for vectors of the given dimension.
// Save is a no-op for an index created with New.
func New(dims int) *Index {
	return &Index{
		dims:    dims,
		nextID:  1,
		vectors: make(map[int64][]float32),
	}
}

// Open loads the snapshot at path, or returns an empty index bound to path
// when no snapshot exists yet. A snapshot with a different dimension is
// rejected with ErrDimensionMismatch; re-embedding after a model change is
// an operator task.
func Open(path string, dims int) (*Index, error) {
	idx := New(dims)
	idx.path = path

	records, err := readJSONL(path)
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading index snapshot: %w", err)
	}
	if len(records) == 0 {
		return idx, nil
	}

	var h header
	if err := json.Unmarshal(records[0], &h); err != nil {
		return nil, fmt.Errorf("decoding index header: %w", err)
	}
	if h.Dims != dims {
		return nil, fmt.Errorf("%w: snapshot has %d, want %d", types.ErrDimensionMismatch, h.Dims, dims)
	}
	idx.nextID = h.NextID
	for _, rec := range records[1:] {
		var e entry
		if err := json.Unmarshal(rec, &e); err != nil || len(e.Vector) != dims {
			continue
		}
		idx.vectors[e.ID] = e.Vector
		if e.ID >= idx.nextID {
			idx.nextID = e.ID + 1
		}
	}
	return idx, nil
}

// Insert stores a unit-normalized copy of vec and returns its new ID. IDs
// are never reused.
func (x *Index) Insert(ctx context.Context, vec []float32) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(vec) != x.dims {
		return 0, fmt.Errorf("%w: got %d, want %d", types.ErrDimensionMismatch, len(vec), x.dims)
	}
	norm := Normalize(vec)

	x.mu.Lock()
	defer x.mu.Unlock()
	id := x.nextID
	x.nextID++
	x.vectors[id] = norm
	return id, nil
}

// Remove deletes a vector. Removing a missing ID is not an error.
func (x *Index) Remove(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.vectors, id)
	return nil
}

// Query returns up to k neighbours of vec ordered by ascending distance.
// Equal distances order the newer ID first.
func (x *Index) Query(ctx context.Context, vec []float32, k int, maxDistance float64) ([]types.Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vec) != x.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", types.ErrDimensionMismatch, len(vec), x.dims)
	}
	if k <= 0 {
		return nil, nil
	}
	q := Normalize(vec)

	x.mu.RLock()
	results := make([]types.Neighbor, 0, len(x.vectors))
	for id, v := range x.vectors {
		d := Distance(q, v)
		if maxDistance > 0 && d > maxDistance {
			continue
		}
		results = append(results, types.Neighbor{ID: id, Distance: d})
	}
	x.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID > results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Contains reports whether id is in the index.
func (x *Index) Contains(id int64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.vectors[id]
	return ok
}

// IDs returns every ID in the index in ascending order.
func (x *Index) IDs() []int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.sortedIDsLocked()
}

// Len returns the number of vectors in the index.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Dimensions returns the vector dimension the index accepts.
func (x *Index) Dimensions() int {
	return x.dims
}

// Save writes the snapshot atomically.
func (x *Index) Save() error {
	if x.path == "" {
		return nil
	}

	x.mu.RLock()
	records := make([]json.RawMessage, 0, len(x.vectors)+1)
	h, err := json.Marshal(header{Dims: x.dims, NextID: x.nextID})
	if err != nil {
		x.mu.RUnlock()
		return fmt.Errorf("encoding index header: %w", err)
	}
	records = append(records, h)
	for _, id := range x.sortedIDsLocked() {
		rec, err := json.Marshal(entry{ID: id, Vector: x.vectors[id]})
		if err != nil {
			x.mu.RUnlock()
			return fmt.Errorf("encoding vector %d: %w", id, err)
		}
		records = append(records, rec)
	}
	x.mu.RUnlock()

	if err := writeJSONL(x.path, records); err != nil {
		return fmt.Errorf("saving index snapshot: %w", err)
	}
	return nil
}

func (x *Index) sortedIDsLocked() []int64 {
	ids := make([]int64, 0, len(x.vectors))
	for id := range x.vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Normalize returns a unit-length copy of v. A zero vector is returned as a
// zero copy.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out
}

// Distance returns the cosine distance between two unit vectors, clamped
// to [0, 2].
func Distance(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	d := 1 - dot
	switch {
	case d < 0:
		return 0
	case d > 2:
		return 2
	}
	return d
}
