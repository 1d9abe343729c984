package types

import "context"

// Neighbor is one nearest-neighbour query result.
type Neighbor struct {
	ID       int64
	Distance float64
}

// Index is a nearest-neighbour index over fixed-dimension vectors. Distances
// are cosine distances in [0, 2]. Implementations tolerate concurrent inserts
// and queries.
type Index interface {
	// Insert adds a vector and returns its index ID.
	Insert(ctx context.Context, vec []float32) (int64, error)

	// Remove deletes a vector. Removing a missing ID is not an error.
	Remove(ctx context.Context, id int64) error

	// Query returns up to k neighbours ordered by ascending distance.
	// Neighbours farther than maxDistance are omitted; maxDistance <= 0
	// means no cap.
	Query(ctx context.Context, vec []float32, k int, maxDistance float64) ([]Neighbor, error)

	// Save persists the index so it survives a restart.
	Save() error

	// Len returns the number of vectors in the index.
	Len() int
}

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
