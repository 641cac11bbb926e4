// Package vecindex stores and searches embedded knowledge entries in
// PostgreSQL with pgvector.
//
// The ANN index over the embedding column is provisioned at runtime rather
// than in migrations, so the package models an explicit lifecycle: the index
// is Absent until provisioning starts, Provisioning while PostgreSQL builds
// it concurrently, and Ready once it is valid. Queries against a non-Ready
// index still work (sequential scan), but EnsureReady lets callers block
// until search is fast, with a bounded wait.
package vecindex

import (
	"errors"
	"fmt"
)

// State describes the lifecycle phase of the search index.
type State string

const (
	// StateAbsent means the index does not exist yet.
	StateAbsent State = "absent"

	// StateProvisioning means the index exists and a build is running.
	StateProvisioning State = "provisioning"

	// StateInvalid means a previous build crashed and left an index that
	// will never become valid on its own. It must be dropped and rebuilt.
	StateInvalid State = "invalid"

	// StateReady means the index is valid and serving searches.
	StateReady State = "ready"
)

// Entry is one knowledge record to be stored in the index.
type Entry struct {
	ID          string
	Question    string
	Answer      string
	Instruction string
	Embedding   []float32
}

// Match is a search hit. Score is a cosine similarity in [0,1] where higher
// is more similar.
type Match struct {
	ID          string
	Question    string
	Answer      string
	Instruction string
	Score       float64
}

var (
	// ErrIndexUnavailable indicates the index did not become ready within
	// the allowed wait.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrEmptyNamespace indicates a blank namespace.
	ErrEmptyNamespace = errors.New("empty namespace")

	// ErrNoEntries indicates an upsert with nothing to store.
	ErrNoEntries = errors.New("no entries")

	// ErrInvalidVector indicates a query or entry vector of the wrong
	// dimension.
	ErrInvalidVector = errors.New("invalid vector")

	// ErrInvalidTopK indicates a non-positive result limit.
	ErrInvalidTopK = errors.New("invalid top-k")
)

// BatchError reports a failed upsert batch. Entries in earlier batches are
// already stored; the caller can retry from FirstIndex.
type BatchError struct {
	// Batch is the zero-based index of the failed batch.
	Batch int
	// FirstIndex is the position of the batch's first entry in the
	// original upsert slice.
	FirstIndex int
	// Size is the number of entries in the failed batch.
	Size int
	Err  error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("upsert batch %d (entries %d-%d) failed: %v",
		e.Batch, e.FirstIndex, e.FirstIndex+e.Size-1, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
