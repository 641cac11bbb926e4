package vecindex

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/yuvabe/care-companion/internal/log"
)

// upsertBatchSize caps how many entries go into one write round trip.
const upsertBatchSize = 500

// readinessPollInterval is how often EnsureReady re-checks the index state.
const readinessPollInterval = time.Second

// Catalog is the storage contract the index depends on. Interfaces are
// defined by the consumer, so tests can substitute an in-memory catalog.
type Catalog interface {
	UpsertBatch(ctx context.Context, namespace string, entries []Entry) error
	Search(ctx context.Context, namespace string, vector []float32, limit int) ([]Match, error)
	DeleteByIDs(ctx context.Context, namespace string, ids []string) (int64, error)
	Count(ctx context.Context, namespace string) (int64, error)
	IndexState(ctx context.Context) (State, error)
	CreateIndex(ctx context.Context) error
	DropIndex(ctx context.Context) error
}

// Index exposes the vector search operations over a Catalog.
type Index struct {
	catalog   Catalog
	logger    log.Logger
	dimension int
}

// New creates an Index. dimension is enforced on every vector that enters
// the store.
func New(catalog Catalog, logger log.Logger, dimension int) *Index {
	return &Index{catalog: catalog, logger: logger, dimension: dimension}
}

// EnsureReady drives the index to the Ready state, waiting at most timeout.
//
// If the index is absent, the build is started; a crashed earlier build
// (invalid index, no build in flight) is dropped and rebuilt. While the
// index is provisioning, the state is polled once per second. When the wait
// budget runs out before the index is valid, EnsureReady returns
// ErrIndexUnavailable rather than blocking forever. The build keeps running
// server-side, so a later call can find it Ready.
func (x *Index) EnsureReady(ctx context.Context, timeout time.Duration) error {
	state, err := x.catalog.IndexState(ctx)
	if err != nil {
		return err
	}
	if state == StateReady {
		return nil
	}

	if state == StateAbsent || state == StateInvalid {
		x.logger.Info("provisioning search index", "state", state)
		go func() {
			// The build outlives the readiness wait on purpose.
			buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Minute)
			defer cancel()
			if state == StateInvalid {
				if err := x.catalog.DropIndex(buildCtx); err != nil {
					x.logger.Error("dropping invalid index failed", "error", err)
					return
				}
			}
			if err := x.catalog.CreateIndex(buildCtx); err != nil {
				x.logger.Error("index build failed", "error", err)
			}
		}()
	}

	attempts := uint(timeout / readinessPollInterval)
	if attempts == 0 {
		attempts = 1
	}

	err = retry.Do(
		func() error {
			state, err := x.catalog.IndexState(ctx)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if state != StateReady {
				return fmt.Errorf("index state %s", state)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(readinessPollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: not ready after %s", ErrIndexUnavailable, timeout)
	}

	x.logger.Info("search index ready")
	return nil
}

// State reports the current lifecycle phase of the index.
func (x *Index) State(ctx context.Context) (State, error) {
	return x.catalog.IndexState(ctx)
}

// Upsert stores entries in batches. Batches commit independently: on
// failure, earlier batches stay stored and the returned BatchError names
// the first entry of the failed batch so the caller can resume there.
func (x *Index) Upsert(ctx context.Context, namespace string, entries []Entry) error {
	if namespace == "" {
		return ErrEmptyNamespace
	}
	if len(entries) == 0 {
		return ErrNoEntries
	}
	for i, e := range entries {
		if len(e.Embedding) != x.dimension {
			return fmt.Errorf("%w: entry %d has dimension %d, want %d",
				ErrInvalidVector, i, len(e.Embedding), x.dimension)
		}
	}

	for batch := 0; batch*upsertBatchSize < len(entries); batch++ {
		start := batch * upsertBatchSize
		end := min(start+upsertBatchSize, len(entries))

		if err := x.catalog.UpsertBatch(ctx, namespace, entries[start:end]); err != nil {
			return &BatchError{
				Batch:      batch,
				FirstIndex: start,
				Size:       end - start,
				Err:        err,
			}
		}
		x.logger.Debug("upserted batch",
			"namespace", namespace, "batch", batch, "entries", end-start)
	}
	return nil
}

// Query returns the topK most similar entries, best first. Ordering is
// deterministic: similarity descending, then ID ascending.
func (x *Index) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	if namespace == "" {
		return nil, ErrEmptyNamespace
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTopK, topK)
	}
	if len(vector) != x.dimension {
		return nil, fmt.Errorf("%w: dimension %d, want %d",
			ErrInvalidVector, len(vector), x.dimension)
	}
	return x.catalog.Search(ctx, namespace, vector, topK)
}

// Delete removes entries by ID. Deleting IDs that do not exist is not an
// error; the call reports how many rows actually went away.
func (x *Index) Delete(ctx context.Context, namespace string, ids []string) (int64, error) {
	if namespace == "" {
		return 0, ErrEmptyNamespace
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return x.catalog.DeleteByIDs(ctx, namespace, ids)
}

// Count returns how many entries a namespace holds.
func (x *Index) Count(ctx context.Context, namespace string) (int64, error) {
	if namespace == "" {
		return 0, ErrEmptyNamespace
	}
	return x.catalog.Count(ctx, namespace)
}
