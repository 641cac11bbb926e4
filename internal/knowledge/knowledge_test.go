package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yuvabe/care-companion/internal/log"
	"github.com/yuvabe/care-companion/internal/vecindex"
)

// mockIndexer implements Indexer for tests.
type mockIndexer struct {
	upserted   []vecindex.Entry
	upsertErr  error
	queried    []float32
	queryOut   []vecindex.Match
	deletedIDs []string
	deletedN   int64
	countN     int64
	namespace  string
}

func (m *mockIndexer) Upsert(_ context.Context, namespace string, entries []vecindex.Entry) error {
	m.namespace = namespace
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserted = append(m.upserted, entries...)
	return nil
}

func (m *mockIndexer) Query(_ context.Context, namespace string, vector []float32, _ int) ([]vecindex.Match, error) {
	m.namespace = namespace
	m.queried = vector
	return m.queryOut, nil
}

func (m *mockIndexer) Delete(_ context.Context, namespace string, ids []string) (int64, error) {
	m.namespace = namespace
	m.deletedIDs = ids
	return m.deletedN, nil
}

func (m *mockIndexer) Count(_ context.Context, namespace string) (int64, error) {
	m.namespace = namespace
	return m.countN, nil
}

// stubEmbedder returns a fixed vector or an error.
type stubEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

func newTestService(index *mockIndexer, embedder *stubEmbedder) *Service {
	return NewService(index, embedder, log.NewNop(), "health-care-dataset")
}

func TestDeriveID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		position int
		want     string
	}{
		{"short input", "back pain", 0, "back pain:0"},
		{"position varies", "back pain", 7, "back pain:7"},
		{
			"long input truncated to 50 runes",
			strings.Repeat("a", 80),
			2,
			strings.Repeat("a", 50) + ":2",
		},
		{
			"multibyte runes counted as runes",
			strings.Repeat("休", 60),
			1,
			strings.Repeat("休", 50) + ":1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveID(tt.input, tt.position); got != tt.want {
				t.Errorf("deriveID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUpsert(t *testing.T) {
	index := &mockIndexer{}
	embedder := &stubEmbedder{vector: []float32{0.1, 0.2}}
	svc := newTestService(index, embedder)

	records := []Record{
		{Input: "what helps back pain", Output: "stretching", Instruction: "answer briefly"},
		{Input: "what helps headaches", Output: "hydration"},
	}
	n, err := svc.Upsert(context.Background(), records)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Upsert() = %d, want 2", n)
	}
	if embedder.calls != 2 {
		t.Errorf("embedder called %d times, want 2", embedder.calls)
	}
	if index.namespace != "health-care-dataset" {
		t.Errorf("namespace = %q", index.namespace)
	}
	if index.upserted[0].ID != "what helps back pain:0" {
		t.Errorf("entry ID = %q", index.upserted[0].ID)
	}
	if index.upserted[1].ID != "what helps headaches:1" {
		t.Errorf("entry ID = %q", index.upserted[1].ID)
	}
	if index.upserted[0].Question != "what helps back pain" || index.upserted[0].Answer != "stretching" {
		t.Errorf("entry fields = %+v", index.upserted[0])
	}
}

func TestUpsertValidation(t *testing.T) {
	svc := newTestService(&mockIndexer{}, &stubEmbedder{vector: []float32{1}})
	ctx := context.Background()

	if _, err := svc.Upsert(ctx, nil); !errors.Is(err, ErrNoRecords) {
		t.Errorf("Upsert(nil) = %v, want ErrNoRecords", err)
	}
	if _, err := svc.Upsert(ctx, []Record{{Output: "x"}}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Upsert() with empty input = %v, want ErrEmptyInput", err)
	}
}

func TestUpsertEmbedFailureWritesNothing(t *testing.T) {
	index := &mockIndexer{}
	embedder := &stubEmbedder{err: errors.New("endpoint down")}
	svc := newTestService(index, embedder)

	if _, err := svc.Upsert(context.Background(), []Record{{Input: "q"}}); err == nil {
		t.Fatal("Upsert() should fail when embedding fails")
	}
	if len(index.upserted) != 0 {
		t.Error("nothing may reach the index when embedding fails")
	}
}

func TestSearch(t *testing.T) {
	index := &mockIndexer{queryOut: []vecindex.Match{{ID: "a", Score: 0.9}}}
	embedder := &stubEmbedder{vector: []float32{0.5, 0.5}}
	svc := newTestService(index, embedder)

	matches, err := svc.Search(context.Background(), "back pain", 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "a" {
		t.Errorf("Search() = %+v", matches)
	}
	if index.queried == nil {
		t.Error("query vector not passed to index")
	}
}

func TestDelete(t *testing.T) {
	index := &mockIndexer{deletedN: 2}
	svc := newTestService(index, &stubEmbedder{})

	n, err := svc.Delete(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Delete() = %d, want 2", n)
	}
	if len(index.deletedIDs) != 2 {
		t.Errorf("deleted IDs = %v", index.deletedIDs)
	}
}
