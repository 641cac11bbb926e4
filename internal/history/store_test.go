package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/yuvabe/care-companion/internal/log"
)

// memObjectStore is an in-memory ObjectStore for tests.
type memObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	getErr  error
	putErr  error
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{
		objects: make(map[string][]byte),
		meta:    make(map[string]map[string]string),
	}
}

func (m *memObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *memObjectStore) Put(_ context.Context, key string, data []byte, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = cp
	m.meta[key] = metadata
	return nil
}

func (m *memObjectStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func newTestStore(objects ObjectStore) *Store {
	return NewStore(objects, log.NewNop(), "en", "llama-3.3-70b-versatile")
}

func TestAppendAndRetrieve(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjectStore()
	store := newTestStore(objects)

	turns := []Message{
		{Role: RoleUser, Content: "What helps with back pain?"},
		{Role: RoleAssistant, Content: "Gentle stretching and good posture help."},
	}
	if err := store.Append(ctx, "conv-1", turns); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := store.Retrieve(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Retrieve() returned %d messages, want 2", len(got))
	}
	if got[0] != turns[0] || got[1] != turns[1] {
		t.Errorf("Retrieve() = %+v, want %+v", got, turns)
	}

	// A second append extends, not replaces.
	more := []Message{{Role: RoleUser, Content: "And for neck pain?"}}
	if err := store.Append(ctx, "conv-1", more); err != nil {
		t.Fatalf("second Append() error = %v", err)
	}
	got, err = store.Retrieve(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Retrieve() after second append error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Retrieve() returned %d messages, want 3", len(got))
	}
	if got[2].Content != "And for neck pain?" {
		t.Errorf("last message = %q, want appended turn", got[2].Content)
	}
}

func TestAppendWritesMetadata(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjectStore()
	store := newTestStore(objects)

	if err := store.Append(ctx, "conv-meta", []Message{{Role: RoleUser, Content: "hi"}}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	meta := objects.meta["chat-history/conv-meta.json"]
	if meta == nil {
		t.Fatal("no metadata recorded")
	}
	if meta["language"] != "en" {
		t.Errorf("language metadata = %q, want en", meta["language"])
	}
	if meta["model"] != "llama-3.3-70b-versatile" {
		t.Errorf("model metadata = %q", meta["model"])
	}
	if meta["timestamp"] == "" {
		t.Error("timestamp metadata missing")
	}

	// The stored object is a self-describing envelope.
	var record History
	if err := json.Unmarshal(objects.objects["chat-history/conv-meta.json"], &record); err != nil {
		t.Fatalf("decoding stored object: %v", err)
	}
	if record.ConversationID != "conv-meta" {
		t.Errorf("stored conversation_id = %q", record.ConversationID)
	}
	if record.Metadata.Language != "en" || record.Metadata.Model == "" {
		t.Errorf("stored metadata = %+v", record.Metadata)
	}
}

func TestAppendPreservesCreationMetadata(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjectStore()
	store := newTestStore(objects)

	seeded := History{
		ConversationID: "conv-old",
		Messages:       []Message{{Role: RoleUser, Content: "hello"}},
		Metadata: Metadata{
			Timestamp: "2024-01-01T00:00:00Z",
			Language:  "en",
			Model:     "llama-3.3-70b-versatile",
		},
	}
	data, err := json.Marshal(seeded)
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}
	objects.objects["chat-history/conv-old.json"] = data

	if err := store.Append(ctx, "conv-old", []Message{{Role: RoleAssistant, Content: "hi there"}}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	var record History
	if err := json.Unmarshal(objects.objects["chat-history/conv-old.json"], &record); err != nil {
		t.Fatalf("decoding stored object: %v", err)
	}
	if record.Metadata.Timestamp != "2024-01-01T00:00:00Z" {
		t.Errorf("timestamp = %q, appends must keep the creation time", record.Metadata.Timestamp)
	}
	if len(record.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(record.Messages))
	}
}

func TestAppendValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newMemObjectStore())

	if err := store.Append(ctx, "", []Message{{Role: RoleUser, Content: "x"}}); !errors.Is(err, ErrEmptyConversationID) {
		t.Errorf("Append() with empty ID = %v, want ErrEmptyConversationID", err)
	}
	if err := store.Append(ctx, "c", []Message{{Role: "robot", Content: "x"}}); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("Append() with bad role = %v, want ErrInvalidRole", err)
	}
	if err := store.Append(ctx, "c", []Message{{Role: RoleUser}}); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("Append() with empty content = %v, want ErrEmptyContent", err)
	}
	// Appending nothing is a no-op, not an error.
	if err := store.Append(ctx, "c", nil); err != nil {
		t.Errorf("Append() with no messages = %v, want nil", err)
	}
}

func TestRetrieveNotFound(t *testing.T) {
	store := newTestStore(newMemObjectStore())
	if _, err := store.Retrieve(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Retrieve() = %v, want ErrNotFound", err)
	}
}

func TestListConversationIDs(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjectStore()
	objects.objects["chat-history/alpha.json"] = []byte("{}")
	objects.objects["chat-history/beta.json"] = []byte("{}")
	objects.objects["chat-history/.emptyFolderPlaceholder"] = []byte("")
	store := newTestStore(objects)

	ids, err := store.ListConversationIDs(ctx)
	if err != nil {
		t.Fatalf("ListConversationIDs() error = %v", err)
	}
	want := []string{"alpha", "beta"}
	if len(ids) != len(want) {
		t.Fatalf("ListConversationIDs() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestConcurrentAppendsSameConversation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newMemObjectStore())

	const writers = 20
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := Message{Role: RoleUser, Content: fmt.Sprintf("turn %d", i)}
			if err := store.Append(ctx, "shared", []Message{msg}); err != nil {
				t.Errorf("Append() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := store.Retrieve(ctx, "shared")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	// Serialized read-modify-write must not lose any turn.
	if len(got) != writers {
		t.Errorf("transcript has %d turns, want %d", len(got), writers)
	}
}

func TestAppendPutFailure(t *testing.T) {
	objects := newMemObjectStore()
	objects.putErr = errors.New("store unavailable")
	store := newTestStore(objects)

	err := store.Append(context.Background(), "c", []Message{{Role: RoleUser, Content: "x"}})
	if err == nil {
		t.Fatal("Append() should surface store failures")
	}
}
