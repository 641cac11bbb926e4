package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yuvabe/care-companion/internal/log"
)

const (
	// keyPrefix is the folder within the bucket that holds transcripts.
	keyPrefix = "chat-history/"

	// placeholderObject is the zero-byte object some object stores create
	// to materialize an empty folder. It is never a conversation.
	placeholderObject = ".emptyFolderPlaceholder"
)

// ObjectStore is the narrow object-store contract the history store needs.
// Implementations must return ErrObjectNotFound for missing keys.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Store reads and appends conversation transcripts.
//
// Appends for the same conversation are serialized in-process through a
// per-conversation mutex, so concurrent requests cannot interleave a
// read-modify-write and lose turns. Appends for different conversations
// proceed in parallel.
type Store struct {
	objects  ObjectStore
	logger   log.Logger
	language string
	model    string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a history store on top of an object store.
// language and model are recorded as object metadata on every write.
func NewStore(objects ObjectStore, logger log.Logger, language, model string) *Store {
	return &Store{
		objects:  objects,
		logger:   logger,
		language: language,
		model:    model,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding writes for one conversation.
func (s *Store) lockFor(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[conversationID] = l
	}
	return l
}

func objectKey(conversationID string) string {
	return keyPrefix + conversationID + ".json"
}

// Append loads the current transcript, appends the given messages, and writes
// the whole transcript back. A conversation that does not exist yet starts
// from an empty transcript; its metadata is set once at creation and kept
// on every later append, so the timestamp records when the conversation
// began.
func (s *Store) Append(ctx context.Context, conversationID string, messages []Message) error {
	if conversationID == "" {
		return ErrEmptyConversationID
	}
	if len(messages) == 0 {
		return nil
	}
	for _, m := range messages {
		if err := m.Validate(); err != nil {
			return err
		}
	}

	l := s.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()

	record, err := s.load(ctx, conversationID)
	switch {
	case errors.Is(err, ErrNotFound):
		record = History{
			ConversationID: conversationID,
			Metadata: Metadata{
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Language:  s.language,
				Model:     s.model,
			},
		}
	case err != nil:
		return err
	}

	record.Messages = append(record.Messages, messages...)
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}

	metadata := map[string]string{
		"timestamp": record.Metadata.Timestamp,
		"language":  record.Metadata.Language,
		"model":     record.Metadata.Model,
	}
	if err := s.objects.Put(ctx, objectKey(conversationID), data, metadata); err != nil {
		return fmt.Errorf("storing transcript: %w", err)
	}

	s.logger.Debug("transcript appended",
		"conversation_id", conversationID,
		"appended", len(messages),
		"total", len(record.Messages))
	return nil
}

// Retrieve returns the full transcript for a conversation, or ErrNotFound.
func (s *Store) Retrieve(ctx context.Context, conversationID string) ([]Message, error) {
	record, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return record.Messages, nil
}

// load fetches and decodes the stored envelope.
func (s *Store) load(ctx context.Context, conversationID string) (History, error) {
	if conversationID == "" {
		return History{}, ErrEmptyConversationID
	}

	data, err := s.objects.Get(ctx, objectKey(conversationID))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return History{}, ErrNotFound
		}
		return History{}, fmt.Errorf("loading transcript: %w", err)
	}

	var record History
	if err := json.Unmarshal(data, &record); err != nil {
		return History{}, fmt.Errorf("decoding transcript %q: %w", conversationID, err)
	}
	return record, nil
}

// ListConversationIDs lists every stored conversation ID. Folder placeholder
// objects are excluded.
func (s *Store) ListConversationIDs(ctx context.Context) ([]string, error) {
	keys, err := s.objects.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing transcripts: %w", err)
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		name := strings.TrimPrefix(key, keyPrefix)
		if name == "" || name == placeholderObject {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
