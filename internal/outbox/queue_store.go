package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// queueSchemaVersion is the current persisted-queue document version. The
// legacy format was a bare JSON array of records; those documents still load
// (as version 0) but every save writes the versioned envelope.
const queueSchemaVersion = 1

type queueDocument struct {
	Version int              `json:"version"`
	Records []MutationRecord `json:"records"`
}

// QueueStore is durable ordered storage for mutation-record metadata. Save is
// always a full-snapshot overwrite; Load on a missing or unreadable store
// fails open to an empty queue so a corrupted file can never wedge startup.
type QueueStore interface {
	Load(ctx context.Context) ([]MutationRecord, error)
	Save(ctx context.Context, records []MutationRecord) error
	Close() error
}

func encodeQueueDocument(records []MutationRecord) ([]byte, error) {
	doc := queueDocument{
		Version: queueSchemaVersion,
		Records: append([]MutationRecord{}, records...),
	}
	return json.Marshal(doc)
}

func decodeQueueDocument(data []byte) ([]MutationRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []MutationRecord{}, nil
	}
	if trimmed[0] == '[' {
		// Legacy version-0 layout: bare array, no envelope.
		var legacy []MutationRecord
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return nil, err
		}
		return legacy, nil
	}
	if err := validateQueueDocument(trimmed); err != nil {
		return nil, err
	}
	var doc queueDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	if doc.Version != queueSchemaVersion {
		return nil, fmt.Errorf("unsupported queue schema version %d", doc.Version)
	}
	if doc.Records == nil {
		return []MutationRecord{}, nil
	}
	return doc.Records, nil
}

// JSONFileQueueStore persists the whole queue as one JSON document at a
// well-known path, replaced atomically via a temp file and rename.
type JSONFileQueueStore struct {
	path string
}

func NewJSONFileQueueStore(path string) (*JSONFileQueueStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &JSONFileQueueStore{path: path}, nil
}

func (s *JSONFileQueueStore) Load(ctx context.Context) ([]MutationRecord, error) {
	if s == nil {
		return []MutationRecord{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []MutationRecord{}, nil
		}
		return nil, err
	}
	records, err := decodeQueueDocument(data)
	if err != nil {
		slog.Warn("queue store corrupt, starting empty",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return []MutationRecord{}, nil
	}
	return records, nil
}

func (s *JSONFileQueueStore) Save(ctx context.Context, records []MutationRecord) error {
	if s == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeQueueDocument(records)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *JSONFileQueueStore) Close() error {
	return nil
}

// InMemoryQueueStore holds the snapshot in memory, round-tripping through
// JSON on both sides so callers never share slices with the store.
type InMemoryQueueStore struct {
	mu       sync.Mutex
	snapshot []byte
}

func NewInMemoryQueueStore() *InMemoryQueueStore {
	return &InMemoryQueueStore{}
}

func (s *InMemoryQueueStore) Load(ctx context.Context) ([]MutationRecord, error) {
	if s == nil {
		return []MutationRecord{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshot) == 0 {
		return []MutationRecord{}, nil
	}
	records, err := decodeQueueDocument(s.snapshot)
	if err != nil {
		slog.Warn("in-memory queue snapshot corrupt, starting empty",
			slog.String("error", err.Error()))
		return []MutationRecord{}, nil
	}
	return records, nil
}

func (s *InMemoryQueueStore) Save(ctx context.Context, records []MutationRecord) error {
	if s == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeQueueDocument(records)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = data
	return nil
}

func (s *InMemoryQueueStore) Close() error {
	return nil
}
