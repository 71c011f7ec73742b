package outbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// canonicalPayloadPrefix is re-attached on every Get so consumers always see
// the same encoding regardless of how the bytes were stored.
const canonicalPayloadPrefix = "data:image/jpeg;base64,"

var dataURIPrefixPattern = regexp.MustCompile(`^data:[^,]*;base64,`)

// PayloadStore is durable key-to-binary storage for attachment data, kept
// separate from the record metadata. On tiers without binary storage the
// implementation is free to return the (normalized) payload itself from Put,
// in which case the record carries the bytes inline and no token indirection
// happens; the orchestrator treats both shapes transparently.
type PayloadStore interface {
	Put(ctx context.Context, id, encoded string) (string, error)
	Get(ctx context.Context, ref string) (string, error)
	Delete(ctx context.Context, ref string) error
	Close() error
}

// NormalizePayload strips any data-URI prefix and surrounding whitespace,
// decoupling the stored format from whatever the capture plugin produced.
func NormalizePayload(encoded string) string {
	stripped := dataURIPrefixPattern.ReplaceAllString(strings.TrimSpace(encoded), "")
	return strings.TrimSpace(stripped)
}

func payloadTokenID(ref string) (string, bool) {
	if !strings.HasPrefix(ref, PayloadTokenPrefix) {
		return "", false
	}
	id := strings.TrimSpace(strings.TrimPrefix(ref, PayloadTokenPrefix))
	if id == "" {
		return "", false
	}
	return id, true
}

// FilePayloadStore keeps one file per payload under a single directory,
// addressed by the owning record's id. Writes go through a temp file and
// rename so a crashed Put never leaves a partial payload behind.
type FilePayloadStore struct {
	dir string
}

func NewFilePayloadStore(dir string) (*FilePayloadStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidInput
	}
	return &FilePayloadStore{dir: dir}, nil
}

// Dir returns the directory payload files live in.
func (s *FilePayloadStore) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

func (s *FilePayloadStore) Put(ctx context.Context, id, encoded string) (string, error) {
	if s == nil {
		return "", ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id = strings.TrimSpace(id)
	if id == "" || filepath.Base(id) != id {
		return "", fmt.Errorf("%w: bad payload id %q", ErrInvalidInput, id)
	}
	normalized := NormalizePayload(encoded)
	if normalized == "" {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	path := s.payloadPath(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(normalized), 0o644); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return PayloadTokenPrefix + id, nil
}

func (s *FilePayloadStore) Get(ctx context.Context, ref string) (string, error) {
	if s == nil {
		return "", ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, ok := payloadTokenID(ref)
	if !ok {
		return "", fmt.Errorf("%w: bad payload reference %q", ErrInvalidInput, ref)
	}
	data, err := os.ReadFile(s.payloadPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("payload %s: %w", id, ErrNotFound)
		}
		return "", err
	}
	return canonicalPayloadPrefix + NormalizePayload(string(data)), nil
}

func (s *FilePayloadStore) Delete(ctx context.Context, ref string) error {
	if s == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	id, ok := payloadTokenID(ref)
	if !ok {
		return nil
	}
	err := os.Remove(s.payloadPath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FilePayloadStore) Close() error {
	return nil
}

func (s *FilePayloadStore) payloadPath(id string) string {
	return filepath.Join(s.dir, id+".b64")
}

// InlinePayloadStore is the tier for platforms without separate binary
// storage: Put and Get are identity functions over the normalized payload, so
// records carry their photo bytes inline and Delete has nothing to clean up.
type InlinePayloadStore struct{}

func NewInlinePayloadStore() *InlinePayloadStore {
	return &InlinePayloadStore{}
}

func (s *InlinePayloadStore) Put(ctx context.Context, id, encoded string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	normalized := NormalizePayload(encoded)
	if normalized == "" {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}
	return normalized, nil
}

func (s *InlinePayloadStore) Get(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	normalized := NormalizePayload(ref)
	if normalized == "" {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}
	return canonicalPayloadPrefix + normalized, nil
}

func (s *InlinePayloadStore) Delete(ctx context.Context, ref string) error {
	return nil
}

func (s *InlinePayloadStore) Close() error {
	return nil
}
