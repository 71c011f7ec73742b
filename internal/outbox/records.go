package outbox

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotInitialized = errors.New("outbox not initialized")
	ErrNotImplemented = errors.New("not implemented")
)

// MutationKind discriminates the queued mutation variants. Every consumption
// site (validation, hydration, dedup, drain) switches exhaustively over these
// values so that a fifth kind shows up as a compile-or-validate failure, not
// as silently dropped work.
type MutationKind string

const (
	KindCreateResource    MutationKind = "create_resource"
	KindAddAttachment     MutationKind = "add_attachment"
	KindReplaceAttachment MutationKind = "replace_attachment"
	KindDeleteAttachment  MutationKind = "delete_attachment"
)

// localIDPrefix marks ids allocated on this device that the backend has never
// confirmed. The dedup policy treats attachments with such ids as freely
// replaceable.
const localIDPrefix = "loc_"

// PayloadTokenPrefix prefixes payload references that point into a
// PayloadStore instead of carrying the encoded bytes inline.
const PayloadTokenPrefix = "file:"

// PhotoPayload is what the capture collaborator hands us: encoded image bytes
// plus the declared pixel dimensions.
type PhotoPayload struct {
	Data   string `json:"data"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// MutationRecord is the unit of durable work. Exactly one enqueue creates it,
// exactly one Remove destroys it; it is never edited in place.
type MutationRecord struct {
	ID        string       `json:"id"`
	Kind      MutationKind `json:"kind"`
	ActorID   string       `json:"actorId"`
	CreatedAt int64        `json:"createdAt"`

	ActorName    string `json:"actorName,omitempty"`
	CollectionID string `json:"collectionId,omitempty"`
	AttachmentID string `json:"attachmentId,omitempty"`

	// Payload carries either the inline encoded photo or a file:<id> token
	// into the payload store. Width and Height travel alongside.
	Payload string `json:"payload,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// HasStoredPayload reports whether the record's payload field is an indirect
// token rather than inline data.
func (r MutationRecord) HasStoredPayload() bool {
	return strings.HasPrefix(r.Payload, PayloadTokenPrefix)
}

func (r MutationRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: missing record id", ErrInvalidInput)
	}
	if strings.TrimSpace(r.ActorID) == "" {
		return fmt.Errorf("%w: missing actor id", ErrInvalidInput)
	}
	switch r.Kind {
	case KindCreateResource:
		if r.Payload == "" {
			return fmt.Errorf("%w: %s requires a payload", ErrInvalidInput, r.Kind)
		}
	case KindAddAttachment:
		if r.Payload == "" {
			return fmt.Errorf("%w: %s requires a payload", ErrInvalidInput, r.Kind)
		}
		if strings.TrimSpace(r.CollectionID) == "" {
			return fmt.Errorf("%w: %s requires a collection id", ErrInvalidInput, r.Kind)
		}
	case KindReplaceAttachment:
		if r.Payload == "" {
			return fmt.Errorf("%w: %s requires a payload", ErrInvalidInput, r.Kind)
		}
		if strings.TrimSpace(r.CollectionID) == "" {
			return fmt.Errorf("%w: %s requires a collection id", ErrInvalidInput, r.Kind)
		}
		if strings.TrimSpace(r.AttachmentID) == "" {
			return fmt.Errorf("%w: %s requires an attachment id", ErrInvalidInput, r.Kind)
		}
	case KindDeleteAttachment:
		if strings.TrimSpace(r.AttachmentID) == "" {
			return fmt.Errorf("%w: %s requires an attachment id", ErrInvalidInput, r.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown mutation kind %q", ErrInvalidInput, r.Kind)
	}
	return nil
}

// NewRecordID allocates a globally unique id that sorts in creation order: a
// zero-padded millisecond timestamp plus a random suffix so ties never
// collide. The loc_ prefix reserves the id as local-only until the backend
// confirms it.
func NewRecordID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%013d_%s", localIDPrefix, now.UnixMilli(), suffix)
}

// IsLocalID reports whether id matches the pattern reserved for records that
// exist only on this device.
func IsLocalID(id string) bool {
	return strings.HasPrefix(strings.TrimSpace(id), localIDPrefix)
}
