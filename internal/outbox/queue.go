package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sitspots/outbox/internal/connectivity"
)

type queueState int

const (
	stateUninitialized queueState = iota
	stateInitializing
	stateReady
)

// Options wires a Queue's collaborators. The queue is constructed explicitly
// by the composition root and passed by reference to whoever needs it; there
// is deliberately no package-level singleton accessor. Exactly one live
// instance per store is assumed: two instances would each hold a stale
// in-memory copy and stomp each other's saves.
type Options struct {
	QueueStore   QueueStore
	PayloadStore PayloadStore
	Monitor      *connectivity.Monitor
	Watcher      *PayloadWatcher
	Logger       *slog.Logger
	Clock        func() time.Time
}

// Queue is the offline-first mutation outbox: it durably records mutating
// operations, stores photo payloads next to (not inside) the metadata, and
// exposes the surface a sync coordinator drains.
//
// Failure semantics: a payload write failure aborts the enqueue with nothing
// persisted; a queue persistence failure after an append is logged and the
// in-memory list stays authoritative for the session; corruption on load
// resets to an empty queue.
type Queue struct {
	queueStore   QueueStore
	payloadStore PayloadStore
	monitor      *connectivity.Monitor
	watcher      *PayloadWatcher
	logger       *slog.Logger
	now          func() time.Time

	mu          sync.Mutex
	state       queueState
	records     []MutationRecord
	unsubscribe func()
}

func New(opts Options) *Queue {
	queueStore := opts.QueueStore
	if queueStore == nil {
		queueStore = NewInMemoryQueueStore()
	}
	payloadStore := opts.PayloadStore
	if payloadStore == nil {
		payloadStore = NewInlinePayloadStore()
	}
	monitor := opts.Monitor
	if monitor == nil {
		monitor = connectivity.NewMonitor(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Queue{
		queueStore:   queueStore,
		payloadStore: payloadStore,
		monitor:      monitor,
		watcher:      opts.Watcher,
		logger:       logger,
		now:          clock,
	}
}

// Initialize loads the persisted queue and registers the connectivity and
// watcher hooks. Idempotent: a second call while Ready logs and returns, and
// any previous registrations are torn down before re-subscribing, so repeated
// initialize/cleanup cycles never leak listeners.
func (q *Queue) Initialize(ctx context.Context) error {
	q.mu.Lock()
	if q.state != stateUninitialized {
		q.mu.Unlock()
		q.logger.Debug("outbox already initialized")
		return nil
	}
	q.state = stateInitializing
	if q.unsubscribe != nil {
		q.unsubscribe()
		q.unsubscribe = nil
	}
	q.mu.Unlock()

	records, err := q.queueStore.Load(ctx)
	if err != nil {
		q.logger.Warn("queue load failed, starting empty",
			slog.String("error", err.Error()))
		records = []MutationRecord{}
	}
	kept := make([]MutationRecord, 0, len(records))
	for _, record := range records {
		if err := record.Validate(); err != nil {
			q.logger.Warn("dropping invalid queued record",
				slog.String("id", record.ID),
				slog.String("error", err.Error()))
			continue
		}
		kept = append(kept, record)
	}
	records = kept

	if err := q.monitor.Start(); err != nil {
		q.logger.Warn("connectivity probe failed to start",
			slog.String("error", err.Error()))
	}
	unsubscribe := q.monitor.Subscribe(func(online bool) {
		q.logger.Debug("connectivity transition", slog.Bool("online", online))
	})
	if q.watcher != nil {
		if err := q.watcher.Start(q.pruneOrphanByPayloadID); err != nil {
			q.logger.Warn("payload watcher failed to start",
				slog.String("error", err.Error()))
		}
	}

	q.mu.Lock()
	q.records = records
	q.unsubscribe = unsubscribe
	q.state = stateReady
	q.mu.Unlock()
	return nil
}

// Close tears down subscriptions, stops the monitor and the watcher, and
// closes both stores. Initialize started the monitor, so Close owns stopping
// it; the underlying probe goroutine must not outlive the queue. The queue
// can be re-initialized afterwards.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.unsubscribe != nil {
		q.unsubscribe()
		q.unsubscribe = nil
	}
	q.state = stateUninitialized
	q.mu.Unlock()

	q.monitor.Stop()
	if q.watcher != nil {
		q.watcher.Stop()
	}
	var errs []error
	if err := q.queueStore.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := q.payloadStore.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EnqueueCreate queues creation of a new resource with its first photo.
// Returns the new record's id once the payload and the metadata are durably
// recorded.
func (q *Queue) EnqueueCreate(ctx context.Context, photo PhotoPayload, actorID, actorName string) (string, error) {
	if err := q.requireReady(); err != nil {
		return "", err
	}
	now := q.now()
	record := MutationRecord{
		ID:        NewRecordID(now),
		Kind:      KindCreateResource,
		ActorID:   strings.TrimSpace(actorID),
		CreatedAt: now.UnixMilli(),
		ActorName: actorName,
		Width:     photo.Width,
		Height:    photo.Height,
	}
	return q.enqueueWithPayload(ctx, record, photo.Data)
}

// EnqueueAddAttachment queues a new photo for an existing collection.
// Eligibility (CanAddAttachment) is a caller-side gate: the queue trusts that
// the caller validated it and never rejects on policy grounds.
func (q *Queue) EnqueueAddAttachment(ctx context.Context, photo PhotoPayload, collectionID, actorID, actorName string) (string, error) {
	if err := q.requireReady(); err != nil {
		return "", err
	}
	now := q.now()
	record := MutationRecord{
		ID:           NewRecordID(now),
		Kind:         KindAddAttachment,
		ActorID:      strings.TrimSpace(actorID),
		CreatedAt:    now.UnixMilli(),
		ActorName:    actorName,
		CollectionID: strings.TrimSpace(collectionID),
		Width:        photo.Width,
		Height:       photo.Height,
	}
	return q.enqueueWithPayload(ctx, record, photo.Data)
}

// EnqueueReplaceAttachment queues replacement of an existing attachment's
// photo.
func (q *Queue) EnqueueReplaceAttachment(ctx context.Context, photo PhotoPayload, collectionID, attachmentID, actorID, actorName string) (string, error) {
	if err := q.requireReady(); err != nil {
		return "", err
	}
	now := q.now()
	record := MutationRecord{
		ID:           NewRecordID(now),
		Kind:         KindReplaceAttachment,
		ActorID:      strings.TrimSpace(actorID),
		CreatedAt:    now.UnixMilli(),
		ActorName:    actorName,
		CollectionID: strings.TrimSpace(collectionID),
		AttachmentID: strings.TrimSpace(attachmentID),
		Width:        photo.Width,
		Height:       photo.Height,
	}
	return q.enqueueWithPayload(ctx, record, photo.Data)
}

// EnqueueDeleteAttachment queues deletion of an attachment. No payload.
func (q *Queue) EnqueueDeleteAttachment(ctx context.Context, attachmentID, actorID string) (string, error) {
	if err := q.requireReady(); err != nil {
		return "", err
	}
	now := q.now()
	record := MutationRecord{
		ID:           NewRecordID(now),
		Kind:         KindDeleteAttachment,
		ActorID:      strings.TrimSpace(actorID),
		CreatedAt:    now.UnixMilli(),
		AttachmentID: strings.TrimSpace(attachmentID),
	}
	if err := record.Validate(); err != nil {
		return "", err
	}
	return q.appendAndPersist(ctx, record)
}

// Remove destroys a record and any stored payload it owns. Payload cleanup
// is best-effort: a missing file must never block removal of the metadata.
// No-op for an unknown id.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if err := q.requireReady(); err != nil {
		return err
	}
	q.mu.Lock()
	idx := -1
	for i, record := range q.records {
		if record.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return nil
	}
	removed := q.records[idx]
	q.records = append(q.records[:idx], q.records[idx+1:]...)
	snapshot := append([]MutationRecord{}, q.records...)
	q.mu.Unlock()

	if removed.HasStoredPayload() {
		if err := q.payloadStore.Delete(ctx, removed.Payload); err != nil {
			q.logger.Warn("payload cleanup failed",
				slog.String("id", removed.ID),
				slog.String("error", err.Error()))
		}
	}
	q.persist(ctx, snapshot)
	return nil
}

// List returns an ordered snapshot of the queue, optionally filtered by
// kind. Callers get their own copy; mutating it does not affect the queue.
func (q *Queue) List(kinds ...MutationKind) []MutationRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]MutationRecord, 0, len(q.records))
	for _, record := range q.records {
		if len(kinds) > 0 && !kindMatches(record.Kind, kinds) {
			continue
		}
		out = append(out, record)
	}
	return out
}

// Len reports the number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// FetchHydrated returns a copy of the record with any file: token resolved
// to the payload data. A record whose stored payload no longer resolves is
// orphaned: it is purged from the queue and ErrNotFound is reported rather
// than surfacing a half-usable record.
func (q *Queue) FetchHydrated(ctx context.Context, id string) (*MutationRecord, error) {
	if err := q.requireReady(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	var found *MutationRecord
	for i := range q.records {
		if q.records[i].ID == id {
			copied := q.records[i]
			found = &copied
			break
		}
	}
	q.mu.Unlock()
	if found == nil {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	switch {
	case found.Payload == "":
		return found, nil
	case found.HasStoredPayload():
		data, err := q.payloadStore.Get(ctx, found.Payload)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, os.ErrNotExist) {
				q.logger.Warn("purging record with unresolvable payload",
					slog.String("id", id))
				_ = q.Remove(ctx, id)
				return nil, fmt.Errorf("record %s payload lost: %w", id, ErrNotFound)
			}
			return nil, err
		}
		found.Payload = data
		return found, nil
	default:
		found.Payload = canonicalPayloadPrefix + NormalizePayload(found.Payload)
		return found, nil
	}
}

// HasWorkToDrain is the sole integration point a drain process needs: true
// iff connectivity is online and the queue is non-empty.
func (q *Queue) HasWorkToDrain() bool {
	q.mu.Lock()
	ready := q.state == stateReady
	pending := len(q.records)
	q.mu.Unlock()
	return ready && pending > 0 && q.monitor.IsOnline()
}

// Monitor exposes the connectivity monitor for subscribers such as a drain
// scheduler.
func (q *Queue) Monitor() *connectivity.Monitor {
	return q.monitor
}

func (q *Queue) requireReady() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != stateReady {
		return ErrNotInitialized
	}
	return nil
}

// enqueueWithPayload writes the payload first and only then appends the
// record, so a metadata record can never reference bytes that were not
// durably written. A payload write failure aborts the whole enqueue.
func (q *Queue) enqueueWithPayload(ctx context.Context, record MutationRecord, encoded string) (string, error) {
	ref, err := q.payloadStore.Put(ctx, record.ID, encoded)
	if err != nil {
		return "", fmt.Errorf("store payload for %s: %w", record.ID, err)
	}
	record.Payload = ref
	if err := record.Validate(); err != nil {
		if record.HasStoredPayload() {
			_ = q.payloadStore.Delete(ctx, record.Payload)
		}
		return "", err
	}
	return q.appendAndPersist(ctx, record)
}

func (q *Queue) appendAndPersist(ctx context.Context, record MutationRecord) (string, error) {
	q.mu.Lock()
	q.records = append(q.records, record)
	snapshot := append([]MutationRecord{}, q.records...)
	q.mu.Unlock()
	q.persist(ctx, snapshot)
	return record.ID, nil
}

// persist writes the full snapshot. A write failure is logged and swallowed:
// the caller already holds a valid id and the in-memory list remains the
// source of truth for the rest of the session. An unpersisted tail can be
// lost on a hard crash; that limitation is documented, not hidden.
func (q *Queue) persist(ctx context.Context, snapshot []MutationRecord) {
	if err := q.queueStore.Save(ctx, snapshot); err != nil {
		q.logger.Warn("queue persist failed; in-memory queue remains authoritative",
			slog.Int("records", len(snapshot)),
			slog.String("error", err.Error()))
	}
}

// pruneOrphanByPayloadID drops the record owning a payload that disappeared
// out-of-band. Invoked by the payload watcher.
func (q *Queue) pruneOrphanByPayloadID(payloadID string) {
	token := PayloadTokenPrefix + payloadID
	q.mu.Lock()
	if q.state != stateReady {
		q.mu.Unlock()
		return
	}
	idx := -1
	for i, record := range q.records {
		if record.Payload == token {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return
	}
	removed := q.records[idx]
	q.records = append(q.records[:idx], q.records[idx+1:]...)
	snapshot := append([]MutationRecord{}, q.records...)
	q.mu.Unlock()

	q.logger.Warn("payload deleted out-of-band, pruning record",
		slog.String("id", removed.ID))
	q.persist(context.Background(), snapshot)
}

func kindMatches(kind MutationKind, kinds []MutationKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
