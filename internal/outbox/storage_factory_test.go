package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestBuildQueueStoreFromDSN(t *testing.T) {
	dir := t.TempDir()

	store, err := BuildQueueStoreFromDSN(filepath.Join(dir, "queue.json"))
	if err != nil {
		t.Fatalf("bare path failed: %v", err)
	}
	if _, ok := store.(*JSONFileQueueStore); !ok {
		t.Fatalf("expected file store for bare path, got %T", store)
	}

	store, err = BuildQueueStoreFromDSN("file://" + filepath.Join(dir, "queue.json"))
	if err != nil {
		t.Fatalf("file scheme failed: %v", err)
	}
	if _, ok := store.(*JSONFileQueueStore); !ok {
		t.Fatalf("expected file store for file://, got %T", store)
	}

	store, err = BuildQueueStoreFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory scheme failed: %v", err)
	}
	if _, ok := store.(*InMemoryQueueStore); !ok {
		t.Fatalf("expected in-memory store, got %T", store)
	}

	if _, err := BuildQueueStoreFromDSN("mysql://localhost/outbox"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for mysql, got %v", err)
	}
	if _, err := BuildQueueStoreFromDSN("gopher://x"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	if _, err := BuildQueueStoreFromDSN("  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank dsn, got %v", err)
	}
}

func TestBuildPayloadStoreFromDSN(t *testing.T) {
	dir := t.TempDir()

	store, err := BuildPayloadStoreFromDSN("file://" + filepath.Join(dir, "payloads"))
	if err != nil {
		t.Fatalf("file scheme failed: %v", err)
	}
	if _, ok := store.(*FilePayloadStore); !ok {
		t.Fatalf("expected file payload store, got %T", store)
	}

	store, err = BuildPayloadStoreFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory scheme failed: %v", err)
	}
	if _, ok := store.(*InlinePayloadStore); !ok {
		t.Fatalf("expected inline payload store, got %T", store)
	}

	if _, err := BuildPayloadStoreFromDSN("sqlite://x.db"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for sqlite, got %v", err)
	}
}

func TestBuildStoreFromRelativeFileDSN(t *testing.T) {
	// The first path segment of a relative file DSN lands in the URL host;
	// the resolved path must keep it.
	store, err := BuildQueueStoreFromDSN("file://.sitspots/queue.json")
	if err != nil {
		t.Fatalf("relative dsn failed: %v", err)
	}
	fileStore, ok := store.(*JSONFileQueueStore)
	if !ok {
		t.Fatalf("expected file store, got %T", store)
	}
	if fileStore.path != ".sitspots/queue.json" {
		t.Fatalf("data dir lost: resolved path = %q", fileStore.path)
	}

	payloadStore, err := BuildPayloadStoreFromDSN("file://.sitspots/payloads")
	if err != nil {
		t.Fatalf("relative payload dsn failed: %v", err)
	}
	filePayloadStore, ok := payloadStore.(*FilePayloadStore)
	if !ok {
		t.Fatalf("expected file payload store, got %T", payloadStore)
	}
	if filePayloadStore.Dir() != ".sitspots/payloads" {
		t.Fatalf("data dir lost: resolved dir = %q", filePayloadStore.Dir())
	}

	// Absolute DSNs keep their leading slash.
	store, err = BuildQueueStoreFromDSN("file:///var/lib/sitspots/queue.json")
	if err != nil {
		t.Fatalf("absolute dsn failed: %v", err)
	}
	if got := store.(*JSONFileQueueStore).path; got != "/var/lib/sitspots/queue.json" {
		t.Fatalf("absolute path mangled: %q", got)
	}
}

func TestRegisteredFactoryTakesPrecedence(t *testing.T) {
	marker := NewInMemoryQueueStore()
	RegisterQueueStoreFactory("testqueue", func(dsn string) (QueueStore, error) {
		return marker, nil
	})

	store, err := BuildQueueStoreFromDSN("testqueue://anything")
	if err != nil {
		t.Fatalf("registered factory failed: %v", err)
	}
	if store != QueueStore(marker) {
		t.Fatalf("expected registered factory result, got %T", store)
	}

	payloadMarker := NewInlinePayloadStore()
	RegisterPayloadStoreFactory("testpayload", func(dsn string) (PayloadStore, error) {
		return payloadMarker, nil
	})
	payloadStore, err := BuildPayloadStoreFromDSN("testpayload://anything")
	if err != nil {
		t.Fatalf("registered payload factory failed: %v", err)
	}
	if payloadStore != PayloadStore(payloadMarker) {
		t.Fatalf("expected registered payload factory result, got %T", payloadStore)
	}
}

func TestRegisterFactoryIgnoresBadInput(t *testing.T) {
	RegisterQueueStoreFactory("", func(dsn string) (QueueStore, error) { return nil, nil })
	RegisterQueueStoreFactory("nilfactory", nil)
	if _, ok := lookupQueueStoreFactory("nilfactory"); ok {
		t.Fatalf("nil factory must not be registered")
	}
}

func TestFactoryBuiltStoreWorks(t *testing.T) {
	ctx := context.Background()
	store, err := BuildQueueStoreFromDSN("file://" + filepath.Join(t.TempDir(), "queue.json"))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if err := store.Save(ctx, testRecords()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	records, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
}
