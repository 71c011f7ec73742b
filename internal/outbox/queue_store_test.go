package outbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testRecords() []MutationRecord {
	return []MutationRecord{
		{
			ID:        "loc_0000000000001_aaaaaaaa",
			Kind:      KindCreateResource,
			ActorID:   "actor_1",
			CreatedAt: 1,
			ActorName: "Alice",
			Payload:   "aGVsbG8=",
		},
		{
			ID:           "loc_0000000000002_bbbbbbbb",
			Kind:         KindAddAttachment,
			ActorID:      "actor_2",
			CreatedAt:    2,
			CollectionID: "col_1",
			Payload:      "file:loc_0000000000002_bbbbbbbb",
		},
		{
			ID:           "loc_0000000000003_cccccccc",
			Kind:         KindDeleteAttachment,
			ActorID:      "actor_1",
			CreatedAt:    3,
			AttachmentID: "att_9",
		},
	}
}

func TestJSONFileQueueStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.json")
	store, err := NewJSONFileQueueStore(path)
	if err != nil {
		t.Fatalf("new queue store failed: %v", err)
	}
	want := testRecords()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reopened, err := NewJSONFileQueueStore(path)
	if err != nil {
		t.Fatalf("reopen queue store failed: %v", err)
	}
	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestJSONFileQueueStoreMissingFileLoadsEmpty(t *testing.T) {
	store, err := NewJSONFileQueueStore(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("new queue store failed: %v", err)
	}
	records, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty queue, got %d records", len(records))
	}
}

func TestJSONFileQueueStoreCorruptFileLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	store, err := NewJSONFileQueueStore(path)
	if err != nil {
		t.Fatalf("new queue store failed: %v", err)
	}
	records, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("expected fail-open load, got %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty queue from corrupt file, got %d records", len(records))
	}
}

func TestJSONFileQueueStoreRejectsWrongShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	// Valid JSON, but not a queue document.
	if err := os.WriteFile(path, []byte(`{"version":"one","records":{}}`), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	store, err := NewJSONFileQueueStore(path)
	if err != nil {
		t.Fatalf("new queue store failed: %v", err)
	}
	records, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("expected fail-open load, got %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty queue from invalid document, got %d records", len(records))
	}
}

func TestJSONFileQueueStoreKeepsSnapshotWithUnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	doc := `{"version":1,"records":[` +
		`{"id":"loc_1","kind":"delete_attachment","actorId":"actor_1","createdAt":1,"attachmentId":"att_1"},` +
		`{"id":"loc_2","kind":"upload_video","actorId":"actor_1","createdAt":2}]}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	store, err := NewJSONFileQueueStore(path)
	if err != nil {
		t.Fatalf("new queue store failed: %v", err)
	}
	// One record with an unrecognized kind must not discard the document;
	// per-record filtering is the orchestrator's job.
	records, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected both records to survive load, got %d", len(records))
	}
	if records[0].ID != "loc_1" || records[1].Kind != "upload_video" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestJSONFileQueueStoreLoadsLegacyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	legacy := `[{"id":"loc_0000000000001_aaaaaaaa","kind":"delete_attachment","actorId":"actor_1","createdAt":1,"attachmentId":"att_1"}]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}
	store, err := NewJSONFileQueueStore(path)
	if err != nil {
		t.Fatalf("new queue store failed: %v", err)
	}
	records, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(records) != 1 || records[0].AttachmentID != "att_1" {
		t.Fatalf("expected legacy record to load, got %+v", records)
	}
}

func TestJSONFileQueueStoreWritesVersionEnvelope(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.json")
	store, err := NewJSONFileQueueStore(path)
	if err != nil {
		t.Fatalf("new queue store failed: %v", err)
	}
	if err := store.Save(ctx, testRecords()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted queue: %v", err)
	}
	if !strings.Contains(string(data), `"version":1`) {
		t.Fatalf("expected version marker in persisted document, got %s", data)
	}
}

func TestJSONFileQueueStoreUnsupportedVersionLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	if err := os.WriteFile(path, []byte(`{"version":99,"records":[]}`), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	store, err := NewJSONFileQueueStore(path)
	if err != nil {
		t.Fatalf("new queue store failed: %v", err)
	}
	records, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("expected fail-open load, got %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty queue for unknown version, got %d records", len(records))
	}
}

func TestInMemoryQueueStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryQueueStore()
	want := testRecords()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	// The loaded slice must not alias the saved one.
	got[0].ActorID = "mutated"
	again, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if again[0].ActorID != "actor_1" {
		t.Fatalf("store snapshot was mutated through a loaded slice")
	}
}
