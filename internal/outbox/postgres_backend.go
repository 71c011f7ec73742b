package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresQueueTableName   = "outbox_queue"
	postgresPayloadTableName = "outbox_payloads"
	postgresQueueKey         = "default"
	postgresInitTimeout      = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type postgresCore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func newPostgresCore(dsn string) (*postgresCore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &postgresCore{dsn: dsn, openDB: sql.Open}, nil
}

func (c *postgresCore) ensureReady() error {
	if c == nil {
		return ErrInvalidInput
	}
	c.initOnce.Do(func() {
		db, err := c.openDB("postgres", c.dsn)
		if err != nil {
			c.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresInitTimeout)
		defer cancel()

		queueTable := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				queue_key TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(postgresQueueTableName))
		if _, err := db.ExecContext(ctx, queueTable); err != nil {
			_ = db.Close()
			c.initErr = err
			return
		}
		payloadTable := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				payload_id TEXT PRIMARY KEY,
				data TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(postgresPayloadTableName))
		if _, err := db.ExecContext(ctx, payloadTable); err != nil {
			_ = db.Close()
			c.initErr = err
			return
		}
		c.db = db
	})
	return c.initErr
}

func (c *postgresCore) close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// PostgresQueueStore keeps the whole queue as a single-row JSON snapshot,
// mirroring the full-overwrite discipline of the file tier.
type PostgresQueueStore struct {
	core     *postgresCore
	queueKey string
}

func NewPostgresQueueStore(dsn string) (*PostgresQueueStore, error) {
	core, err := newPostgresCore(dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresQueueStore{core: core, queueKey: postgresQueueKey}, nil
}

func (s *PostgresQueueStore) Load(ctx context.Context) ([]MutationRecord, error) {
	if s == nil || s.core == nil {
		return []MutationRecord{}, nil
	}
	if err := s.core.ensureReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT snapshot FROM %s WHERE queue_key = $1", postgresQuoteIdentifier(postgresQueueTableName))
	var snapshot string
	err := s.core.db.QueryRowContext(ctx, query, s.queueKey).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return []MutationRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	records, err := decodeQueueDocument([]byte(snapshot))
	if err != nil {
		slog.Warn("postgres queue snapshot corrupt, starting empty",
			slog.String("queueKey", s.queueKey),
			slog.String("error", err.Error()))
		return []MutationRecord{}, nil
	}
	return records, nil
}

func (s *PostgresQueueStore) Save(ctx context.Context, records []MutationRecord) error {
	if s == nil || s.core == nil {
		return ErrInvalidInput
	}
	if err := s.core.ensureReady(); err != nil {
		return err
	}
	data, err := encodeQueueDocument(records)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (queue_key, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (queue_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`,
		postgresQuoteIdentifier(postgresQueueTableName))
	_, err = s.core.db.ExecContext(ctx, query, s.queueKey, string(data))
	return err
}

func (s *PostgresQueueStore) Close() error {
	if s == nil {
		return nil
	}
	return s.core.close()
}

// PostgresPayloadStore stores one row per payload, addressed by the owning
// record's id, with the same token indirection as the file tier.
type PostgresPayloadStore struct {
	core *postgresCore
}

func NewPostgresPayloadStore(dsn string) (*PostgresPayloadStore, error) {
	core, err := newPostgresCore(dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresPayloadStore{core: core}, nil
}

func (s *PostgresPayloadStore) Put(ctx context.Context, id, encoded string) (string, error) {
	if s == nil || s.core == nil {
		return "", ErrInvalidInput
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: bad payload id", ErrInvalidInput)
	}
	normalized := NormalizePayload(encoded)
	if normalized == "" {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}
	if err := s.core.ensureReady(); err != nil {
		return "", err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (payload_id, data, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (payload_id)
		DO UPDATE SET data = EXCLUDED.data`,
		postgresQuoteIdentifier(postgresPayloadTableName))
	if _, err := s.core.db.ExecContext(ctx, query, id, normalized); err != nil {
		return "", err
	}
	return PayloadTokenPrefix + id, nil
}

func (s *PostgresPayloadStore) Get(ctx context.Context, ref string) (string, error) {
	if s == nil || s.core == nil {
		return "", ErrInvalidInput
	}
	id, ok := payloadTokenID(ref)
	if !ok {
		return "", fmt.Errorf("%w: bad payload reference %q", ErrInvalidInput, ref)
	}
	if err := s.core.ensureReady(); err != nil {
		return "", err
	}
	query := fmt.Sprintf("SELECT data FROM %s WHERE payload_id = $1", postgresQuoteIdentifier(postgresPayloadTableName))
	var data string
	err := s.core.db.QueryRowContext(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("payload %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return canonicalPayloadPrefix + NormalizePayload(data), nil
}

func (s *PostgresPayloadStore) Delete(ctx context.Context, ref string) error {
	if s == nil || s.core == nil {
		return nil
	}
	id, ok := payloadTokenID(ref)
	if !ok {
		return nil
	}
	if err := s.core.ensureReady(); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE payload_id = $1", postgresQuoteIdentifier(postgresPayloadTableName))
	_, err := s.core.db.ExecContext(ctx, query, id)
	return err
}

func (s *PostgresPayloadStore) Close() error {
	if s == nil {
		return nil
	}
	return s.core.close()
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
