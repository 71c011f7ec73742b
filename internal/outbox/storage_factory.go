package outbox

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildQueueStoreFromDSN selects the queue persistence tier by DSN scheme:
// a bare path or file:// for the filesystem tier, memory:// for the
// key-value tier, postgres:// for a shared database. Registered factories
// take precedence over the built-ins.
func BuildQueueStoreFromDSN(dsn string) (QueueStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeStoreScheme(parsed.Scheme)
	if factory, ok := lookupQueueStoreFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONFileQueueStore(path)
	case "memory", "mem", "inmem":
		return NewInMemoryQueueStore(), nil
	case "postgres", "postgresql":
		return NewPostgresQueueStore(dsn)
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: queue store %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported queue store scheme: %s", scheme)
	}
}

// BuildPayloadStoreFromDSN mirrors BuildQueueStoreFromDSN for the binary
// tier. memory:// yields the inline store, i.e. no token indirection at all.
func BuildPayloadStoreFromDSN(dsn string) (PayloadStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeStoreScheme(parsed.Scheme)
	if factory, ok := lookupPayloadStoreFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		dir, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFilePayloadStore(dir)
	case "memory", "mem", "inmem":
		return NewInlinePayloadStore(), nil
	case "postgres", "postgresql":
		return NewPostgresPayloadStore(dsn)
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: payload store %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported payload store scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Opaque)
	if path == "" {
		// A relative DSN like file://.sitspots/queue.json parses with the
		// first segment in Host and the rest in Path; rejoin them.
		path = strings.TrimSpace(parsed.Host + parsed.Path)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
