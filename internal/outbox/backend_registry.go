package outbox

import (
	"strings"
	"sync"
)

type QueueStoreFactory func(dsn string) (QueueStore, error)
type PayloadStoreFactory func(dsn string) (PayloadStore, error)

var storeFactoryRegistry = struct {
	mu               sync.RWMutex
	queueFactories   map[string]QueueStoreFactory
	payloadFactories map[string]PayloadStoreFactory
}{
	queueFactories:   map[string]QueueStoreFactory{},
	payloadFactories: map[string]PayloadStoreFactory{},
}

// RegisterQueueStoreFactory lets embedders hook additional storage schemes
// into BuildQueueStoreFromDSN without touching the built-in switch.
func RegisterQueueStoreFactory(scheme string, factory QueueStoreFactory) {
	scheme = normalizeStoreScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	storeFactoryRegistry.mu.Lock()
	defer storeFactoryRegistry.mu.Unlock()
	storeFactoryRegistry.queueFactories[scheme] = factory
}

func RegisterPayloadStoreFactory(scheme string, factory PayloadStoreFactory) {
	scheme = normalizeStoreScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	storeFactoryRegistry.mu.Lock()
	defer storeFactoryRegistry.mu.Unlock()
	storeFactoryRegistry.payloadFactories[scheme] = factory
}

func lookupQueueStoreFactory(scheme string) (QueueStoreFactory, bool) {
	scheme = normalizeStoreScheme(scheme)
	storeFactoryRegistry.mu.RLock()
	defer storeFactoryRegistry.mu.RUnlock()
	factory, ok := storeFactoryRegistry.queueFactories[scheme]
	return factory, ok
}

func lookupPayloadStoreFactory(scheme string) (PayloadStoreFactory, bool) {
	scheme = normalizeStoreScheme(scheme)
	storeFactoryRegistry.mu.RLock()
	defer storeFactoryRegistry.mu.RUnlock()
	factory, ok := storeFactoryRegistry.payloadFactories[scheme]
	return factory, ok
}

func normalizeStoreScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
