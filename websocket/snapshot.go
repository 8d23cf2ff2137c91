package websocket

import (
	"encoding/json"
	"sync"

	"github.com/russeree/mempool/common"
)

// Snapshot holds the latest serialized value of each named field, plus the
// concatenated init blob a new client receives on connect. Writers publish
// the field map and the blob under one lock so a concurrent init read never
// observes a torn object.
type Snapshot struct {
	mtx      sync.RWMutex
	fields   map[string]string
	initBlob string
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		fields: make(map[string]string),
	}
}

// Update merges pre-serialized fields and rebuilds the init blob atomically.
func (s *Snapshot) Update(fields map[string]string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for key, value := range fields {
		s.fields[key] = value
	}
	s.initBlob = SerializeResponse(s.fields)
}

// Publish serializes a value and stores it under the given key. This is the
// registration entry point for collaborators that maintain extra init
// fields.
func (s *Snapshot) Publish(key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		common.Log.Debugf("failed to serialize snapshot field %s: %v", key, err)
		return
	}
	s.Update(map[string]string{key: string(raw)})
}

func (s *Snapshot) Get(key string) (string, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	value, ok := s.fields[key]
	return value, ok
}

func (s *Snapshot) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Fields returns a shallow copy of the field map, used to seed a per-event
// serialization cache.
func (s *Snapshot) Fields() map[string]string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	copied := make(map[string]string, len(s.fields))
	for key, value := range s.fields {
		copied[key] = value
	}
	return copied
}

func (s *Snapshot) InitBlob() string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.initBlob
}

// serializationCache is the per-event scratch map: seeded from the snapshot
// at event start, filled lazily so a payload is serialized at most once per
// event no matter how many clients receive it.
type serializationCache map[string]string

func newSerializationCache(snapshot *Snapshot) serializationCache {
	return serializationCache(snapshot.Fields())
}

// getCached returns the cached fragment for key, serializing value on the
// first miss.
func (c serializationCache) getCached(key string, value interface{}) string {
	if cached, ok := c[key]; ok {
		return cached
	}
	raw, err := json.Marshal(value)
	if err != nil {
		common.Log.Debugf("failed to serialize %s: %v", key, err)
		return "null"
	}
	c[key] = string(raw)
	return c[key]
}

func (c serializationCache) set(key, serialized string) {
	c[key] = serialized
}
