package websocket

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotUpdateRebuildsInitBlob(t *testing.T) {
	snapshot := NewSnapshot()
	snapshot.Update(map[string]string{
		"blocks": `[1,2,3]`,
		"fees":   `{"fastestFee":10}`,
	})

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(snapshot.InitBlob()), &decoded))
	assert.Len(t, decoded, 2)
	assert.Equal(t, `[1,2,3]`, string(decoded["blocks"]))

	snapshot.Update(map[string]string{"blocks": `[4]`})
	require.NoError(t, json.Unmarshal([]byte(snapshot.InitBlob()), &decoded))
	assert.Equal(t, `[4]`, string(decoded["blocks"]))
	assert.Equal(t, `{"fastestFee":10}`, string(decoded["fees"]), "untouched fields survive")
}

func TestSnapshotPublish(t *testing.T) {
	snapshot := NewSnapshot()
	snapshot.Publish("rbfSummary", []string{"a", "b"})
	value, ok := snapshot.Get("rbfSummary")
	assert.True(t, ok)
	assert.Equal(t, `["a","b"]`, value)
}

// Concurrent init readers must always see a parseable blob whose fields are
// internally consistent.
func TestSnapshotConcurrentReaders(t *testing.T) {
	snapshot := NewSnapshot()
	snapshot.Update(map[string]string{"counter": "0"})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 500; i++ {
			snapshot.Update(map[string]string{"counter": marshalJSON(i)})
		}
		close(stop)
	}()

	for running := true; running; {
		select {
		case <-stop:
			running = false
		default:
			var decoded map[string]int
			require.NoError(t, json.Unmarshal([]byte(snapshot.InitBlob()), &decoded))
		}
	}
	wg.Wait()
}

func TestSerializationCacheSerializesOnce(t *testing.T) {
	snapshot := NewSnapshot()
	snapshot.Update(map[string]string{"blocks": `[]`})
	cache := newSerializationCache(snapshot)

	first := cache.getCached("fees", map[string]int{"fastestFee": 7})
	assert.Equal(t, `{"fastestFee":7}`, first)

	// A hit returns the cached fragment even when the value changed.
	second := cache.getCached("fees", map[string]int{"fastestFee": 9})
	assert.Equal(t, first, second)

	// The seed is a copy; filling the cache does not leak into the snapshot.
	_, ok := snapshot.Get("fees")
	assert.False(t, ok)
}
