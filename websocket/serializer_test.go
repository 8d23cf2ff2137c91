package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeResponseValidJSON(t *testing.T) {
	serialized := SerializeResponse(map[string]string{
		"pong":        "true",
		"mempoolInfo": `{"size":5000}`,
		"blocks":      `[{"height":800000}]`,
	})

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(serialized), &decoded))
	assert.Len(t, decoded, 3)
	assert.Equal(t, "true", string(decoded["pong"]))
	assert.Equal(t, `{"size":5000}`, string(decoded["mempoolInfo"]))
}

func TestSerializeResponseNeverReencodes(t *testing.T) {
	// The fragment goes out verbatim; a serializer that re-encoded it would
	// double-escape the inner quotes.
	serialized := SerializeResponse(map[string]string{
		"tx": `{"txid":"ab\"cd"}`,
	})
	assert.Equal(t, `{"tx":{"txid":"ab\"cd"}}`, serialized)
}

func TestSerializeResponseEmpty(t *testing.T) {
	assert.Equal(t, "{}", SerializeResponse(nil))
	assert.Equal(t, "{}", SerializeResponse(map[string]string{}))
}
