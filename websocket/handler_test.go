package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/russeree/mempool/common"
)

func frame(t *testing.T, hub *Hub, client *Client, payload string) {
	t.Helper()
	require.NoError(t, hub.handleClientMessage(client, []byte(payload)))
}

func TestWantSeedsSnapshot(t *testing.T) {
	hub, _ := newTestHub(t)
	blocks := make([]map[string]int, 0, 10)
	for height := 800000; height < 800010; height++ {
		blocks = append(blocks, map[string]int{"height": height})
	}
	hub.snapshot.Update(map[string]string{
		"blocks":          marshalJSON(blocks),
		"mempoolInfo":     `{"size":5000}`,
		"vBytesPerSecond": "120",
		"fees":            `{"fastestFee":12}`,
		"da":              `{"progressPercent":42}`,
	})
	client := attachClient(hub)

	frame(t, hub, client, `{"action":"want","data":["blocks","stats"]}`)
	response := readFrame(t, client)

	var seededBlocks []map[string]int
	require.NoError(t, json.Unmarshal(response["blocks"], &seededBlocks))
	assert.Len(t, seededBlocks, 10)
	assert.Equal(t, `{"size":5000}`, string(response["mempoolInfo"]))
	assert.Equal(t, "120", string(response["vBytesPerSecond"]))
	assert.Equal(t, `{"fastestFee":12}`, string(response["fees"]))
	assert.Equal(t, `{"progressPercent":42}`, string(response["da"]))
	assert.NotContains(t, response, "mempool-blocks")

	assert.True(t, client.wantBlocks)
	assert.True(t, client.wantStats)
	assert.False(t, client.wantMempoolBlocks)
}

func TestWantOnOffRoundTrip(t *testing.T) {
	hub, _ := newTestHub(t)
	hub.snapshot.Update(map[string]string{"blocks": `[{"height":1}]`})
	client := attachClient(hub)

	frame(t, hub, client, `{"action":"want","data":["blocks"]}`)
	readFrame(t, client) // seeded blocks
	frame(t, hub, client, `{"action":"want","data":[]}`)

	assert.False(t, client.wantBlocks)
	noFrame(t, client)

	// Re-enabling seeds again: the off/on cycle left no residue.
	frame(t, hub, client, `{"action":"want","data":["blocks"]}`)
	response := readFrame(t, client)
	assert.Contains(t, response, "blocks")
}

func TestPing(t *testing.T) {
	hub, _ := newTestHub(t)
	client := attachClient(hub)

	frame(t, hub, client, `{"action":"ping"}`)
	response := readFrame(t, client)
	assert.Equal(t, "true", string(response["pong"]))
}

func TestInitGatedOnBlocks(t *testing.T) {
	hub, _ := newTestHub(t)
	client := attachClient(hub)

	// No block is known yet: the collaborators get refreshed but nothing is
	// sent.
	frame(t, hub, client, `{"action":"init"}`)
	noFrame(t, client)

	hub.snapshot.Update(map[string]string{"blocks": `[{"height":800000}]`})
	frame(t, hub, client, `{"action":"init"}`)
	response := readFrame(t, client)
	assert.Contains(t, response, "blocks")
}

func TestMalformedFrameReturnsError(t *testing.T) {
	hub, _ := newTestHub(t)
	client := attachClient(hub)
	assert.Error(t, hub.handleClientMessage(client, []byte(`{not json`)))
}

func TestTrackTxPosition(t *testing.T) {
	hub, c := newTestHub(t)
	txid := strings.Repeat("a", 64)
	c.mempool.txs[txid] = &common.TransactionExtended{
		Txid:     txid,
		Position: &common.MempoolPosition{Block: 1, Vsize: 1234},
	}
	client := attachClient(hub)

	frame(t, hub, client, fmt.Sprintf(`{"track-tx":"%s"}`, txid))
	response := readFrame(t, client)

	var position struct {
		Txid     string `json:"txid"`
		Position struct {
			Block int     `json:"block"`
			Vsize float64 `json:"vsize"`
		} `json:"position"`
	}
	require.NoError(t, json.Unmarshal(response["txPosition"], &position))
	assert.Equal(t, txid, position.Txid)
	assert.Equal(t, 1, position.Position.Block)
	assert.Equal(t, float64(1234), position.Position.Vsize)
	assert.Equal(t, txid, client.trackTx)
}

func TestTrackTxValidation(t *testing.T) {
	hub, _ := newTestHub(t)
	client := attachClient(hub)

	// 63 hex chars: rejected, slot cleared.
	client.trackTx = "stale"
	frame(t, hub, client, fmt.Sprintf(`{"track-tx":"%s"}`, strings.Repeat("a", 63)))
	assert.Empty(t, client.trackTx)

	// 64 non-hex: rejected.
	client.trackTx = "stale"
	frame(t, hub, client, fmt.Sprintf(`{"track-tx":"%s"}`, strings.Repeat("z", 64)))
	assert.Empty(t, client.trackTx)

	// 64 hex: accepted.
	frame(t, hub, client, fmt.Sprintf(`{"track-tx":"%s"}`, strings.Repeat("b", 64)))
	assert.Equal(t, strings.Repeat("b", 64), client.trackTx)
}

func TestTrackTxWatchMempoolUnknown(t *testing.T) {
	hub, _ := newTestHub(t)
	client := attachClient(hub)
	txid := strings.Repeat("c", 64)

	frame(t, hub, client, fmt.Sprintf(`{"track-tx":"%s","watch-mempool":true}`, txid))

	// Unknown transaction: both slots are set; the next delta containing it
	// delivers the tx.
	assert.Equal(t, txid, client.trackTx)
	assert.Equal(t, txid, client.trackMempoolTx)
}

func TestTrackTxWatchMempoolReplaced(t *testing.T) {
	hub, c := newTestHub(t)
	client := attachClient(hub)
	txid := strings.Repeat("d", 64)
	replacement := strings.Repeat("e", 64)
	c.rbf.replacedBy[txid] = replacement

	frame(t, hub, client, fmt.Sprintf(`{"track-tx":"%s","watch-mempool":true}`, txid))
	response := readFrame(t, client)

	assert.Equal(t, fmt.Sprintf(`{"txid":"%s"}`, replacement), string(response["txReplaced"]))
	assert.Empty(t, client.trackTx, "tracking cleared after replacement notice")
}

func TestTrackAddressCanonicalOrEmpty(t *testing.T) {
	hub, _ := newTestHub(t)
	client := attachClient(hub)

	frame(t, hub, client, `{"track-address":"BC1QW508D6QEJXTDG4Y5R3ZARVARY0C5XW7KV8F3T4"}`)
	assert.Equal(t, "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", client.trackAddress)

	frame(t, hub, client, `{"track-address":"not an address"}`)
	assert.Empty(t, client.trackAddress)
}

func TestTrackAddressesLimit(t *testing.T) {
	hub, _ := newTestHub(t)
	client := attachClient(hub)

	// Exactly the maximum is accepted (test hub configures 3).
	frame(t, hub, client, `{"track-addresses":["1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa","bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4","1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2"]}`)
	assert.Len(t, client.trackAddresses, 3)
	noFrame(t, client)

	// One more overflows: slot cleared, error returned.
	frame(t, hub, client, `{"track-addresses":["1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa","bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4","1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2","1CounterpartyXXXXXXXXXXXXXXXUWLpVr"]}`)
	response := readFrame(t, client)
	assert.Contains(t, response, "track-addresses-error")
	assert.Nil(t, client.trackAddresses)
}

func TestTrackAddressesStoresCanonical(t *testing.T) {
	hub, _ := newTestHub(t)
	client := attachClient(hub)

	frame(t, hub, client, `{"track-addresses":["BC1QW508D6QEJXTDG4Y5R3ZARVARY0C5XW7KV8F3T4","garbage!"]}`)
	assert.Equal(t, map[string]string{
		"BC1QW508D6QEJXTDG4Y5R3ZARVARY0C5XW7KV8F3T4": "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4",
	}, client.trackAddresses)
}

func TestTrackScriptpubkeysLimit(t *testing.T) {
	hub, _ := newTestHub(t)
	client := attachClient(hub)

	frame(t, hub, client, `{"track-scriptpubkeys":["AA11","bb22","cc33","dd44"]}`)
	response := readFrame(t, client)
	assert.Contains(t, response, "track-scriptpubkeys-error")
	assert.Nil(t, client.trackScriptpubkeys)

	frame(t, hub, client, `{"track-scriptpubkeys":["AA11","zz"]}`)
	assert.Equal(t, []string{"aa11"}, client.trackScriptpubkeys)
}

func TestTrackMempoolBlockBoundaries(t *testing.T) {
	hub, c := newTestHub(t)
	c.templates.withTx = []*common.MempoolBlockWithTransactions{
		{Transactions: []*common.TransactionStripped{{Txid: "tx1", Fee: 100}}},
	}
	client := attachClient(hub)

	// Index 0 is valid and replies with the projected transactions.
	frame(t, hub, client, `{"track-mempool-block":0}`)
	response := readFrame(t, client)
	assert.Equal(t, 0, client.trackMempoolBlock)
	var projected struct {
		Index             int                           `json:"index"`
		BlockTransactions []*common.TransactionStripped `json:"blockTransactions"`
	}
	require.NoError(t, json.Unmarshal(response["projected-block-transactions"], &projected))
	assert.Len(t, projected.BlockTransactions, 1)

	// -1 clears the slot.
	frame(t, hub, client, `{"track-mempool-block":-1}`)
	assert.Equal(t, -1, client.trackMempoolBlock)

	// Non-integer clears the slot.
	frame(t, hub, client, `{"track-mempool-block":1.5}`)
	assert.Equal(t, -1, client.trackMempoolBlock)

	// Non-number clears the slot.
	frame(t, hub, client, `{"track-mempool-block":"zero"}`)
	assert.Equal(t, -1, client.trackMempoolBlock)
}

func TestTrackRbf(t *testing.T) {
	hub, c := newTestHub(t)
	c.rbf.trees = []*common.RbfTree{{Tx: &common.RbfTransaction{}, Replaces: []*common.RbfTree{}}}
	client := attachClient(hub)

	frame(t, hub, client, `{"track-rbf":"all"}`)
	response := readFrame(t, client)
	assert.Contains(t, response, "rbfLatest")
	assert.Equal(t, TrackRbfAll, client.trackRbf)

	frame(t, hub, client, `{"track-rbf":"fullRbf"}`)
	readFrame(t, client)
	assert.Equal(t, TrackRbfFullRbf, client.trackRbf)

	frame(t, hub, client, `{"track-rbf":"bogus"}`)
	assert.Equal(t, TrackRbfOff, client.trackRbf)
}

func TestTrackRbfSummary(t *testing.T) {
	hub, _ := newTestHub(t)
	hub.snapshot.Update(map[string]string{"rbfSummary": `[{"txid":"x"}]`})
	client := attachClient(hub)

	frame(t, hub, client, `{"track-rbf-summary":true}`)
	response := readFrame(t, client)
	assert.Equal(t, `[{"txid":"x"}]`, string(response["rbfLatestSummary"]))
	assert.True(t, client.trackRbfSummary)

	frame(t, hub, client, `{"track-rbf-summary":false}`)
	assert.False(t, client.trackRbfSummary)
}

func TestTrackDonationAndBisqMarket(t *testing.T) {
	hub, _ := newTestHub(t)
	client := attachClient(hub)

	donation := strings.Repeat("x", 22)
	frame(t, hub, client, fmt.Sprintf(`{"track-donation":"%s"}`, donation))
	assert.Equal(t, donation, client.trackDonation)

	frame(t, hub, client, `{"track-donation":"short"}`)
	assert.Empty(t, client.trackDonation)

	frame(t, hub, client, `{"track-bisq-market":"btc_eur"}`)
	assert.Equal(t, "btc_eur", client.trackBisqMarket)

	frame(t, hub, client, `{"track-bisq-market":"nope"}`)
	assert.Empty(t, client.trackBisqMarket)
}

func TestUnknownKeysIgnored(t *testing.T) {
	hub, _ := newTestHub(t)
	client := attachClient(hub)
	frame(t, hub, client, `{"mystery-key":42}`)
	noFrame(t, client)
}

func TestTrackAssetValidation(t *testing.T) {
	hub, _ := newTestHub(t)
	client := attachClient(hub)

	asset := strings.Repeat("f", 64)
	frame(t, hub, client, fmt.Sprintf(`{"track-asset":"%s"}`, asset))
	assert.Equal(t, asset, client.trackAsset)

	frame(t, hub, client, `{"track-asset":"tooshort"}`)
	assert.Empty(t, client.trackAsset)
}
