package mempool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/russeree/mempool/common"
)

func spendingTx(txid, parent string, vout uint32) *common.TransactionExtended {
	return &common.TransactionExtended{
		Txid:  txid,
		Vsize: 100,
		Vin:   []*common.Vin{{Txid: parent, Vout: vout}},
	}
}

func TestApplyDelta(t *testing.T) {
	m := New()
	tx1 := spendingTx("tx1", "p", 0)
	tx2 := spendingTx("tx2", "p", 1)
	m.ApplyDelta([]*common.TransactionExtended{tx1, tx2}, nil)

	assert.Len(t, m.GetMempool(), 2)
	assert.NotZero(t, tx1.FirstSeen)
	latest := m.GetLatestTransactions()
	require.Len(t, latest, 2)
	assert.Equal(t, "tx2", latest[0].Txid, "newest first")

	m.ApplyDelta(nil, []*common.TransactionExtended{tx1})
	assert.Len(t, m.GetMempool(), 1)
}

func TestLatestTransactionsCapped(t *testing.T) {
	m := New()
	var added []*common.TransactionExtended
	for i := 0; i < latestTransactionsCount+4; i++ {
		added = append(added, spendingTx(string(rune('a'+i)), "p", uint32(i)))
	}
	m.ApplyDelta(added, nil)
	assert.Len(t, m.GetLatestTransactions(), latestTransactionsCount)
}

func TestSpendMap(t *testing.T) {
	m := New()
	tx := spendingTx("child", "parent", 2)
	m.AddToSpendMap([]*common.TransactionExtended{tx})

	spendMap := m.GetSpendMap()
	owner, ok := spendMap[common.OutpointKey("parent", 2)]
	require.True(t, ok)
	assert.Equal(t, "child", owner.Txid)

	// Removal only drops entries still owned by the removed transaction.
	other := spendingTx("other", "parent", 2)
	m.AddToSpendMap([]*common.TransactionExtended{other})
	m.RemoveFromSpendMap([]*common.TransactionExtended{tx})
	owner, ok = m.GetSpendMap()[common.OutpointKey("parent", 2)]
	require.True(t, ok)
	assert.Equal(t, "other", owner.Txid)

	m.RemoveFromSpendMap([]*common.TransactionExtended{other})
	assert.Empty(t, m.GetSpendMap())
}

func TestHandleRbfTransactionsFlags(t *testing.T) {
	m := New()
	replacement := spendingTx("new", "p", 0)
	replacement.Vin[0].Sequence = 0xffffffff
	m.ApplyDelta([]*common.TransactionExtended{replacement}, nil)

	optOut := spendingTx("old", "p", 0)
	optOut.Vin[0].Sequence = 0xffffffff
	m.HandleRbfTransactions(map[string][]*common.TransactionExtended{
		"new": {optOut},
	})

	tx := m.GetMempool()["new"]
	assert.NotZero(t, tx.Flags&common.TxFlagReplacement)
	assert.NotZero(t, tx.Flags&common.TxFlagFullRbf, "replacing a non-signaling tx is full-RBF")
}

func TestHandleMinedRbfTransactionsEvicts(t *testing.T) {
	m := New()
	displaced := spendingTx("displaced", "p", 0)
	m.ApplyDelta([]*common.TransactionExtended{displaced}, nil)

	m.HandleMinedRbfTransactions(map[string][]*common.TransactionExtended{
		"mined": {displaced},
	})
	assert.NotContains(t, m.GetMempool(), "displaced")
}

func TestRemoveFromMempool(t *testing.T) {
	m := New()
	m.ApplyDelta([]*common.TransactionExtended{spendingTx("a", "p", 0)}, nil)
	m.RemoveFromMempool([]string{"a", "missing"})
	assert.Empty(t, m.GetMempool())
}

func TestInSyncFlag(t *testing.T) {
	m := New()
	assert.False(t, m.IsInSync())
	m.SetInSync(true)
	assert.True(t, m.IsInSync())
}
