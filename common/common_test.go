package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tx(txid string, inputs ...*Vin) *TransactionExtended {
	return &TransactionExtended{Txid: txid, Vin: inputs}
}

func TestFindRbfTransactions(t *testing.T) {
	old := tx("old1", &Vin{Txid: "parent", Vout: 0, Sequence: 0})
	unrelated := tx("old2", &Vin{Txid: "parent", Vout: 1, Sequence: 0})
	replacement := tx("new1", &Vin{Txid: "parent", Vout: 0, Sequence: 0})

	matches := FindRbfTransactions(
		[]*TransactionExtended{replacement},
		[]*TransactionExtended{old, unrelated})

	require.Len(t, matches, 1)
	require.Len(t, matches["new1"], 1)
	assert.Equal(t, "old1", matches["new1"][0].Txid)
}

func TestFindRbfTransactionsNoOverlap(t *testing.T) {
	added := []*TransactionExtended{tx("a", &Vin{Txid: "x", Vout: 0})}
	deleted := []*TransactionExtended{tx("b", &Vin{Txid: "y", Vout: 0})}
	assert.Empty(t, FindRbfTransactions(added, deleted))
	assert.Empty(t, FindRbfTransactions(nil, deleted))
}

func TestFindMinedRbfTransactions(t *testing.T) {
	conflicting := tx("pool1", &Vin{Txid: "parent", Vout: 3})
	spendMap := map[string]*TransactionExtended{
		OutpointKey("parent", 3): conflicting,
	}
	mined := tx("mined1", &Vin{Txid: "parent", Vout: 3})

	matches := FindMinedRbfTransactions([]*TransactionExtended{mined}, spendMap)
	require.Len(t, matches["mined1"], 1)
	assert.Equal(t, "pool1", matches["mined1"][0].Txid)

	// A transaction never conflicts with itself.
	spendMap[OutpointKey("parent", 3)] = mined
	assert.Empty(t, FindMinedRbfTransactions([]*TransactionExtended{mined}, spendMap))
}

func TestSignalsRbf(t *testing.T) {
	assert.True(t, SignalsRbf(tx("a", &Vin{Sequence: 0xfffffffd})))
	assert.False(t, SignalsRbf(tx("b", &Vin{Sequence: 0xfffffffe})))
	assert.False(t, SignalsRbf(tx("c", &Vin{Sequence: 0xffffffff})))
}

func TestStripTransaction(t *testing.T) {
	extended := &TransactionExtended{
		Txid:  "abc",
		Fee:   500,
		Vsize: 250,
		Vout: []*Vout{
			{Value: 1000},
			{Value: 2500},
		},
	}
	stripped := StripTransaction(extended)
	assert.Equal(t, "abc", stripped.Txid)
	assert.Equal(t, int64(500), stripped.Fee)
	assert.Equal(t, int64(3500), stripped.Value)
	assert.Equal(t, 2.0, stripped.Rate)

	extended.EffectiveFeePerVsize = 4
	assert.Equal(t, 4.0, StripTransaction(extended).Rate)
}

func TestGetSimilarity(t *testing.T) {
	projected := &MempoolBlockWithTransactions{
		TransactionIds: []string{"a", "b"},
		Transactions: []*TransactionStripped{
			{Txid: "a", Vsize: 300},
			{Txid: "b", Vsize: 100},
		},
	}
	assert.Equal(t, 0.75, GetSimilarity(projected, []string{"a", "c"}))
	assert.Equal(t, 1.0, GetSimilarity(projected, []string{"a", "b"}))
	assert.Equal(t, 0.0, GetSimilarity(nil, []string{"a"}))
	assert.Equal(t, 0.0, GetSimilarity(&MempoolBlockWithTransactions{}, []string{"a"}))
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 5.0, Median([]float64{5}))
	assert.Equal(t, 2.5, Median([]float64{1, 2, 3, 4}))
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
}

func TestFeeRange(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	rng := FeeRange(sorted, 4)
	assert.Equal(t, []float64{1, 3, 5, 7, 9}, rng)
	assert.Empty(t, FeeRange(nil, 4))
}
