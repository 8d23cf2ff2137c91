package common

import "sort"

// NativeAssetId is the sidechain's built-in asset. Pegs count toward it even
// though peg-in outputs do not carry an explicit asset tag.
const NativeAssetId = "6f0279e9ed041c3d710a9f57d0c02928416460c4b722ae3457a11eec381c526d"

// FindRbfTransactions maps each newly added transaction to the deleted
// transactions it replaced, i.e. the deleted transactions spending at least
// one input the new transaction also spends.
func FindRbfTransactions(added []*TransactionExtended, deleted []*TransactionExtended) map[string][]*TransactionExtended {
	matches := make(map[string][]*TransactionExtended)
	if len(added) == 0 || len(deleted) == 0 {
		return matches
	}

	spent := make(map[string]*TransactionExtended)
	for _, tx := range deleted {
		for _, vin := range tx.Vin {
			spent[OutpointKey(vin.Txid, vin.Vout)] = tx
		}
	}

	for _, tx := range added {
		seen := make(map[string]bool)
		for _, vin := range tx.Vin {
			replaced, ok := spent[OutpointKey(vin.Txid, vin.Vout)]
			if !ok || replaced.Txid == tx.Txid || seen[replaced.Txid] {
				continue
			}
			seen[replaced.Txid] = true
			matches[tx.Txid] = append(matches[tx.Txid], replaced)
		}
	}
	return matches
}

// FindMinedRbfTransactions maps each mined transaction to the mempool
// transactions it displaced by spending the same inputs.
func FindMinedRbfTransactions(minedTransactions []*TransactionExtended, spendMap map[string]*TransactionExtended) map[string][]*TransactionExtended {
	matches := make(map[string][]*TransactionExtended)
	for _, mined := range minedTransactions {
		seen := make(map[string]bool)
		for _, vin := range mined.Vin {
			conflict, ok := spendMap[OutpointKey(vin.Txid, vin.Vout)]
			if !ok || conflict.Txid == mined.Txid || seen[conflict.Txid] {
				continue
			}
			seen[conflict.Txid] = true
			matches[mined.Txid] = append(matches[mined.Txid], conflict)
		}
	}
	return matches
}

// GetSimilarity scores how much of the projected block was actually mined,
// weighted by vsize. Returns a value in [0, 1].
func GetSimilarity(projected *MempoolBlockWithTransactions, minedTxids []string) float64 {
	if projected == nil || len(projected.TransactionIds) == 0 {
		return 0
	}
	mined := make(map[string]bool, len(minedTxids))
	for _, txid := range minedTxids {
		mined[txid] = true
	}
	var total, matched float64
	for _, tx := range projected.Transactions {
		total += tx.Vsize
		if mined[tx.Txid] {
			matched += tx.Vsize
		}
	}
	if total == 0 {
		return 0
	}
	return matched / total
}

// Median of a fee-rate sample. The input is not modified.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// FeeRange picks evenly spaced percentiles (low to high) from a sorted
// ascending fee-rate sample.
func FeeRange(sortedRates []float64, steps int) []float64 {
	if len(sortedRates) == 0 || steps <= 0 {
		return []float64{}
	}
	rng := make([]float64, 0, steps+1)
	for i := 0; i <= steps; i++ {
		idx := i * (len(sortedRates) - 1) / steps
		rng = append(rng, sortedRates[idx])
	}
	return rng
}
