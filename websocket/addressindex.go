package websocket

import (
	"strings"

	"github.com/russeree/mempool/common"
)

// BuildAddressIndex maps every address and scriptpubkey touched by the given
// transactions to the transactions touching it. Outputs are indexed
// directly; inputs through their prevouts. Each key is indexed under both
// its encoded address (when one exists) and its raw script so that address,
// multi-address and scriptpubkey tracking all resolve through one lookup.
func BuildAddressIndex(txs []*common.TransactionExtended) map[string][]*common.TransactionExtended {
	index := make(map[string][]*common.TransactionExtended)
	for _, tx := range txs {
		seen := make(map[string]bool)
		add := func(key string) {
			if key == "" || seen[key] {
				return
			}
			seen[key] = true
			index[key] = append(index[key], tx)
		}
		for _, vin := range tx.Vin {
			if vin.Prevout == nil {
				continue
			}
			add(vin.Prevout.ScriptpubkeyAddress)
			add(strings.ToLower(vin.Prevout.Scriptpubkey))
		}
		for _, vout := range tx.Vout {
			add(vout.ScriptpubkeyAddress)
			add(strings.ToLower(vout.Scriptpubkey))
		}
	}
	return index
}
