package common

import "fmt"

// MempoolPosition locates a transaction inside the projected block array.
type MempoolPosition struct {
	Block int     `json:"block"`
	Vsize float64 `json:"vsize"`
}

type TxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
}

type Issuance struct {
	AssetId string `json:"asset_id"`
}

type Vin struct {
	Txid       string    `json:"txid"`
	Vout       uint32    `json:"vout"`
	Prevout    *Vout     `json:"prevout,omitempty"`
	Scriptsig  string    `json:"scriptsig,omitempty"`
	Witness    []string  `json:"witness,omitempty"`
	Sequence   uint32    `json:"sequence"`
	IsCoinbase bool      `json:"is_coinbase"`
	Issuance   *Issuance `json:"issuance,omitempty"`
	IsPegin    bool      `json:"is_pegin,omitempty"`
}

type Vout struct {
	Scriptpubkey        string `json:"scriptpubkey"`
	ScriptpubkeyType    string `json:"scriptpubkey_type,omitempty"`
	ScriptpubkeyAddress string `json:"scriptpubkey_address,omitempty"`
	Value               int64  `json:"value"`
	Asset               string `json:"asset,omitempty"`
	Pegout              bool   `json:"pegout,omitempty"`
}

// TxReference is the reduced form used in CPFP ancestor/descendant lists.
type TxReference struct {
	Txid   string  `json:"txid"`
	Fee    int64   `json:"fee"`
	Weight int64   `json:"weight"`
}

type CpfpInfo struct {
	Ancestors            []*TxReference `json:"ancestors"`
	BestDescendant       *TxReference   `json:"bestDescendant,omitempty"`
	Descendants          []*TxReference `json:"descendants,omitempty"`
	EffectiveFeePerVsize float64        `json:"effectiveFeePerVsize"`
	Sigops               int            `json:"sigops"`
	AdjustedVsize        float64        `json:"adjustedVsize"`
	Acceleration         bool           `json:"acceleration,omitempty"`
}

// TransactionExtended is the mempool-resident form of a transaction: the
// esplora wire shape plus everything the fan-out layer and template builder
// annotate onto it while it sits unconfirmed.
type TransactionExtended struct {
	Txid     string    `json:"txid"`
	Version  uint32    `json:"version"`
	Locktime uint32    `json:"locktime"`
	Size     int64     `json:"size"`
	Weight   int64     `json:"weight"`
	Fee      int64     `json:"fee"`
	Vin      []*Vin    `json:"vin"`
	Vout     []*Vout   `json:"vout"`
	Status   *TxStatus `json:"status,omitempty"`

	Vsize                float64          `json:"vsize"`
	AdjustedVsize        float64          `json:"adjustedVsize,omitempty"`
	Sigops               int              `json:"sigops,omitempty"`
	FeePerVsize          float64          `json:"feePerVsize,omitempty"`
	EffectiveFeePerVsize float64          `json:"effectiveFeePerVsize,omitempty"`
	FirstSeen            int64            `json:"firstSeen,omitempty"`
	Position             *MempoolPosition `json:"position,omitempty"`
	Acceleration         bool             `json:"acceleration,omitempty"`
	Ancestors            []*TxReference   `json:"ancestors,omitempty"`
	Descendants          []*TxReference   `json:"descendants,omitempty"`
	BestDescendant       *TxReference     `json:"bestDescendant,omitempty"`
	Flags                uint64           `json:"flags,omitempty"`

	// CpfpDirty makes the next mempool-change txPosition update for this
	// transaction carry its CPFP details. The template builder in package
	// mempool does not set it; nothing in this repository does.
	CpfpDirty bool `json:"-"`
}

// TransactionStripped is the compressed form shipped inside projected blocks
// and latest-transaction lists.
type TransactionStripped struct {
	Txid  string  `json:"txid"`
	Fee   int64   `json:"fee"`
	Vsize float64 `json:"vsize"`
	Value int64   `json:"value"`
	Rate  float64 `json:"rate,omitempty"`
	Flags uint64  `json:"flags,omitempty"`
	Acc   bool    `json:"acc,omitempty"`
}

// StripTransaction reduces an extended transaction to the compressed form.
func StripTransaction(tx *TransactionExtended) *TransactionStripped {
	var value int64
	for _, vout := range tx.Vout {
		value += vout.Value
	}
	rate := tx.EffectiveFeePerVsize
	if rate == 0 && tx.Vsize > 0 {
		rate = float64(tx.Fee) / tx.Vsize
	}
	return &TransactionStripped{
		Txid:  tx.Txid,
		Fee:   tx.Fee,
		Vsize: tx.Vsize,
		Value: value,
		Rate:  rate,
		Flags: tx.Flags,
		Acc:   tx.Acceleration,
	}
}

// Transaction flag bits carried in TransactionExtended.Flags.
const (
	TxFlagRbf         uint64 = 1 << 0
	TxFlagReplacement uint64 = 1 << 1
	TxFlagFullRbf     uint64 = 1 << 2
)

// OutpointKey is the spend-map key for a transaction input.
func OutpointKey(txid string, vout uint32) string {
	return fmt.Sprintf("%s:%d", txid, vout)
}

// SignalsRbf reports whether any input opts into BIP125 replacement.
func SignalsRbf(tx *TransactionExtended) bool {
	for _, vin := range tx.Vin {
		if vin.Sequence < 0xfffffffe {
			return true
		}
	}
	return false
}
