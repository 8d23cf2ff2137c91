package common

// BlockExtras carries the derived per-block fields the fan-out layer and the
// audit pipeline attach to a freshly mined block.
type BlockExtras struct {
	TotalFees      int64     `json:"totalFees"`
	MedianFee      float64   `json:"medianFee"`
	FeeRange       []float64 `json:"feeRange"`
	Reward         int64     `json:"reward"`
	MatchRate      *float64  `json:"matchRate"`
	ExpectedFees   *uint64   `json:"expectedFees,omitempty"`
	ExpectedWeight *uint64   `json:"expectedWeight,omitempty"`
	Similarity     *float64  `json:"similarity,omitempty"`
}

type BlockExtended struct {
	Id                string       `json:"id"`
	Height            int64        `json:"height"`
	Version           uint32       `json:"version"`
	Timestamp         int64        `json:"timestamp"`
	Bits              uint32       `json:"bits"`
	Nonce             uint32       `json:"nonce"`
	Difficulty        float64      `json:"difficulty"`
	MerkleRoot        string       `json:"merkle_root"`
	TxCount           int          `json:"tx_count"`
	Size              int64        `json:"size"`
	Weight            int64        `json:"weight"`
	PreviousBlockHash string       `json:"previousblockhash"`
	MedianTime        int64        `json:"mediantime,omitempty"`
	Extras            *BlockExtras `json:"extras,omitempty"`
}

// AuditSummary is the outcome of comparing a projected block against the
// block that was actually mined.
type AuditSummary struct {
	Height         int64    `json:"height"`
	Hash           string   `json:"id"`
	Censored       []string `json:"censored"`
	Added          []string `json:"added"`
	Fresh          []string `json:"fresh"`
	Sigop          []string `json:"sigop"`
	FullRbf        []string `json:"fullrbf"`
	Accelerated    []string `json:"accelerated"`
	Score          float64  `json:"score"`
	Similarity     float64  `json:"similarity,omitempty"`
	ExpectedFees   uint64   `json:"expectedFees"`
	ExpectedWeight uint64   `json:"expectedWeight"`
}

// AccelerationRecord is persisted when an accelerated transaction is mined.
type AccelerationRecord struct {
	Txid      string  `json:"txid"`
	Height    int64   `json:"height"`
	BoostRate float64 `json:"boostRate"`
	BoostCost int64   `json:"boostCost"`
}
