package common

// RbfTransaction is the stripped transaction plus replacement markers, as it
// appears inside replacement trees.
type RbfTransaction struct {
	TransactionStripped
	Rbf     bool `json:"rbf"`
	Mined   bool `json:"mined,omitempty"`
	FullRbf bool `json:"fullRbf,omitempty"`
}

// RbfTree is one node of a replacement tree: the replacing transaction and
// the trees it superseded.
type RbfTree struct {
	Tx       *RbfTransaction `json:"tx"`
	Time     int64           `json:"time"`
	FullRbf  bool            `json:"fullRbf"`
	Mined    bool            `json:"mined,omitempty"`
	Replaces []*RbfTree      `json:"replaces"`
}

// ReplacementInfo is one row of the replacement summary feed.
type ReplacementInfo struct {
	Txid     string  `json:"txid"`
	OldFee   int64   `json:"oldFee"`
	OldVsize float64 `json:"oldVsize"`
	NewFee   int64   `json:"newFee"`
	NewVsize float64 `json:"newVsize"`
	Time     int64   `json:"time"`
	FullRbf  bool    `json:"fullRbf"`
	Mined    bool    `json:"mined,omitempty"`
}

func NewRbfTransaction(tx *TransactionExtended, fullRbf bool) *RbfTransaction {
	return &RbfTransaction{
		TransactionStripped: *StripTransaction(tx),
		Rbf:                 SignalsRbf(tx),
		FullRbf:             fullRbf,
	}
}
