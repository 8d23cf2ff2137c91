package common

// MempoolInfo mirrors the node's getmempoolinfo result.
type MempoolInfo struct {
	Loaded        bool    `json:"loaded"`
	Size          int64   `json:"size"`
	Bytes         int64   `json:"bytes"`
	Usage         int64   `json:"usage"`
	TotalFee      float64 `json:"total_fee"`
	MaxMempool    int64   `json:"maxmempool"`
	MempoolMinFee float64 `json:"mempoolminfee"`
	MinRelayTxFee float64 `json:"minrelaytxfee"`
}

// MempoolBlock is the fee summary of one projected block.
type MempoolBlock struct {
	BlockSize  int64     `json:"blockSize"`
	BlockVSize float64   `json:"blockVSize"`
	NTx        int       `json:"nTx"`
	TotalFees  int64     `json:"totalFees"`
	MedianFee  float64   `json:"medianFee"`
	FeeRange   []float64 `json:"feeRange"`
}

type MempoolBlockWithTransactions struct {
	MempoolBlock
	TransactionIds []string               `json:"transactionIds"`
	Transactions   []*TransactionStripped `json:"transactions"`
}

// MempoolDeltaChange describes a transaction whose rate or flags moved
// between two projections without leaving its block.
type MempoolDeltaChange struct {
	Txid  string  `json:"txid"`
	Rate  float64 `json:"rate"`
	Flags uint64  `json:"flags"`
	Acc   bool    `json:"acc,omitempty"`
}

type MempoolBlockDelta struct {
	Added   []*TransactionStripped `json:"added"`
	Removed []string               `json:"removed"`
	Changed []*MempoolDeltaChange  `json:"changed"`
}

type RecommendedFees struct {
	FastestFee  int64 `json:"fastestFee"`
	HalfHourFee int64 `json:"halfHourFee"`
	HourFee     int64 `json:"hourFee"`
	EconomyFee  int64 `json:"economyFee"`
	MinimumFee  int64 `json:"minimumFee"`
}

type DifficultyAdjustment struct {
	PreviousTime          int64   `json:"previousTime"`
	ProgressPercent       float64 `json:"progressPercent"`
	DifficultyChange      float64 `json:"difficultyChange"`
	EstimatedRetargetDate int64   `json:"estimatedRetargetDate"`
	RemainingBlocks       int64   `json:"remainingBlocks"`
	RemainingTime         int64   `json:"remainingTime"`
	PreviousRetarget      float64 `json:"previousRetarget"`
	NextRetargetHeight    int64   `json:"nextRetargetHeight"`
	TimeAvg               int64   `json:"timeAvg"`
	TimeOffset            int64   `json:"timeOffset"`
	ExpectedBlocks        float64 `json:"expectedBlocks"`
}

type Prices struct {
	Time int64   `json:"time"`
	USD  float64 `json:"USD"`
	EUR  float64 `json:"EUR"`
	GBP  float64 `json:"GBP"`
	CAD  float64 `json:"CAD"`
	CHF  float64 `json:"CHF"`
	AUD  float64 `json:"AUD"`
	JPY  float64 `json:"JPY"`
}

type BackendInfo struct {
	Hostname  string `json:"hostname"`
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	Backend   string `json:"backend"`
}

// NodeHealth is one entry of the tomahawk host health report.
type NodeHealth struct {
	Host       string `json:"host"`
	Active     bool   `json:"active"`
	BestHeight int64  `json:"best_block_height"`
	Latency    int64  `json:"latency_ms,omitempty"`
}
