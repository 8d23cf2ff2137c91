package backend

import (
	"time"

	"github.com/OLProtocol/go-bitcoind"
	retry "github.com/avast/retry-go"
	"github.com/pkg/errors"

	"github.com/russeree/mempool/common"
	"github.com/russeree/mempool/config"
)

const rpcTimeout = 30

// Client wraps the node RPC connection. It implements the fan-out layer's
// TransactionFetcher contract and feeds the mempool engine and chain
// watcher.
type Client struct {
	rpc  *bitcoind.Bitcoind
	host string
}

func NewClient(cfg *config.Bitcoin) (*Client, error) {
	rpc, err := bitcoind.New(cfg.Host, cfg.Port, cfg.User, cfg.Password, false, rpcTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to bitcoind")
	}
	return &Client{rpc: rpc, host: cfg.Host}, nil
}

func (c *Client) GetMempoolTxids() ([]string, error) {
	return c.rpc.GetRawMempool()
}

func (c *Client) GetBlockCount() (uint64, error) {
	return c.rpc.GetBlockCount()
}

func (c *Client) GetBlockHash(height uint64) (string, error) {
	return c.rpc.GetBlockHash(height)
}

func (c *Client) GetRawBlock(blockHash string) (string, error) {
	return c.rpc.GetRawBlock(blockHash)
}

func (c *Client) GetBlockHeader(blockHash string) (*bitcoind.BlockHeader, error) {
	return c.rpc.GetBlockheader(blockHash)
}

func (c *Client) getRawTransaction(txid string) (*bitcoind.RawTransaction, error) {
	var result bitcoind.RawTransaction
	err := retry.Do(func() error {
		resp, err := c.rpc.GetRawTransaction(txid, true)
		if err != nil {
			return err
		}
		ret, ok := resp.(bitcoind.RawTransaction)
		if !ok {
			return errors.New("invalid RawTransaction type")
		}
		result = ret
		return nil
	}, retry.Attempts(2), retry.Delay(200*time.Millisecond))
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// FetchMempoolTransaction loads one transaction in its cheap form: no
// prevouts, fee unknown.
func (c *Client) FetchMempoolTransaction(txid string) (*common.TransactionExtended, error) {
	raw, err := c.getRawTransaction(txid)
	if err != nil {
		return nil, err
	}
	return convertRawTransaction(raw), nil
}

// GetMempoolTransactionExtended loads a transaction and, when requested,
// resolves every input's prevout so the fee and input addresses are known.
func (c *Client) GetMempoolTransactionExtended(txid string, addPrevouts bool) (*common.TransactionExtended, error) {
	tx, err := c.FetchMempoolTransaction(txid)
	if err != nil {
		return nil, err
	}
	if addPrevouts {
		if err := c.addPrevouts(tx); err != nil {
			common.Log.Debugf("failed to resolve prevouts for %s: %v", txid, err)
		}
	}
	return tx, nil
}

func (c *Client) GetFullTransactions(txs []*common.TransactionExtended) ([]*common.TransactionExtended, error) {
	full := make([]*common.TransactionExtended, 0, len(txs))
	for _, tx := range txs {
		fetched, err := c.GetMempoolTransactionExtended(tx.Txid, true)
		if err != nil {
			return nil, err
		}
		fetched.FirstSeen = tx.FirstSeen
		fetched.Position = tx.Position
		full = append(full, fetched)
	}
	return full, nil
}

func (c *Client) addPrevouts(tx *common.TransactionExtended) error {
	var inputValue int64
	for _, vin := range tx.Vin {
		if vin.IsCoinbase {
			return nil
		}
		prev, err := c.getRawTransaction(vin.Txid)
		if err != nil {
			return err
		}
		converted := convertRawTransaction(prev)
		if int(vin.Vout) >= len(converted.Vout) {
			return errors.Errorf("prevout %s:%d out of range", vin.Txid, vin.Vout)
		}
		vin.Prevout = converted.Vout[vin.Vout]
		inputValue += vin.Prevout.Value
	}
	var outputValue int64
	for _, vout := range tx.Vout {
		outputValue += vout.Value
	}
	if inputValue > outputValue {
		tx.Fee = inputValue - outputValue
	}
	return nil
}

// GetHealthStatus probes the node once and reports reachability, best
// height and round-trip latency.
func (c *Client) GetHealthStatus() []*common.NodeHealth {
	start := time.Now()
	height, err := c.rpc.GetBlockCount()
	health := &common.NodeHealth{
		Host:    c.host,
		Active:  err == nil,
		Latency: time.Since(start).Milliseconds(),
	}
	if err == nil {
		health.BestHeight = int64(height)
	}
	return []*common.NodeHealth{health}
}
