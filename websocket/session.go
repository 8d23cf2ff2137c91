package websocket

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/russeree/mempool/common"
)

const (
	// TrackRbfOff disables replacement tracking; the other two select the
	// narrow and the full-RBF tree feeds.
	TrackRbfOff     = ""
	TrackRbfAll     = "all"
	TrackRbfFullRbf = "fullRbf"
)

// Client is the per-connection session: the socket plumbing plus every
// subscription flag and tracking slot the inbound protocol can set. A slot
// always holds the validated canonical form or its zero value; limits are
// enforced when a slot is set, never during fan-out.
type Client struct {
	id            string
	conn          *websocket.Conn
	send          chan []byte
	closeOnce     sync.Once
	done          chan struct{}
	remoteAddress string

	mtx sync.Mutex

	wantBlocks        bool
	wantMempoolBlocks bool
	wantLive2hChart   bool
	wantStats         bool
	wantTomahawk      bool

	trackTx            string
	trackMempoolTx     string
	trackAddress       string
	trackAddresses     map[string]string
	trackScriptpubkeys []string
	trackAsset         string
	trackMempoolBlock  int
	trackRbf           string
	trackRbfSummary    bool
	trackDonation      string
	trackBisqMarket    string
}

func newClient(id string, conn *websocket.Conn, remoteAddress string) *Client {
	return &Client{
		id:                id,
		conn:              conn,
		send:              make(chan []byte, sendQueueSize),
		done:              make(chan struct{}),
		remoteAddress:     remoteAddress,
		trackMempoolBlock: -1,
	}
}

func (c *Client) RemoteAddress() string {
	return c.remoteAddress
}

// sendRaw queues a pre-serialized frame. A closed or saturated client is
// skipped; the write pump owns disconnection.
func (c *Client) sendRaw(payload string) {
	if payload == "" {
		return
	}
	select {
	case <-c.done:
	default:
		select {
		case c.send <- []byte(payload):
		default:
			common.Log.Debugf("client %s send queue full, dropping frame", c.remoteAddress)
		}
	}
}

// sendResponse serializes a fragment map and queues it. Empty responses are
// dropped.
func (c *Client) sendResponse(response map[string]string) {
	if len(response) == 0 {
		return
	}
	c.sendRaw(SerializeResponse(response))
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
