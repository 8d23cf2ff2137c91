package websocket

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/russeree/mempool/common"
	"github.com/russeree/mempool/config"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameSize  = 1 << 20
	sendQueueSize = 256
)

// Hub owns the live client set, the shared snapshot and the collaborator
// handles. Every upstream event handler and every inbound frame runs against
// it.
type Hub struct {
	cfg      *config.YamlConf
	clients  cmap.ConcurrentMap[string, *Client]
	snapshot *Snapshot

	// eventMtx serializes the upstream event handlers so no two of them
	// interleave writes to the snapshot.
	eventMtx sync.Mutex

	nextClientId atomic.Uint64

	mempool       Mempool
	mempoolBlocks MempoolBlocks
	blocks        BlockSource
	rbfCache      RbfCache
	fees          FeeAPI
	da            DifficultyAdjuster
	prices        PriceFeed
	loading       LoadingIndicators
	backendInfo   BackendInfoSource
	txFetcher     TransactionFetcher
	auditor       Auditor
	repo          Repository
}

// HubConfig wires the collaborators into a Hub. Every field is required;
// invoking an event handler on a Hub missing one is a programming error.
type HubConfig struct {
	Mempool       Mempool
	MempoolBlocks MempoolBlocks
	Blocks        BlockSource
	RbfCache      RbfCache
	Fees          FeeAPI
	Difficulty    DifficultyAdjuster
	Prices        PriceFeed
	Loading       LoadingIndicators
	BackendInfo   BackendInfoSource
	TxFetcher     TransactionFetcher
	Auditor       Auditor
	Repository    Repository
}

func NewHub(cfg *config.YamlConf, collaborators HubConfig) *Hub {
	if collaborators.Mempool == nil || collaborators.MempoolBlocks == nil ||
		collaborators.Blocks == nil || collaborators.RbfCache == nil {
		panic("websocket: hub constructed without required collaborators")
	}
	return &Hub{
		cfg:           cfg,
		clients:       cmap.New[*Client](),
		snapshot:      NewSnapshot(),
		mempool:       collaborators.Mempool,
		mempoolBlocks: collaborators.MempoolBlocks,
		blocks:        collaborators.Blocks,
		rbfCache:      collaborators.RbfCache,
		fees:          collaborators.Fees,
		da:            collaborators.Difficulty,
		prices:        collaborators.Prices,
		loading:       collaborators.Loading,
		backendInfo:   collaborators.BackendInfo,
		txFetcher:     collaborators.TxFetcher,
		auditor:       collaborators.Auditor,
		repo:          collaborators.Repository,
	}
}

// Snapshot exposes the shared snapshot so collaborators can publish extra
// init fields.
func (h *Hub) Snapshot() *Snapshot {
	return h.snapshot
}

func (h *Hub) ClientCount() int {
	return h.clients.Count()
}

// clientSnapshot samples the live client set. Fan-out iterates this sample;
// clients connecting mid-event see the snapshot as of the last completed
// event instead.
func (h *Hub) clientSnapshot() []*Client {
	clients := make([]*Client, 0, h.clients.Count())
	for entry := range h.clients.IterBuffered() {
		clients = append(clients, entry.Val)
	}
	return clients
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Service is the gin-facing wrapper around the Hub.
type Service struct {
	hub *Hub
}

func NewService(hub *Hub) *Service {
	return &Service{hub: hub}
}

func (s *Service) InitRouter(r *gin.Engine, rateLimit int) {
	r.Use(cors.Default())
	if rateLimit > 0 {
		lmt := tollbooth.NewLimiter(float64(rateLimit), &limiter.ExpirableOptions{
			DefaultExpirationTTL: time.Minute,
		})
		r.GET("/api/v1/ws", rateLimitMiddleware(lmt), s.handleUpgrade)
	} else {
		r.GET("/api/v1/ws", s.handleUpgrade)
	}
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"clients": s.hub.ClientCount()})
	})
}

func (s *Service) Start(listen string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	s.InitRouter(r, s.hub.cfg.WebSocket.RateLimit)
	common.Log.Infof("websocket service listening on %s", listen)
	return r.Run(listen)
}

func rateLimitMiddleware(lmt *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := tollbooth.LimitByRequest(lmt, c.Writer, c.Request); err != nil {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}

func (s *Service) handleUpgrade(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		common.Log.Debugf("websocket upgrade failed: %v", err)
		return
	}
	s.hub.Register(conn, remoteAddress(c.Request))
}

// remoteAddress prefers the forwarded-for header over the socket peer.
func remoteAddress(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	return r.RemoteAddr
}

// Register adopts an upgraded connection: allocates the session, starts the
// pumps and adds it to the live set.
func (h *Hub) Register(conn *websocket.Conn, remote string) *Client {
	id := fmt.Sprintf("c%d", h.nextClientId.Add(1))
	client := newClient(id, conn, remote)
	h.clients.Set(id, client)
	common.Log.Debugf("client %s connected from %s (%d online)", id, remote, h.clients.Count())

	go h.writePump(client)
	go h.readPump(client)
	return client
}

func (h *Hub) unregister(client *Client) {
	client.close()
	h.clients.Remove(client.id)
	common.Log.Debugf("client %s disconnected (%d online)", client.id, h.clients.Count())
}

// readPump decodes inbound frames until the socket dies or a frame fails to
// decode. A decode failure closes the connection.
func (h *Hub) readPump(client *Client) {
	defer h.unregister(client)

	client.conn.SetReadLimit(maxFrameSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				common.Log.Debugf("client %s read error: %v", client.id, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := h.handleClientMessage(client, raw); err != nil {
			common.Log.Debugf("client %s sent an unparseable frame: %v", client.id, err)
			return
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}
