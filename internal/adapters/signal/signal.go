package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/callrelay/internal/app/orch"
	"github.com/dkeye/callrelay/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Settings are the per-connection transport limits.
type Settings struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	Settings Settings
}

func NewSignalWSController(o *orch.Orchestrator, s Settings) *SignalWSController {
	return &SignalWSController{Orch: o, Settings: s}
}

// WsSignalConn is a WebSocket endpoint with a bounded outbound queue.
// It implements core.SignalConnection.
type WsSignalConn struct {
	id   string
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(id string, conn *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		id:   id,
		conn: conn,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) ID() string { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Close stops accepting frames. writePump flushes what is queued, sends a
// close frame and then closes the socket.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(uuid.NewString(), ws, ctl.Settings.SendBuffer)
	client := core.NewClient(conn)
	log.Info().Str("module", "signal").Str("conn", conn.ID()).Str("token", token).
		Str("remote", ws.RemoteAddr().String()).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, client, conn)
}
