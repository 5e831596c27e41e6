package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const (
	DefaultSendBuffer = 32
	DefaultReadLimit  = 1 << 20
	writeWait         = 5 * time.Second
)

type Options struct {
	ReadLimit       int64
	SendBuffer      int
	MaxViolations   int
	ViolationWindow time.Duration
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *ViolationLimiter

	readLimit  int64
	sendBuffer int
	wg         conc.WaitGroup
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	return &SignalWSController{
		Orch:       o,
		Limiter:    NewViolationLimiter(opts.MaxViolations, opts.ViolationWindow),
		readLimit:  opts.ReadLimit,
		sendBuffer: opts.SendBuffer,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Ping writes a websocket ping control frame; safe alongside the write pump.
func (c *WsSignalConn) Ping() error {
	if !c.IsOpen() {
		return ErrConnClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *WsSignalConn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
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

	id := domain.NewConnID()
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("client", token).Str("remote", c.ClientIP()).Msg("new WS connection")

	ws.SetReadLimit(ctl.readLimit)
	ws.SetPongHandler(func(string) error {
		ctl.Orch.Registry.MarkAlive(id)
		return nil
	})

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.sendBuffer),
	}
	ctl.Orch.Connect(id, conn, token)

	ctx, cancel := context.WithCancel(ctx)
	ctl.wg.Go(func() { ctl.writePump(ctx, id, conn) })
	ctl.wg.Go(func() { ctl.readPump(ctx, cancel, id, conn) })
}

// Wait blocks until every read and write pump has returned.
func (ctl *SignalWSController) Wait() { ctl.wg.Wait() }
