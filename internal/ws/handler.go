package ws

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/realtime-service/internal/hub"
)

// Hub is what the transport needs from the hub.
type Hub interface {
	Register(c *hub.Client) error
	Unregister(c *hub.Client)
	Dispatch(c *hub.Client, data []byte) error
}

type Options struct {
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteDeadline   time.Duration
	MaxMessageSize  int64
	SendBuffer      int
	RateLimitPerSec int
}

type Handler struct {
	hub  Hub
	opts Options
	log  *zap.SugaredLogger
}

func NewHandler(h Hub, opts Options, log *zap.SugaredLogger) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.PongWait <= opts.PingInterval {
		opts.PongWait = opts.PingInterval * 12 / 5
	}
	if opts.WriteDeadline <= 0 {
		opts.WriteDeadline = 10 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	return &Handler{hub: h, opts: opts, log: log}
}

// Serve owns conn until the transport closes. It blocks, as Fiber's websocket handler
// releases the connection when the handler returns.
func (h *Handler) Serve(conn Conn) {
	client := hub.NewClient(h.opts.SendBuffer)
	if err := h.hub.Register(client); err != nil {
		h.log.Warnw("hub unavailable, refusing connection", "err", err)
		_ = conn.Close()
		return
	}

	stop := make(chan struct{})
	written := make(chan struct{})
	go func() {
		defer close(written)
		h.writePump(conn, client, stop)
	}()

	h.readPump(conn, client)

	h.hub.Unregister(client)
	close(stop)
	_ = conn.Close()
	<-written
}

func (h *Handler) readPump(conn Conn, client *hub.Client) {
	conn.SetReadLimit(h.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	var limiter *rate.Limiter
	if h.opts.RateLimitPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.opts.RateLimitPerSec), h.opts.RateLimitPerSec)
	}

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debugw("read failed", "conn", client.ID, "err", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if limiter != nil && !limiter.Allow() {
			h.log.Debugw("inbound frame throttled", "conn", client.ID)
			continue
		}
		if err := h.hub.Dispatch(client, data); err != nil {
			h.log.Warnw("hub unavailable, closing connection", "conn", client.ID, "err", err)
			return
		}
	}
}

func (h *Handler) writePump(conn Conn, client *hub.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	out := client.Outbound()
	for {
		select {
		case b, ok := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteDeadline))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				h.log.Debugw("write failed", "conn", client.ID, "err", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
