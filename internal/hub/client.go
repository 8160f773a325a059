package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
)

const DefaultSendBuffer = 256

// Client is the registry's view of one live transport session. Identity and membership
// are only touched from the hub loop; the outbound queue is drained by the transport.
type Client struct {
	ID          string
	ConnectedAt time.Time

	userID        int64
	authenticated bool
	channels      map[int64]struct{}

	send   chan []byte
	mu     sync.Mutex
	closed bool
}

func NewClient(sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Client{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now().UTC(),
		channels:    make(map[int64]struct{}),
		send:        make(chan []byte, sendBuffer),
	}
}

// Outbound is drained by the transport writer. It is closed when the hub drops the client.
func (c *Client) Outbound() <-chan []byte { return c.send }

// UserID returns the bound identity and whether the client has authenticated.
func (c *Client) UserID() (int64, bool) { return c.userID, c.authenticated }

func (c *Client) InChannel(channelID int64) bool {
	_, ok := c.channels[channelID]
	return ok
}

// Channels returns a copy of the joined channel ids. Like State it reads hub-owned state.
func (c *Client) Channels() []int64 {
	out := make([]int64, 0, len(c.channels))
	for id := range c.channels {
		out = append(out, id)
	}
	return out
}

func (c *Client) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// deliver queues b without blocking. A full queue drops b.
func (c *Client) deliver(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return apperr.ErrConnectionClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return apperr.ErrSendBufferFull
	}
}

func (c *Client) close() {
	c.mu.Lock()
	if !c.closed {
		close(c.send)
		c.closed = true
	}
	c.mu.Unlock()
}

// State is the lifecycle stage of a connection.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// State reads hub-owned fields; call it from the hub goroutine or after the hub has stopped.
func (c *Client) State() State {
	if !c.Open() {
		return StateClosed
	}
	if c.authenticated {
		return StateAuthenticated
	}
	return StateUnauthenticated
}
