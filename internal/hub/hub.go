package hub

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/event"
)

const defaultQueueSize = 1024

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opInbound
	opStats
)

type op struct {
	kind   opKind
	client *Client
	data   []byte
	reply  chan Stats
}

// Hub owns the registry and runs every mutation and routing step on one goroutine.
// Register, Unregister and Dispatch share one FIFO queue, so events from a single
// connection are handled in the order they were read, and before its removal.
type Hub struct {
	registry *Registry
	tracker  *Tracker
	router   *Router

	ops  chan op
	done chan struct{}

	log      *zap.SugaredLogger
	obs      Observer
	presence PresenceSink
	activity ActivitySink
}

type Option func(*Hub)

func WithObserver(o Observer) Option     { return func(h *Hub) { h.obs = o } }
func WithPresence(p PresenceSink) Option { return func(h *Hub) { h.presence = p } }
func WithActivity(a ActivitySink) Option { return func(h *Hub) { h.activity = a } }
func WithRegistry(r *Registry) Option    { return func(h *Hub) { h.registry = r } }

// WithQueueSize sets the capacity of the operation queue shared by every connection.
// Values below one keep the default.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.ops = make(chan op, n)
		}
	}
}

func New(log *zap.SugaredLogger, opts ...Option) *Hub {
	h := &Hub{
		registry: NewRegistry(),
		ops:      make(chan op, defaultQueueSize),
		done:     make(chan struct{}),
		log:      log,
		obs:      nopObserver{},
		presence: nopPresence{},
		activity: nopActivity{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.tracker = NewTracker(h.registry)
	h.router = NewRouter(h.registry, h.tracker, log, h.obs)
	return h
}

// Run processes queued operations until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case o := <-h.ops:
			h.apply(o)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) Register(c *Client) error {
	return h.enqueue(op{kind: opRegister, client: c})
}

func (h *Hub) Unregister(c *Client) {
	_ = h.enqueue(op{kind: opUnregister, client: c})
}

// Dispatch queues one raw inbound frame from c.
func (h *Hub) Dispatch(c *Client, data []byte) error {
	return h.enqueue(op{kind: opInbound, client: c, data: data})
}

// Stats returns counts computed on the hub goroutine.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := h.enqueue(op{kind: opStats, reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-h.done:
		return Stats{}, apperr.ErrUnavailable
	}
}

func (h *Hub) enqueue(o op) error {
	select {
	case <-h.done:
		return apperr.ErrUnavailable
	default:
	}
	select {
	case h.ops <- o:
		return nil
	case <-h.done:
		return apperr.ErrUnavailable
	}
}

func (h *Hub) apply(o op) {
	switch o.kind {
	case opRegister:
		h.register(o.client)
	case opUnregister:
		h.remove(o.client)
	case opInbound:
		h.handle(o.client, o.data)
	case opStats:
		o.reply <- h.registry.Stats()
	}
}

func (h *Hub) register(c *Client) {
	h.registry.Register(c)
	h.obs.ConnectionOpened()
	h.log.Infow("connection opened", "conn", c.ID)
}

// remove drops c and closes its outbound queue. Safe to call more than once.
func (h *Hub) remove(c *Client) {
	userID, authed := c.UserID()
	state, channels := c.State(), c.Channels()
	if !h.registry.Remove(c) {
		c.close()
		return
	}
	c.close()
	h.obs.ConnectionClosed(authed)
	if authed {
		h.presence.Offline(userID, c.ID)
	}
	h.log.Infow("connection closed", "conn", c.ID, "user", userID, "state", state.String(),
		"channels", channels, "duration", time.Since(c.ConnectedAt).Round(time.Millisecond))
}

// handle decodes and routes one frame. Every failure stays local to this frame.
func (h *Hub) handle(c *Client, data []byte) {
	ev, err := event.Decode(data)
	if err != nil {
		if errors.Is(err, apperr.ErrUnknownEvent) {
			h.obs.EventDropped("unknown_type")
			h.log.Debugw("unknown event dropped", "conn", c.ID, "err", err)
			return
		}
		h.obs.EventDropped("malformed")
		h.log.Warnw("malformed event dropped", "conn", c.ID, "err", err)
		return
	}
	h.obs.EventReceived(string(ev.Type()))

	_, wasAuthed := c.UserID()
	res, err := h.router.Route(c, ev)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			h.obs.EventDropped("unknown_connection")
			h.log.Debugw("event for unknown connection ignored", "conn", c.ID, "type", ev.Type())
			return
		}
		h.obs.EventDropped("encode")
		h.log.Warnw("event dropped", "conn", c.ID, "type", ev.Type(), "err", err)
		return
	}

	if userID, authed := c.UserID(); authed && !wasAuthed {
		h.obs.Authenticated()
		h.presence.Online(userID, c.ID)
		h.log.Infow("connection authenticated", "conn", c.ID, "user", userID)
	}
	if res.Recipients > 0 {
		h.obs.Delivered(res.Recipients)
	}
	if m, ok := ev.(event.NewMessage); ok {
		a := Activity{
			Type:         string(event.TypeNewMessage),
			AuthorID:     m.AuthorID,
			ConnectionID: c.ID,
			Recipients:   res.Recipients,
			At:           time.Now().UTC(),
		}
		if m.ChannelScoped() {
			a.ChannelID = m.ChannelID
		} else {
			a.RecipientID = m.RecipientID
		}
		h.activity.MessageRouted(a)
	}
}

func (h *Hub) shutdown() {
	var all []*Client
	h.registry.ForEach(func(c *Client) { all = append(all, c) })
	for _, c := range all {
		h.remove(c)
	}
	h.log.Infow("hub stopped", "closed", len(all))
}
