package hub

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/event"
)

// Result summarises one routed event.
type Result struct {
	Recipients int
	Failed     int
}

// Router decides which connections receive an event and queues the payload on each.
// Delivery is fire and forget: a failed send is counted and skipped.
type Router struct {
	reg     *Registry
	tracker *Tracker
	log     *zap.SugaredLogger
	obs     Observer
}

func NewRouter(reg *Registry, tracker *Tracker, log *zap.SugaredLogger, obs Observer) *Router {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Router{reg: reg, tracker: tracker, log: log, obs: obs}
}

// Route applies ev on behalf of from. It returns an error wrapping apperr.ErrNotFound when
// from is no longer registered; nothing is delivered in that case.
func (r *Router) Route(from *Client, ev event.Event) (Result, error) {
	if !r.reg.Has(from) {
		return Result{}, fmt.Errorf("route %s from %s: %w", ev.Type(), from.ID, apperr.ErrNotFound)
	}

	switch e := ev.(type) {
	case event.Auth:
		if !r.reg.Authenticate(from, e.UserID) {
			r.log.Debugw("connection already bound, auth ignored", "conn", from.ID, "user", e.UserID)
		}
		return Result{}, nil

	case event.JoinChannel:
		r.tracker.Join(from, e.ChannelID)
		return Result{}, nil

	case event.LeaveChannel:
		r.tracker.Leave(from, e.ChannelID)
		return Result{}, nil

	case event.NewMessage:
		payload, err := event.EncodeMessage(e)
		if err != nil {
			return Result{}, fmt.Errorf("encode new_message: %w", err)
		}
		if e.ChannelScoped() {
			return r.toChannel(from, *e.ChannelID, payload), nil
		}
		return r.toUsers(from, payload, *e.RecipientID, *e.AuthorID), nil

	case event.Typing:
		payload, err := event.EncodeTyping(e)
		if err != nil {
			return Result{}, fmt.Errorf("encode typing: %w", err)
		}
		return r.toChannel(from, e.ChannelID, payload), nil

	default:
		return Result{}, fmt.Errorf("%w: %T", apperr.ErrUnknownEvent, ev)
	}
}

// toChannel sends to every other authenticated connection that joined channelID.
func (r *Router) toChannel(from *Client, channelID int64, payload []byte) Result {
	var res Result
	r.reg.forChannel(channelID, func(c *Client) {
		if c == from || !c.authenticated {
			return
		}
		r.send(c, payload, &res)
	})
	return res
}

// toUsers sends to every other connection bound to the recipient or to the author, so the
// author's other sessions see their own direct message.
func (r *Router) toUsers(from *Client, payload []byte, recipientID, authorID int64) Result {
	var res Result
	seen := make(map[*Client]struct{})
	visit := func(c *Client) {
		if c == from {
			return
		}
		if _, dup := seen[c]; dup {
			return
		}
		seen[c] = struct{}{}
		r.send(c, payload, &res)
	}
	r.reg.forUser(recipientID, visit)
	r.reg.forUser(authorID, visit)
	return res
}

func (r *Router) send(c *Client, payload []byte, res *Result) {
	if err := c.deliver(payload); err != nil {
		res.Failed++
		reason := "error"
		switch {
		case errors.Is(err, apperr.ErrSendBufferFull):
			reason = "buffer_full"
		case errors.Is(err, apperr.ErrConnectionClosed):
			reason = "closed"
		}
		r.obs.DeliveryFailed(reason)
		r.log.Debugw("delivery dropped", "conn", c.ID, "reason", reason)
		return
	}
	res.Recipients++
}
