package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Writer is the subset of Store the notifier needs.
type Writer interface {
	AddConnection(ctx context.Context, userID int64, connID string) error
	RemoveConnection(ctx context.Context, userID int64, connID string) error
	Refresh(ctx context.Context, userID int64) error
}

type update struct {
	online bool
	userID int64
	connID string
}

// Notifier implements hub.PresenceSink. Updates are queued and written by one worker, so
// Redis latency never reaches the hub loop; a full queue drops the update.
//
// The worker also counts live connections per user and, every refresh interval, extends
// the key TTLs of users that are still connected.
type Notifier struct {
	store   Writer
	queue   chan update
	timeout time.Duration
	refresh time.Duration
	log     *zap.SugaredLogger

	// owned by the worker
	live map[int64]int

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewNotifier returns a notifier with a queue of size updates. A refresh of zero disables
// TTL refreshing.
func NewNotifier(store Writer, size int, refresh time.Duration, log *zap.SugaredLogger) *Notifier {
	if size <= 0 {
		size = 1024
	}
	return &Notifier{
		store:   store,
		queue:   make(chan update, size),
		timeout: 2 * time.Second,
		refresh: refresh,
		log:     log,
		live:    make(map[int64]int),
		done:    make(chan struct{}),
	}
}

func (n *Notifier) Online(userID int64, connID string) {
	n.enqueue(update{online: true, userID: userID, connID: connID})
}

func (n *Notifier) Offline(userID int64, connID string) {
	n.enqueue(update{online: false, userID: userID, connID: connID})
}

func (n *Notifier) enqueue(u update) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- u:
	default:
		n.log.Warnw("presence queue full, update dropped", "user", u.userID, "online", u.online)
	}
}

// Run writes queued updates until Close is called and the queue is drained.
func (n *Notifier) Run() {
	defer close(n.done)

	var tick <-chan time.Time
	if n.refresh > 0 {
		t := time.NewTicker(n.refresh)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case u, ok := <-n.queue:
			if !ok {
				return
			}
			n.apply(u)
		case <-tick:
			n.refreshLive()
		}
	}
}

func (n *Notifier) refreshLive() {
	for userID := range n.live {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		err := n.store.Refresh(ctx, userID)
		cancel()
		if err != nil {
			n.log.Warnw("presence refresh failed", "user", userID, "err", err)
		}
	}
}

func (n *Notifier) apply(u update) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	var err error
	if u.online {
		n.live[u.userID]++
		err = n.store.AddConnection(ctx, u.userID, u.connID)
	} else {
		if n.live[u.userID] <= 1 {
			delete(n.live, u.userID)
		} else {
			n.live[u.userID]--
		}
		err = n.store.RemoveConnection(ctx, u.userID, u.connID)
	}
	if err != nil {
		n.log.Warnw("presence write failed", "user", u.userID, "online", u.online, "err", err)
	}
}

// Close stops accepting updates and waits for the worker to flush what is queued.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
