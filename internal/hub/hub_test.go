package hub

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/logger"
)

type presenceCall struct {
	online bool
	user   int64
	conn   string
}

type fakePresence struct {
	mu    sync.Mutex
	calls []presenceCall
}

func (p *fakePresence) Online(user int64, conn string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, presenceCall{online: true, user: user, conn: conn})
}

func (p *fakePresence) Offline(user int64, conn string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, presenceCall{online: false, user: user, conn: conn})
}

func (p *fakePresence) snapshot() []presenceCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]presenceCall(nil), p.calls...)
}

type fakeActivity struct {
	mu  sync.Mutex
	got []Activity
}

func (a *fakeActivity) MessageRouted(act Activity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.got = append(a.got, act)
}

type fakeObserver struct {
	mu      sync.Mutex
	dropped map[string]int
	opened  int
	closed  int
}

func (o *fakeObserver) Authenticated()        {}
func (o *fakeObserver) EventReceived(string)  {}
func (o *fakeObserver) Delivered(int)         {}
func (o *fakeObserver) DeliveryFailed(string) {}

func (o *fakeObserver) ConnectionOpened() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
}

func (o *fakeObserver) ConnectionClosed(bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
}

func (o *fakeObserver) EventDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dropped == nil {
		o.dropped = make(map[string]int)
	}
	o.dropped[reason]++
}

func startHub(t *testing.T, opts ...Option) *Hub {
	t.Helper()
	h := New(logger.Nop(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

// flush waits until every operation queued before it has been applied.
func flush(t *testing.T, h *Hub) Stats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := h.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	return st
}

func mustDispatch(t *testing.T, h *Hub, c *Client, frames ...string) {
	t.Helper()
	for _, f := range frames {
		if err := h.Dispatch(c, []byte(f)); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
}

func connectVia(t *testing.T, h *Hub, userID int64, channels ...int64) *Client {
	t.Helper()
	c := NewClient(16)
	if err := h.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	mustDispatch(t, h, c, authFrame(userID))
	for _, ch := range channels {
		mustDispatch(t, h, c, joinFrame(ch))
	}
	return c
}

func authFrame(u int64) string  { return `{"type":"auth","userId":` + strconv.FormatInt(u, 10) + `}` }
func joinFrame(ch int64) string { return `{"type":"join_channel","channelId":` + strconv.FormatInt(ch, 10) + `}` }

func TestHubChannelScenario(t *testing.T) {
	h := startHub(t)
	a := connectVia(t, h, 1, 5)
	b := connectVia(t, h, 2, 5)

	mustDispatch(t, h, a, `{"type":"new_message","channelId":5,"data":{"authorId":1,"content":"hi"}}`)
	flush(t, h)

	got := drain(b)
	want := `{"type":"new_message","message":{"authorId":1,"content":"hi"}}`
	if len(got) != 1 || got[0] != want {
		t.Fatalf("b got %v", got)
	}
	if got := drain(a); len(got) != 0 {
		t.Fatalf("a got %v", got)
	}
}

func TestHubMalformedDoesNotWedge(t *testing.T) {
	obs := &fakeObserver{}
	h := startHub(t, WithObserver(obs))
	a := connectVia(t, h, 1, 5)
	b := connectVia(t, h, 2, 5)

	mustDispatch(t, h, a,
		`not json at all`,
		`{"type":"mystery"}`,
		`{"type":"typing","channelId":5,"userId":1,"isTyping":true}`,
	)
	st := flush(t, h)

	if st.Connections != 2 {
		t.Fatalf("malformed input closed a connection: %+v", st)
	}
	got := drain(b)
	if len(got) != 1 || got[0] != `{"type":"typing","userId":1,"channelId":5,"isTyping":true}` {
		t.Fatalf("b got %v", got)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.dropped["malformed"] != 1 || obs.dropped["unknown_type"] != 1 {
		t.Fatalf("dropped = %v", obs.dropped)
	}
}

func TestHubPerConnectionOrder(t *testing.T) {
	h := startHub(t)
	a := connectVia(t, h, 1, 5)
	b := NewClient(64)
	if err := h.Register(b); err != nil {
		t.Fatal(err)
	}
	mustDispatch(t, h, b, authFrame(2), joinFrame(5))

	for i := 0; i < 20; i++ {
		mustDispatch(t, h, a, `{"type":"new_message","channelId":5,"data":{"authorId":1,"seq":`+strconv.Itoa(i)+`}}`)
	}
	flush(t, h)

	got := drain(b)
	if len(got) != 20 {
		t.Fatalf("got %d messages", len(got))
	}
	for i, m := range got {
		want := `{"type":"new_message","message":{"authorId":1,"seq":` + strconv.Itoa(i) + `}}`
		if m != want {
			t.Fatalf("message %d = %s, want %s", i, m, want)
		}
	}
}

func TestHubSmallQueueKeepsOrder(t *testing.T) {
	for _, size := range []int{1, 0} {
		h := startHub(t, WithQueueSize(size))
		if size == 0 && cap(h.ops) != defaultQueueSize {
			t.Fatalf("queue size 0: cap = %d, want default", cap(h.ops))
		}
		a := connectVia(t, h, 1, 5)
		b := connectVia(t, h, 2, 5)
		for i := 0; i < 10; i++ {
			mustDispatch(t, h, a, `{"type":"new_message","channelId":5,"data":{"authorId":1,"seq":`+strconv.Itoa(i)+`}}`)
		}
		flush(t, h)
		if got := drain(b); len(got) != 10 {
			t.Fatalf("queue size %d: b got %d messages", size, len(got))
		}
	}
}

func TestHubCloseLogsLifecycleState(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := New(zap.New(core).Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	defer func() {
		cancel()
		<-h.Done()
	}()

	a := connectVia(t, h, 1, 5)
	anon := NewClient(1)
	if err := h.Register(anon); err != nil {
		t.Fatal(err)
	}
	h.Unregister(a)
	h.Unregister(anon)
	flush(t, h)

	closed := logs.FilterMessage("connection closed").All()
	if len(closed) != 2 {
		t.Fatalf("closed entries = %d", len(closed))
	}
	want := map[string]string{a.ID: "authenticated", anon.ID: "unauthenticated"}
	for _, e := range closed {
		fields := e.ContextMap()
		id, _ := fields["conn"].(string)
		if fields["state"] != want[id] {
			t.Fatalf("conn %s state = %v, want %s", id, fields["state"], want[id])
		}
	}
}

func TestHubUnregisterIdempotent(t *testing.T) {
	obs := &fakeObserver{}
	pres := &fakePresence{}
	h := startHub(t, WithObserver(obs), WithPresence(pres))
	a := connectVia(t, h, 1, 5)
	b := connectVia(t, h, 2, 5)

	h.Unregister(a)
	h.Unregister(a)
	st := flush(t, h)

	if st.Connections != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if a.Open() {
		t.Fatal("removed client still open")
	}
	if _, ok := <-a.Outbound(); ok {
		t.Fatal("outbound queue not closed")
	}
	if !b.Open() {
		t.Fatal("other client affected")
	}
	obs.mu.Lock()
	closed := obs.closed
	obs.mu.Unlock()
	if closed != 1 {
		t.Fatalf("closed counted %d times", closed)
	}

	calls := pres.snapshot()
	var offline int
	for _, c := range calls {
		if !c.online && c.conn == a.ID {
			offline++
		}
	}
	if offline != 1 {
		t.Fatalf("offline notifications = %d, calls %+v", offline, calls)
	}
}

func TestHubLateEventAfterClose(t *testing.T) {
	obs := &fakeObserver{}
	h := startHub(t, WithObserver(obs))
	a := connectVia(t, h, 1, 5)
	b := connectVia(t, h, 2, 5)

	h.Unregister(a)
	mustDispatch(t, h, a, `{"type":"new_message","channelId":5,"data":{"authorId":1}}`)
	flush(t, h)

	if got := drain(b); len(got) != 0 {
		t.Fatalf("event from closed connection delivered: %v", got)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.dropped["unknown_connection"] != 1 {
		t.Fatalf("dropped = %v", obs.dropped)
	}
}

func TestHubPresenceOnAuth(t *testing.T) {
	pres := &fakePresence{}
	h := startHub(t, WithPresence(pres))
	c := NewClient(4)
	if err := h.Register(c); err != nil {
		t.Fatal(err)
	}
	mustDispatch(t, h, c, authFrame(9), authFrame(10))
	flush(t, h)

	calls := pres.snapshot()
	if len(calls) != 1 || !calls[0].online || calls[0].user != 9 || calls[0].conn != c.ID {
		t.Fatalf("calls = %+v", calls)
	}
	if uid, _ := c.UserID(); uid != 9 {
		t.Fatalf("rebound to %d", uid)
	}
}

func TestHubUnauthenticatedRemovalHasNoPresence(t *testing.T) {
	pres := &fakePresence{}
	h := startHub(t, WithPresence(pres))
	c := NewClient(4)
	if err := h.Register(c); err != nil {
		t.Fatal(err)
	}
	h.Unregister(c)
	flush(t, h)
	if calls := pres.snapshot(); len(calls) != 0 {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestHubActivity(t *testing.T) {
	act := &fakeActivity{}
	h := startHub(t, WithActivity(act))
	a := connectVia(t, h, 1, 5)
	connectVia(t, h, 2, 5)

	mustDispatch(t, h, a,
		`{"type":"new_message","channelId":5,"data":{"authorId":1,"content":"secret"}}`,
		`{"type":"new_message","recipientId":2,"data":{"authorId":1}}`,
		`{"type":"typing","channelId":5,"userId":1,"isTyping":true}`,
	)
	flush(t, h)

	act.mu.Lock()
	defer act.mu.Unlock()
	if len(act.got) != 2 {
		t.Fatalf("activities = %+v", act.got)
	}
	first, second := act.got[0], act.got[1]
	if first.ChannelID == nil || *first.ChannelID != 5 || first.RecipientID != nil || first.Recipients != 1 {
		t.Fatalf("channel activity = %+v", first)
	}
	if second.RecipientID == nil || *second.RecipientID != 2 || second.ChannelID != nil || second.Recipients != 1 {
		t.Fatalf("direct activity = %+v", second)
	}
	if first.ConnectionID != a.ID {
		t.Fatalf("connection id = %s", first.ConnectionID)
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	pres := &fakePresence{}
	h := New(logger.Nop(), WithPresence(pres))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	a := connectVia(t, h, 1)
	b := NewClient(4)
	if err := h.Register(b); err != nil {
		t.Fatal(err)
	}
	flush(t, h)

	cancel()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	if a.Open() || b.Open() {
		t.Fatal("clients left open after shutdown")
	}
	if err := h.Register(NewClient(1)); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("register after stop err = %v", err)
	}
	if _, err := h.Stats(context.Background()); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("stats after stop err = %v", err)
	}
	h.Unregister(a)

	var offline int
	for _, c := range pres.snapshot() {
		if !c.online {
			offline++
		}
	}
	if offline != 1 {
		t.Fatalf("offline = %d", offline)
	}
}

func TestHubInjectedRegistry(t *testing.T) {
	reg := NewRegistry()
	h := startHub(t, WithRegistry(reg))
	connectVia(t, h, 1, 5)
	st := flush(t, h)
	if st.Connections != 1 || st.Authenticated != 1 || st.Channels != 1 {
		t.Fatalf("stats = %+v", st)
	}
}
