package hub

import (
	"sort"
	"testing"

	"github.com/fathima-sithara/realtime-service/internal/event"
	"github.com/fathima-sithara/realtime-service/internal/logger"
)

type fixture struct {
	reg     *Registry
	tracker *Tracker
	router  *Router
}

func newFixture() *fixture {
	reg := NewRegistry()
	tr := NewTracker(reg)
	return &fixture{reg: reg, tracker: tr, router: NewRouter(reg, tr, logger.Nop(), nil)}
}

// connect registers a client bound to userID and joined to channels.
func (f *fixture) connect(userID int64, channels ...int64) *Client {
	c := NewClient(8)
	f.reg.Register(c)
	f.reg.Authenticate(c, userID)
	for _, ch := range channels {
		f.tracker.Join(c, ch)
	}
	return c
}

func (f *fixture) route(t *testing.T, from *Client, raw string) Result {
	t.Helper()
	ev, err := event.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode(%s): %v", raw, err)
	}
	res, err := f.router.Route(from, ev)
	if err != nil {
		t.Fatalf("Route(%s): %v", raw, err)
	}
	return res
}

// drain returns whatever is queued for c without blocking.
func drain(c *Client) []string {
	var out []string
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, string(b))
		default:
			return out
		}
	}
}

func ids(cs ...*Client) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	sort.Strings(out)
	return out
}

func receivers(cs ...*Client) []string {
	var got []*Client
	for _, c := range cs {
		if len(drain(c)) > 0 {
			got = append(got, c)
		}
	}
	return ids(got...)
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
