package orch

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/callrelay/internal/app"
	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []core.Frame
	closed bool
	full   bool

	// onSend runs after a frame is queued, onClose after the first Close.
	onSend  func()
	onClose func()
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return core.ErrConnClosed
	}
	if f.full {
		f.mu.Unlock()
		return core.ErrBackpressure
	}
	f.frames = append(f.frames, fr)
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	first := !f.closed
	f.closed = true
	hook := f.onClose
	f.mu.Unlock()
	if first && hook != nil {
		hook()
	}
}

func (f *fakeConn) setOnSend(fn func()) {
	f.mu.Lock()
	f.onSend = fn
	f.mu.Unlock()
}

func (f *fakeConn) setOnClose(fn func()) {
	f.mu.Lock()
	f.onClose = fn
	f.mu.Unlock()
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) setFull(full bool) {
	f.mu.Lock()
	f.full = full
	f.mu.Unlock()
}

// messages decodes every frame received so far.
func (f *fakeConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(fr, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range f.messages(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) last(t *testing.T) map[string]any {
	t.Helper()
	msgs := f.messages(t)
	require.NotEmpty(t, msgs, "no frames on %s", f.id)
	return msgs[len(msgs)-1]
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

type harness struct {
	o       *Orchestrator
	metrics *metrics.Metrics
}

func newHarness(opts Options, policy app.Policy, limiter *app.CallRateLimiter) *harness {
	m := metrics.New(prometheus.NewRegistry())
	return &harness{
		o: &Orchestrator{
			Registry: app.NewRegistry(),
			Calls:    app.NewCallTable(time.Minute),
			Policy:   policy,
			Limiter:  limiter,
			Metrics:  m,
			Options:  opts,
			Now:      func() time.Time { return testNow },
		},
		metrics: m,
	}
}

func newTestHarness() *harness {
	return newHarness(Options{CloseOnSupersede: true}, app.SimplePolicy{}, nil)
}

func (h *harness) connect(name string) (*core.Client, *fakeConn) {
	fc := &fakeConn{id: name}
	return core.NewClient(fc), fc
}

func (h *harness) send(c *core.Client, format string, args ...any) {
	h.o.OnMessage(c, []byte(fmt.Sprintf(format, args...)))
}

// register connects a client and binds it to uid, discarding the ack.
func (h *harness) register(t *testing.T, name string, uid int) (*core.Client, *fakeConn) {
	t.Helper()
	c, fc := h.connect(name)
	h.send(c, `{"type":"register","user_id":%d}`, uid)
	require.Equal(t, "registered", fc.last(t)["type"])
	fc.reset()
	return c, fc
}

// ringing sets up caller 1 -> target 2 on call c1 and clears all frames.
func (h *harness) ringing(t *testing.T) (a *core.Client, fa *fakeConn, b *core.Client, fb *fakeConn) {
	t.Helper()
	a, fa = h.register(t, "a", 1)
	b, fb = h.register(t, "b", 2)
	h.send(a, `{"type":"call_request","call_id":"c1","target_user_id":2,"call_type":"video"}`)
	require.Len(t, fb.ofType(t, "incoming_call"), 1)
	fa.reset()
	fb.reset()
	return a, fa, b, fb
}

func (h *harness) accepted(t *testing.T) (a *core.Client, fa *fakeConn, b *core.Client, fb *fakeConn) {
	t.Helper()
	a, fa, b, fb = h.ringing(t)
	h.send(b, `{"type":"call_response","call_id":"c1","response":"accept"}`)
	require.Len(t, fa.ofType(t, "call_accepted"), 1)
	fa.reset()
	fb.reset()
	return a, fa, b, fb
}
