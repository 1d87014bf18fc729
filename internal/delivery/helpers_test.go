package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock advances instantly on Sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sendCall struct {
	To string
	At time.Time
}

// stubSender records every call; fn decides the outcome.
type stubSender struct {
	clock Clock
	fn    func(p MailPayload) (Receipt, error)

	mu    sync.Mutex
	calls []sendCall
}

func (s *stubSender) Send(_ context.Context, p MailPayload) (Receipt, error) {
	s.mu.Lock()
	s.calls = append(s.calls, sendCall{To: p.To, At: s.clock.Now()})
	s.mu.Unlock()
	if s.fn == nil {
		return Receipt{MessageID: "<id@test>"}, nil
	}
	return s.fn(p)
}

func (s *stubSender) Calls() []sendCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sendCall(nil), s.calls...)
}

func (s *stubSender) CallsTo(to string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.To == to {
			n++
		}
	}
	return n
}

var errCarrier = errors.New("421 service not available")

func alwaysFail(MailPayload) (Receipt, error) {
	return Receipt{}, &TransportError{Op: "dial", Err: errCarrier}
}

type stubMirror struct {
	mu    sync.Mutex
	reqs  []MirrorRequest
	err   error
	panic bool
}

func (m *stubMirror) Mirror(_ context.Context, req MirrorRequest) error {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	if m.panic {
		panic("mirror exploded")
	}
	return m.err
}

func (m *stubMirror) Requests() []MirrorRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MirrorRequest(nil), m.reqs...)
}

func newTestQueue(t *testing.T, fn func(MailPayload) (Receipt, error), opts ...Option) (*Queue, *stubSender, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	s := &stubSender{clock: clk, fn: fn}
	q := NewQueue(s, DefaultPolicy(), append([]Option{WithClock(clk)}, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Close(ctx)
	})
	return q, s, clk
}

func wait(t *testing.T, p *Pending) (Receipt, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-p.Done():
	case <-ctx.Done():
		t.Fatal("timed out waiting for delivery result")
	}
	r, err, _ := p.Result()
	return r, err
}
