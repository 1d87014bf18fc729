package delivery

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"mailqueue/internal/eventbus"
	logx "mailqueue/pkg/logx"
)

const (
	DefaultMaxAttempts = 3
	DefaultSendTimeout = 30 * time.Second

	mirrorTimeout = 10 * time.Second
)

// Policy holds the queue's tunables. Zero fields take the defaults.
type Policy struct {
	MaxAttempts       int
	GlobalLimit       int
	GlobalWindow      time.Duration
	RecipientInterval time.Duration
	// BlockThreshold and HistorySize are fixed at construction; Apply ignores them.
	BlockThreshold int
	HistorySize    int
	SendTimeout    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       DefaultMaxAttempts,
		GlobalLimit:       DefaultGlobalLimit,
		GlobalWindow:      DefaultGlobalWindow,
		RecipientInterval: DefaultRecipientInterval,
		BlockThreshold:    DefaultBlockThreshold,
		HistorySize:       DefaultHistorySize,
		SendTimeout:       DefaultSendTimeout,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.GlobalLimit <= 0 {
		p.GlobalLimit = d.GlobalLimit
	}
	if p.GlobalWindow <= 0 {
		p.GlobalWindow = d.GlobalWindow
	}
	if p.RecipientInterval < 0 {
		p.RecipientInterval = 0
	} else if p.RecipientInterval == 0 {
		p.RecipientInterval = d.RecipientInterval
	}
	if p.BlockThreshold <= 0 {
		p.BlockThreshold = d.BlockThreshold
	}
	if p.HistorySize <= 0 {
		p.HistorySize = d.HistorySize
	}
	if p.SendTimeout <= 0 {
		p.SendTimeout = d.SendTimeout
	}
	return p
}

type Option func(*Queue)

func WithMirror(m Mirror) Option      { return func(q *Queue) { q.mirror = m } }
func WithClock(c Clock) Option        { return func(q *Queue) { q.clock = c } }
func WithLogger(l logx.Logger) Option { return func(q *Queue) { q.log = l } }
func WithBus(b eventbus.Bus) Option   { return func(q *Queue) { q.bus = b } }
func WithArchive(a Archive) Option    { return func(q *Queue) { q.archive = a } }

type queueItem struct {
	payload  MailPayload
	attempts int
	pending  *Pending
}

// Stats is a point-in-time snapshot for the admin view.
type Stats struct {
	Pending   int    `json:"pending"`
	Running   bool   `json:"running"`
	Closed    bool   `json:"closed"`
	Submitted uint64 `json:"submitted"`
	Sent      uint64 `json:"sent"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
	Blocked   int    `json:"blocked"`
}

// MailEvent is the Data of every mail.* bus event.
type MailEvent struct {
	To       string   `json:"to"`
	Subject  string   `json:"subject"`
	Category Category `json:"category"`
	Attempt  int      `json:"attempt,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Queue is the delivery queue: a FIFO buffer drained by at most one worker goroutine.
//
// The worker starts on the first Submit while idle and exits when the buffer is empty.
// Failed sends are requeued at the tail, so one failing recipient cannot hold the worker.
type Queue struct {
	sender  Sender
	mirror  Mirror
	clock   Clock
	log     logx.Logger
	bus     eventbus.Bus
	archive Archive

	limiter *RateLimiter
	breaker *CircuitBreaker
	history *History

	runCtx context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	policy  Policy
	items   []*queueItem
	running bool
	closed  bool
	idle    chan struct{} // closed when the current worker exits

	submitted atomic.Uint64
	sent      atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
}

func NewQueue(sender Sender, policy Policy, opts ...Option) *Queue {
	q := &Queue{sender: sender, policy: policy.withDefaults()}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	if q.clock == nil {
		q.clock = SystemClock()
	}
	if q.log.IsZero() {
		q.log = logx.Nop()
	}
	q.log = q.log.With(logx.String("comp", "delivery"))

	p := q.policy
	q.limiter = NewRateLimiter(q.clock, p.GlobalLimit, p.GlobalWindow, p.RecipientInterval)
	q.breaker = NewCircuitBreaker(p.BlockThreshold)
	q.history = NewHistory(p.HistorySize, q.clock)
	if q.archive != nil {
		q.history.SetArchive(q.archive, q.log)
	}
	q.runCtx, q.cancel = context.WithCancel(context.Background())
	return q
}

func (q *Queue) History() *History        { return q.history }
func (q *Queue) Breaker() *CircuitBreaker { return q.breaker }
func (q *Queue) Limiter() *RateLimiter    { return q.limiter }

func (q *Queue) Policy() Policy {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.policy
}

// Apply swaps the hot-reloadable part of the policy.
func (q *Queue) Apply(p Policy) {
	p = p.withDefaults()
	q.mu.Lock()
	p.BlockThreshold = q.policy.BlockThreshold
	p.HistorySize = q.policy.HistorySize
	q.policy = p
	q.mu.Unlock()
	q.limiter.SetLimits(p.GlobalLimit, p.GlobalWindow, p.RecipientInterval)
}

// Submit enqueues p and makes sure the worker is running.
// The returned Pending resolves once the item reaches a terminal outcome.
func (q *Queue) Submit(p MailPayload) *Pending {
	pending := newPending()
	p.Category = ParseCategory(string(p.Category))

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		pending.resolve(Receipt{}, ErrStopped)
		return pending
	}
	q.items = append(q.items, &queueItem{payload: p, pending: pending})
	start := !q.running
	var done chan struct{}
	if start {
		q.running = true
		done = make(chan struct{})
		q.idle = done
	}
	q.mu.Unlock()

	q.submitted.Add(1)
	q.publish("mail.queued", p, 0, nil)
	if start {
		go q.run(done)
	}
	return pending
}

func (q *Queue) run(done chan struct{}) {
	defer close(done)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		it := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		if q.runCtx.Err() != nil {
			q.stopItem(it)
			continue
		}
		q.process(q.runCtx, it)
	}
}

func (q *Queue) process(ctx context.Context, it *queueItem) {
	p := it.payload

	if q.breaker.IsBlocked(p.To) {
		q.history.Record(HistoryEntry{Category: p.Category, To: p.To, Subject: p.Subject, Status: StatusSkipped, Error: ErrRecipientBlocked.Error()})
		q.skipped.Add(1)
		q.publish("mail.skipped", p, it.attempts, ErrRecipientBlocked)
		q.log.Info("mail skipped: recipient blocked", logx.String("to", p.To), logx.String("subject", p.Subject))
		it.pending.resolve(Receipt{}, ErrRecipientBlocked)
		return
	}

	if delay := max(q.limiter.GlobalDelay(), q.limiter.RecipientDelay(p.To)); delay > 0 {
		q.log.Debug("mail rate limited", logx.String("to", p.To), logx.Duration("delay", delay))
		if err := q.clock.Sleep(ctx, delay); err != nil {
			q.stopItem(it)
			return
		}
	}

	pol := q.Policy()
	q.limiter.RecordAttempt()
	receipt, err := q.send(ctx, p, pol.SendTimeout)
	if err == nil {
		q.onSent(ctx, it, receipt)
		return
	}
	if ctx.Err() != nil {
		q.stopItem(it)
		return
	}
	if errors.Is(err, ErrConfigurationMissing) {
		q.skip(it, err)
		return
	}

	if q.breaker.RecordFailure(p.To) {
		q.log.Warn("recipient blocked", logx.String("to", p.To), logx.Int("failures", q.breaker.Failures(p.To)))
	}
	it.attempts++
	if !IsNoRetry(err) && it.attempts < pol.MaxAttempts {
		q.mu.Lock()
		q.items = append(q.items, it)
		q.mu.Unlock()
		q.publish("mail.retry", p, it.attempts, err)
		q.log.Debug("mail send failed, requeued", logx.String("to", p.To), logx.Int("attempt", it.attempts), logx.Err(err))
		return
	}

	q.history.Record(HistoryEntry{Category: p.Category, To: p.To, Subject: p.Subject, Status: StatusFailed, Error: err.Error()})
	q.failed.Add(1)
	q.publish("mail.failed", p, it.attempts, err)
	q.log.Error("mail delivery failed", logx.String("to", p.To), logx.String("subject", p.Subject), logx.Int("attempts", it.attempts), logx.Err(err))
	it.pending.resolve(Receipt{}, err)
}

// skip resolves an item the carrier never attempted. The recipient's
// breaker state is left alone.
func (q *Queue) skip(it *queueItem, err error) {
	p := it.payload
	q.history.Record(HistoryEntry{Category: p.Category, To: p.To, Subject: p.Subject, Status: StatusSkipped, Error: err.Error()})
	q.skipped.Add(1)
	q.publish("mail.skipped", p, it.attempts, err)
	q.log.Warn("mail skipped: transport not configured", logx.String("to", p.To), logx.String("subject", p.Subject))
	it.pending.resolve(Receipt{}, err)
}

func (q *Queue) onSent(ctx context.Context, it *queueItem, receipt Receipt) {
	p := it.payload
	if receipt.AcceptedAt.IsZero() {
		receipt.AcceptedAt = q.clock.Now()
	}
	if q.breaker.Reset(p.To) {
		q.log.Info("recipient unblocked after successful send", logx.String("to", p.To))
	}
	q.limiter.RecordSuccess(p.To)
	q.history.Record(HistoryEntry{Category: p.Category, To: p.To, Subject: p.Subject, Status: StatusSent})
	q.sent.Add(1)
	q.publish("mail.sent", p, it.attempts+1, nil)
	q.log.Info("mail sent", logx.String("to", p.To), logx.String("subject", p.Subject), logx.String("message_id", receipt.MessageID))

	if p.wantsMirror() && q.mirror != nil {
		if err := q.mirrorDelivered(ctx, p); err != nil {
			q.publish("mail.mirror_failed", p, 0, err)
			q.log.Warn("notification mirror failed", logx.String("user_id", p.UserID), logx.Err(err))
		}
	}
	it.pending.resolve(receipt, nil)
}

func (q *Queue) send(ctx context.Context, p MailPayload, timeout time.Duration) (r Receipt, err error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			q.log.Error("sender panic", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
			err = &TransportError{Op: "send", Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	r, err = q.sender.Send(sctx, p)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		var te *TransportError
		if !errors.As(err, &te) {
			err = &TransportError{Op: "timeout", Err: err}
		}
	}
	return r, err
}

func (q *Queue) mirrorDelivered(ctx context.Context, p MailPayload) (err error) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("mirror panic: %v", rec)
		}
	}()
	return q.mirror.Mirror(mctx, MirrorRequest{
		UserID:         p.UserID,
		Subject:        p.Subject,
		Body:           p.mirrorBody(),
		Category:       p.Category,
		Channels:       []string{ChannelEmail, ChannelSite},
		RecipientEmail: p.To,
	})
}

func (q *Queue) stopItem(it *queueItem) {
	q.log.Debug("mail dropped on shutdown", logx.String("to", it.payload.To), logx.Int("attempts", it.attempts))
	it.pending.resolve(Receipt{}, ErrStopped)
}

func (q *Queue) publish(typ string, p MailPayload, attempt int, err error) {
	if q.bus == nil {
		return
	}
	ev := MailEvent{To: p.To, Subject: p.Subject, Category: p.Category, Attempt: attempt}
	if err != nil {
		ev.Error = err.Error()
	}
	q.bus.Publish(eventbus.Event{Type: typ, Time: q.clock.Now(), Data: ev})
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	st := Stats{Pending: len(q.items), Running: q.running, Closed: q.closed}
	q.mu.Unlock()
	st.Submitted = q.submitted.Load()
	st.Sent = q.sent.Load()
	st.Failed = q.failed.Load()
	st.Skipped = q.skipped.Load()
	st.Blocked = len(q.breaker.Blocked())
	return st
}

// Close stops intake and drains the buffer until ctx ends.
// On expiry the in-flight wait or send is cancelled and every
// remaining item resolves with ErrStopped.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	running := q.running
	done := q.idle
	q.mu.Unlock()

	if !running {
		q.cancel()
		return nil
	}
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
