// Package httpapi serves the admin mail console and the user notification feed.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mailqueue/internal/delivery"
	"mailqueue/internal/mailflows"
	"mailqueue/internal/notifications"
	rtsup "mailqueue/internal/runtime/supervisor"
	"mailqueue/internal/storage"
	logx "mailqueue/pkg/logx"
)

const (
	DefaultAddr              = "127.0.0.1:8080"
	DefaultHistoryLimit      = 200
	DefaultTestMailPerMinute = 6
)

type Config struct {
	Addr string
	// AdminToken guards /admin and /debug; empty disables the check.
	AdminToken        string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	TestMailPerMinute int
	// Pprof mounts net/http/pprof under /debug/pprof/ (admin auth applies).
	Pprof bool
}

// Archive is the persisted history, usually a storage.Store.
type Archive interface {
	ListHistory(ctx context.Context, limit int) ([]storage.HistoryRecord, error)
}

// TestMailer is implemented by mailflows.Service.
type TestMailer interface {
	TestMail(ctx context.Context, kind mailflows.TestKind, email string) (mailflows.Outcome, error)
}

type Deps struct {
	Queue   *delivery.Queue
	Archive Archive
	Flows   TestMailer
	Feed    *notifications.Service
}

type Server struct {
	deps Deps
	log  logx.Logger

	mu  sync.Mutex
	cfg Config
	sup *rtsup.Supervisor
	srv *http.Server
	// addr is the bound address while serving.
	addr string

	testMail *rate.Limiter
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{deps: deps, log: log.With(logx.String("comp", "http")), cfg: cfg}
	s.testMail = rate.NewLimiter(testMailLimit(cfg.TestMailPerMinute))
	return s
}

func testMailLimit(perMinute int) (rate.Limit, int) {
	if perMinute <= 0 {
		perMinute = DefaultTestMailPerMinute
	}
	return rate.Every(time.Minute / time.Duration(perMinute)), perMinute
}

func (s *Server) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply updates token and throttle in place; listener changes restart the server.
func (s *Server) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.sup != nil
	s.mu.Unlock()

	lim, burst := testMailLimit(cfg.TestMailPerMinute)
	s.testMail.SetLimit(lim)
	s.testMail.SetBurst(burst)

	if running && needsRestart(prev, cfg) {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr || a.ReadTimeout != b.ReadTimeout || a.WriteTimeout != b.WriteTimeout || a.Pprof != b.Pprof
}

// Addr reports the bound address, or "" when not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start serves in the background under a restart loop. It is idempotent.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.GoRestart("http.serve", s.serveOnce, 500*time.Millisecond, 10*time.Second)
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv, s.addr = nil, nil, ""
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	}
	_ = sup.Stop(ctx)
	s.log.Info("http stopped")
}

func (s *Server) serveOnce(ctx context.Context) error {
	cur := s.config()
	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if cur.AdminToken == "" && !isLoopbackAddr(addr) {
		s.log.Warn("admin routes exposed without token on non-loopback addr", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("http listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       cur.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cur.WriteTimeout,
	}

	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("http started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cur.AdminToken != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil || strings.TrimSpace(h) == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
