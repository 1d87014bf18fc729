package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	hpprof "net/http/pprof"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"mailqueue/internal/delivery"
	"mailqueue/internal/mailflows"
	"mailqueue/internal/notifications"
	logx "mailqueue/pkg/logx"
)

// UserHeader carries the authenticated user id from the upstream auth layer.
const UserHeader = "X-User-ID"

const maxBodyBytes = 64 << 10

// Handler returns the routed handler. Config is read per request.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /admin/mail-history", s.admin(s.handleHistory))
	mux.HandleFunc("GET /admin/mail-queue", s.admin(s.handleQueue))
	mux.HandleFunc("POST /admin/mail-blocks/unblock", s.admin(s.handleUnblock))
	mux.HandleFunc("POST /admin/test-mail", s.admin(s.handleTestMail))

	mux.HandleFunc("GET /notifications", s.user(s.handleListNotifications))
	mux.HandleFunc("PUT /notifications", s.user(s.handleSaveSettings))
	mux.HandleFunc("PATCH /notifications", s.user(s.handleMarkRead))

	if s.config().Pprof {
		mux.HandleFunc("/debug/pprof/", s.admin(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", s.admin(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", s.admin(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", s.admin(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", s.admin(hpprof.Trace))
	}

	return s.recoverer(mux)
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				s.log.Error("http handler panicked", logx.String("path", r.URL.Path), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
		s.log.Debug("http request", logx.String("method", r.Method), logx.String("path", r.URL.Path), logx.Duration("took", time.Since(start)))
	})
}

// admin accepts "Authorization: Bearer <token>" when a token is configured.
func (s *Server) admin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimSpace(s.config().AdminToken)
		if tok == "" {
			h(w, r)
			return
		}
		const p = "Bearer "
		ah := r.Header.Get("Authorization")
		got := strings.TrimSpace(strings.TrimPrefix(ah, p))
		if !strings.HasPrefix(ah, p) || subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h(w, r)
	}
}

func (s *Server) user(h func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(UserHeader))
		if uid == "" {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		if !s.deps.Feed.Available() {
			writeError(w, http.StatusServiceUnavailable, notifications.ErrUnavailable.Error())
			return
		}
		h(w, r, uid)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	if r.URL.Query().Get("source") == "archive" && s.deps.Archive != nil {
		recs, err := s.deps.Archive.ListHistory(r.Context(), max(limit, 1))
		if err == nil {
			out := make([]delivery.HistoryEntry, 0, len(recs))
			for _, rec := range recs {
				out = append(out, delivery.FromRecord(rec))
			}
			writeJSON(w, http.StatusOK, map[string]any{"history": out, "source": "archive"})
			return
		}
		s.log.Warn("archive history unavailable; serving memory", logx.Err(err))
	}

	writeJSON(w, http.StatusOK, map[string]any{"history": s.deps.Queue.History().List(limit), "source": "memory"})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	q := s.deps.Queue
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":   q.Stats(),
		"blocked": q.Breaker().Blocked(),
		"policy":  policyView(q.Policy()),
	})
}

func policyView(p delivery.Policy) map[string]any {
	return map[string]any{
		"max_attempts":       p.MaxAttempts,
		"global_limit":       p.GlobalLimit,
		"global_window":      p.GlobalWindow.String(),
		"recipient_interval": p.RecipientInterval.String(),
		"block_threshold":    p.BlockThreshold,
		"history_size":       p.HistorySize,
		"send_timeout":       p.SendTimeout.String(),
	}
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Recipient string `json:"recipient"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.Recipient) == "" {
		writeError(w, http.StatusBadRequest, "recipient is required")
		return
	}
	was := s.deps.Queue.Breaker().Reset(body.Recipient)
	s.log.Info("recipient unblocked by admin", logx.String("recipient", delivery.NormalizeRecipient(body.Recipient)), logx.Bool("was_blocked", was))
	writeJSON(w, http.StatusOK, map[string]any{"recipient": delivery.NormalizeRecipient(body.Recipient), "unblocked": was})
}

func (s *Server) handleTestMail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		MailType string `json:"mailType"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	kind, ok := mailflows.ParseTestKind(body.MailType)
	if !ok {
		writeError(w, http.StatusBadRequest, "mailType must be provisional, full or reservation")
		return
	}
	if !s.testMail.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many test mails; try again later")
		return
	}

	out, err := s.deps.Flows.TestMail(r.Context(), kind, body.Email)
	switch {
	case errors.Is(err, mailflows.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.log.Warn("test mail failed", logx.String("kind", string(kind)), logx.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	case out.Simulated:
		writeJSON(w, http.StatusOK, map[string]any{"message": "transport not configured or recipient blocked; mail skipped", "status": "skipped"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"message": string(kind) + " test mail sent", "status": "sent", "messageId": out.Receipt.MessageID})
	}
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request, userID string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	list, err := s.deps.Feed.List(r.Context(), userID, limit)
	if err != nil {
		s.feedError(w, err)
		return
	}
	st, err := s.deps.Feed.Settings(r.Context(), userID)
	if err != nil {
		s.feedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list, "settings": st})
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request, userID string) {
	var patch notifications.SettingsPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "receiveEmail and receiveSite must be booleans")
		return
	}
	st, err := s.deps.Feed.SaveSettings(r.Context(), userID, patch)
	if err != nil {
		s.feedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": st})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		NotificationID string `json:"notificationId"`
		// CreatedAt is sent by older clients; ids are unique per user.
		CreatedAt string `json:"createdAt,omitempty"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.NotificationID) == "" {
		writeError(w, http.StatusBadRequest, "notificationId is required")
		return
	}
	at, err := s.deps.Feed.MarkRead(r.Context(), userID, body.NotificationID)
	if err != nil {
		s.feedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readAt": at})
}

func (s *Server) feedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, notifications.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, notifications.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Warn("notification feed error", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "notification feed error")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
