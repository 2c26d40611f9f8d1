// Package http is the JSON API over the transaction and account services.
package http

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/services"
	"fintrack/internal/session"
)

const maxBodyBytes = 1 << 20

// SessionFactory returns the session of a signed-in user.
type SessionFactory func(userID string) *session.Session

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

type Deps struct {
	Transactions *services.TransactionService
	Accounts     *services.AccountService
	Sessions     SessionFactory
	Tokens       *Tokens
	Metrics      metrics.Collector
	// Gatherer backs /metrics; nil leaves the route out.
	Gatherer       prometheus.Gatherer
	ReadyChecks    map[string]ReadyCheck
	Logger         *log.Logger
	RateLimitRPM   int
	TrustedProxies []string
	Location       *time.Location
}

type Server struct {
	http.Server
	txns        *services.TransactionService
	accounts    *services.AccountService
	sessions    SessionFactory
	tokens      *Tokens
	metrics     metrics.Collector
	ready       map[string]ReadyCheck
	logger      *log.Logger
	proxies     proxyList
	rateLimiter *rateLimiter
	loc         *time.Location

	shutdownOnce sync.Once
}

func NewServer(addr string, d Deps) (*Server, error) {
	if d.Transactions == nil || d.Accounts == nil || d.Sessions == nil || d.Tokens == nil {
		return nil, fmt.Errorf("http: transactions, accounts, sessions and tokens are required")
	}
	proxies, err := parseProxies(d.TrustedProxies)
	if err != nil {
		return nil, err
	}

	s := &Server{
		txns:        d.Transactions,
		accounts:    d.Accounts,
		sessions:    d.Sessions,
		tokens:      d.Tokens,
		metrics:     d.Metrics,
		ready:       d.ReadyChecks,
		logger:      d.Logger,
		proxies:     proxies,
		rateLimiter: newRateLimiter(d.RateLimitRPM),
		loc:         d.Location,
	}
	if s.metrics == nil {
		s.metrics = metrics.NoOpCollector{}
	}
	if s.logger == nil {
		s.logger = log.Discard()
	}
	if s.loc == nil {
		s.loc = time.Local
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /api/signin", s.handleSignIn)
	mux.HandleFunc("POST /api/signup", s.handleSignUp)
	mux.HandleFunc("POST /api/signout", s.authed(s.handleSignOut))
	mux.HandleFunc("GET /api/account", s.authed(s.handleAccount))
	mux.HandleFunc("GET /api/dashboard", s.authed(s.handleDashboard))
	mux.HandleFunc("GET /api/transactions", s.authed(s.handleHistory))
	mux.HandleFunc("POST /api/transactions", s.authed(s.handleAddTransaction))
	mux.HandleFunc("POST /api/sync", s.authed(s.handleSync))
	mux.HandleFunc("GET /api/export", s.authed(s.handleExport))

	s.Addr = addr
	s.Handler = s.middleware(mux)
	s.ReadHeaderTimeout = 5 * time.Second
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 30 * time.Second
	s.IdleTimeout = 60 * time.Second
	return s, nil
}

// Shutdown stops the rate limiter cleanup and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// requestID keeps a well-formed incoming X-Request-ID.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); requestIDPattern.MatchString(id) {
		return id
	}
	return generateRequestID()
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := requestID(r)
		ip := s.proxies.clientIP(r)

		logger := s.logger.WithComponent(log.ComponentHTTP).With(log.FieldRequestID, id, log.FieldClientIP, ip)
		r = r.WithContext(log.NewContext(r.Context(), logger))

		setSecurityHeaders(w)
		w.Header().Set("X-Request-ID", id)
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		if suspicious(r) {
			logger.WithComponent(log.ComponentSecurity).WarnContext(r.Context(), "Suspicious request",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldUserAgent, r.Header.Get("User-Agent"))
		}

		if r.Method == http.MethodPost && !s.rateLimiter.allow(ip) {
			logger.WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
				log.FieldPath, r.URL.Path)
			rw.Header().Set("Retry-After", "60")
			writeError(rw, http.StatusTooManyRequests, "too many requests", "")
		} else {
			next.ServeHTTP(rw, r)
		}

		elapsed := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(r.Method, route, rw.statusCode, elapsed)
		log.NewStructuredLogger(logger).LogHTTPEnd(r.Context(), r, rw.statusCode, elapsed.Milliseconds(), ip)
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// authed resolves the bearer token into the caller's session.
func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="fintrack"`)
			writeError(w, http.StatusUnauthorized, "missing bearer token", "")
			return
		}
		userID, err := s.tokens.Verify(token)
		if err != nil {
			log.FromContext(r.Context()).WithComponent(log.ComponentAuth).WarnContext(r.Context(), "Rejected bearer token",
				log.FieldError, err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="fintrack", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, ErrInvalidToken.Error(), "")
			return
		}
		ctx := log.NewContext(r.Context(), log.FromContext(r.Context()).With(log.FieldUserID, userID))
		h(w, r.WithContext(ctx), s.sessions(userID))
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failures := map[string]string{}
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", "failures", failures)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
