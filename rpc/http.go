package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"perkledger/native/discount"
	"perkledger/native/farming"
	"perkledger/native/identity"
	"perkledger/native/settlement"
	"perkledger/observability/logging"
)

// Server exposes the ledger's HTTP surface: profile lookup, pool lookup by
// pair, affiliate lookup by asset, pending-reward lookup and, when a
// distributor is wired, swap submission.
type Server struct {
	identities *identity.Registry
	pools      *discount.PoolRegistry
	affiliates *discount.AffiliateRegistry
	farm       *farming.Engine
	settle     *settlement.Engine
	logger     *slog.Logger
	limiter    *rate.Limiter
	nowFunc    func() uint64
}

// NewServer wires the server. A nil settlement engine disables swap
// submission; a nil logger falls back to the process default.
func NewServer(
	identities *identity.Registry,
	pools *discount.PoolRegistry,
	affiliates *discount.AffiliateRegistry,
	farm *farming.Engine,
	settle *settlement.Engine,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		identities: identities,
		pools:      pools,
		affiliates: affiliates,
		farm:       farm,
		settle:     settle,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(50), 100),
		nowFunc:    func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetRateLimit overrides the default request throttle.
func (s *Server) SetRateLimit(perSecond float64, burst int) {
	s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// SetNowFunc overrides the ambient clock.
func (s *Server) SetNowFunc(fn func() uint64) {
	if fn != nil {
		s.nowFunc = fn
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.throttle)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/profiles/{owner}", s.handleProfile)
		r.Get("/pools", s.handlePools)
		r.Get("/pools/{id}", s.handlePool)
		r.Get("/affiliates", s.handleAffiliates)
		r.Get("/farming/{pool}/pending/{owner}", s.handlePendingReward)
		r.Post("/swaps", s.handleSwap)
	})
	return otelhttp.NewHandler(r, "perkledger.rpc")
}

// Serve runs the server until the context is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"durationMs", time.Since(start).Milliseconds(),
			"userAgent", logging.Redact("user-agent", r.UserAgent()),
			"requestId", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
