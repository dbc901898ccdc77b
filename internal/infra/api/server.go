package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"premium-subscription-gateway/internal/config"
	"premium-subscription-gateway/internal/infra/i18n"
	"premium-subscription-gateway/internal/usecase"
)

// NotifyPath is where the processor posts notifications; it must match the
// path of payment.notify_url.
const NotifyPath = "/api/v1/payment/notify"

// Server exposes initiation, entitlement lookup, the notification webhook and
// the browser result pages.
type Server struct {
	subUC    usecase.SubscriptionUseCase
	entUC    usecase.EntitlementUseCase
	notifyUC usecase.NotificationUseCase
	auth     *Authenticator
	i18n     *i18n.Catalog
	timeout  time.Duration
	log      *zerolog.Logger

	// trustProxy replaces RemoteAddr with the forwarded client address.
	trustProxy bool
}

func NewServer(
	subUC usecase.SubscriptionUseCase,
	entUC usecase.EntitlementUseCase,
	notifyUC usecase.NotificationUseCase,
	auth *Authenticator,
	cfg config.HTTPConfig,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "HTTPServer").Logger()
	return &Server{
		subUC:      subUC,
		entUC:      entUC,
		notifyUC:   notifyUC,
		auth:       auth,
		i18n:       i18n.MustLoadCatalog(),
		timeout:    cfg.RequestTimeout,
		log:        &l,
		trustProxy: cfg.TrustProxyHeaders,
	}
}

// Router builds the chi mux with all routes registered.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(s.timeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post(NotifyPath, s.handleNotify)
	r.Get("/payment/return", s.handleResultPage(true))
	r.Get("/payment/cancel", s.handleResultPage(false))

	r.Group(func(r chi.Router) {
		r.Use(s.auth.RequireUser(s.log))
		r.Post("/api/v1/subscriptions", s.handleInitiate)
		r.Get("/api/v1/entitlements/me", s.handleEntitlement)
		r.Post("/checkout", s.handleCheckout)
	})
	return r
}

// HTTPServer owns the listener lifecycle.
type HTTPServer struct {
	srv *http.Server
	log *zerolog.Logger
}

func NewHTTPServer(cfg config.HTTPConfig, handler http.Handler, logger *zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logger,
	}
}

// Start blocks until the server stops. A graceful Shutdown is not an error.
func (h *HTTPServer) Start() error {
	h.log.Info().Str("addr", h.srv.Addr).Msg("http server listening")
	if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}
