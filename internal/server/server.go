package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Poovarasan1009/chat-app/internal/auth"
	"github.com/Poovarasan1009/chat-app/internal/config"
	"github.com/Poovarasan1009/chat-app/internal/presence"
	"github.com/Poovarasan1009/chat-app/internal/store"
)

// ChatServer wires the delivery core to its HTTP and WebSocket surfaces and
// hosts them until shutdown.
type ChatServer struct {
	cfg   config.Config
	log   *zap.Logger
	store *store.Store
	auth  *auth.Service

	presence    presence.Table
	registry    *Registry
	coordinator *Coordinator
	metrics     *chatMetrics

	httpServer *http.Server
	adminHTTP  *http.Server
	rootCtx    context.Context
	ready      atomic.Bool
}

// NewChatServer constructs a server with its dependencies.
func NewChatServer(cfg config.Config, logger *zap.Logger, st *store.Store, authSvc *auth.Service) *ChatServer {
	return &ChatServer{
		cfg:      cfg,
		log:      logger,
		store:    st,
		auth:     authSvc,
		presence: presence.NewTable(),
	}
}

// Start boots the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *ChatServer) Start(ctx context.Context) error {
	s.rootCtx = ctx

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	s.metrics = newChatMetrics(promReg)
	s.registry = NewRegistry(s.log, s.presence, s.metrics)
	s.coordinator = NewCoordinator(s.log, s.store, s.presence, s.registry, s.metrics)
	s.startAdminServer(promReg)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	s.routes(engine)

	s.httpServer = &http.Server{
		Addr:    s.cfg.HTTPAddress,
		Handler: engine,
	}

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		s.Shutdown(stopCtx)
	}()

	s.log.Info("chat server listening", zap.String("address", s.cfg.HTTPAddress))
	s.ready.Store(true)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func (s *ChatServer) startAdminServer(reg *prometheus.Registry) {
	if s.cfg.Admin.Address == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})

	s.adminHTTP = &http.Server{
		Addr:              s.cfg.Admin.Address,
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	go func() {
		if err := s.adminHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin server listening", zap.String("address", s.cfg.Admin.Address))
}

// Shutdown attempts a graceful stop before forcing termination.
func (s *ChatServer) Shutdown(ctx context.Context) {
	s.ready.Store(false)

	if s.adminHTTP != nil {
		if err := s.adminHTTP.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server shutdown", zap.Error(err))
		}
	}
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("graceful shutdown timed out; forcing close", zap.Error(err))
		_ = s.httpServer.Close()
		return
	}
	s.log.Info("chat server stopped")
}

func (s *ChatServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 || c.Writer.Status() >= http.StatusInternalServerError {
			s.log.Warn("request failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", c.Writer.Status()))
		}
	}
}
