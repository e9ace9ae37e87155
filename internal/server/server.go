// Пакет server — HTTP-сервер Attachment Module с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/attachment-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/attachment-module/internal/config"
)

// AdminScope — scope, необходимый для endpoints обслуживания.
const AdminScope = "attachments:admin"

// API — набор обработчиков HTTP API.
type API interface {
	CreateRecord(w http.ResponseWriter, r *http.Request)
	GetRecord(w http.ResponseWriter, r *http.Request)
	UpdateRecord(w http.ResponseWriter, r *http.Request)
	DeleteRecord(w http.ResponseWriter, r *http.Request)

	GetDraft(w http.ResponseWriter, r *http.Request)
	PatchDraft(w http.ResponseWriter, r *http.Request)
	SaveDraft(w http.ResponseWriter, r *http.Request)
	DiscardDraft(w http.ResponseWriter, r *http.Request)

	UploadContent(w http.ResponseWriter, r *http.Request)
	DownloadContent(w http.ResponseWriter, r *http.Request)
	DownloadDraftContent(w http.ResponseWriter, r *http.Request)

	Restore(w http.ResponseWriter, r *http.Request)
	RunGC(w http.ResponseWriter, r *http.Request)
	Reconcile(w http.ResponseWriter, r *http.Request)

	HealthLive(w http.ResponseWriter, r *http.Request)
	HealthReady(w http.ResponseWriter, r *http.Request)
}

// Authenticator — JWT middleware. nil — аутентификация отключена.
type Authenticator interface {
	Middleware() func(http.Handler) http.Handler
}

// Server — HTTP-сервер Attachment Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, api API, auth Authenticator) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, api, auth),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	if cfg.TLSEnabled() {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты. /health/* и /metrics публичные,
// /api/v1/* требуют JWT, /api/v1/maintenance/* — дополнительно AdminScope.
func NewRouter(logger *slog.Logger, api API, auth Authenticator) http.Handler {
	router := chi.NewRouter()
	router.Use(chimw.Recoverer)
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	router.Get("/health/live", api.HealthLive)
	router.Get("/health/ready", api.HealthReady)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(auth.Middleware())
		}

		r.Route("/records/{entity}", func(r chi.Router) {
			r.Post("/", api.CreateRecord)
			r.Get("/{id}", api.GetRecord)
			r.Patch("/{id}", api.UpdateRecord)
			r.Delete("/{id}", api.DeleteRecord)
			r.Put("/{id}/content", api.UploadContent)
			r.Get("/{id}/content", api.DownloadContent)
		})

		r.Route("/drafts/{entity}/{id}", func(r chi.Router) {
			r.Get("/", api.GetDraft)
			r.Patch("/", api.PatchDraft)
			r.Delete("/", api.DiscardDraft)
			r.Post("/save", api.SaveDraft)
			r.Get("/content", api.DownloadDraftContent)
		})

		r.Route("/maintenance", func(r chi.Router) {
			if auth != nil {
				r.Use(middleware.RequireScope(AdminScope))
			}
			r.Post("/restore", api.Restore)
			r.Post("/gc", api.RunGC)
			r.Post("/reconcile", api.Reconcile)
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown с таймаутом из конфигурации.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSEnabled()),
		)

		var err error
		if s.cfg.TLSEnabled() {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
