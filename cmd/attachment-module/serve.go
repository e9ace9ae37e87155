// serve.go — команда serve: HTTP API и фоновые процессы.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/attachment-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/attachment-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/attachment-module/internal/config"
	"github.com/bigkaa/goartstore/attachment-module/internal/database"
	"github.com/bigkaa/goartstore/attachment-module/internal/scanner"
	"github.com/bigkaa/goartstore/attachment-module/internal/server"
	"github.com/bigkaa/goartstore/attachment-module/internal/service"
)

// Параметры JWKS-клиента.
const (
	jwksClientTimeout   = 10 * time.Second
	jwksRefreshInterval = 15 * time.Minute
	jwtLeeway           = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if err := serve(cmd.Context(), cfg, logger); err != nil {
				logger.Error("Ошибка сервера", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Attachment Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("max_file_size", cfg.MaxFileSizeHuman()),
		slog.Bool("database", cfg.DatabaseEnabled()),
		slog.Bool("scanner", cfg.ScannerEnabled()),
		slog.Bool("auth", cfg.AuthEnabled()),
	)

	if cfg.DatabaseEnabled() {
		if err := database.Migrate(cfg, logger); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// --- Фоновые процессы ---

	// Сверка каталога данных при старте
	if result, _ := a.reconcile.RunOnce(); result != nil && len(result.Issues) > 0 {
		logger.Warn("Сверка при старте обнаружила проблемы",
			slog.Int("issues", len(result.Issues)),
			slog.Int("files_checked", result.FilesChecked),
		)
	}

	if cfg.ScannerEnabled() {
		client := scanner.New(cfg.ScannerURL, cfg.ScannerTimeout, logger)
		scanSvc := service.NewScanService(a.content, a.idx, client, a.sink,
			cfg.ScanWorkers, cfg.ScanQueueSize, cfg.ScanRequeueInterval, logger)
		scanSvc.Start(ctx)
		defer scanSvc.Stop()
	}

	a.gc.Start(ctx)
	defer a.gc.Stop()

	dephealthSvc, err := newDephealth(a)
	switch {
	case errors.Is(err, service.ErrNoDependencies):
		logger.Info("Внешние зависимости не настроены, topologymetrics не запускается")
	case err != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	default:
		if err := dephealthSvc.Start(ctx); err != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		} else {
			defer dephealthSvc.Stop()
		}
	}

	// --- HTTP ---

	var auth server.Authenticator
	if cfg.AuthEnabled() {
		jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			CACertPath:      cfg.JWKSCACert,
			ClientTimeout:   jwksClientTimeout,
			RefreshInterval: jwksRefreshInterval,
			JWTLeeway:       jwtLeeway,
		}, logger)
		if err != nil {
			return fmt.Errorf("ошибка настройки JWT: %w", err)
		}
		auth = jwtAuth
		logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))
	} else {
		logger.Warn("AT_JWKS_URL не задан, запуск без аутентификации")
	}

	var readiness []handlers.ReadinessChecker
	if a.pool != nil {
		readiness = append(readiness, database.NewReadinessChecker(a.pool))
	}

	api := handlers.NewAPIHandler(
		handlers.NewRecordsHandler(a.records, a.registry, a.fields),
		handlers.NewContentHandler(a.records, a.registry),
		handlers.NewMaintenanceHandler(a.records, a.gc, a.reconcile),
		handlers.NewHealthHandler(cfg.DataDir, cfg.WALDir, a.idx, readiness...),
	)

	srv := server.New(cfg, logger, api, auth)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("Остановка фоновых процессов...")
	return nil
}

// newDephealth настраивает мониторинг сканера и PostgreSQL.
func newDephealth(a *app) (*service.DephealthService, error) {
	targets := service.DephealthTargets{
		ScannerName: a.cfg.DephealthDepName,
		ScannerURL:  a.cfg.ScannerURL,
	}
	if a.pool != nil {
		targets.DB = stdlib.OpenDBFromPool(a.pool)
		// без учётных данных: URL используется только для меток host/port
		targets.DBURL = fmt.Sprintf("postgres://%s:%d/%s", a.cfg.DBHost, a.cfg.DBPort, a.cfg.DBName)
	}
	return service.NewDephealthService(dephealthName(a.cfg), a.cfg.DephealthGroup, targets,
		a.cfg.DephealthCheckInterval, a.logger)
}

// dephealthName возвращает имя владельца пода: DEPHEALTH_NAME или
// имя, выведенное из hostname.
func dephealthName(cfg *config.Config) string {
	if cfg.DephealthName != "" {
		return cfg.DephealthName
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "attachment-module"
	}
	return parseOwnerName(hostname)
}

var (
	// deploymentPod — <owner>-<replicaset hash>-<pod suffix>
	deploymentPod = regexp.MustCompile(`^(.+)-[a-z0-9]{6,10}-[a-z0-9]{5}$`)
	// statefulSetPod — <owner>-<ordinal>
	statefulSetPod = regexp.MustCompile(`^(.+)-\d+$`)
)

// parseOwnerName извлекает имя Deployment или StatefulSet из hostname пода.
// Если формат не распознан, возвращает hostname.
func parseOwnerName(hostname string) string {
	if m := deploymentPod.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	if m := statefulSetPod.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	return hostname
}
