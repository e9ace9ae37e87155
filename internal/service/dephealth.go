// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Attachment Module мониторит:
//   - сканер вредоносного содержимого (HTTP GET /health/ready), если задан AT_SCANNER_URL
//   - PostgreSQL через существующий пул соединений, если задан AT_DB_HOST
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoDependencies — не задано ни одной зависимости для мониторинга.
var ErrNoDependencies = errors.New("нет зависимостей для мониторинга")

// DephealthTargets — проверяемые зависимости. Пустые поля пропускаются.
type DephealthTargets struct {
	// ScannerName — имя зависимости сканера (AT_DEPHEALTH_DEP_NAME)
	ScannerName string
	// ScannerURL — базовый URL сканера
	ScannerURL string
	// DB — адаптер пула pgx для проверки PostgreSQL
	DB *sql.DB
	// DBURL — URL подключения (для меток host/port)
	DBURL string
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(
	name, group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(name, group, targets, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	name, group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(name, group, targets, checkInterval, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	name, group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	opts := []dephealth.Option{dephealth.WithLogger(logger)}

	if targets.ScannerURL != "" {
		scannerOpts := []dephealth.DependencyOption{
			dephealth.FromURL(targets.ScannerURL),
			dephealth.WithHTTPHealthPath("/health/ready"),
			dephealth.CheckInterval(checkInterval),
			// без сканера контент остаётся unscanned, но запись и чтение записей работают
			dephealth.Critical(false),
		}
		if parsed, err := url.Parse(targets.ScannerURL); err == nil && parsed.Scheme == "https" {
			scannerOpts = append(scannerOpts, dephealth.WithHTTPTLSSkipVerify(false))
		}
		scannerName := targets.ScannerName
		if scannerName == "" {
			scannerName = "malware-scanner"
		}
		opts = append(opts, dephealth.HTTP(scannerName, scannerOpts...))
	}

	if targets.DB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(targets.DB)),
			dephealth.FromURL(targets.DBURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		))
	}

	if len(opts) == 1 {
		return nil, ErrNoDependencies
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(name, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
