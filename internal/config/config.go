// Пакет config — загрузка и валидация конфигурации Attachment Module
// из переменных окружения AT_* и (опционально) файла конфигурации.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// EnvPrefix — префикс переменных окружения.
const EnvPrefix = "AT"

// Config содержит все параметры конфигурации Attachment Module.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к директории хранения контента
	DataDir string
	// Путь к директории WAL
	WALDir string
	// Путь к YAML-описанию модели данных
	SchemaFile string
	// Максимальный размер контента в байтах (если сущность не задаёт свой)
	MaxFileSize int64

	// Параметры PostgreSQL. Пустой DBHost — записи хранятся в памяти.
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// URL JWKS endpoint. Пустой — аутентификация отключена.
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Путь к TLS сертификату (опционально, вместе с TLSKey)
	TLSCert string
	// Путь к TLS приватному ключу
	TLSKey string

	// URL сканера вредоносного содержимого. Пустой — контент сразу clean.
	ScannerURL string
	// Таймаут запроса к сканеру
	ScannerTimeout time.Duration
	// Количество воркеров сканирования
	ScanWorkers int
	// Размер очереди сканирования
	ScanQueueSize int
	// Интервал повторной постановки непросканированного контента в очередь
	ScanRequeueInterval time.Duration

	// Интервал запуска GC
	GCInterval time.Duration
	// Срок хранения контента, помеченного удалённым
	DeletedRetention time.Duration

	// Размер LRU-кэша описаний полей вложений
	FieldCacheSize int

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics (AT_DEPHEALTH_GROUP)
	DephealthGroup string
	// Имя зависимости в метриках topologymetrics (AT_DEPHEALTH_DEP_NAME)
	DephealthDepName string
	// Имя владельца пода для метки name в topologymetrics (DEPHEALTH_NAME)
	DephealthName string

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// setDefaults задаёт значения по умолчанию. Все значения — строки:
// разбор и проверка выполняются в Load.
func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8030")
	v.SetDefault("max_file_size", "100MB")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_ssl_mode", "disable")
	v.SetDefault("scanner_timeout", "30s")
	v.SetDefault("scan_workers", "2")
	v.SetDefault("scan_queue_size", "128")
	v.SetDefault("scan_requeue_interval", "1m")
	v.SetDefault("gc_interval", "1h")
	v.SetDefault("deleted_retention", "24h")
	v.SetDefault("field_cache_size", "256")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("dephealth_check_interval", "15s")
	v.SetDefault("dephealth_group", "attachment-module")
	v.SetDefault("dephealth_dep_name", "malware-scanner")
	v.SetDefault("http_read_timeout", "30s")
	v.SetDefault("http_write_timeout", "5m")
	v.SetDefault("http_idle_timeout", "120s")
	v.SetDefault("shutdown_timeout", "5s")
}

// Load загружает конфигурацию из переменных окружения AT_*.
// configFile — необязательный файл (YAML, ENV и др.), значения из
// окружения имеют приоритет над файлом.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// DEPHEALTH_NAME — общая для всех модулей переменная без префикса
	_ = v.BindEnv("dephealth_name", "DEPHEALTH_NAME")

	l := loader{v: v}
	cfg := &Config{}

	// AT_PORT — порт HTTP-сервера (по умолчанию 8030)
	cfg.Port = l.integer("port")
	if l.err == nil && (cfg.Port < 1 || cfg.Port > 65535) {
		return nil, fmt.Errorf("AT_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.DataDir = l.required("data_dir")
	cfg.WALDir = l.required("wal_dir")
	cfg.SchemaFile = l.required("schema_file")

	// AT_MAX_FILE_SIZE — допускает единицы: 400MB, 1GiB
	cfg.MaxFileSize = l.size("max_file_size")

	cfg.DBHost = v.GetString("db_host")
	cfg.DBPort = l.integer("db_port")
	cfg.DBName = v.GetString("db_name")
	cfg.DBUser = v.GetString("db_user")
	cfg.DBPassword = v.GetString("db_password")
	cfg.DBSSLMode = v.GetString("db_ssl_mode")

	cfg.JWKSUrl = v.GetString("jwks_url")
	cfg.JWKSCACert = v.GetString("jwks_ca_cert")
	cfg.TLSCert = v.GetString("tls_cert")
	cfg.TLSKey = v.GetString("tls_key")

	cfg.ScannerURL = v.GetString("scanner_url")
	cfg.ScannerTimeout = l.duration("scanner_timeout")
	cfg.ScanWorkers = l.integer("scan_workers")
	cfg.ScanQueueSize = l.integer("scan_queue_size")
	cfg.ScanRequeueInterval = l.duration("scan_requeue_interval")

	cfg.GCInterval = l.duration("gc_interval")
	cfg.DeletedRetention = l.duration("deleted_retention")
	cfg.FieldCacheSize = l.integer("field_cache_size")

	cfg.LogFormat = v.GetString("log_format")

	cfg.DephealthCheckInterval = l.duration("dephealth_check_interval")
	cfg.DephealthGroup = v.GetString("dephealth_group")
	cfg.DephealthDepName = v.GetString("dephealth_dep_name")
	cfg.DephealthName = v.GetString("dephealth_name")

	cfg.HTTPReadTimeout = l.duration("http_read_timeout")
	cfg.HTTPWriteTimeout = l.duration("http_write_timeout")
	cfg.HTTPIdleTimeout = l.duration("http_idle_timeout")
	cfg.ShutdownTimeout = l.duration("shutdown_timeout")

	if l.err != nil {
		return nil, l.err
	}

	var err error
	cfg.LogLevel, err = parseLogLevel(v.GetString("log_level"))
	if err != nil {
		return nil, fmt.Errorf("AT_LOG_LEVEL: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate проверяет согласованность параметров.
func (c *Config) validate() error {
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("AT_MAX_FILE_SIZE: значение должно быть положительным")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("AT_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", c.LogFormat)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("AT_TLS_CERT и AT_TLS_KEY задаются только вместе")
	}
	if c.DatabaseEnabled() {
		if c.DBName == "" || c.DBUser == "" {
			return fmt.Errorf("AT_DB_NAME и AT_DB_USER обязательны при заданном AT_DB_HOST")
		}
		if c.DBPort < 1 || c.DBPort > 65535 {
			return fmt.Errorf("AT_DB_PORT: значение %d вне допустимого диапазона 1-65535", c.DBPort)
		}
	}
	if c.ScanWorkers < 1 {
		return fmt.Errorf("AT_SCAN_WORKERS: значение должно быть не меньше 1")
	}
	if c.ScanQueueSize < 1 {
		return fmt.Errorf("AT_SCAN_QUEUE_SIZE: значение должно быть не меньше 1")
	}
	if c.GCInterval <= 0 {
		return fmt.Errorf("AT_GC_INTERVAL: значение должно быть положительным")
	}
	if c.DeletedRetention < 0 {
		return fmt.Errorf("AT_DELETED_RETENTION: значение не может быть отрицательным")
	}
	return nil
}

// DatabaseEnabled сообщает, настроено ли подключение к PostgreSQL.
func (c *Config) DatabaseEnabled() bool {
	return c.DBHost != ""
}

// AuthEnabled сообщает, включена ли JWT-аутентификация.
func (c *Config) AuthEnabled() bool {
	return c.JWKSUrl != ""
}

// ScannerEnabled сообщает, настроен ли сканер вредоносного содержимого.
func (c *Config) ScannerEnabled() bool {
	return c.ScannerURL != ""
}

// TLSEnabled сообщает, настроен ли TLS для HTTP-сервера.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != ""
}

// DatabaseDSN формирует строку подключения pgx.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// MaxFileSizeHuman возвращает лимит размера в человекочитаемом виде.
func (c *Config) MaxFileSizeHuman() string {
	return humanize.Bytes(uint64(c.MaxFileSize))
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// loader разбирает значения viper, запоминая первую ошибку.
type loader struct {
	v   *viper.Viper
	err error
}

// envName возвращает имя переменной окружения для ключа.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

func (l *loader) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

// required возвращает значение или ошибку, если оно не задано.
func (l *loader) required(key string) string {
	val := l.v.GetString(key)
	if val == "" {
		l.fail(fmt.Errorf("%s: обязательная переменная окружения не задана", envName(key)))
	}
	return val
}

func (l *loader) integer(key string) int {
	val := l.v.GetString(key)
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		l.fail(fmt.Errorf("%s: некорректное целое число: %q", envName(key), val))
		return 0
	}
	return n
}

func (l *loader) duration(key string) time.Duration {
	val := l.v.GetString(key)
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		l.fail(fmt.Errorf("%s: некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", envName(key), val))
		return 0
	}
	return d
}

// size разбирает размер с единицами (humanize): "1073741824", "400MB", "1GiB".
func (l *loader) size(key string) int64 {
	val := l.v.GetString(key)
	n, err := humanize.ParseBytes(strings.TrimSpace(val))
	if err != nil {
		l.fail(fmt.Errorf("%s: некорректный размер: %q (например: 100MB, 1GiB)", envName(key), val))
		return 0
	}
	return int64(n)
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
