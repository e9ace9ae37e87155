// Точка входа Attachment Module — сервиса записей с вложениями.
// Команды: serve (HTTP API), migrate, restore, gc.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/attachment-module/internal/config"
)

// configFile — путь к необязательному файлу конфигурации (--config).
var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "attachment-module",
		Short: "Сервис записей с вложениями",
		Long: `attachment-module хранит записи модели данных и контент их вложений.

Контент пишется в каталог данных через WAL, проверяется сканером
вредоносного содержимого и удаляется в два этапа: пометка и очистка GC.
Конфигурация задаётся переменными окружения AT_*.`,
		Version:      config.Version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Файл конфигурации (значения AT_* имеют приоритет)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newRestoreCmd())
	rootCmd.AddCommand(newGCCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// loadConfig загружает конфигурацию и настраивает логгер.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка конфигурации: %w", err)
	}
	return cfg, config.SetupLogger(cfg), nil
}
