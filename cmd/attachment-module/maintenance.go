// maintenance.go — команды обслуживания: migrate, restore, gc.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bigkaa/goartstore/attachment-module/internal/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции PostgreSQL",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.DatabaseEnabled() {
				return fmt.Errorf("AT_DB_HOST не задан: миграции не требуются")
			}
			return database.Migrate(cfg, logger)
		},
	}
}

func newRestoreCmd() *cobra.Command {
	var (
		since  string
		output string
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Восстановить контент, помеченный удалённым",
		Long: `Снимает пометку удаления с контента, помеченного начиная с --since.
--since принимает время RFC3339 (2026-10-01T00:00:00Z) или длительность
назад от текущего момента (24h).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			restored, err := a.records.Restore(cmd.Context(), from)
			if err != nil {
				return err
			}
			logger.Info("Контент восстановлен",
				slog.Time("since", from),
				slog.Int("restored", restored),
			)
			return printResult(cmd.OutOrStdout(), output, map[string]any{
				"since":    from.UTC().Format(time.RFC3339),
				"restored": restored,
			})
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Начало интервала: RFC3339 или длительность (24h)")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "Формат вывода: json, yaml")
	_ = cmd.MarkFlagRequired("since")
	return cmd
}

func newGCCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Очистить контент с истёкшим сроком хранения",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			result := a.gc.RunOnce()
			return printResult(cmd.OutOrStdout(), output, map[string]any{
				"purged":      result.PurgedCount,
				"wal_cleaned": result.WALCleaned,
				"errors":      result.Errors,
				"duration":    result.Duration.String(),
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "json", "Формат вывода: json, yaml")
	return cmd
}

// parseSince разбирает RFC3339 или длительность назад от now.
func parseSince(value string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("--since: ожидается RFC3339 или положительная длительность, получено %q", value)
	}
	return now.Add(-d), nil
}

// printResult выводит результат команды в формате json или yaml.
func printResult(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("неизвестный формат вывода %q", format)
	}
}
