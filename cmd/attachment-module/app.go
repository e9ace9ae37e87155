// app.go — сборка компонентов Attachment Module.
// Общая для serve, restore и gc: хранилище записей, контент, сервисы.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/attachment-module/internal/cascade"
	"github.com/bigkaa/goartstore/attachment-module/internal/config"
	"github.com/bigkaa/goartstore/attachment-module/internal/database"
	"github.com/bigkaa/goartstore/attachment-module/internal/lifecycle"
	"github.com/bigkaa/goartstore/attachment-module/internal/processor"
	"github.com/bigkaa/goartstore/attachment-module/internal/reader"
	"github.com/bigkaa/goartstore/attachment-module/internal/repository"
	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
	"github.com/bigkaa/goartstore/attachment-module/internal/service"
	"github.com/bigkaa/goartstore/attachment-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/attachment-module/internal/storage/index"
	"github.com/bigkaa/goartstore/attachment-module/internal/storage/wal"
)

// app — собранные компоненты модуля.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *schema.Registry
	fields   *schema.FieldNameResolver

	// pool — nil, если записи хранятся в памяти
	pool *pgxpool.Pool
	sink repository.StatusSink

	files   *filestore.FileStore
	wal     *wal.WAL
	idx     *index.Index
	content *service.AttachmentStore

	records   *service.RecordService
	gc        *service.GCService
	reconcile *service.ReconcileService
}

// newApp собирает компоненты в порядке зависимостей.
// Незавершённые операции с контентом откатываются до возврата.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	// 1. Модель данных
	registry, err := schema.LoadFile(cfg.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки модели: %w", err)
	}
	a.registry = registry
	a.fields, err = schema.NewFieldNameResolver(registry, cfg.FieldCacheSize)
	if err != nil {
		return nil, err
	}
	logger.Info("Модель данных загружена",
		slog.String("file", cfg.SchemaFile),
		slog.Int("entities", len(registry.Names())),
		slog.Any("media", registry.MediaEntities()),
	)

	// 2. Хранилище записей: PostgreSQL или память
	var (
		records repository.RecordReader
		units   repository.UnitRunner
	)
	if cfg.DatabaseEnabled() {
		a.pool, err = database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		pg := repository.NewPostgresStore(a.pool, registry, a.fields)
		records, a.sink = pg, pg
		units = repository.NewTxRunner(a.pool, registry, a.fields, logger)
	} else {
		logger.Warn("AT_DB_HOST не задан, записи хранятся в памяти")
		mem := repository.NewMemoryStore(registry, a.fields, logger)
		records, units, a.sink = mem, mem, mem
	}

	// 3. Контент: файлы, WAL, индекс
	a.files, err = filestore.New(cfg.DataDir)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("ошибка инициализации FileStore: %w", err)
	}
	a.wal, err = wal.New(cfg.WALDir, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("ошибка инициализации WAL: %w", err)
	}
	a.idx = index.New(logger)
	if err := a.idx.BuildFromDir(cfg.DataDir); err != nil {
		a.close()
		return nil, fmt.Errorf("ошибка построения индекса: %w", err)
	}

	a.content = service.NewAttachmentStore(a.files, a.wal, a.idx, cfg.MaxFileSize, cfg.ScannerEnabled(), logger)
	// Сущности без поля contentId хранят контент в самой записи
	a.content.SetInlinePolicy(func(entity string) bool {
		names, err := a.fields.Resolve(entity)
		return err == nil && !names.HasContentID()
	})

	rolledBack, err := a.content.RecoverPending()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("ошибка восстановления WAL: %w", err)
	}
	if rolledBack > 0 {
		logger.Warn("Незавершённые операции с контентом откачены", slog.Int("count", rolledBack))
	}

	// 4. Обработка записей
	attachments := reader.New(cascade.New(registry), records)
	factory := lifecycle.NewFactory(a.content, logger)
	proc := processor.New(registry, a.fields, factory, attachments, logger)
	a.records = service.NewRecordService(registry, a.fields, records, units, proc, factory, attachments, a.content, logger)

	// 5. Обслуживание
	a.gc = service.NewGCService(a.content, a.wal, cfg.GCInterval, cfg.DeletedRetention, logger)
	a.reconcile = service.NewReconcileService(a.files, a.idx, logger)

	return a, nil
}

// close освобождает внешние ресурсы.
func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
