package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
	"github.com/bigkaa/goartstore/attachment-module/internal/txn"
)

// PostgresStore — хранилище записей в таблице records (JSONB).
type PostgresStore struct {
	shaper
	db DBTX
}

// NewPostgresStore создаёт хранилище поверх пула или транзакции.
func NewPostgresStore(db DBTX, s schema.Introspector, fields FieldLocator) *PostgresStore {
	return &PostgresStore{shaper: shaper{schema: s, fields: fields}, db: db}
}

// subtreeCTE — рекурсивный обход записи и её потомков в пространстве $1.
const subtreeCTE = `
	WITH RECURSIVE tree AS (
		SELECT entity, record_key, parent_entity, parent_key, parent_edge, position,
			data, content_field, 0 AS depth
		FROM records
		WHERE space = $1 AND entity = $2 AND record_key = $3
	  UNION ALL
		SELECT r.entity, r.record_key, r.parent_entity, r.parent_key, r.parent_edge, r.position,
			r.data, r.content_field, t.depth + 1
		FROM records r
		JOIN tree t ON r.parent_entity = t.entity AND r.parent_key = t.record_key
		WHERE r.space = $1 AND t.depth < $4
	)`

// unlimitedDepth — глубина обхода для удаления и копирования деревьев.
const unlimitedDepth = 1 << 20

// Read реализует RecordReader: корень и все раскрываемые уровни одним запросом.
func (p *PostgresStore) Read(ctx context.Context, q Query) (model.Record, error) {
	query := subtreeCTE + `
		SELECT entity, record_key, COALESCE(parent_entity, ''), COALESCE(parent_key, ''),
			COALESCE(parent_edge, ''), position, data
		FROM tree
		ORDER BY depth, position`

	rows, err := p.db.Query(ctx, query, string(q.Space), q.Entity, model.KeyString(q.Keys), expandDepth(q.Expands))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения записи %s: %w", q.Entity, err)
	}
	defer rows.Close()

	var all []*row
	for rows.Next() {
		r := &row{}
		if err := rows.Scan(&r.Entity, &r.Key, &r.ParentEntity, &r.ParentKey, &r.ParentEdge, &r.Position, &r.Data); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации записей: %w", err)
	}
	if len(all) == 0 {
		return nil, ErrNotFound
	}

	root := all[0]
	return assemble(root, childIndex(all[1:]), q.Expands)
}

// Upsert реализует RecordWriter. Поля сливаются оператором jsonb ||.
func (p *PostgresStore) Upsert(ctx context.Context, space model.Space, entity string, rec model.Record) error {
	rows, err := p.flatten(entity, rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO records (space, entity, record_key, parent_entity, parent_key, parent_edge,
			position, data, content_field)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8::jsonb, NULLIF($9, ''))
		ON CONFLICT (space, entity, record_key) DO UPDATE SET
			data = records.data || EXCLUDED.data,
			parent_entity = COALESCE(EXCLUDED.parent_entity, records.parent_entity),
			parent_key = COALESCE(EXCLUDED.parent_key, records.parent_key),
			parent_edge = COALESCE(EXCLUDED.parent_edge, records.parent_edge),
			position = CASE WHEN EXCLUDED.parent_entity IS NULL THEN records.position ELSE EXCLUDED.position END,
			content_field = EXCLUDED.content_field,
			updated_at = now()`

	for _, r := range rows {
		_, err := p.db.Exec(ctx, query,
			string(space), r.Entity, r.Key, r.ParentEntity, r.ParentKey, r.ParentEdge,
			r.Position, string(r.Data), r.ContentField,
		)
		if err != nil {
			return fmt.Errorf("ошибка сохранения записи %s (%s): %w", r.Entity, r.Key, err)
		}
	}
	return nil
}

// Delete реализует RecordWriter.
func (p *PostgresStore) Delete(ctx context.Context, space model.Space, entity string, keys map[string]any) error {
	n, err := p.deleteTree(ctx, space, entity, model.KeyString(keys))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) deleteTree(ctx context.Context, space model.Space, entity, key string) (int64, error) {
	query := subtreeCTE + `
		DELETE FROM records r
		USING tree t
		WHERE r.space = $1 AND r.entity = t.entity AND r.record_key = t.record_key`

	tag, err := p.db.Exec(ctx, query, string(space), entity, key, unlimitedDepth)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления записи %s (%s): %w", entity, key, err)
	}
	return tag.RowsAffected(), nil
}

// CopyTree реализует RecordWriter. Атомарность обеспечивает вызывающая транзакция.
func (p *PostgresStore) CopyTree(ctx context.Context, entity string, keys map[string]any, from, to model.Space) error {
	key := model.KeyString(keys)
	if _, err := p.deleteTree(ctx, to, entity, key); err != nil {
		return err
	}

	query := subtreeCTE + `
		INSERT INTO records (space, entity, record_key, parent_entity, parent_key, parent_edge,
			position, data, content_field)
		SELECT $5, entity, record_key, parent_entity, parent_key, parent_edge,
			position, data, content_field
		FROM tree`

	tag, err := p.db.Exec(ctx, query, string(from), entity, key, unlimitedDepth, string(to))
	if err != nil {
		return fmt.Errorf("ошибка копирования записи %s (%s) %s → %s: %w", entity, key, from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatusByContentID реализует StatusSink.
func (p *PostgresStore) UpdateStatusByContentID(ctx context.Context, contentID string, status model.AttachmentStatus, scannedAt time.Time) (int, error) {
	if contentID == "" {
		return 0, nil
	}

	type target struct {
		space, entity, key string
	}

	rows, err := p.db.Query(ctx,
		`SELECT space, entity, record_key FROM records WHERE content_id = $1`, contentID)
	if err != nil {
		return 0, fmt.Errorf("ошибка поиска записей по content_id: %w", err)
	}
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.space, &t.entity, &t.key); err != nil {
			rows.Close()
			return 0, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		targets = append(targets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("ошибка итерации записей: %w", err)
	}

	updated := 0
	for _, t := range targets {
		names, err := p.fields.Resolve(t.entity)
		if err != nil {
			return updated, err
		}
		patch := statusPatch(names, status, scannedAt)
		if len(patch) == 0 {
			continue
		}
		data, err := json.Marshal(patch)
		if err != nil {
			return updated, fmt.Errorf("ошибка сериализации статуса: %w", err)
		}
		_, err = p.db.Exec(ctx, `
			UPDATE records SET data = data || $1::jsonb, updated_at = now()
			WHERE space = $2 AND entity = $3 AND record_key = $4`,
			string(data), t.space, t.entity, t.key)
		if err != nil {
			return updated, fmt.Errorf("ошибка обновления статуса записи %s: %w", t.entity, err)
		}
		updated++
	}
	return updated, nil
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool   *pgxpool.Pool
	shaper shaper
	logger *slog.Logger
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool, s schema.Introspector, fields FieldLocator, logger *slog.Logger) *TxRunner {
	return &TxRunner{
		pool:   pool,
		shaper: shaper{schema: s, fields: fields},
		logger: logger.With(slog.String("component", "tx_runner")),
	}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// RunInUnit реализует UnitRunner: транзакция pgx и единица работы.
// Слушатели вызываются после фиксации или отката.
func (r *TxRunner) RunInUnit(ctx context.Context, fn func(ctx context.Context, store Store, reg txn.Registrar) error) error {
	uow := txn.NewUnitOfWork(r.logger)
	err := r.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &PostgresStore{shaper: r.shaper, db: tx}, uow)
	})
	uow.Complete(ctx, err == nil)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Debug("Единица работы отменена", slog.String("error", err.Error()))
	}
	return err
}
