// Пакет repository — хранение записей иерархической модели данных.
//
// Запись и все её вложенные записи композиций хранятся плоско:
// одна строка на запись со ссылкой на родителя и пространством
// (active/draft). Чтение с раскрытием композиций собирает дерево
// за одно обращение к хранилищу.
//
// Две реализации: PostgreSQL (pgx, без ORM) и in-memory.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/txn"
)

// ErrNotFound — запись не найдена.
var ErrNotFound = errors.New("запись не найдена")

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Expand — раскрытие композиции при чтении: все поля целевых записей
// плюс вложенные раскрытия.
type Expand struct {
	Edge    string
	Target  string
	Expands []Expand
}

// Query — чтение записи по ключу с раскрытием композиций.
type Query struct {
	Space   model.Space
	Entity  string
	Keys    map[string]any
	Expands []Expand
}

// RecordReader — чтение записей.
type RecordReader interface {
	// Read возвращает запись с раскрытыми композициями или ErrNotFound.
	Read(ctx context.Context, q Query) (model.Record, error)
}

// RecordWriter — изменение записей.
type RecordWriter interface {
	// Upsert создаёт или дополняет запись и переданные вложенные записи.
	// Поля, отсутствующие в rec, сохраняют прежние значения.
	Upsert(ctx context.Context, space model.Space, entity string, rec model.Record) error
	// Delete удаляет запись со всеми вложенными записями.
	Delete(ctx context.Context, space model.Space, entity string, keys map[string]any) error
	// CopyTree заменяет дерево записи в пространстве to копией из from.
	CopyTree(ctx context.Context, entity string, keys map[string]any, from, to model.Space) error
}

// StatusSink — синхронизация статуса сканирования в записях.
type StatusSink interface {
	// UpdateStatusByContentID обновляет статус во всех записях с данным
	// идентификатором контента. Возвращает количество обновлённых записей.
	UpdateStatusByContentID(ctx context.Context, contentID string, status model.AttachmentStatus, scannedAt time.Time) (int, error)
}

// Store — полный набор операций над записями.
type Store interface {
	RecordReader
	RecordWriter
	StatusSink
}

// UnitRunner выполняет операции в единице работы. Store внутри fn
// привязан к транзакции; слушатели Registrar вызываются после её
// фиксации или отката.
type UnitRunner interface {
	RunInUnit(ctx context.Context, fn func(ctx context.Context, store Store, reg txn.Registrar) error) error
}

// FieldLocator — описание полей сущностей-вложений.
type FieldLocator interface {
	Resolve(entity string) (model.AttachmentFieldNames, error)
}
