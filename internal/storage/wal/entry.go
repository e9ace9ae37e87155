// Пакет wal — файловый журнал операций хранилища контента.
// Каждая операция над файлом контента — отдельный файл {tx_id}.wal.json
// в AT_WAL_DIR. Незавершённые записи разбираются при старте.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в WAL.
type OperationType string

const (
	// OpContentCreate — сохранение нового контента
	OpContentCreate OperationType = "content_create"
	// OpContentMark — пометка контента удалённым или снятие пометки
	OpContentMark OperationType = "content_mark"
	// OpContentPurge — физическое удаление контента сборщиком мусора
	OpContentPurge OperationType = "content_purge"
)

// TransactionStatus — статус записи WAL.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCommitted  TransactionStatus = "committed"
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись WAL.
type Entry struct {
	// TransactionID — идентификатор записи (UUID v4)
	TransactionID string `json:"transaction_id"`

	Operation OperationType     `json:"operation"`
	Status    TransactionStatus `json:"status"`

	// ContentID — идентификатор контента
	ContentID string `json:"content_id"`

	// StoragePath — путь файла контента относительно каталога данных
	StoragePath string `json:"storage_path"`

	// Actor — инициатор операции
	Actor string `json:"actor,omitempty"`

	StartedAt time.Time `json:"started_at"`

	// CompletedAt — nil для pending записей
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

const fileSuffix = ".wal.json"

func walFileName(txID string) string {
	return txID + fileSuffix
}
