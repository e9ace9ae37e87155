// attachment.go — модели вложений: описание полей, входные данные
// для хранилища контента и результат модификации.
package model

import (
	"errors"
	"fmt"
	"io"
)

// AttachmentStatus — статус контента вложения (жизненный цикл сканирования).
type AttachmentStatus string

const (
	// StatusUnscanned — контент загружен, сканирование ещё не начато
	StatusUnscanned AttachmentStatus = "unscanned"
	// StatusScanning — контент передан сканеру
	StatusScanning AttachmentStatus = "scanning"
	// StatusClean — угроз не обнаружено, чтение разрешено
	StatusClean AttachmentStatus = "clean"
	// StatusInfected — обнаружено вредоносное содержимое
	StatusInfected AttachmentStatus = "infected"
	// StatusFailed — сканирование завершилось ошибкой
	StatusFailed AttachmentStatus = "failed"
)

// OperationKind — вид операции, в рамках которой обрабатывается вложение.
// Передаётся явно через всю цепочку вызовов.
type OperationKind string

const (
	OpCreate     OperationKind = "create"
	OpUpdate     OperationKind = "update"
	OpDraftPatch OperationKind = "draft_patch"
	OpDraftSave  OperationKind = "draft_save"
	OpDelete     OperationKind = "delete"
)

var (
	// ErrInvalidFieldNames — описание полей вложения некорректно.
	ErrInvalidFieldNames = errors.New("некорректное описание полей вложения")
	// ErrMissingIdentifier — не удалось определить ключ записи.
	ErrMissingIdentifier = errors.New("не задан идентификатор записи")
	// ErrContentNotFound — контент с данным идентификатором отсутствует.
	ErrContentNotFound = errors.New("контент не найден")
)

// AttachmentFieldNames — имена полей сущности-вложения.
// Вычисляется один раз на форму сущности и передаётся явно.
// Пустое имя означает, что поле у сущности отсутствует.
type AttachmentFieldNames struct {
	// Key — ключевое поле записи
	Key string
	// ContentID — идентификатор контента во внешнем хранилище (опционально)
	ContentID string
	// Status — статус сканирования
	Status string
	// MimeType — MIME-тип (опционально)
	MimeType string
	// FileName — имя файла (опционально)
	FileName string
	// Content — поле потока контента
	Content string
	// ScannedAt — время последнего сканирования (опционально)
	ScannedAt string
}

// Validate проверяет обязательные поля описания.
func (n AttachmentFieldNames) Validate() error {
	if n.Key == "" {
		return fmt.Errorf("%w: не задано ключевое поле", ErrInvalidFieldNames)
	}
	if n.Content == "" {
		return fmt.Errorf("%w: не задано поле контента", ErrInvalidFieldNames)
	}
	if n.ContentID != "" && n.ContentID == n.Content {
		return fmt.Errorf("%w: поле идентификатора совпадает с полем контента", ErrInvalidFieldNames)
	}
	return nil
}

// HasContentID сообщает, есть ли у сущности поле идентификатора контента.
func (n AttachmentFieldNames) HasContentID() bool { return n.ContentID != "" }

// CreateAttachmentInput — входные данные для создания контента.
type CreateAttachmentInput struct {
	// Entity — квалифицированное имя сущности-вложения
	Entity string
	// AttachmentKeys — ключи самой записи вложения
	AttachmentKeys map[string]any
	// ParentKeys — путь ключей родительских записей (от корня)
	ParentKeys []map[string]any
	// FileName — имя файла
	FileName string
	// MimeType — MIME-тип
	MimeType string
	// Content — поток контента
	Content io.Reader
	// MaxSize — лимит размера в байтах (0 — лимит хранилища по умолчанию)
	MaxSize int64
	// Actor — инициатор операции
	Actor string
}

// UpdateAttachmentInput — входные данные для замены контента.
type UpdateAttachmentInput struct {
	CreateAttachmentInput
	// ContentID — идентификатор заменяемого контента
	ContentID string
}

// MarkAsDeletedInput — входные данные для пометки контента удалённым.
type MarkAsDeletedInput struct {
	ContentID string
	Actor     string
}

// AttachmentModificationResult — ответ хранилища на создание/замену контента.
// IsExternallyStored=true: контент не должен сохраняться в самой записи.
type AttachmentModificationResult struct {
	IsExternallyStored bool
	ContentID          string
	Status             AttachmentStatus
}
