// content.go — метаданные контента в локальном хранилище.
// ContentMetadata — in-memory представление и формат attr.json на диске.
package model

import (
	"time"
)

// ContentMetadata — метаданные сохранённого контента.
// Поле StoragePath не покидает хранилище, но сохраняется в attr.json
// для привязки метаданных к физическому файлу.
type ContentMetadata struct {
	// ContentID — идентификатор контента (UUID v4)
	ContentID string `json:"content_id"`

	// Entity — сущность-владелец вложения
	Entity string `json:"entity"`

	// AttachmentKey — канонический ключ записи-владельца
	AttachmentKey string `json:"attachment_key,omitempty"`

	// FileName — имя файла при загрузке
	FileName string `json:"file_name"`

	// StoragePath — имя файла на диске (относительно AT_DATA_DIR)
	StoragePath string `json:"storage_path"`

	// MimeType — MIME-тип контента
	MimeType string `json:"mime_type"`

	// Size — размер в байтах
	Size int64 `json:"size"`

	// Checksum — SHA-256 хэш содержимого
	Checksum string `json:"checksum"`

	// CreatedBy — инициатор загрузки
	CreatedBy string `json:"created_by"`

	// CreatedAt — время загрузки (UTC)
	CreatedAt time.Time `json:"created_at"`

	// Status — статус сканирования
	Status AttachmentStatus `json:"status"`

	// ScannedAt — время последнего сканирования
	ScannedAt *time.Time `json:"scanned_at,omitempty"`

	// DeletedAt — время пометки на удаление. nil — контент действующий.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// DeletedBy — инициатор пометки на удаление
	DeletedBy string `json:"deleted_by,omitempty"`
}

// IsDeleted проверяет, помечен ли контент на удаление.
func (m *ContentMetadata) IsDeleted() bool {
	return m.DeletedAt != nil
}

// IsPurgeable проверяет, истёк ли срок хранения удалённого контента.
func (m *ContentMetadata) IsPurgeable(now time.Time, retention time.Duration) bool {
	if m.DeletedAt == nil {
		return false
	}
	return now.Sub(*m.DeletedAt) >= retention
}
