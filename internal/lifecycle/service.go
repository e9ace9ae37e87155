package lifecycle

import (
	"context"
	"io"
	"time"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
)

// AttachmentService — хранилище контента вложений.
// Ошибки передаются вызывающему без изменений.
type AttachmentService interface {
	CreateAttachment(ctx context.Context, in model.CreateAttachmentInput) (model.AttachmentModificationResult, error)
	UpdateAttachment(ctx context.Context, in model.UpdateAttachmentInput) (model.AttachmentModificationResult, error)
	MarkAttachmentAsDeleted(ctx context.Context, in model.MarkAsDeletedInput) error
	ReadAttachment(ctx context.Context, contentID string) (io.ReadCloser, error)
	// RestoreAttachment восстанавливает контент, помеченный удалённым
	// начиная с since. Возвращает количество восстановленных.
	RestoreAttachment(ctx context.Context, since time.Time) (int, error)
}

// Confirmer — хранилище, которому нужно подтверждение созданного
// контента после фиксации единицы работы.
type Confirmer interface {
	ConfirmAttachment(ctx context.Context, contentID string) error
}

// Undeleter — хранилище, умеющее снять пометку удаления с одного
// контента. Вызывается при откате единицы работы, в которой контент
// был помечен удалённым.
type Undeleter interface {
	UndeleteAttachment(ctx context.Context, contentID string) error
}
