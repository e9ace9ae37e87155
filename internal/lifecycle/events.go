package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/mediatype"
	"github.com/bigkaa/goartstore/attachment-module/internal/stream"
	"github.com/bigkaa/goartstore/attachment-module/internal/txn"
)

// Target — поле вложения одной записи, над которым выполняется действие.
type Target struct {
	// Entity — квалифицированное имя сущности-вложения
	Entity string
	// Fields — имена полей вложения
	Fields model.AttachmentFieldNames
	// Keys — ключи записи вложения
	Keys map[string]any
	// ParentKeys — ключи родительских записей от корня
	ParentKeys []map[string]any
	// Current — запись из запроса; изменяется на месте
	Current model.Record
	// Existing — сохранённая запись (nil — записи ещё нет)
	Existing model.Record
	// Content — новый контент (nil — контент не передан)
	Content io.Reader
	// Operation — вид операции
	Operation model.OperationKind
	// Actor — инициатор
	Actor string
	// MaxSize — лимит размера контента (0 — лимит хранилища)
	MaxSize int64
	// Registrar — регистрация слушателей текущей единицы работы
	Registrar txn.Registrar
	// CreatedContentID — идентификатор, записанный CreateEvent в этом проходе
	CreatedContentID string
}

// Input возвращает состояние поля для Classify.
func (t *Target) Input() Input {
	in := Input{
		NewContent:        t.Content != nil,
		ExistingContentID: t.Existing.String(t.Fields.ContentID),
	}
	if t.Fields.HasContentID() {
		in.ContentIDPresent = t.Current.Has(t.Fields.ContentID)
		in.NewContentID = t.Current.String(t.Fields.ContentID)
	}
	return in
}

// Event — действие над полем вложения. Process возвращает контент,
// который следует сохранить в самой записи (nil — не сохранять).
type Event interface {
	Kind() Kind
	Process(ctx context.Context, t *Target) (io.Reader, error)
}

// Factory создаёт варианты действий над общим хранилищем.
type Factory struct {
	service AttachmentService
	logger  *slog.Logger
}

// NewFactory создаёт фабрику действий.
func NewFactory(service AttachmentService, logger *slog.Logger) *Factory {
	return &Factory{
		service: service,
		logger:  logger.With(slog.String("component", "lifecycle")),
	}
}

// ForKind возвращает вариант для действия kind.
func (f *Factory) ForKind(kind Kind) Event {
	switch kind {
	case Create:
		return &CreateEvent{service: f.service, logger: f.logger}
	case Update:
		return &UpdateEvent{
			markAsDeleted: &MarkAsDeletedEvent{service: f.service, logger: f.logger},
			create:        &CreateEvent{service: f.service, logger: f.logger},
		}
	case MarkAsDeleted:
		return &MarkAsDeletedEvent{service: f.service, logger: f.logger}
	default:
		return DoNothingEvent{}
	}
}

// For классифицирует поле и возвращает соответствующий вариант.
func (f *Factory) For(t *Target) Event {
	return f.ForKind(Classify(t.Input()))
}

// CreateEvent сохраняет новый контент и записывает его идентификатор
// и статус в запись.
type CreateEvent struct {
	service AttachmentService
	logger  *slog.Logger
}

// Kind реализует Event.
func (e *CreateEvent) Kind() Kind { return Create }

// Process реализует Event.
func (e *CreateEvent) Process(ctx context.Context, t *Target) (io.Reader, error) {
	actionsTotal.WithLabelValues(Create.String(), string(t.Operation)).Inc()
	return e.apply(ctx, t)
}

func (e *CreateEvent) apply(ctx context.Context, t *Target) (io.Reader, error) {
	fileName := firstNonEmpty(t.Current.String(t.Fields.FileName), t.Existing.String(t.Fields.FileName))
	mimeType := firstNonEmpty(t.Current.String(t.Fields.MimeType), t.Existing.String(t.Fields.MimeType))
	if mimeType == "" {
		mimeType = mediatype.ResolveMimeType(fileName)
	}

	result, err := e.service.CreateAttachment(ctx, model.CreateAttachmentInput{
		Entity:         t.Entity,
		AttachmentKeys: t.Keys,
		ParentKeys:     t.ParentKeys,
		FileName:       fileName,
		MimeType:       mimeType,
		Content:        t.Content,
		MaxSize:        t.MaxSize,
		Actor:          t.Actor,
	})
	storeCallsTotal.WithLabelValues("create", resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}

	t.CreatedContentID = result.ContentID
	setField(t.Current, t.Fields.ContentID, nullable(result.ContentID))
	setField(t.Current, t.Fields.Status, string(result.Status))
	setField(t.Current, t.Fields.ScannedAt, nil)
	if t.Fields.MimeType != "" && t.Current.String(t.Fields.MimeType) == "" {
		t.Current[t.Fields.MimeType] = mimeType
	}

	if t.Registrar != nil && result.ContentID != "" {
		t.Registrar.Register(&createListener{
			service:   e.service,
			contentID: result.ContentID,
			actor:     t.Actor,
			logger:    e.logger,
		})
	}

	e.logger.Debug("Контент вложения создан",
		slog.String("entity", t.Entity),
		slog.String("content_id", result.ContentID),
		slog.String("status", string(result.Status)),
		slog.Bool("external", result.IsExternallyStored),
	)

	if result.IsExternallyStored || t.Content == nil {
		return nil, nil
	}
	return stream.NewCountingReader(t.Content, t.MaxSize), nil
}

// createListener удаляет созданный контент при откате и подтверждает
// его при фиксации.
type createListener struct {
	service   AttachmentService
	contentID string
	actor     string
	logger    *slog.Logger
}

// AfterClose реализует txn.Listener. Ошибка компенсации только
// логируется: причина отката остаётся у вызывающего.
func (l *createListener) AfterClose(ctx context.Context, committed bool) {
	if committed {
		c, ok := l.service.(Confirmer)
		if !ok {
			return
		}
		err := c.ConfirmAttachment(ctx, l.contentID)
		compensationsTotal.WithLabelValues("confirm", resultLabel(err)).Inc()
		if err != nil {
			l.logger.Error("Ошибка подтверждения контента после фиксации",
				slog.String("content_id", l.contentID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	err := l.service.MarkAttachmentAsDeleted(ctx, model.MarkAsDeletedInput{
		ContentID: l.contentID,
		Actor:     l.actor,
	})
	compensationsTotal.WithLabelValues("delete_created", resultLabel(err)).Inc()
	if err != nil {
		l.logger.Error("Ошибка удаления контента при откате",
			slog.String("content_id", l.contentID),
			slog.String("error", err.Error()),
		)
		return
	}
	l.logger.Info("Созданный контент удалён при откате",
		slog.String("content_id", l.contentID),
	)
}

// MarkAsDeletedEvent помечает прежний контент удалённым и очищает
// поля вложения в записи.
type MarkAsDeletedEvent struct {
	service AttachmentService
	logger  *slog.Logger
}

// Kind реализует Event.
func (e *MarkAsDeletedEvent) Kind() Kind { return MarkAsDeleted }

// Process реализует Event. При редактировании черновика хранилище не
// вызывается: правка может быть отменена.
func (e *MarkAsDeletedEvent) Process(ctx context.Context, t *Target) (io.Reader, error) {
	actionsTotal.WithLabelValues(MarkAsDeleted.String(), string(t.Operation)).Inc()
	return nil, e.apply(ctx, t)
}

func (e *MarkAsDeletedEvent) apply(ctx context.Context, t *Target) error {
	existingID := t.Existing.String(t.Fields.ContentID)
	if existingID != "" && t.Operation != model.OpDraftPatch {
		err := e.service.MarkAttachmentAsDeleted(ctx, model.MarkAsDeletedInput{
			ContentID: existingID,
			Actor:     t.Actor,
		})
		storeCallsTotal.WithLabelValues("mark_as_deleted", resultLabel(err)).Inc()
		switch {
		case errors.Is(err, model.ErrContentNotFound):
			// контента уже нет: ссылка на него просто снимается
			e.logger.Warn("Контент вложения не найден при пометке удаления",
				slog.String("entity", t.Entity),
				slog.String("content_id", existingID),
			)
		case err != nil:
			return err
		default:
			if u, ok := e.service.(Undeleter); ok && t.Registrar != nil {
				t.Registrar.Register(&markListener{undeleter: u, contentID: existingID, logger: e.logger})
			}
			e.logger.Debug("Контент вложения помечен удалённым",
				slog.String("entity", t.Entity),
				slog.String("content_id", existingID),
			)
		}
	}

	// Идентификатор, созданный в этом же проходе, не затирается.
	if t.CreatedContentID != "" && t.Current.String(t.Fields.ContentID) == t.CreatedContentID {
		return nil
	}
	setField(t.Current, t.Fields.ContentID, nil)
	setField(t.Current, t.Fields.Status, nil)
	setField(t.Current, t.Fields.ScannedAt, nil)
	return nil
}

// markListener снимает пометку удаления, если единица работы откатилась.
type markListener struct {
	undeleter Undeleter
	contentID string
	logger    *slog.Logger
}

// AfterClose реализует txn.Listener.
func (l *markListener) AfterClose(ctx context.Context, committed bool) {
	if committed {
		return
	}
	err := l.undeleter.UndeleteAttachment(ctx, l.contentID)
	compensationsTotal.WithLabelValues("undelete", resultLabel(err)).Inc()
	if err != nil {
		l.logger.Error("Ошибка снятия пометки удаления при откате",
			slog.String("content_id", l.contentID),
			slog.String("error", err.Error()),
		)
	}
}

// UpdateEvent — пометка прежнего контента удалённым, затем создание нового.
type UpdateEvent struct {
	markAsDeleted *MarkAsDeletedEvent
	create        *CreateEvent
}

// Kind реализует Event.
func (e *UpdateEvent) Kind() Kind { return Update }

// Process реализует Event.
func (e *UpdateEvent) Process(ctx context.Context, t *Target) (io.Reader, error) {
	actionsTotal.WithLabelValues(Update.String(), string(t.Operation)).Inc()

	if err := e.markAsDeleted.apply(ctx, t); err != nil {
		return nil, err
	}
	return e.create.apply(ctx, t)
}

// DoNothingEvent оставляет контент и идентификатор прежними.
// У сущности с полем идентификатора контент из запроса отбрасывается:
// он попадает в хранилище только через CreateEvent.
type DoNothingEvent struct{}

// Kind реализует Event.
func (DoNothingEvent) Kind() Kind { return DoNothing }

// Process реализует Event.
func (DoNothingEvent) Process(_ context.Context, t *Target) (io.Reader, error) {
	if t.Fields.HasContentID() {
		existingID := t.Existing.String(t.Fields.ContentID)
		if t.Current.Has(t.Fields.ContentID) && t.Current.String(t.Fields.ContentID) != existingID {
			t.Current[t.Fields.ContentID] = nullable(existingID)
		}
		return nil, nil
	}
	if t.Content == nil {
		return nil, nil
	}
	return stream.NewCountingReader(t.Content, t.MaxSize), nil
}

// setField записывает значение, если поле у сущности есть.
func setField(rec model.Record, field string, value any) {
	if field == "" || rec == nil {
		return
	}
	rec[field] = value
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
