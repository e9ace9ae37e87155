// records.go — операции над записями: создание, обновление, черновики,
// удаление и чтение контента. Каждая операция изменения выполняется
// в единице работы: записи и слушатели вложений фиксируются или
// откатываются вместе.
package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/domain/status"
	"github.com/bigkaa/goartstore/attachment-module/internal/lifecycle"
	"github.com/bigkaa/goartstore/attachment-module/internal/mediatype"
	"github.com/bigkaa/goartstore/attachment-module/internal/processor"
	"github.com/bigkaa/goartstore/attachment-module/internal/reader"
	"github.com/bigkaa/goartstore/attachment-module/internal/repository"
	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
	"github.com/bigkaa/goartstore/attachment-module/internal/stream"
	"github.com/bigkaa/goartstore/attachment-module/internal/txn"
	"github.com/bigkaa/goartstore/attachment-module/internal/validation"
)

// ErrRecordExists — запись с таким ключом уже существует.
var ErrRecordExists = errors.New("запись уже существует")

// ContentInfo — метаданные контента для заголовков ответа (опционально).
type ContentInfo interface {
	Metadata(contentID string) (*model.ContentMetadata, error)
}

// Content — поток контента вложения. Ошибки хранилища и проверки
// статуса возвращаются при первом чтении Body.
type Content struct {
	Body     io.ReadCloser
	FileName string
	MimeType string
	// Size — размер в байтах, -1 если неизвестен
	Size int64
}

// RecordService — операции над записями с обработкой вложений.
type RecordService struct {
	schema      schema.Introspector
	fields      repository.FieldLocator
	records     repository.RecordReader
	units       repository.UnitRunner
	processor   *processor.Processor
	factory     *lifecycle.Factory
	attachments *reader.AttachmentsReader
	counts      *validation.CountValidator
	content     lifecycle.AttachmentService
	logger      *slog.Logger
}

// NewRecordService создаёт сервис записей.
func NewRecordService(
	s schema.Introspector,
	fields repository.FieldLocator,
	records repository.RecordReader,
	units repository.UnitRunner,
	proc *processor.Processor,
	factory *lifecycle.Factory,
	attachments *reader.AttachmentsReader,
	content lifecycle.AttachmentService,
	logger *slog.Logger,
) *RecordService {
	return &RecordService{
		schema:      s,
		fields:      fields,
		records:     records,
		units:       units,
		processor:   proc,
		factory:     factory,
		attachments: attachments,
		counts:      validation.NewCountValidator(s),
		content:     content,
		logger:      logger.With(slog.String("component", "record_service")),
	}
}

// Create создаёт запись с вложенными записями и контентом.
func (s *RecordService) Create(ctx context.Context, entity string, rec model.Record, actor string) (model.Record, error) {
	e, err := s.entity(entity)
	if err != nil {
		return nil, err
	}
	keys, err := e.ResolveKeys(rec, true)
	if err != nil {
		return nil, err
	}

	var out model.Record
	err = s.units.RunInUnit(ctx, func(ctx context.Context, store repository.Store, reg txn.Registrar) error {
		if _, err := store.Read(ctx, repository.Query{Space: model.SpaceActive, Entity: entity, Keys: keys}); err == nil {
			return fmt.Errorf("%w: %s (%s)", ErrRecordExists, entity, model.KeyString(keys))
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		result, err := s.processor.ProcessWrite(ctx, processor.WriteRequest{
			Entity:    entity,
			Records:   []model.Record{rec},
			Operation: model.OpCreate,
			Space:     model.SpaceActive,
			Actor:     actor,
			Store:     store,
			Registrar: reg,
		})
		if err != nil {
			return err
		}
		if err := store.Upsert(ctx, model.SpaceActive, entity, rec); err != nil {
			return err
		}
		s.logAction("Запись создана", entity, keys, result)
		out, err = s.readFull(ctx, store, model.SpaceActive, entity, keys)
		return err
	})
	return out, err
}

// Update изменяет существующую активную запись.
func (s *RecordService) Update(ctx context.Context, entity string, keys map[string]any, patch model.Record, actor string) (model.Record, error) {
	return s.write(ctx, entity, keys, patch, actor, model.OpUpdate, model.SpaceActive)
}

// PatchDraft изменяет черновик. Черновик создаётся копией активной
// записи при первой правке. Ограничения количества не проверяются
// до сохранения черновика.
func (s *RecordService) PatchDraft(ctx context.Context, entity string, keys map[string]any, patch model.Record, actor string) (model.Record, error) {
	return s.write(ctx, entity, keys, patch, actor, model.OpDraftPatch, model.SpaceDraft)
}

func (s *RecordService) write(
	ctx context.Context,
	entity string,
	keys map[string]any,
	patch model.Record,
	actor string,
	op model.OperationKind,
	space model.Space,
) (model.Record, error) {
	if _, err := s.entity(entity); err != nil {
		return nil, err
	}
	for k, v := range keys {
		patch[k] = v
	}

	var out model.Record
	err := s.units.RunInUnit(ctx, func(ctx context.Context, store repository.Store, reg txn.Registrar) error {
		q := repository.Query{Space: space, Entity: entity, Keys: keys}
		if _, err := store.Read(ctx, q); err != nil {
			if !errors.Is(err, repository.ErrNotFound) || space != model.SpaceDraft {
				return err
			}
			// первая правка черновика
			err = store.CopyTree(ctx, entity, keys, model.SpaceActive, model.SpaceDraft)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}

		result, err := s.processor.ProcessWrite(ctx, processor.WriteRequest{
			Entity:    entity,
			Records:   []model.Record{patch},
			Operation: op,
			Space:     space,
			Actor:     actor,
			Store:     store,
			Registrar: reg,
		})
		if err != nil {
			return err
		}
		if err := store.Upsert(ctx, space, entity, patch); err != nil {
			return err
		}
		s.logAction("Запись изменена", entity, keys, result)
		out, err = s.readFull(ctx, store, space, entity, keys)
		return err
	})
	return out, err
}

// SaveDraft проверяет ограничения количества по итоговому состоянию
// черновика, помечает удалённым контент, отсутствующий в черновике,
// и заменяет активную запись черновиком.
func (s *RecordService) SaveDraft(ctx context.Context, entity string, keys map[string]any, actor string) (model.Record, error) {
	if _, err := s.entity(entity); err != nil {
		return nil, err
	}

	var out model.Record
	err := s.units.RunInUnit(ctx, func(ctx context.Context, store repository.Store, reg txn.Registrar) error {
		draft, err := s.readFull(ctx, store, model.SpaceDraft, entity, keys)
		if err != nil {
			return err
		}
		if err := s.counts.ValidateState(entity, []model.Record{draft}); err != nil {
			return err
		}

		draftRows, err := s.mediaRows(ctx, store, model.SpaceDraft, entity, keys)
		if err != nil {
			return err
		}
		activeRows, err := s.mediaRows(ctx, store, model.SpaceActive, entity, keys)
		if err != nil {
			return err
		}
		marked, err := s.markMissing(ctx, activeRows, draftRows, model.OpDraftSave, actor, reg)
		if err != nil {
			return err
		}

		if err := store.CopyTree(ctx, entity, keys, model.SpaceDraft, model.SpaceActive); err != nil {
			return err
		}
		if err := store.Delete(ctx, model.SpaceDraft, entity, keys); err != nil {
			return err
		}
		s.logger.Info("Черновик сохранён",
			slog.String("entity", entity),
			slog.String("key", model.KeyString(keys)),
			slog.Int("content_marked_deleted", marked),
		)
		out, err = s.readFull(ctx, store, model.SpaceActive, entity, keys)
		return err
	})
	return out, err
}

// DiscardDraft удаляет черновик. Контент, загруженный только в
// черновик, помечается удалённым.
func (s *RecordService) DiscardDraft(ctx context.Context, entity string, keys map[string]any, actor string) error {
	if _, err := s.entity(entity); err != nil {
		return err
	}
	return s.units.RunInUnit(ctx, func(ctx context.Context, store repository.Store, reg txn.Registrar) error {
		return s.discardDraft(ctx, store, reg, entity, keys, actor, false)
	})
}

func (s *RecordService) discardDraft(
	ctx context.Context,
	store repository.Store,
	reg txn.Registrar,
	entity string,
	keys map[string]any,
	actor string,
	optional bool,
) error {
	draftRows, err := s.mediaRows(ctx, store, model.SpaceDraft, entity, keys)
	if err != nil {
		if optional && errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	activeRows, err := s.mediaRows(ctx, store, model.SpaceActive, entity, keys)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if _, err := s.markMissing(ctx, draftRows, activeRows, model.OpDelete, actor, reg); err != nil {
		return err
	}
	return store.Delete(ctx, model.SpaceDraft, entity, keys)
}

// Delete удаляет активную запись вместе с черновиком. Контент всех
// вложений помечается удалённым.
func (s *RecordService) Delete(ctx context.Context, entity string, keys map[string]any, actor string) error {
	if _, err := s.entity(entity); err != nil {
		return err
	}
	return s.units.RunInUnit(ctx, func(ctx context.Context, store repository.Store, reg txn.Registrar) error {
		if err := s.discardDraft(ctx, store, reg, entity, keys, actor, true); err != nil {
			return err
		}
		result, err := s.processor.ProcessDelete(ctx, processor.DeleteRequest{
			Entity:    entity,
			Keys:      keys,
			Space:     model.SpaceActive,
			Actor:     actor,
			Operation: model.OpDelete,
			Store:     store,
			Registrar: reg,
		})
		if err != nil {
			return err
		}
		if err := store.Delete(ctx, model.SpaceActive, entity, keys); err != nil {
			return err
		}
		s.logAction("Запись удалена", entity, keys, result)
		return nil
	})
}

// Read возвращает запись со всеми композициями.
func (s *RecordService) Read(ctx context.Context, space model.Space, entity string, keys map[string]any) (model.Record, error) {
	if _, err := s.entity(entity); err != nil {
		return nil, err
	}
	return s.readFull(ctx, s.records, space, entity, keys)
}

// UploadContent заменяет контент записи-вложения потоком body.
func (s *RecordService) UploadContent(
	ctx context.Context,
	entity string,
	keys map[string]any,
	fileName, mimeType string,
	body io.Reader,
	actor string,
) (model.Record, error) {
	names, err := s.fields.Resolve(entity)
	if err != nil {
		return nil, err
	}
	patch := model.Record{names.Content: body}
	if fileName != "" && names.FileName != "" {
		patch[names.FileName] = fileName
	}
	if mimeType != "" && names.MimeType != "" {
		patch[names.MimeType] = mimeType
	}
	return s.Update(ctx, entity, keys, patch, actor)
}

// ReadContent открывает контент записи-вложения. Ошибки хранилища
// проверяются раньше статуса сканирования.
func (s *RecordService) ReadContent(ctx context.Context, space model.Space, entity string, keys map[string]any) (*Content, error) {
	names, err := s.fields.Resolve(entity)
	if err != nil {
		return nil, err
	}
	rec, err := s.records.Read(ctx, repository.Query{Space: space, Entity: entity, Keys: keys})
	if err != nil {
		return nil, err
	}

	out := &Content{
		FileName: rec.String(names.FileName),
		MimeType: rec.String(names.MimeType),
		Size:     -1,
	}
	st := model.AttachmentStatus(rec.String(names.Status))

	var open stream.OpenFunc
	if contentID := rec.String(names.ContentID); contentID != "" {
		if info, ok := s.content.(ContentInfo); ok {
			if meta, err := info.Metadata(contentID); err == nil {
				out.FileName = firstNonEmptyString(out.FileName, meta.FileName)
				out.MimeType = firstNonEmptyString(out.MimeType, meta.MimeType)
				out.Size = meta.Size
			}
		}
		open = func(ctx context.Context) (io.ReadCloser, error) {
			return s.content.ReadAttachment(ctx, contentID)
		}
	} else {
		data, err := inlineContent(rec[names.Content])
		if err != nil {
			return nil, err
		}
		if data == nil {
			return nil, fmt.Errorf("%w: %s (%s)", ErrContentNotFound, entity, model.KeyString(keys))
		}
		out.Size = int64(len(data))
		open = func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	}
	if out.MimeType == "" {
		out.MimeType = mediatype.ResolveMimeType(out.FileName)
	}

	out.Body = stream.NewLazyReader(ctx, open, func() error {
		return status.ValidateRead(st)
	})
	return out, nil
}

// Restore снимает пометку удаления с контента, помеченного начиная с since.
func (s *RecordService) Restore(ctx context.Context, since time.Time) (int, error) {
	return s.content.RestoreAttachment(ctx, since)
}

func (s *RecordService) entity(name string) (*schema.Entity, error) {
	e, ok := s.schema.Entity(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrUnknownEntity, name)
	}
	return e, nil
}

// readFull читает запись с раскрытием всех композиций.
func (s *RecordService) readFull(ctx context.Context, r repository.RecordReader, space model.Space, entity string, keys map[string]any) (model.Record, error) {
	return r.Read(ctx, repository.Query{
		Space:    space,
		Entity:   entity,
		Keys:     keys,
		Expands:  s.expandAll(entity, mapset.NewThreadUnsafeSet(entity)),
	})
}

// expandAll строит раскрытие всех композиций. Сущность, уже
// встреченная на пути от корня, не раскрывается повторно.
func (s *RecordService) expandAll(entity string, path mapset.Set[string]) []repository.Expand {
	e, ok := s.schema.Entity(entity)
	if !ok {
		return nil
	}
	var out []repository.Expand
	for _, comp := range e.Compositions {
		if path.Contains(comp.Target) {
			continue
		}
		path.Add(comp.Target)
		out = append(out, repository.Expand{
			Edge:    comp.Name,
			Target:  comp.Target,
			Expands: s.expandAll(comp.Target, path),
		})
		path.Remove(comp.Target)
	}
	return out
}

// mediaRows читает записи-вложения дерева записи.
func (s *RecordService) mediaRows(ctx context.Context, store repository.RecordReader, space model.Space, entity string, keys map[string]any) ([]reader.MediaRow, error) {
	rec, tree, err := s.attachments.Using(store).Read(ctx, space, entity, keys)
	if err != nil {
		return nil, err
	}
	return reader.Collect(rec, tree), nil
}

// markMissing помечает удалённым контент строк from, идентификатора
// которого нет среди строк keep. Возвращает количество помеченных.
func (s *RecordService) markMissing(
	ctx context.Context,
	from, keep []reader.MediaRow,
	op model.OperationKind,
	actor string,
	reg txn.Registrar,
) (int, error) {
	kept := mapset.NewThreadUnsafeSet[string]()
	for _, row := range keep {
		names, err := s.fields.Resolve(row.Entity)
		if err != nil {
			return 0, err
		}
		if id := row.Record.String(names.ContentID); id != "" {
			kept.Add(id)
		}
	}

	marked := 0
	for _, row := range from {
		names, err := s.fields.Resolve(row.Entity)
		if err != nil {
			return marked, err
		}
		id := row.Record.String(names.ContentID)
		if id == "" || kept.Contains(id) {
			continue
		}
		target := &lifecycle.Target{
			Entity:    row.Entity,
			Fields:    names,
			Current:   model.Record{},
			Existing:  row.Record,
			Operation: op,
			Actor:     actor,
			Registrar: reg,
		}
		if e, ok := s.schema.Entity(row.Entity); ok {
			target.Keys, _ = row.Record.Keys(e.Keys)
		}
		if _, err := s.factory.ForKind(lifecycle.MarkAsDeleted).Process(ctx, target); err != nil {
			return marked, err
		}
		kept.Add(id)
		marked++
	}
	return marked, nil
}

func (s *RecordService) logAction(msg, entity string, keys map[string]any, result processor.Result) {
	s.logger.Info(msg,
		slog.String("entity", entity),
		slog.String("key", model.KeyString(keys)),
		slog.Int("created", result.Count(lifecycle.Create)),
		slog.Int("updated", result.Count(lifecycle.Update)),
		slog.Int("marked_deleted", result.Count(lifecycle.MarkAsDeleted)),
	)
}

// inlineContent возвращает встроенный контент записи. После сохранения
// в JSON байты хранятся строкой base64.
func inlineContent(v any) ([]byte, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return c, nil
	case string:
		data, err := base64.StdEncoding.DecodeString(c)
		if err != nil {
			return nil, fmt.Errorf("некорректный встроенный контент: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("некорректный встроенный контент: %T", v)
	}
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
