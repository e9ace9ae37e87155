// Пакет processor — обработка полей вложений при записи и удалении.
//
// Запись обрабатывается в два прохода. Проход поиска собирает
// неизменяемый список записей-вложений, в которых запрос затрагивает
// поле контента. Затем выполняются проверки, и только после них проход
// применения слева направо классифицирует каждое поле, выполняет
// действие и возвращает результат в запись.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/lifecycle"
	"github.com/bigkaa/goartstore/attachment-module/internal/reader"
	"github.com/bigkaa/goartstore/attachment-module/internal/repository"
	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
	"github.com/bigkaa/goartstore/attachment-module/internal/txn"
	"github.com/bigkaa/goartstore/attachment-module/internal/validation"
)

// WriteRequest — запись (создание, обновление, правка черновика).
type WriteRequest struct {
	// Entity — корневая сущность записей
	Entity string
	// Records — записи запроса; изменяются на месте
	Records []model.Record
	// Operation — вид операции
	Operation model.OperationKind
	// Space — пространство, из которого читается прежнее состояние
	Space model.Space
	// Actor — инициатор
	Actor string
	// Store — чтение прежнего состояния (привязано к единице работы)
	Store repository.RecordReader
	// Registrar — регистрация слушателей единицы работы
	Registrar txn.Registrar
}

// DeleteRequest — каскадное удаление записи.
type DeleteRequest struct {
	Entity    string
	Keys      map[string]any
	Space     model.Space
	Actor     string
	Operation model.OperationKind
	Store     repository.RecordReader
	Registrar txn.Registrar
}

// FieldAction — выполненное действие над полем вложения.
type FieldAction struct {
	Entity string
	Key    string
	Kind   lifecycle.Kind
}

// Result — действия, выполненные при обработке, в порядке выполнения.
type Result struct {
	Actions []FieldAction
}

// Count возвращает количество действий вида kind.
func (r Result) Count(kind lifecycle.Kind) int {
	n := 0
	for _, a := range r.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Processor обрабатывает поля вложений.
type Processor struct {
	schema  schema.Introspector
	fields  repository.FieldLocator
	counts  *validation.CountValidator
	types   *validation.MediaTypeValidator
	factory *lifecycle.Factory
	reader  *reader.AttachmentsReader
	logger  *slog.Logger
}

// New создаёт Processor.
func New(
	s schema.Introspector,
	fields repository.FieldLocator,
	factory *lifecycle.Factory,
	attachments *reader.AttachmentsReader,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		schema:  s,
		fields:  fields,
		counts:  validation.NewCountValidator(s),
		types:   validation.NewMediaTypeValidator(s, fields),
		factory: factory,
		reader:  attachments,
		logger:  logger.With(slog.String("component", "processor")),
	}
}

// fieldTarget — запись-вложение, найденная проходом поиска.
type fieldTarget struct {
	entity  *schema.Entity
	names   model.AttachmentFieldNames
	record  model.Record
	parents []ancestor
}

// ancestor — родительская запись на пути от корня.
type ancestor struct {
	entity *schema.Entity
	record model.Record
}

// ProcessWrite обрабатывает поля вложений записей запроса.
func (p *Processor) ProcessWrite(ctx context.Context, req WriteRequest) (Result, error) {
	root, ok := p.schema.Entity(req.Entity)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", schema.ErrUnknownEntity, req.Entity)
	}

	targets, err := p.find(root, req.Records)
	if err != nil {
		return Result{}, err
	}

	// Черновик проверяется целиком при сохранении.
	if req.Operation != model.OpDraftPatch {
		counted := req.Records
		if req.Operation == model.OpUpdate && req.Store != nil {
			// Upsert дополняет композиции: прежние вложенные записи остаются
			if counted, err = p.withExisting(ctx, req, root, req.Records); err != nil {
				return Result{}, err
			}
		}
		if err := p.counts.ValidatePayload(req.Entity, counted); err != nil {
			return Result{}, err
		}
	}
	if err := p.types.Validate(req.Entity, req.Records); err != nil {
		return Result{}, err
	}

	var result Result
	for _, ft := range targets {
		action, err := p.apply(ctx, req, ft)
		if err != nil {
			return result, err
		}
		result.Actions = append(result.Actions, action)
	}
	return result, nil
}

// find обходит записи по композициям и собирает записи-вложения,
// в которых присутствует поле контента.
func (p *Processor) find(root *schema.Entity, records []model.Record) ([]fieldTarget, error) {
	var targets []fieldTarget

	var walk func(e *schema.Entity, rec model.Record, parents []ancestor) error
	walk = func(e *schema.Entity, rec model.Record, parents []ancestor) error {
		if e.Media {
			names, err := p.fields.Resolve(e.Name)
			if err != nil {
				return err
			}
			if rec.Has(names.Content) {
				targets = append(targets, fieldTarget{entity: e, names: names, record: rec, parents: parents})
			}
			return nil
		}

		path := make([]ancestor, len(parents), len(parents)+1)
		copy(path, parents)
		path = append(path, ancestor{entity: e, record: rec})

		for _, edge := range e.Compositions {
			target, ok := p.schema.Entity(edge.Target)
			if !ok {
				continue
			}
			for _, child := range rec.Children(edge.Name) {
				if err := walk(target, child, path); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, rec := range records {
		if err := walk(root, rec, nil); err != nil {
			return nil, err
		}
	}
	return targets, nil
}

// withExisting возвращает копии записей, в которых каждая переданная
// композиция дополнена сохранёнными записями, не упомянутыми в запросе.
// Исходные записи не меняются.
func (p *Processor) withExisting(ctx context.Context, req WriteRequest, e *schema.Entity, records []model.Record) ([]model.Record, error) {
	out := make([]model.Record, 0, len(records))
	for _, rec := range records {
		merged, err := p.mergeExisting(ctx, req, e, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, merged)
	}
	return out, nil
}

func (p *Processor) mergeExisting(ctx context.Context, req WriteRequest, e *schema.Entity, rec model.Record) (model.Record, error) {
	merged := make(model.Record, len(rec))
	for k, v := range rec {
		merged[k] = v
	}

	var expands []repository.Expand
	for _, edge := range e.Compositions {
		if rec.Has(edge.Name) {
			expands = append(expands, repository.Expand{Edge: edge.Name, Target: edge.Target})
		}
	}
	if len(expands) == 0 {
		return merged, nil
	}

	var stored model.Record
	if keys, ok := rec.Keys(e.Keys); ok {
		prior, err := req.Store.Read(ctx, repository.Query{Space: req.Space, Entity: e.Name, Keys: keys, Expands: expands})
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("чтение прежнего состояния %s: %w", e.Name, err)
		default:
			stored = prior
		}
	}

	for _, edge := range e.Compositions {
		if !rec.Has(edge.Name) {
			continue
		}
		target, ok := p.schema.Entity(edge.Target)
		if !ok {
			continue
		}
		children, err := p.withExisting(ctx, req, target, rec.Children(edge.Name))
		if err != nil {
			return nil, err
		}

		listed := mapset.NewThreadUnsafeSet[string]()
		for _, child := range children {
			if keys, ok := child.Keys(target.Keys); ok {
				listed.Add(model.KeyString(keys))
			}
		}
		for _, prior := range stored.Children(edge.Name) {
			if keys, ok := prior.Keys(target.Keys); ok && listed.Contains(model.KeyString(keys)) {
				continue
			}
			children = append(children, prior)
		}
		merged[edge.Name] = children
	}
	return merged, nil
}

// apply выполняет действие над одним полем вложения.
func (p *Processor) apply(ctx context.Context, req WriteRequest, ft fieldTarget) (FieldAction, error) {
	generate := req.Operation == model.OpCreate

	parentKeys := make([]map[string]any, 0, len(ft.parents))
	for _, parent := range ft.parents {
		keys, err := parent.entity.ResolveKeys(parent.record, generate)
		if err != nil {
			return FieldAction{}, err
		}
		parentKeys = append(parentKeys, keys)
	}

	_, hadKeys := ft.record.Keys(ft.entity.Keys)
	keys, err := ft.entity.ResolveKeys(ft.record, generate)
	if err != nil {
		return FieldAction{}, err
	}

	var existing model.Record
	if hadKeys && req.Store != nil {
		existing, err = req.Store.Read(ctx, repository.Query{Space: req.Space, Entity: ft.entity.Name, Keys: keys})
		switch {
		case errors.Is(err, repository.ErrNotFound):
			existing = nil
		case err != nil:
			return FieldAction{}, fmt.Errorf("чтение прежнего состояния %s: %w", ft.entity.Name, err)
		}
	}

	target := &lifecycle.Target{
		Entity:     ft.entity.Name,
		Fields:     ft.names,
		Keys:       keys,
		ParentKeys: parentKeys,
		Current:    ft.record,
		Existing:   existing,
		Content:    ft.record.Content(ft.names.Content),
		Operation:  req.Operation,
		Actor:      req.Actor,
		MaxSize:    ft.entity.MaxContentSize,
		Registrar:  req.Registrar,
	}

	event := p.factory.For(target)
	content, err := event.Process(ctx, target)
	if err != nil {
		return FieldAction{}, err
	}
	if content != nil {
		ft.record[ft.names.Content] = content
	} else {
		// контент во внешнем хранилище, в записи не сохраняется
		ft.record[ft.names.Content] = nil
	}

	key := model.KeyString(keys)
	p.logger.Debug("Поле вложения обработано",
		slog.String("entity", ft.entity.Name),
		slog.String("key", key),
		slog.String("action", event.Kind().String()),
		slog.String("operation", string(req.Operation)),
	)
	return FieldAction{Entity: ft.entity.Name, Key: key, Kind: event.Kind()}, nil
}

// ProcessDelete помечает удалённым контент всех вложений записи
// и её вложенных записей.
func (p *Processor) ProcessDelete(ctx context.Context, req DeleteRequest) (Result, error) {
	attachments := p.reader
	if req.Store != nil {
		attachments = attachments.Using(req.Store)
	}
	rec, tree, err := attachments.Read(ctx, req.Space, req.Entity, req.Keys)
	if err != nil {
		return Result{}, err
	}

	op := req.Operation
	if op == "" {
		op = model.OpDelete
	}

	var result Result
	for _, row := range reader.Collect(rec, tree) {
		names, err := p.fields.Resolve(row.Entity)
		if err != nil {
			return result, err
		}
		if row.Record.String(names.ContentID) == "" {
			continue
		}

		current := make(model.Record, len(row.Record))
		for k, v := range row.Record {
			current[k] = v
		}
		target := &lifecycle.Target{
			Entity:    row.Entity,
			Fields:    names,
			Current:   current,
			Existing:  row.Record,
			Operation: op,
			Actor:     req.Actor,
			Registrar: req.Registrar,
		}
		if e, ok := p.schema.Entity(row.Entity); ok {
			target.Keys, _ = row.Record.Keys(e.Keys)
		}

		event := p.factory.ForKind(lifecycle.MarkAsDeleted)
		if _, err := event.Process(ctx, target); err != nil {
			return result, err
		}
		result.Actions = append(result.Actions, FieldAction{
			Entity: row.Entity,
			Key:    model.KeyString(target.Keys),
			Kind:   lifecycle.MarkAsDeleted,
		})
	}
	return result, nil
}
