// shape.go — преобразование вложенной записи в плоские строки и обратно.
package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
	"github.com/bigkaa/goartstore/attachment-module/internal/stream"
)

// row — одна запись в плоском представлении.
type row struct {
	Entity       string
	Key          string
	ParentEntity string
	ParentKey    string
	ParentEdge   string
	Position     int
	// Data — скалярные поля записи в JSON (композиции хранятся отдельными строками)
	Data []byte
	// ContentField — имя поля идентификатора контента (только для вложений)
	ContentField string
	// ContentID — значение поля ContentField после слияния
	ContentID string
}

// parentRef — ссылка на родительскую строку.
type parentRef struct {
	Entity string
	Key    string
}

// shaper разбирает записи по описанию модели.
type shaper struct {
	schema schema.Introspector
	fields FieldLocator
}

// flatten раскладывает запись и переданные в ней композиции на строки.
// Недостающий единственный ключ генерируется и записывается в rec.
func (s *shaper) flatten(entity string, rec model.Record) ([]row, error) {
	var rows []row
	if err := s.walk(entity, rec, parentRef{}, "", 0, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *shaper) walk(entityName string, rec model.Record, parent parentRef, edge string, pos int, rows *[]row) error {
	e, ok := s.schema.Entity(entityName)
	if !ok {
		return fmt.Errorf("%w: %s", schema.ErrUnknownEntity, entityName)
	}
	keys, err := e.ResolveKeys(rec, true)
	if err != nil {
		return err
	}

	r := row{
		Entity:       entityName,
		Key:          model.KeyString(keys),
		ParentEntity: parent.Entity,
		ParentKey:    parent.Key,
		ParentEdge:   edge,
		Position:     pos,
	}
	if e.Media {
		names, err := s.fields.Resolve(entityName)
		if err != nil {
			return err
		}
		r.ContentField = names.ContentID
	}

	data := make(map[string]any, len(rec))
	for field, value := range rec {
		if _, isComposition := e.Composition(field); isComposition {
			continue
		}
		v, err := storableValue(value, e.MaxContentSize)
		if err != nil {
			return fmt.Errorf("сущность %s, поле %s: %w", entityName, field, err)
		}
		data[field] = v
	}
	if r.Data, err = json.Marshal(data); err != nil {
		return fmt.Errorf("ошибка сериализации записи %s: %w", entityName, err)
	}
	*rows = append(*rows, r)

	self := parentRef{Entity: entityName, Key: r.Key}
	for _, comp := range e.Compositions {
		if !rec.Has(comp.Name) {
			continue
		}
		for i, child := range rec.Children(comp.Name) {
			if err := s.walk(comp.Target, child, self, comp.Name, i, rows); err != nil {
				return err
			}
		}
	}
	return nil
}

// storableValue читает потоки контента в память: в запись попадает
// только контент, который хранилище оставило встроенным. Объём
// ограничен лимитом сущности (limit <= 0 — без ограничения).
func storableValue(v any, limit int64) (any, error) {
	r, ok := v.(io.Reader)
	if !ok {
		return v, nil
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	if _, counted := r.(*stream.CountingReader); !counted {
		r = stream.NewCountingReader(r, limit)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения встроенного контента: %w", err)
	}
	return data, nil
}

// mergeData накладывает поля patch на base.
func mergeData(base, patch []byte) ([]byte, error) {
	if len(base) == 0 {
		return patch, nil
	}
	merged, err := decodeData(base)
	if err != nil {
		return nil, err
	}
	overlay, err := decodeData(patch)
	if err != nil {
		return nil, err
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// decodeData декодирует JSON полей записи; числа остаются json.Number.
func decodeData(data []byte) (model.Record, error) {
	rec := model.Record{}
	if len(data) == 0 {
		return rec, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации записи: %w", err)
	}
	return rec, nil
}

// contentIDOf извлекает идентификатор контента из данных строки.
func contentIDOf(data []byte, field string) string {
	if field == "" {
		return ""
	}
	rec, err := decodeData(data)
	if err != nil {
		return ""
	}
	return rec.String(field)
}

// childIndex группирует строки по родителю в порядке Position.
func childIndex(rows []*row) map[parentRef][]*row {
	idx := make(map[parentRef][]*row)
	for _, r := range rows {
		if r.ParentEntity == "" {
			continue
		}
		ref := parentRef{Entity: r.ParentEntity, Key: r.ParentKey}
		idx[ref] = append(idx[ref], r)
	}
	for _, children := range idx {
		sort.SliceStable(children, func(i, j int) bool {
			return children[i].Position < children[j].Position
		})
	}
	return idx
}

// assemble собирает запись из строки и раскрытий.
// Раскрытая композиция без записей — пустой список.
func assemble(r *row, children map[parentRef][]*row, expands []Expand) (model.Record, error) {
	rec, err := decodeData(r.Data)
	if err != nil {
		return nil, err
	}
	ref := parentRef{Entity: r.Entity, Key: r.Key}
	for _, ex := range expands {
		items := []model.Record{}
		for _, child := range children[ref] {
			if child.ParentEdge != ex.Edge || child.Entity != ex.Target {
				continue
			}
			item, err := assemble(child, children, ex.Expands)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		rec[ex.Edge] = items
	}
	return rec, nil
}

// expandDepth — глубина плана раскрытия.
func expandDepth(expands []Expand) int {
	depth := 0
	for _, ex := range expands {
		if d := 1 + expandDepth(ex.Expands); d > depth {
			depth = d
		}
	}
	return depth
}
