// Пакет model — доменные модели Attachment Module.
// record.go — универсальное представление записи иерархической модели данных.
package model

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Space — пространство хранения записи.
type Space string

const (
	// SpaceActive — активные (финализированные) записи
	SpaceActive Space = "active"
	// SpaceDraft — черновики, редактируемые до сохранения
	SpaceDraft Space = "draft"
)

// Record — запись сущности. Ключ — имя поля.
// Композиции хранятся как []Record (to-many) или Record (to-one).
// Значение поля контента: []byte, io.Reader или nil.
type Record map[string]any

// Has проверяет, присутствует ли поле в записи (в том числе со значением nil).
func (r Record) Has(field string) bool {
	if r == nil || field == "" {
		return false
	}
	_, ok := r[field]
	return ok
}

// String возвращает строковое значение поля.
// Пустая строка и nil трактуются как отсутствие значения.
func (r Record) String(field string) string {
	if r == nil || field == "" {
		return ""
	}
	switch v := r[field].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Children возвращает вложенные записи композиции field.
// Поддерживает to-many ([]Record, []any, []map[string]any) и to-one (Record, map[string]any).
func (r Record) Children(field string) []Record {
	if r == nil {
		return nil
	}
	switch v := r[field].(type) {
	case []Record:
		return v
	case Record:
		return []Record{v}
	case map[string]any:
		return []Record{Record(v)}
	case []map[string]any:
		out := make([]Record, 0, len(v))
		for _, m := range v {
			out = append(out, Record(m))
		}
		return out
	case []any:
		out := make([]Record, 0, len(v))
		for _, item := range v {
			switch m := item.(type) {
			case Record:
				out = append(out, m)
			case map[string]any:
				out = append(out, Record(m))
			}
		}
		return out
	}
	return nil
}

// Keys извлекает значения ключевых полей. ok=false, если хотя бы один ключ пуст.
func (r Record) Keys(keyFields []string) (map[string]any, bool) {
	keys := make(map[string]any, len(keyFields))
	for _, k := range keyFields {
		v, ok := r[k]
		if !ok || v == nil || v == "" {
			return keys, false
		}
		keys[k] = v
	}
	return keys, true
}

// Content возвращает значение поля контента как io.Reader.
// nil — контент отсутствует в запросе.
func (r Record) Content(field string) io.Reader {
	if r == nil {
		return nil
	}
	switch v := r[field].(type) {
	case io.Reader:
		return v
	case []byte:
		return bytes.NewReader(v)
	}
	return nil
}

// KeyString формирует каноническое строковое представление ключа:
// поля в лексикографическом порядке, "k1=v1;k2=v2".
func KeyString(keys map[string]any) string {
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", k, keys[k]))
	}
	return strings.Join(parts, ";")
}
