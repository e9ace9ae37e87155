// Пакет schema — описание модели данных: сущности, рёбра композиций
// и ассоциаций, признак сущности-вложения и её ограничения.
// Реестр неизменяем после загрузки и безопасен для конкурентного чтения.
package schema

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
)

// ErrUnknownEntity — сущность не найдена в реестре.
var ErrUnknownEntity = errors.New("сущность не найдена")

// Edge — ребро модели: поле сущности, ссылающееся на целевую сущность.
// Min/Max — допустимое количество элементов (nil — без ограничения).
type Edge struct {
	Name   string
	Target string
	Min    *int
	Max    *int
}

// HasBounds сообщает, заданы ли для ребра ограничения количества.
func (e Edge) HasBounds() bool {
	return e.Min != nil || e.Max != nil
}

// FieldOverrides — переопределение имён полей сущности-вложения.
// Пустое значение — имя по умолчанию; "-" — поле у сущности отсутствует.
type FieldOverrides struct {
	Key       string `yaml:"key"`
	ContentID string `yaml:"contentId"`
	Status    string `yaml:"status"`
	MimeType  string `yaml:"mimeType"`
	FileName  string `yaml:"fileName"`
	Content   string `yaml:"content"`
	ScannedAt string `yaml:"scannedAt"`
}

// Entity — описание сущности.
type Entity struct {
	// Name — квалифицированное имя
	Name string
	// Keys — ключевые поля
	Keys []string
	// Compositions — рёбра композиции (вложенные записи принадлежат родителю)
	Compositions []Edge
	// Associations — обычные ссылки; при каскадном обходе не используются
	Associations []Edge
	// Media — сущность несёт контент вложения
	Media bool
	// Fields — переопределения имён полей вложения
	Fields FieldOverrides
	// AcceptedMediaTypes — допустимые MIME-типы контента (пусто — любые)
	AcceptedMediaTypes []string
	// MaxContentSize — лимит размера контента в байтах (0 — лимит сервиса)
	MaxContentSize int64
}

// Composition возвращает ребро композиции по имени поля.
func (e *Entity) Composition(name string) (Edge, bool) {
	for _, edge := range e.Compositions {
		if edge.Name == name {
			return edge, true
		}
	}
	return Edge{}, false
}

// Introspector — доступ к описанию модели по имени сущности.
type Introspector interface {
	Entity(name string) (*Entity, bool)
}

// Registry — in-memory реестр сущностей.
type Registry struct {
	entities map[string]*Entity
}

// NewRegistry строит реестр и проверяет целостность модели:
// уникальность имён, существование целевых сущностей, min <= max,
// наличие ключей у каждой сущности.
func NewRegistry(entities []Entity) (*Registry, error) {
	r := &Registry{entities: make(map[string]*Entity, len(entities))}

	for i := range entities {
		e := entities[i]
		if e.Name == "" {
			return nil, fmt.Errorf("сущность #%d: не задано имя", i)
		}
		if _, dup := r.entities[e.Name]; dup {
			return nil, fmt.Errorf("сущность %s описана дважды", e.Name)
		}
		if len(e.Keys) == 0 {
			return nil, fmt.Errorf("сущность %s: не заданы ключевые поля", e.Name)
		}
		if e.MaxContentSize < 0 {
			return nil, fmt.Errorf("сущность %s: отрицательный maxContentSize", e.Name)
		}
		r.entities[e.Name] = &e
	}

	var errs []error
	for _, e := range r.entities {
		seen := make(map[string]struct{})
		for _, edge := range append(append([]Edge{}, e.Compositions...), e.Associations...) {
			if _, dup := seen[edge.Name]; dup {
				errs = append(errs, fmt.Errorf("сущность %s: поле %s описано дважды", e.Name, edge.Name))
			}
			seen[edge.Name] = struct{}{}

			if _, ok := r.entities[edge.Target]; !ok {
				errs = append(errs, fmt.Errorf("сущность %s: поле %s ссылается на неизвестную сущность %s",
					e.Name, edge.Name, edge.Target))
			}
			if edge.Min != nil && *edge.Min < 0 {
				errs = append(errs, fmt.Errorf("сущность %s: поле %s: отрицательный min", e.Name, edge.Name))
			}
			if edge.Min != nil && edge.Max != nil && *edge.Min > *edge.Max {
				errs = append(errs, fmt.Errorf("сущность %s: поле %s: min (%d) больше max (%d)",
					e.Name, edge.Name, *edge.Min, *edge.Max))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return r, nil
}

// Entity возвращает описание сущности по квалифицированному имени.
func (r *Registry) Entity(name string) (*Entity, bool) {
	e, ok := r.entities[name]
	return e, ok
}

// Names возвращает отсортированный список имён сущностей.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MediaEntities возвращает отсортированный список сущностей-вложений.
func (r *Registry) MediaEntities() []string {
	var names []string
	for name, e := range r.entities {
		if e.Media {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ResolveKeys извлекает ключ записи. Если generate=true и у сущности
// единственное ключевое поле без значения, генерируется UUID и
// записывается в rec. Иначе отсутствие ключа — ErrMissingIdentifier.
func (e *Entity) ResolveKeys(rec model.Record, generate bool) (map[string]any, error) {
	keys, ok := rec.Keys(e.Keys)
	if ok {
		return keys, nil
	}
	if generate && len(e.Keys) == 1 {
		id := uuid.NewString()
		rec[e.Keys[0]] = id
		return map[string]any{e.Keys[0]: id}, nil
	}
	return nil, fmt.Errorf("%w: сущность %s, ключевые поля %v", model.ErrMissingIdentifier, e.Name, e.Keys)
}
