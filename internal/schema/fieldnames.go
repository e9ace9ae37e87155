// fieldnames.go — вычисление AttachmentFieldNames для сущностей-вложений.
// Результат кэшируется в LRU: модель неизменна, пересчёт не нужен.
package schema

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
)

// ErrNotMedia — сущность не является сущностью-вложением.
var ErrNotMedia = errors.New("сущность не является вложением")

// omitField — значение переопределения, исключающее поле.
const omitField = "-"

// DefaultFieldNames — имена полей сущности-вложения по умолчанию.
var DefaultFieldNames = model.AttachmentFieldNames{
	Key:       "ID",
	ContentID: "contentId",
	Status:    "status",
	MimeType:  "mimeType",
	FileName:  "fileName",
	Content:   "content",
	ScannedAt: "scannedAt",
}

var (
	fieldNamesCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "at_field_names_cache_hits_total",
		Help: "Количество попаданий в кэш описаний полей вложений.",
	})
	fieldNamesCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "at_field_names_cache_misses_total",
		Help: "Количество промахов кэша описаний полей вложений.",
	})
)

// FieldNameResolver вычисляет и кэширует описание полей вложения.
type FieldNameResolver struct {
	schema Introspector
	cache  *lru.Cache[string, model.AttachmentFieldNames]
}

// NewFieldNameResolver создаёт резолвер с LRU-кэшем на size сущностей.
func NewFieldNameResolver(schema Introspector, size int) (*FieldNameResolver, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, model.AttachmentFieldNames](size)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания кэша описаний полей: %w", err)
	}
	return &FieldNameResolver{schema: schema, cache: cache}, nil
}

// Resolve возвращает проверенное описание полей сущности-вложения.
func (r *FieldNameResolver) Resolve(entity string) (model.AttachmentFieldNames, error) {
	if names, ok := r.cache.Get(entity); ok {
		fieldNamesCacheHits.Inc()
		return names, nil
	}
	fieldNamesCacheMisses.Inc()

	e, ok := r.schema.Entity(entity)
	if !ok {
		return model.AttachmentFieldNames{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	if !e.Media {
		return model.AttachmentFieldNames{}, fmt.Errorf("%w: %s", ErrNotMedia, entity)
	}

	names := DefaultFieldNames
	if len(e.Keys) == 1 {
		names.Key = e.Keys[0]
	}
	override(&names.Key, e.Fields.Key)
	override(&names.ContentID, e.Fields.ContentID)
	override(&names.Status, e.Fields.Status)
	override(&names.MimeType, e.Fields.MimeType)
	override(&names.FileName, e.Fields.FileName)
	override(&names.Content, e.Fields.Content)
	override(&names.ScannedAt, e.Fields.ScannedAt)

	if err := names.Validate(); err != nil {
		return model.AttachmentFieldNames{}, fmt.Errorf("сущность %s: %w", entity, err)
	}

	r.cache.Add(entity, names)
	return names, nil
}

func override(field *string, value string) {
	switch value {
	case "":
	case omitField:
		*field = ""
	default:
		*field = value
	}
}
