package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/mediatype"
	"github.com/bigkaa/goartstore/attachment-module/internal/repository"
	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
)

// ErrUnsupportedMediaType — тип контента не входит в список допустимых.
var ErrUnsupportedMediaType = errors.New("недопустимый тип контента")

// MediaTypeViolation — недопустимые файлы одного поля.
type MediaTypeViolation struct {
	Entity    string   `json:"entity"`
	Field     string   `json:"field"`
	FileNames []string `json:"fileNames"`
	Allowed   []string `json:"allowed"`
}

// UnsupportedMediaTypeError — все недопустимые файлы записи по полям.
type UnsupportedMediaTypeError struct {
	Violations []MediaTypeViolation
}

func (e *UnsupportedMediaTypeError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: файлы [%s], допустимые типы [%s]",
			v.Field, strings.Join(v.FileNames, ", "), strings.Join(v.Allowed, ", ")))
	}
	return "UNSUPPORTED_MEDIA_TYPE: " + strings.Join(parts, "; ")
}

// Is позволяет проверять ошибку через errors.Is(err, ErrUnsupportedMediaType).
func (e *UnsupportedMediaTypeError) Is(target error) bool {
	return target == ErrUnsupportedMediaType
}

// MediaTypeValidator проверяет MIME-типы контента, переданного в записи.
type MediaTypeValidator struct {
	schema schema.Introspector
	fields repository.FieldLocator
}

// NewMediaTypeValidator создаёт MediaTypeValidator.
func NewMediaTypeValidator(s schema.Introspector, fields repository.FieldLocator) *MediaTypeValidator {
	return &MediaTypeValidator{schema: s, fields: fields}
}

// Validate проверяет каждую запись-вложение запроса, несущую контент,
// если её сущность ограничивает допустимые типы. Тип берётся из поля
// MIME-типа, иначе определяется по имени файла.
func (v *MediaTypeValidator) Validate(entity string, records []model.Record) error {
	var (
		violations []MediaTypeViolation
		index      = make(map[string]int)
	)
	add := func(e *schema.Entity, field, fileName string) {
		key := e.Name + "\x00" + field
		i, ok := index[key]
		if !ok {
			i = len(violations)
			index[key] = i
			violations = append(violations, MediaTypeViolation{
				Entity:  e.Name,
				Field:   field,
				Allowed: append([]string(nil), e.AcceptedMediaTypes...),
			})
		}
		violations[i].FileNames = append(violations[i].FileNames, fileName)
	}

	var walk func(name, field string, rec model.Record) error
	walk = func(name, field string, rec model.Record) error {
		e, ok := v.schema.Entity(name)
		if !ok || rec == nil {
			return nil
		}
		if e.Media {
			if len(e.AcceptedMediaTypes) == 0 {
				return nil
			}
			names, err := v.fields.Resolve(name)
			if err != nil {
				return err
			}
			if rec.Content(names.Content) == nil {
				return nil
			}
			fileName := rec.String(names.FileName)
			mimeType := rec.String(names.MimeType)
			if mimeType == "" {
				mimeType = mediatype.ResolveMimeType(fileName)
			}
			if !mediatype.IsMimeTypeAllowed(e.AcceptedMediaTypes, mimeType) {
				if field == "" {
					field = name
				}
				add(e, field, fileName)
			}
			return nil
		}
		for _, edge := range e.Compositions {
			for _, child := range rec.Children(edge.Name) {
				if err := walk(edge.Target, edge.Name, child); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, rec := range records {
		if err := walk(entity, "", rec); err != nil {
			return err
		}
	}
	if len(violations) > 0 {
		return &UnsupportedMediaTypeError{Violations: violations}
	}
	return nil
}
