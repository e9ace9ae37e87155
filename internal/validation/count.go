// Пакет validation — проверки записи до обращения к хранилищу контента:
// количество вложений в композициях и допустимые MIME-типы.
// Все нарушения одной записи собираются в одну ошибку.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
)

// ErrCountViolation — нарушено ограничение количества вложений.
var ErrCountViolation = errors.New("нарушено ограничение количества вложений")

// Виды нарушения количества.
const (
	BoundMin = "min"
	BoundMax = "max"
)

// CountViolation — одно нарушение ограничения.
type CountViolation struct {
	Entity string `json:"entity"`
	Field  string `json:"field"`
	Kind   string `json:"kind"`
	Bound  int    `json:"bound"`
	Actual int    `json:"actual"`
}

// CountError — все нарушения ограничений количества в записи.
type CountError struct {
	Violations []CountViolation
}

func (e *CountError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		switch v.Kind {
		case BoundMin:
			parts = append(parts, fmt.Sprintf("%s.%s: минимум %d, передано %d", v.Entity, v.Field, v.Bound, v.Actual))
		default:
			parts = append(parts, fmt.Sprintf("%s.%s: максимум %d, передано %d", v.Entity, v.Field, v.Bound, v.Actual))
		}
	}
	return "COUNT_VALIDATION: " + strings.Join(parts, "; ")
}

// Is позволяет проверять ошибку через errors.Is(err, ErrCountViolation).
func (e *CountError) Is(target error) bool {
	return target == ErrCountViolation
}

// CountValidator проверяет количество записей в композициях,
// ведущих к сущностям-вложениям, по ограничениям min/max модели.
type CountValidator struct {
	schema schema.Introspector
}

// NewCountValidator создаёт CountValidator.
func NewCountValidator(s schema.Introspector) *CountValidator {
	return &CountValidator{schema: s}
}

// ValidatePayload проверяет записи запроса: только композиции,
// присутствующие в запросе, рекурсивно по вложенным композициям запроса.
func (v *CountValidator) ValidatePayload(entity string, records []model.Record) error {
	return v.validate(entity, records, false)
}

// ValidateState проверяет полностью прочитанное состояние (сохранение
// черновика): каждая композиция с ограничениями проверяется, отсутствие
// поля означает ноль записей.
func (v *CountValidator) ValidateState(entity string, records []model.Record) error {
	return v.validate(entity, records, true)
}

func (v *CountValidator) validate(entity string, records []model.Record, absentIsZero bool) error {
	var violations []CountViolation
	for _, rec := range records {
		v.walk(entity, rec, absentIsZero, &violations)
	}
	if len(violations) > 0 {
		return &CountError{Violations: violations}
	}
	return nil
}

func (v *CountValidator) walk(entityName string, rec model.Record, absentIsZero bool, out *[]CountViolation) {
	entity, ok := v.schema.Entity(entityName)
	if !ok || rec == nil {
		return
	}

	for _, edge := range entity.Compositions {
		present := rec.Has(edge.Name)
		children := rec.Children(edge.Name)

		if edge.HasBounds() && v.isMedia(edge.Target) && (present || absentIsZero) {
			actual := len(children)
			if edge.Min != nil && actual < *edge.Min {
				*out = append(*out, CountViolation{
					Entity: entityName, Field: edge.Name, Kind: BoundMin, Bound: *edge.Min, Actual: actual,
				})
			}
			if edge.Max != nil && actual > *edge.Max {
				*out = append(*out, CountViolation{
					Entity: entityName, Field: edge.Name, Kind: BoundMax, Bound: *edge.Max, Actual: actual,
				})
			}
		}

		for _, child := range children {
			v.walk(edge.Target, child, absentIsZero, out)
		}
	}
}

func (v *CountValidator) isMedia(name string) bool {
	e, ok := v.schema.Entity(name)
	return ok && e.Media
}
