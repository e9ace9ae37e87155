// Пакет handlers — HTTP-обработчики Attachment Module.
// APIHandler объединяет обработчики записей, черновиков, контента,
// обслуживания и health в одну реализацию server.API.
package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/attachment-module/internal/api/errors"
	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/repository"
	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
	"github.com/bigkaa/goartstore/attachment-module/internal/server"
	"github.com/bigkaa/goartstore/attachment-module/internal/service"
)

// Проверка на этапе компиляции: APIHandler реализует server.API.
var _ server.API = (*APIHandler)(nil)

// RecordOperations — операции над записями, используемые обработчиками.
type RecordOperations interface {
	Create(ctx context.Context, entity string, rec model.Record, actor string) (model.Record, error)
	Update(ctx context.Context, entity string, keys map[string]any, patch model.Record, actor string) (model.Record, error)
	PatchDraft(ctx context.Context, entity string, keys map[string]any, patch model.Record, actor string) (model.Record, error)
	SaveDraft(ctx context.Context, entity string, keys map[string]any, actor string) (model.Record, error)
	DiscardDraft(ctx context.Context, entity string, keys map[string]any, actor string) error
	Delete(ctx context.Context, entity string, keys map[string]any, actor string) error
	Read(ctx context.Context, space model.Space, entity string, keys map[string]any) (model.Record, error)
	UploadContent(ctx context.Context, entity string, keys map[string]any, fileName, mimeType string, body io.Reader, actor string) (model.Record, error)
	ReadContent(ctx context.Context, space model.Space, entity string, keys map[string]any) (*service.Content, error)
	Restore(ctx context.Context, since time.Time) (int, error)
}

// APIHandler — композитный обработчик, реализующий server.API.
type APIHandler struct {
	*RecordsHandler
	*ContentHandler
	*MaintenanceHandler
	*HealthHandler
}

// NewAPIHandler создаёт композитный обработчик.
func NewAPIHandler(
	records *RecordsHandler,
	content *ContentHandler,
	maintenance *MaintenanceHandler,
	health *HealthHandler,
) *APIHandler {
	return &APIHandler{
		RecordsHandler:     records,
		ContentHandler:     content,
		MaintenanceHandler: maintenance,
		HealthHandler:      health,
	}
}

// requestTarget — сущность и ключ записи из пути запроса.
type requestTarget struct {
	entity *schema.Entity
	keys   map[string]any
}

// targetResolver разбирает {entity} и {id} из пути.
type targetResolver struct {
	schema schema.Introspector
}

// resolve возвращает сущность и ключ. Составной ключ передаётся
// в каноническом виде "k1=v1;k2=v2", одиночный — значением.
func (tr targetResolver) resolve(r *http.Request, withKeys bool) (requestTarget, error) {
	name := chi.URLParam(r, "entity")
	entity, ok := tr.schema.Entity(name)
	if !ok {
		return requestTarget{}, fmt.Errorf("%w: %s", schema.ErrUnknownEntity, name)
	}
	if !withKeys {
		return requestTarget{entity: entity}, nil
	}
	keys, err := parseKeys(entity, chi.URLParam(r, "id"))
	if err != nil {
		return requestTarget{}, err
	}
	return requestTarget{entity: entity, keys: keys}, nil
}

// parseKeys разбирает идентификатор записи из пути.
func parseKeys(entity *schema.Entity, id string) (map[string]any, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: пустой идентификатор", model.ErrMissingIdentifier)
	}
	if len(entity.Keys) == 1 && !strings.Contains(id, "=") {
		return map[string]any{entity.Keys[0]: id}, nil
	}

	keys := make(map[string]any, len(entity.Keys))
	for _, part := range strings.Split(id, ";") {
		name, value, ok := strings.Cut(part, "=")
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("%w: некорректный ключ %q", model.ErrMissingIdentifier, id)
		}
		keys[name] = value
	}
	rec := model.Record(keys)
	out, ok := rec.Keys(entity.Keys)
	if !ok || len(keys) != len(entity.Keys) {
		return nil, fmt.Errorf("%w: сущность %s, ключевые поля %v", model.ErrMissingIdentifier, entity.Name, entity.Keys)
	}
	return out, nil
}

// recordDecoder читает запись из тела запроса.
type recordDecoder struct {
	schema schema.Introspector
	fields repository.FieldLocator
}

// decode читает JSON-запись. Числа сохраняются как json.Number,
// строковое значение поля контента декодируется из base64.
func (d recordDecoder) decode(r *http.Request, entity string) (model.Record, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var rec model.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, &badRequestError{msg: "некорректный JSON: " + err.Error()}
	}
	if rec == nil {
		return nil, &badRequestError{msg: "тело запроса должно быть JSON-объектом"}
	}
	if err := d.decodeContent(entity, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// decodeContent проходит по композициям записи и заменяет base64-строки
// в полях контента на []byte.
func (d recordDecoder) decodeContent(entity string, rec model.Record) error {
	e, ok := d.schema.Entity(entity)
	if !ok {
		return fmt.Errorf("%w: %s", schema.ErrUnknownEntity, entity)
	}
	if e.Media {
		names, err := d.fields.Resolve(entity)
		if err != nil {
			return err
		}
		if s, ok := rec[names.Content].(string); ok {
			data, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return &badRequestError{msg: fmt.Sprintf("поле %s.%s: ожидается base64", entity, names.Content)}
			}
			rec[names.Content] = data
		}
	}
	for _, edge := range e.Compositions {
		for _, child := range rec.Children(edge.Name) {
			if err := d.decodeContent(edge.Target, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// badRequestError — ошибка разбора запроса (400 VALIDATION_ERROR).
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

// writeError отвечает ошибкой разбора запроса или ошибкой операции.
func writeError(w http.ResponseWriter, err error) {
	if bad, ok := err.(*badRequestError); ok {
		apierrors.ValidationError(w, bad.msg)
		return
	}
	apierrors.FromError(w, err)
}

// writeJSON записывает JSON-ответ.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
