// Пакет lifecycle — выбор и выполнение действия над контентом вложения.
//
// Classify сопоставляет состояние поля вложения (новый контент, новый
// и прежний идентификаторы) ровно одному действию. Действие выполняет
// вариант Event, созданный Factory; варианты обращаются к хранилищу
// контента только через AttachmentService.
package lifecycle

// Kind — действие над контентом вложения.
type Kind int

const (
	// DoNothing — контент и запись не меняются
	DoNothing Kind = iota
	// Create — сохранить новый контент
	Create
	// Update — пометить прежний контент удалённым и сохранить новый
	Update
	// MarkAsDeleted — пометить прежний контент удалённым
	MarkAsDeleted
)

// String возвращает имя действия (метки метрик и логов).
func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Update:
		return "update"
	case MarkAsDeleted:
		return "mark_as_deleted"
	default:
		return "do_nothing"
	}
}

// Input — состояние поля вложения для классификации.
// Пустой идентификатор означает его отсутствие.
type Input struct {
	// NewContent — в запросе передан контент
	NewContent bool
	// NewContentID — идентификатор контента из запроса
	NewContentID string
	// ContentIDPresent — поле идентификатора присутствует в запросе
	ContentIDPresent bool
	// ExistingContentID — идентификатор из сохранённой записи
	ExistingContentID string
}

// Classify выбирает действие по состоянию поля.
//
// Идентификатор определяет, существует ли сохранённый контент; наличие
// контента в запросе означает намерение его записать. Переданный
// идентификатор несуществующего контента ничего не меняет.
func Classify(in Input) Kind {
	existing := in.ExistingContentID != ""

	if !in.ContentIDPresent || in.NewContentID == "" {
		switch {
		case in.NewContent && !existing:
			return Create
		case in.NewContent:
			return Update
		case existing:
			return MarkAsDeleted
		default:
			return DoNothing
		}
	}

	switch {
	case in.NewContentID == in.ExistingContentID && in.NewContent:
		return Update
	case in.NewContentID == in.ExistingContentID:
		return DoNothing
	case !existing:
		// идентификатор несуществующего контента
		return DoNothing
	case in.NewContent:
		return Update
	default:
		return MarkAsDeleted
	}
}
