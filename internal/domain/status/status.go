// Пакет status — конечный автомат статусов сканирования контента.
//
// Жизненный цикл:
//   - unscanned → scanning → clean | infected | failed
//   - failed → scanning (повторное сканирование)
//   - clean, infected — конечные статусы
//
// Чтение контента допускается только в статусе clean.
package status

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
)

// Ошибки чтения контента по статусу.
var (
	// ErrNotScanned — контент ещё не просканирован
	ErrNotScanned = errors.New("контент ещё не просканирован")
	// ErrNotClean — контент не прошёл проверку сканером
	ErrNotClean = errors.New("контент не прошёл проверку на вредоносное содержимое")
)

// validTransitions — матрица допустимых переходов статусов.
var validTransitions = map[model.AttachmentStatus]map[model.AttachmentStatus]bool{
	model.StatusUnscanned: {model.StatusScanning: true, model.StatusFailed: true},
	model.StatusScanning:  {model.StatusClean: true, model.StatusInfected: true, model.StatusFailed: true},
	model.StatusFailed:    {model.StatusScanning: true},
	model.StatusClean:     {},
	model.StatusInfected:  {},
}

// TransitionError — ошибка недопустимого перехода статуса.
type TransitionError struct {
	From model.AttachmentStatus
	To   model.AttachmentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("INVALID_TRANSITION: переход статуса %s → %s недопустим", e.From, e.To)
}

// Parse преобразует строку в статус. Возвращает ошибку для недопустимых значений.
func Parse(s string) (model.AttachmentStatus, error) {
	st := model.AttachmentStatus(s)
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("недопустимый статус: %q, допустимые: unscanned, scanning, clean, infected, failed", s)
	}
	return st, nil
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to model.AttachmentStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Transition возвращает целевой статус или *TransitionError.
func Transition(from, to model.AttachmentStatus) (model.AttachmentStatus, error) {
	if !CanTransition(from, to) {
		return from, &TransitionError{From: from, To: to}
	}
	return to, nil
}

// IsTerminal сообщает, является ли статус конечным.
func IsTerminal(st model.AttachmentStatus) bool {
	targets, ok := validTransitions[st]
	return ok && len(targets) == 0
}

// ValidateRead проверяет, можно ли отдавать контент с данным статусом.
// Пустой статус трактуется как clean: у сущности нет поля статуса.
func ValidateRead(st model.AttachmentStatus) error {
	switch st {
	case model.StatusClean, "":
		return nil
	case model.StatusUnscanned, model.StatusScanning:
		return fmt.Errorf("%w (статус %s)", ErrNotScanned, st)
	default:
		return fmt.Errorf("%w (статус %s)", ErrNotClean, st)
	}
}
