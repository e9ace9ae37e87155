// Пакет txn — регистрация слушателей завершения единицы работы.
//
// Слушатель вызывается ровно один раз с итогом: committed=true после
// фиксации, false после отката. Регистрация после завершения вызывает
// слушателя сразу с уже известным итогом.
package txn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Listener — обработчик завершения единицы работы.
type Listener interface {
	AfterClose(ctx context.Context, committed bool)
}

// ListenerFunc — адаптер функции к Listener.
type ListenerFunc func(ctx context.Context, committed bool)

// AfterClose вызывает f.
func (f ListenerFunc) AfterClose(ctx context.Context, committed bool) {
	f(ctx, committed)
}

// Registrar — регистрация слушателей в текущей единице работы.
type Registrar interface {
	Register(l Listener)
}

// UnitOfWork — единица работы. Потокобезопасна.
type UnitOfWork struct {
	mu        sync.Mutex
	listeners []Listener
	done      bool
	committed bool
	logger    *slog.Logger
}

// NewUnitOfWork создаёт незавершённую единицу работы.
func NewUnitOfWork(logger *slog.Logger) *UnitOfWork {
	return &UnitOfWork{
		logger: logger.With(slog.String("component", "unit_of_work")),
	}
}

// Register добавляет слушателя. После Complete слушатель вызывается немедленно.
func (u *UnitOfWork) Register(l Listener) {
	u.mu.Lock()
	if u.done {
		committed := u.committed
		u.mu.Unlock()
		u.invoke(context.Background(), l, committed)
		return
	}
	u.listeners = append(u.listeners, l)
	u.mu.Unlock()
}

// Complete завершает единицу работы и вызывает слушателей
// в обратном порядке регистрации. Повторные вызовы игнорируются.
// Контекст слушателей не наследует отмену ctx: компенсирующие
// действия выполняются и после разрыва соединения клиента.
func (u *UnitOfWork) Complete(ctx context.Context, committed bool) {
	u.mu.Lock()
	if u.done {
		u.mu.Unlock()
		return
	}
	u.done = true
	u.committed = committed
	listeners := u.listeners
	u.listeners = nil
	u.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	for i := len(listeners) - 1; i >= 0; i-- {
		u.invoke(ctx, listeners[i], committed)
	}
}

// Done сообщает, завершена ли единица работы, и её итог.
func (u *UnitOfWork) Done() (done, committed bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.done, u.committed
}

// invoke вызывает слушателя; паника слушателя логируется и не мешает остальным.
func (u *UnitOfWork) invoke(ctx context.Context, l Listener, committed bool) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("Паника в слушателе завершения транзакции",
				slog.Bool("committed", committed),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	l.AfterClose(ctx, committed)
}

// Run выполняет fn в новой единице работы и завершает её по результату fn.
func Run(ctx context.Context, logger *slog.Logger, fn func(ctx context.Context, reg Registrar) error) error {
	uow := NewUnitOfWork(logger)
	err := fn(ctx, uow)
	uow.Complete(ctx, err == nil)
	return err
}
