package stream

import (
	"context"
	"errors"
	"io"
)

// ErrClosed — чтение из уже закрытого потока.
var ErrClosed = errors.New("поток контента закрыт")

// OpenFunc открывает поток контента в хранилище.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

// ValidateFunc проверяет, можно ли отдавать контент (например, по статусу сканирования).
type ValidateFunc func() error

// LazyReader откладывает открытие потока до первого Read.
// Ошибки хранилища возвращаются как есть и имеют приоритет
// над ошибками проверки статуса.
type LazyReader struct {
	ctx      context.Context
	open     OpenFunc
	validate ValidateFunc

	rc     io.ReadCloser
	err    error
	opened bool
	closed bool
}

// NewLazyReader создаёт отложенный поток. validate может быть nil.
func NewLazyReader(ctx context.Context, open OpenFunc, validate ValidateFunc) *LazyReader {
	return &LazyReader{ctx: ctx, open: open, validate: validate}
}

// Read открывает поток при первом вызове и читает из него.
func (l *LazyReader) Read(p []byte) (int, error) {
	if l.closed {
		return 0, ErrClosed
	}
	if !l.opened {
		l.opened = true
		l.err = l.init()
	}
	if l.err != nil {
		return 0, l.err
	}
	return l.rc.Read(p)
}

func (l *LazyReader) init() error {
	rc, err := l.open(l.ctx)
	if err != nil {
		return err
	}
	if l.validate != nil {
		if err := l.validate(); err != nil {
			rc.Close()
			return err
		}
	}
	l.rc = rc
	return nil
}

// Opened сообщает, обращался ли поток к хранилищу.
func (l *LazyReader) Opened() bool {
	return l.opened
}

// Close освобождает поток хранилища, если он был открыт.
// Закрытие до первого чтения хранилище не затрагивает.
func (l *LazyReader) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if l.rc != nil {
		return l.rc.Close()
	}
	return nil
}
