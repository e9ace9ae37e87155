// Пакет stream — потоковые обёртки для контента вложений:
// ограничение размера без буферизации (CountingReader) и
// отложенное открытие с проверкой статуса (LazyReader).
package stream

import (
	"errors"
	"fmt"
	"io"
)

// ErrContentTooLarge — контент превышает допустимый размер.
var ErrContentTooLarge = errors.New("размер контента превышает допустимый")

// ContentTooLargeError — превышение лимита с указанием самого лимита.
type ContentTooLargeError struct {
	Limit int64
}

func (e *ContentTooLargeError) Error() string {
	return fmt.Sprintf("CONTENT_TOO_LARGE: размер контента превышает лимит %d байт", e.Limit)
}

// Is позволяет сравнивать с ErrContentTooLarge через errors.Is.
func (e *ContentTooLargeError) Is(target error) bool {
	return target == ErrContentTooLarge
}

// CountingReader считает переданные байты и прерывает поток,
// как только накопленный объём превышает лимит.
//
// Чтение, пересекающее лимит, отдаёт байты ровно до лимита;
// следующий Read/Skip возвращает *ContentTooLargeError.
// Из источника читается не больше len(p)+1 байт за вызов.
// Не предназначен для конкурентного чтения.
type CountingReader struct {
	src      io.Reader
	closer   io.Closer
	limit    int64
	count    int64
	exceeded bool
	closed   bool
}

// NewCountingReader оборачивает src. limit <= 0 — без ограничения.
// Если src реализует io.Closer, Close делегируется ему.
func NewCountingReader(src io.Reader, limit int64) *CountingReader {
	c := &CountingReader{src: src, limit: limit}
	if closer, ok := src.(io.Closer); ok {
		c.closer = closer
	}
	return c
}

// Read реализует io.Reader.
func (c *CountingReader) Read(p []byte) (int, error) {
	if c.exceeded {
		return 0, &ContentTooLargeError{Limit: c.limit}
	}
	if len(p) == 0 {
		return 0, nil
	}

	if c.limit > 0 {
		// Один лишний байт позволяет обнаружить превышение
		// без чтения всего остатка.
		if room := c.limit - c.count + 1; int64(len(p)) > room {
			p = p[:room]
		}
	}

	n, err := c.src.Read(p)
	if n <= 0 {
		return n, err
	}

	if c.limit > 0 && c.count+int64(n) > c.limit {
		deliver := int(c.limit - c.count)
		c.count = c.limit
		c.exceeded = true
		if deliver == 0 {
			return 0, &ContentTooLargeError{Limit: c.limit}
		}
		return deliver, nil
	}

	c.count += int64(n)
	return n, err
}

// Skip пропускает до n байт. Пропущенные байты учитываются так же, как прочитанные.
// Конец потока до n байт ошибкой не считается.
func (c *CountingReader) Skip(n int64) (int64, error) {
	skipped, err := io.CopyN(io.Discard, c, n)
	if errors.Is(err, io.EOF) {
		return skipped, nil
	}
	return skipped, err
}

// Count возвращает количество переданных потребителю байт.
func (c *CountingReader) Count() int64 {
	return c.count
}

// Limit возвращает лимит размера (0 — без ограничения).
func (c *CountingReader) Limit() int64 {
	return c.limit
}

// Close закрывает исходный поток. Повторные вызовы возвращают nil.
func (c *CountingReader) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}
