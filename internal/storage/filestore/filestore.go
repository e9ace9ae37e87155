// Пакет filestore — файлы контента вложений на диске.
// Контент хранится под именем идентификатора в подкаталоге из двух
// первых символов идентификатора. Запись потоковая, с подсчётом
// SHA-256 на лету: temp файл → запись → fsync → atomic rename.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound — файл контента отсутствует на диске.
var ErrNotFound = errors.New("файл контента не найден")

// tmpSuffix — суффикс незавершённой записи.
const tmpSuffix = ".tmp"

// contentSuffix — расширение файла контента.
const contentSuffix = ".bin"

// FileStore — файлы контента в каталоге dataDir.
type FileStore struct {
	dataDir string
}

// SaveResult — результат сохранения контента.
type SaveResult struct {
	// StoragePath — путь относительно dataDir
	StoragePath string
	// Size — количество записанных байт
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
}

// New создаёт FileStore; каталог создаётся при отсутствии.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// StoragePath возвращает относительный путь файла контента.
func StoragePath(contentID string) string {
	shard := "00"
	if len(contentID) >= 2 {
		shard = strings.ToLower(contentID[:2])
	}
	return filepath.Join(shard, contentID+contentSuffix)
}

// Save записывает поток контента. Ошибка чтения потока (в том числе
// превышение лимита размера) удаляет временный файл и возвращается
// без обёртки, чтобы вызывающий мог сопоставить её через errors.Is.
func (s *FileStore) Save(contentID string, r io.Reader) (*SaveResult, error) {
	rel := StoragePath(contentID)
	fullPath := filepath.Join(s.dataDir, rel)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога контента: %w", err)
	}
	tmpPath := fullPath + tmpSuffix

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	fail := func(err error) (*SaveResult, error) {
		f.Close()
		os.Remove(tmpPath)
		return nil, err
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("ошибка fsync: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StoragePath: rel,
		Size:        size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает файл контента. Вызывающий обязан закрыть файл.
func (s *FileStore) Open(storagePath string) (*os.File, error) {
	f, err := os.Open(filepath.Join(s.dataDir, storagePath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}
	return f, nil
}

// Delete удаляет файл контента. Отсутствие файла — не ошибка.
func (s *FileStore) Delete(storagePath string) error {
	err := os.Remove(filepath.Join(s.dataDir, storagePath))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storagePath, err)
	}
	return nil
}

// Exists проверяет наличие файла контента.
func (s *FileStore) Exists(storagePath string) bool {
	_, err := os.Stat(filepath.Join(s.dataDir, storagePath))
	return err == nil
}

// Size возвращает размер файла контента.
func (s *FileStore) Size(storagePath string) (int64, error) {
	info, err := os.Stat(filepath.Join(s.dataDir, storagePath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return 0, fmt.Errorf("ошибка получения размера %s: %w", storagePath, err)
	}
	return info.Size(), nil
}

// Checksum вычисляет SHA-256 сохранённого файла.
func (s *FileStore) Checksum(storagePath string) (string, error) {
	f, err := s.Open(storagePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum %s: %w", storagePath, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// CleanTemp удаляет незавершённые временные файлы (после аварийной
// остановки). Возвращает количество удалённых.
func (s *FileStore) CleanTemp() (int, error) {
	removed := 0
	err := filepath.WalkDir(s.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), tmpSuffix) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("ошибка удаления временного файла %s: %w", path, err)
		}
		removed++
		return nil
	})
	return removed, err
}

// DataDir возвращает каталог данных.
func (s *FileStore) DataDir() string {
	return s.dataDir
}
