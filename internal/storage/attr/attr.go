// Пакет attr — файлы метаданных контента (*.attr.json).
// Рядом с каждым файлом контента лежит attr.json с ContentMetadata;
// он единственный источник истины о статусе и пометке удаления.
// Запись атомарна: temp → fsync → rename.
package attr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
)

// Suffix — суффикс файла метаданных.
const Suffix = ".attr.json"

// maxSize — максимальный размер attr.json. Ограничение сохраняет
// запись метаданных в пределах одной страницы файловой системы.
const maxSize = 8192

// PathFor возвращает путь attr.json для файла контента.
func PathFor(dataDir, storagePath string) string {
	return filepath.Join(dataDir, storagePath) + Suffix
}

// IsAttrFile проверяет, является ли путь файлом метаданных.
func IsAttrFile(path string) bool {
	return strings.HasSuffix(path, Suffix)
}

// Write атомарно записывает метаданные.
func Write(path string, meta *model.ContentMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}
	if len(data) > maxSize {
		return fmt.Errorf("размер attr.json (%d байт) превышает максимум (%d байт)", len(data), maxSize)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", filepath.Dir(path), err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// Read читает метаданные из attr.json.
func Read(path string) (*model.ContentMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения attr.json %s: %w", path, err)
	}

	var meta model.ContentMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("ошибка десериализации attr.json %s: %w", path, err)
	}
	if meta.ContentID == "" {
		return nil, fmt.Errorf("attr.json %s: не задан content_id", path)
	}
	return &meta, nil
}

// Delete удаляет attr.json. Отсутствие файла — не ошибка.
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления attr.json %s: %w", path, err)
	}
	return nil
}

// ScanResult — результат сканирования каталога данных.
type ScanResult struct {
	// Items — прочитанные метаданные
	Items []*model.ContentMetadata
	// Invalid — пути attr.json, которые не удалось прочитать
	Invalid []string
}

// ScanDir рекурсивно читает все attr.json каталога данных.
// Невалидные файлы не прерывают сканирование и возвращаются в Invalid.
func ScanDir(dataDir string) (*ScanResult, error) {
	result := &ScanResult{}
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsAttrFile(d.Name()) {
			return nil
		}
		meta, err := Read(path)
		if err != nil {
			result.Invalid = append(result.Invalid, path)
			return nil
		}
		result.Items = append(result.Items, meta)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", dataDir, err)
	}
	return result, nil
}
