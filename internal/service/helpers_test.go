package service

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/bigkaa/goartstore/attachment-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/attachment-module/internal/storage/index"
	"github.com/bigkaa/goartstore/attachment-module/internal/storage/wal"
)

// testEnv — хранилище контента во временных каталогах.
type testEnv struct {
	dataDir string
	files   *filestore.FileStore
	wal     *wal.WAL
	idx     *index.Index
	store   *AttachmentStore
	logger  *slog.Logger
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestEnv создаёт хранилище контента. scanEnabled=false — новый
// контент сразу получает статус clean.
func setupTestEnv(t *testing.T, scanEnabled bool) *testEnv {
	t.Helper()

	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	logger := testLogger()

	files, err := filestore.New(dataDir)
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	walEngine, err := wal.New(filepath.Join(root, "wal"), logger)
	if err != nil {
		t.Fatalf("Ошибка создания WAL: %v", err)
	}
	idx := index.New(logger)

	return &testEnv{
		dataDir: dataDir,
		files:   files,
		wal:     walEngine,
		idx:     idx,
		store:   NewAttachmentStore(files, walEngine, idx, 1024, scanEnabled, logger),
		logger:  logger,
	}
}

// recordingSubmitter запоминает поставленный в очередь контент.
type recordingSubmitter struct {
	ids []string
}

func (r *recordingSubmitter) Submit(contentID string) bool {
	r.ids = append(r.ids, contentID)
	return true
}
