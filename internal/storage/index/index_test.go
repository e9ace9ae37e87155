package index

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/storage/attr"
	"github.com/bigkaa/goartstore/attachment-module/internal/storage/filestore"
)

// testLogger возвращает логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// createTestMetadata создаёт тестовые метаданные.
func createTestMetadata(id string, st model.AttachmentStatus, createdAt time.Time) *model.ContentMetadata {
	return &model.ContentMetadata{
		ContentID:   id,
		Entity:      "Incidents.attachments",
		FileName:    fmt.Sprintf("file_%s.txt", id),
		StoragePath: filestore.StoragePath(id),
		MimeType:    "text/plain",
		Size:        1024,
		Checksum:    "abc123",
		CreatedBy:   "admin",
		CreatedAt:   createdAt,
		Status:      st,
	}
}

func TestNew(t *testing.T) {
	idx := New(testLogger())

	if idx.Count() != 0 {
		t.Errorf("ожидалось 0 записей, получено %d", idx.Count())
	}
	if idx.IsReady() {
		t.Error("новый индекс не должен быть ready")
	}
}

// TestBuildFromDir проверяет построение индекса из attr.json.
func TestBuildFromDir(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()
	for i, st := range []model.AttachmentStatus{model.StatusClean, model.StatusUnscanned, model.StatusClean} {
		meta := createTestMetadata(fmt.Sprintf("a%d", i), st, now)
		if err := attr.Write(attr.PathFor(dir, meta.StoragePath), meta); err != nil {
			t.Fatalf("ошибка записи attr.json: %v", err)
		}
	}

	idx := New(testLogger())
	idx.Put(createTestMetadata("stale", model.StatusClean, now))
	if err := idx.BuildFromDir(dir); err != nil {
		t.Fatalf("ошибка построения: %v", err)
	}

	if !idx.IsReady() {
		t.Error("индекс должен быть ready")
	}
	if idx.Count() != 3 {
		t.Errorf("ожидалось 3 записи, получено %d", idx.Count())
	}
	if idx.Get("stale") != nil {
		t.Error("построение должно заменять содержимое индекса")
	}
	if got := idx.CountByStatus(model.StatusClean); got != 2 {
		t.Errorf("clean: ожидалось 2, получено %d", got)
	}
}

// TestPutGet_Copy проверяет, что индекс хранит и отдаёт копии.
func TestPutGet_Copy(t *testing.T) {
	idx := New(testLogger())
	meta := createTestMetadata("c1", model.StatusUnscanned, time.Now())
	idx.Put(meta)

	meta.Status = model.StatusInfected
	got := idx.Get("c1")
	if got == nil || got.Status != model.StatusUnscanned {
		t.Fatalf("внешнее изменение не должно влиять на индекс: %+v", got)
	}

	got.Status = model.StatusClean
	if idx.Get("c1").Status != model.StatusUnscanned {
		t.Error("изменение копии не должно влиять на индекс")
	}
	if idx.Get("missing") != nil {
		t.Error("ожидался nil для отсутствующей записи")
	}
}

func TestRemove(t *testing.T) {
	idx := New(testLogger())
	idx.Put(createTestMetadata("c1", model.StatusClean, time.Now()))

	if !idx.Remove("c1") {
		t.Error("Remove должен вернуть true")
	}
	if idx.Remove("c1") {
		t.Error("повторный Remove должен вернуть false")
	}
}

func TestList_Filter(t *testing.T) {
	idx := New(testLogger())
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	deletedAt := base.Add(time.Hour)

	idx.Put(createTestMetadata("c2", model.StatusClean, base.Add(2*time.Minute)))
	idx.Put(createTestMetadata("c1", model.StatusUnscanned, base.Add(time.Minute)))
	deleted := createTestMetadata("c3", model.StatusClean, base)
	deleted.DeletedAt = &deletedAt
	idx.Put(deleted)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"действующие", Filter{}, []string{"c1", "c2"}},
		{"по статусу", Filter{Status: model.StatusClean}, []string{"c2"}},
		{"с удалёнными", Filter{IncludeDeleted: true}, []string{"c3", "c1", "c2"}},
		{"только удалённые", Filter{OnlyDeleted: true}, []string{"c3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := idx.List(tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("ожидалось %d записей, получено %d", len(tt.want), len(got))
			}
			for i, id := range tt.want {
				if got[i].ContentID != id {
					t.Errorf("[%d]: ожидалось %s, получено %s", i, id, got[i].ContentID)
				}
			}
		})
	}

	if got := idx.DeletedSince(base); len(got) != 1 {
		t.Errorf("DeletedSince(base): ожидалось 1, получено %d", len(got))
	}
	if got := idx.DeletedSince(deletedAt.Add(time.Second)); len(got) != 0 {
		t.Errorf("DeletedSince(после удаления): ожидалось 0, получено %d", len(got))
	}
	if got := idx.CountByStatus(model.StatusClean); got != 1 {
		t.Errorf("CountByStatus не должен учитывать удалённые: %d", got)
	}
}

// TestConcurrentAccess проверяет потокобезопасность (запуск с -race).
func TestConcurrentAccess(t *testing.T) {
	idx := New(testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			idx.Put(createTestMetadata(fmt.Sprintf("c%d", i), model.StatusClean, time.Now()))
		}(i)
		go func(i int) {
			defer wg.Done()
			_ = idx.Get(fmt.Sprintf("c%d", i))
			_ = idx.List(Filter{})
		}(i)
	}
	wg.Wait()

	if idx.Count() != 50 {
		t.Errorf("ожидалось 50 записей, получено %d", idx.Count())
	}
}
