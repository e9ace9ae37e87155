package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// confirmedContent создаёт подтверждённый контент и возвращает его путь.
func confirmedContent(t *testing.T, env *testEnv, body string) (string, string) {
	t.Helper()
	id := createContent(t, env, body)
	if err := env.store.ConfirmAttachment(context.Background(), id); err != nil {
		t.Fatalf("Ошибка подтверждения: %v", err)
	}
	return id, env.idx.Get(id).StoragePath
}

func TestReconcileRunOnce_NoIssues(t *testing.T) {
	env := setupTestEnv(t, false)
	confirmedContent(t, env, "one")
	confirmedContent(t, env, "two")

	rs := NewReconcileService(env.files, env.idx, env.logger)
	result, skipped := rs.RunOnce()
	if skipped {
		t.Fatal("сверка не должна пропускаться")
	}
	if result.FilesChecked != 2 {
		t.Errorf("FilesChecked: хотели 2, получили %d", result.FilesChecked)
	}
	if len(result.Issues) != 0 {
		t.Errorf("Issues: хотели 0, получили %v", result.Issues)
	}
}

func TestReconcileRunOnce_Issues(t *testing.T) {
	tests := []struct {
		name   string
		damage func(t *testing.T, env *testEnv, storagePath string)
		want   IssueType
	}{
		{
			name: "файл без attr.json",
			damage: func(t *testing.T, env *testEnv, _ string) {
				p := filepath.Join(env.dataDir, "ab", "orphan.bin")
				if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(p, []byte("x"), 0o640); err != nil {
					t.Fatal(err)
				}
			},
			want: IssueOrphanedFile,
		},
		{
			name: "attr.json без файла",
			damage: func(t *testing.T, env *testEnv, storagePath string) {
				if err := env.files.Delete(storagePath); err != nil {
					t.Fatal(err)
				}
			},
			want: IssueMissingFile,
		},
		{
			name: "размер не совпадает",
			damage: func(t *testing.T, env *testEnv, storagePath string) {
				if err := os.WriteFile(filepath.Join(env.dataDir, storagePath), []byte("longer content"), 0o640); err != nil {
					t.Fatal(err)
				}
			},
			want: IssueSizeMismatch,
		},
		{
			name: "SHA-256 не совпадает",
			damage: func(t *testing.T, env *testEnv, storagePath string) {
				if err := os.WriteFile(filepath.Join(env.dataDir, storagePath), []byte("abc"), 0o640); err != nil {
					t.Fatal(err)
				}
			},
			want: IssueChecksumMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t, false)
			_, storagePath := confirmedContent(t, env, "xyz")
			tt.damage(t, env, storagePath)

			rs := NewReconcileService(env.files, env.idx, env.logger)
			result, _ := rs.RunOnce()
			if len(result.Issues) != 1 {
				t.Fatalf("Issues: хотели 1, получили %v", result.Issues)
			}
			if result.Issues[0].Type != tt.want {
				t.Errorf("Type: хотели %s, получили %s", tt.want, result.Issues[0].Type)
			}
		})
	}
}

func TestReconcileRunOnce_SkipsHiddenAndTmpFiles(t *testing.T) {
	env := setupTestEnv(t, false)
	for _, name := range []string{".hidden", "partial.bin.tmp"} {
		if err := os.WriteFile(filepath.Join(env.dataDir, name), []byte("x"), 0o640); err != nil {
			t.Fatal(err)
		}
	}

	rs := NewReconcileService(env.files, env.idx, env.logger)
	result, _ := rs.RunOnce()
	if len(result.Issues) != 0 {
		t.Errorf("Issues: хотели 0, получили %v", result.Issues)
	}
}

func TestReconcileRunOnce_RebuildsIndex(t *testing.T) {
	env := setupTestEnv(t, false)
	id, _ := confirmedContent(t, env, "data")
	env.idx.Remove(id)

	rs := NewReconcileService(env.files, env.idx, env.logger)
	rs.RunOnce()

	if env.idx.Get(id) == nil {
		t.Error("индекс должен быть пересобран из attr.json")
	}
	if !env.idx.IsReady() {
		t.Error("индекс должен быть готов")
	}
}

func TestReconcileRunOnce_ConcurrentProtection(t *testing.T) {
	env := setupTestEnv(t, false)
	for i := 0; i < 20; i++ {
		confirmedContent(t, env, "data")
	}
	rs := NewReconcileService(env.files, env.idx, env.logger)

	var wg sync.WaitGroup
	completed := make([]bool, 4)
	for i := range completed {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, skipped := rs.RunOnce()
			completed[i] = !skipped && result != nil
		}(i)
	}
	wg.Wait()

	n := 0
	for _, ok := range completed {
		if ok {
			n++
		}
	}
	if n == 0 {
		t.Error("хотя бы одна сверка должна выполниться")
	}
}
