// reconcile.go — сверка каталога данных с attr.json.
//
// Обнаруживает проблемы:
//   - orphaned_file: файл контента без attr.json
//   - missing_file: attr.json действующего контента без файла
//   - size_mismatch: размер файла не совпадает с attr.json
//   - checksum_mismatch: SHA-256 файла не совпадает с attr.json
//
// Выполняется при старте после восстановления WAL и по запросу
// через /api/v1/maintenance/reconcile. Индекс пересобирается.
package service

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/attachment-module/internal/storage/attr"
	"github.com/bigkaa/goartstore/attachment-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/attachment-module/internal/storage/index"
)

var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "at_reconcile_runs_total",
		Help: "Общее количество запусков сверки хранилища",
	})

	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "at_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных сверкой",
	}, []string{"type"})
)

// IssueType — тип проблемы сверки.
type IssueType string

const (
	IssueOrphanedFile     IssueType = "orphaned_file"
	IssueMissingFile      IssueType = "missing_file"
	IssueSizeMismatch     IssueType = "size_mismatch"
	IssueChecksumMismatch IssueType = "checksum_mismatch"
)

// ReconcileIssue — обнаруженная проблема.
type ReconcileIssue struct {
	Type        IssueType `json:"type"`
	ContentID   string    `json:"content_id,omitempty"`
	Path        string    `json:"path"`
	Description string    `json:"description"`
}

// ReconcileResult — результат сверки.
type ReconcileResult struct {
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
	FilesChecked int              `json:"files_checked"`
	Issues       []ReconcileIssue `json:"issues"`
}

// ReconcileService — сверка каталога данных.
type ReconcileService struct {
	files  *filestore.FileStore
	idx    *index.Index
	logger *slog.Logger

	mu        sync.Mutex
	inProcess bool
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(files *filestore.FileStore, idx *index.Index, logger *slog.Logger) *ReconcileService {
	return &ReconcileService{
		files:  files,
		idx:    idx,
		logger: logger.With(slog.String("component", "reconcile")),
	}
}

// RunOnce выполняет сверку. Если сверка уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce() (*ReconcileResult, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()
	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	result := &ReconcileResult{StartedAt: time.Now().UTC()}
	result.Issues, result.FilesChecked = rs.reconcile()

	if err := rs.idx.BuildFromDir(rs.files.DataDir()); err != nil {
		rs.logger.Error("Ошибка пересборки индекса", slog.String("error", err.Error()))
	}
	result.CompletedAt = time.Now().UTC()

	reconcileRunsTotal.Inc()
	for _, issue := range result.Issues {
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
		rs.logger.Warn("Проблема сверки",
			slog.String("type", string(issue.Type)),
			slog.String("content_id", issue.ContentID),
			slog.String("path", issue.Path),
		)
	}
	rs.logger.Info("Сверка завершена",
		slog.Int("files_checked", result.FilesChecked),
		slog.Int("issues", len(result.Issues)),
		slog.Duration("duration", result.CompletedAt.Sub(result.StartedAt)),
	)
	return result, false
}

func (rs *ReconcileService) reconcile() ([]ReconcileIssue, int) {
	var issues []ReconcileIssue
	dataFiles := make(map[string]bool)
	attrFiles := make(map[string]bool)

	dataDir := rs.files.DataDir()
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return err
		}
		if attr.IsAttrFile(name) {
			attrFiles[strings.TrimSuffix(rel, attr.Suffix)] = true
		} else {
			dataFiles[rel] = true
		}
		return nil
	})
	if err != nil {
		rs.logger.Error("Ошибка обхода директории данных", slog.String("error", err.Error()))
		return nil, 0
	}

	for rel := range dataFiles {
		if !attrFiles[rel] {
			issues = append(issues, ReconcileIssue{
				Type:        IssueOrphanedFile,
				Path:        rel,
				Description: "Файл контента без attr.json",
			})
		}
	}

	checked := 0
	for rel := range attrFiles {
		meta, err := attr.Read(attr.PathFor(dataDir, rel))
		if err != nil {
			rs.logger.Warn("Ошибка чтения attr.json при сверке",
				slog.String("path", rel),
				slog.String("error", err.Error()),
			)
			continue
		}
		checked++

		if !dataFiles[rel] {
			issues = append(issues, ReconcileIssue{
				Type:        IssueMissingFile,
				ContentID:   meta.ContentID,
				Path:        rel,
				Description: "attr.json без файла контента",
			})
			continue
		}

		size, err := rs.files.Size(rel)
		if err != nil {
			continue
		}
		if size != meta.Size {
			issues = append(issues, ReconcileIssue{
				Type:        IssueSizeMismatch,
				ContentID:   meta.ContentID,
				Path:        rel,
				Description: "Размер файла не совпадает с attr.json",
			})
			continue
		}

		checksum, err := rs.files.Checksum(rel)
		if err != nil {
			continue
		}
		if checksum != meta.Checksum {
			issues = append(issues, ReconcileIssue{
				Type:        IssueChecksumMismatch,
				ContentID:   meta.ContentID,
				Path:        rel,
				Description: "SHA-256 файла не совпадает с attr.json",
			})
		}
	}
	return issues, checked
}
