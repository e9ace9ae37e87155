package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/domain/status"
	"github.com/bigkaa/goartstore/attachment-module/internal/repository"
	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
	"github.com/bigkaa/goartstore/attachment-module/internal/server"
	"github.com/bigkaa/goartstore/attachment-module/internal/service"
)

// fakeRecords — RecordOperations в памяти, запоминает аргументы вызовов.
type fakeRecords struct {
	created  model.Record
	keys     map[string]any
	upload   []byte
	fileName string
	mimeType string
	deleted  bool
	content  *service.Content
	since    time.Time
	err      error
}

func (f *fakeRecords) Create(_ context.Context, _ string, rec model.Record, _ string) (model.Record, error) {
	f.created = rec
	return rec, f.err
}

func (f *fakeRecords) Update(_ context.Context, _ string, keys map[string]any, patch model.Record, _ string) (model.Record, error) {
	f.keys = keys
	return patch, f.err
}

func (f *fakeRecords) PatchDraft(_ context.Context, _ string, keys map[string]any, patch model.Record, _ string) (model.Record, error) {
	f.keys = keys
	return patch, f.err
}

func (f *fakeRecords) SaveDraft(_ context.Context, _ string, keys map[string]any, _ string) (model.Record, error) {
	f.keys = keys
	return model.Record(keys), f.err
}

func (f *fakeRecords) DiscardDraft(_ context.Context, _ string, keys map[string]any, _ string) error {
	f.keys = keys
	return f.err
}

func (f *fakeRecords) Delete(_ context.Context, _ string, keys map[string]any, _ string) error {
	f.keys = keys
	f.deleted = true
	return f.err
}

func (f *fakeRecords) Read(_ context.Context, _ model.Space, _ string, keys map[string]any) (model.Record, error) {
	f.keys = keys
	if f.err != nil {
		return nil, f.err
	}
	return model.Record(keys), nil
}

func (f *fakeRecords) UploadContent(
	_ context.Context, _ string, keys map[string]any, fileName, mimeType string, body io.Reader, _ string,
) (model.Record, error) {
	f.keys = keys
	f.fileName = fileName
	f.mimeType = mimeType
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.upload = data
	return model.Record(keys), f.err
}

func (f *fakeRecords) ReadContent(_ context.Context, _ model.Space, _ string, keys map[string]any) (*service.Content, error) {
	f.keys = keys
	return f.content, f.err
}

func (f *fakeRecords) Restore(_ context.Context, since time.Time) (int, error) {
	f.since = since
	return 3, f.err
}

// errReadCloser возвращает ошибку при первом чтении.
type errReadCloser struct{ err error }

func (e errReadCloser) Read([]byte) (int, error) { return 0, e.err }
func (e errReadCloser) Close() error             { return nil }

type fakeReconciler struct{ busy bool }

func (f fakeReconciler) RunOnce() (*service.ReconcileResult, bool) {
	if f.busy {
		return nil, true
	}
	return &service.ReconcileResult{FilesChecked: 2, Issues: []service.ReconcileIssue{}}, false
}

type fakeReadiness struct{ status string }

func (f fakeReadiness) Name() string                  { return "postgres" }
func (f fakeReadiness) CheckReady() (string, string) { return f.status, "" }

func testSchema(t *testing.T) (*schema.Registry, repository.FieldLocator) {
	t.Helper()
	reg, err := schema.NewRegistry([]schema.Entity{
		{
			Name:         "Incidents",
			Keys:         []string{"ID"},
			Compositions: []schema.Edge{{Name: "attachments", Target: "Incidents.attachments"}},
		},
		{Name: "Incidents.attachments", Keys: []string{"ID"}, Media: true},
		{Name: "Orders.items", Keys: []string{"orderId", "pos"}, Media: true},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	fields, err := schema.NewFieldNameResolver(reg, 16)
	if err != nil {
		t.Fatalf("NewFieldNameResolver: %v", err)
	}
	return reg, fields
}

func newTestRouter(t *testing.T, records *fakeRecords, reconciler ReconcileRunner, extra ...ReadinessChecker) http.Handler {
	t.Helper()
	reg, fields := testSchema(t)
	api := NewAPIHandler(
		NewRecordsHandler(records, reg, fields),
		NewContentHandler(records, reg),
		NewMaintenanceHandler(records, nil, reconciler),
		NewHealthHandler("", "", nil, extra...),
	)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return server.NewRouter(logger, api, nil)
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Ошибка декодирования: %v", err)
	}
	return body.Error.Code
}

func TestCreateRecord_DecodesInlineContent(t *testing.T) {
	records := &fakeRecords{}
	h := newTestRouter(t, records, nil)

	body := `{"ID":"INC-1","title":"Сбой","priority":3,"attachments":[{"ID":"A-1","content":"aGVsbG8="}]}`
	rec := do(h, httptest.NewRequest(http.MethodPost, "/api/v1/records/Incidents", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: хотели 201, получили %d (%s)", rec.Code, rec.Body.String())
	}
	children := records.created.Children("attachments")
	if len(children) != 1 {
		t.Fatalf("вложений: %d", len(children))
	}
	if got, ok := children[0]["content"].([]byte); !ok || string(got) != "hello" {
		t.Errorf("content: %#v", children[0]["content"])
	}
	if _, ok := records.created["priority"].(json.Number); !ok {
		t.Errorf("priority должен декодироваться как json.Number: %T", records.created["priority"])
	}
}

func TestCreateRecord_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"невалидный JSON", "/api/v1/records/Incidents", `{"ID":`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"не объект", "/api/v1/records/Incidents", `null`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"контент не base64", "/api/v1/records/Incidents", `{"attachments":[{"content":"%%%"}]}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"неизвестная сущность", "/api/v1/records/Unknown", `{}`, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, &fakeRecords{}, nil)
			rec := do(h, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))
			if rec.Code != tt.status {
				t.Fatalf("status: хотели %d, получили %d", tt.status, rec.Code)
			}
			if code := errorCode(t, rec); code != tt.code {
				t.Errorf("code: хотели %s, получили %s", tt.code, code)
			}
		})
	}
}

func TestCreateRecord_MapsServiceErrors(t *testing.T) {
	records := &fakeRecords{err: service.ErrRecordExists}
	h := newTestRouter(t, records, nil)

	rec := do(h, httptest.NewRequest(http.MethodPost, "/api/v1/records/Incidents", strings.NewReader(`{"ID":"INC-1"}`)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status: хотели 409, получили %d", rec.Code)
	}
}

func TestParseKeys(t *testing.T) {
	reg, _ := testSchema(t)
	single, _ := reg.Entity("Incidents")
	composite, _ := reg.Entity("Orders.items")

	tests := []struct {
		name    string
		entity  *schema.Entity
		id      string
		want    string
		wantErr bool
	}{
		{"одиночный ключ", single, "INC-1", "ID=INC-1", false},
		{"одиночный ключ явно", single, "ID=INC-1", "ID=INC-1", false},
		{"составной ключ", composite, "pos=2;orderId=O-1", "orderId=O-1;pos=2", false},
		{"неполный составной", composite, "orderId=O-1", "", true},
		{"лишнее поле", composite, "orderId=O-1;pos=2;x=1", "", true},
		{"без значения", composite, "orderId=;pos=2", "", true},
		{"пустой", single, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := parseKeys(tt.entity, tt.id)
			if tt.wantErr {
				if !errors.Is(err, model.ErrMissingIdentifier) {
					t.Fatalf("ожидалась ErrMissingIdentifier, получено %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseKeys: %v", err)
			}
			if got := model.KeyString(keys); got != tt.want {
				t.Errorf("ключ: хотели %s, получили %s", tt.want, got)
			}
		})
	}
}

func TestRecordRoutes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"чтение", http.MethodGet, "/api/v1/records/Incidents/INC-1", "", http.StatusOK},
		{"изменение", http.MethodPatch, "/api/v1/records/Incidents/INC-1", `{"title":"x"}`, http.StatusOK},
		{"удаление", http.MethodDelete, "/api/v1/records/Incidents/INC-1", "", http.StatusNoContent},
		{"чтение черновика", http.MethodGet, "/api/v1/drafts/Incidents/INC-1", "", http.StatusOK},
		{"изменение черновика", http.MethodPatch, "/api/v1/drafts/Incidents/INC-1", `{"title":"x"}`, http.StatusOK},
		{"сохранение черновика", http.MethodPost, "/api/v1/drafts/Incidents/INC-1/save", "", http.StatusOK},
		{"отмена черновика", http.MethodDelete, "/api/v1/drafts/Incidents/INC-1", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := &fakeRecords{}
			h := newTestRouter(t, records, nil)
			rec := do(h, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if rec.Code != tt.status {
				t.Fatalf("status: хотели %d, получили %d (%s)", tt.status, rec.Code, rec.Body.String())
			}
			if got := model.KeyString(records.keys); got != "ID=INC-1" {
				t.Errorf("ключ: %s", got)
			}
		})
	}
}

func TestGetRecord_NotFound(t *testing.T) {
	h := newTestRouter(t, &fakeRecords{err: repository.ErrNotFound}, nil)
	rec := do(h, httptest.NewRequest(http.MethodGet, "/api/v1/records/Incidents/INC-404", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: хотели 404, получили %d", rec.Code)
	}
}

func TestUploadContent_RawBody(t *testing.T) {
	records := &fakeRecords{}
	h := newTestRouter(t, records, nil)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/records/Incidents.attachments/A-1/content", strings.NewReader("%PDF-1.7"))
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Content-Disposition", `attachment; filename="report.pdf"`)
	rec := do(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: хотели 200, получили %d (%s)", rec.Code, rec.Body.String())
	}
	if string(records.upload) != "%PDF-1.7" {
		t.Errorf("контент: %q", records.upload)
	}
	if records.fileName != "report.pdf" || records.mimeType != "application/pdf" {
		t.Errorf("метаданные: %q %q", records.fileName, records.mimeType)
	}
}

func TestUploadContent_Multipart(t *testing.T) {
	records := &fakeRecords{}
	h := newTestRouter(t, records, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("description", "игнорируется")
	part, err := mw.CreateFormFile("file", "photo.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = part.Write([]byte("png-bytes"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/records/Incidents.attachments/A-1/content", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: хотели 200, получили %d (%s)", rec.Code, rec.Body.String())
	}
	if string(records.upload) != "png-bytes" || records.fileName != "photo.png" {
		t.Errorf("загружено %q как %q", records.upload, records.fileName)
	}
}

func TestUploadContent_MultipartWithoutFile(t *testing.T) {
	h := newTestRouter(t, &fakeRecords{}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("description", "нет файла")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/records/Incidents.attachments/A-1/content", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(h, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: хотели 400, получили %d", rec.Code)
	}
}

func TestDownloadContent(t *testing.T) {
	records := &fakeRecords{content: &service.Content{
		Body:     io.NopCloser(strings.NewReader("hello")),
		FileName: "отчёт.txt",
		MimeType: "text/plain",
		Size:     5,
	}}
	h := newTestRouter(t, records, nil)

	rec := do(h, httptest.NewRequest(http.MethodGet, "/api/v1/records/Incidents.attachments/A-1/content", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: хотели 200, получили %d", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Errorf("тело: %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/plain" || rec.Header().Get("Content-Length") != "5" {
		t.Errorf("заголовки: %v", rec.Header())
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Disposition"), "attachment;") {
		t.Errorf("Content-Disposition: %q", rec.Header().Get("Content-Disposition"))
	}
}

func TestDownloadContent_ErrorOnFirstRead(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"не просканирован", status.ErrNotScanned, http.StatusConflict},
		{"заражён", status.ErrNotClean, http.StatusForbidden},
		{"нет контента", service.ErrContentNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := &fakeRecords{content: &service.Content{Body: errReadCloser{err: tt.err}, Size: -1}}
			h := newTestRouter(t, records, nil)

			rec := do(h, httptest.NewRequest(http.MethodGet, "/api/v1/drafts/Incidents.attachments/A-1/content", nil))
			if rec.Code != tt.status {
				t.Fatalf("status: хотели %d, получили %d", tt.status, rec.Code)
			}
			if rec.Header().Get("Content-Type") != "application/json" {
				t.Errorf("ошибка должна отдаваться в JSON: %q", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestMaintenanceRestore(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"без since", "", http.StatusBadRequest},
		{"неверный формат", "?since=вчера", http.StatusBadRequest},
		{"корректный", "?since=2026-10-01T00:00:00Z", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := &fakeRecords{}
			h := newTestRouter(t, records, nil)
			rec := do(h, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/restore"+tt.query, nil))
			if rec.Code != tt.status {
				t.Fatalf("status: хотели %d, получили %d", tt.status, rec.Code)
			}
			if tt.status != http.StatusOK {
				return
			}
			var body struct {
				Restored int `json:"restored"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("Ошибка декодирования: %v", err)
			}
			if body.Restored != 3 {
				t.Errorf("restored: %d", body.Restored)
			}
			if !records.since.Equal(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)) {
				t.Errorf("since: %v", records.since)
			}
		})
	}
}

func TestMaintenanceReconcile(t *testing.T) {
	h := newTestRouter(t, &fakeRecords{}, fakeReconciler{})
	rec := do(h, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/reconcile", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: хотели 200, получили %d", rec.Code)
	}

	h = newTestRouter(t, &fakeRecords{}, fakeReconciler{busy: true})
	rec = do(h, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/reconcile", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status: хотели 409, получили %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "RECONCILE_IN_PROGRESS" {
		t.Errorf("code: %s", code)
	}
}

func TestMaintenanceGC_WithoutService(t *testing.T) {
	h := newTestRouter(t, &fakeRecords{}, nil)
	rec := do(h, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/gc", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: хотели 200, получили %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t, &fakeRecords{}, nil)
	if rec := do(h, httptest.NewRequest(http.MethodGet, "/health/live", nil)); rec.Code != http.StatusOK {
		t.Errorf("live: %d", rec.Code)
	}
	if rec := do(h, httptest.NewRequest(http.MethodGet, "/health/ready", nil)); rec.Code != http.StatusOK {
		t.Errorf("ready: %d", rec.Code)
	}

	h = newTestRouter(t, &fakeRecords{}, nil, fakeReadiness{status: "fail"})
	rec := do(h, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready с недоступной БД: хотели 503, получили %d", rec.Code)
	}
}

func TestHealthReady_DataDir(t *testing.T) {
	dir := t.TempDir()
	hh := NewHealthHandler(dir, dir, nil)

	rec := httptest.NewRecorder()
	hh.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: хотели 200, получили %d", rec.Code)
	}

	hh = NewHealthHandler(dir+"/нет-такого", dir, nil)
	rec = httptest.NewRecorder()
	hh.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: хотели 503, получили %d", rec.Code)
	}
}
