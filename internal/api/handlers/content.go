// content.go — обработчики контента вложений.
// PUT/GET /api/v1/records/{entity}/{id}/content, GET /api/v1/drafts/{entity}/{id}/content.
package handlers

import (
	"bufio"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/bigkaa/goartstore/attachment-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
)

// uploadFormField — имя части multipart с контентом.
const uploadFormField = "file"

// ContentHandler — обработчик загрузки и выдачи контента.
type ContentHandler struct {
	records RecordOperations
	targets targetResolver
}

// NewContentHandler создаёт обработчик контента.
func NewContentHandler(records RecordOperations, s schema.Introspector) *ContentHandler {
	return &ContentHandler{
		records: records,
		targets: targetResolver{schema: s},
	}
}

// UploadContent обрабатывает PUT /api/v1/records/{entity}/{id}/content.
// Принимает multipart/form-data (часть "file") или тело запроса как есть.
// Тело не буферизуется: лимит размера проверяется при записи.
func (h *ContentHandler) UploadContent(w http.ResponseWriter, r *http.Request) {
	target, err := h.targets.resolve(r, true)
	if err != nil {
		writeError(w, err)
		return
	}

	body, fileName, mimeType, err := uploadSource(r)
	if err != nil {
		writeError(w, err)
		return
	}
	defer body.Close()

	out, err := h.records.UploadContent(r.Context(), target.entity.Name, target.keys,
		fileName, mimeType, body, middleware.Actor(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// uploadSource возвращает поток контента, имя файла и MIME-тип.
func uploadSource(r *http.Request) (io.ReadCloser, string, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		fileName := r.URL.Query().Get("fileName")
		if _, params, err := mime.ParseMediaType(r.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
			fileName = params["filename"]
		}
		return r.Body, fileName, mediaType, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", "", &badRequestError{msg: "Ошибка парсинга multipart: " + err.Error()}
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", "", &badRequestError{msg: "Поле 'file' обязательно"}
		}
		if err != nil {
			return nil, "", "", &badRequestError{msg: "Ошибка парсинга multipart: " + err.Error()}
		}
		if part.FormName() != uploadFormField {
			_ = part.Close()
			continue
		}
		partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		return part, part.FileName(), partType, nil
	}
}

// DownloadContent обрабатывает GET /api/v1/records/{entity}/{id}/content.
func (h *ContentHandler) DownloadContent(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, model.SpaceActive)
}

// DownloadDraftContent обрабатывает GET /api/v1/drafts/{entity}/{id}/content.
func (h *ContentHandler) DownloadDraftContent(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, model.SpaceDraft)
}

// download отдаёт контент потоком. Хранилище открывается и статус
// проверяется при первом чтении, поэтому заголовки пишутся только
// после успешного Peek.
func (h *ContentHandler) download(w http.ResponseWriter, r *http.Request, space model.Space) {
	target, err := h.targets.resolve(r, true)
	if err != nil {
		writeError(w, err)
		return
	}
	content, err := h.records.ReadContent(r.Context(), space, target.entity.Name, target.keys)
	if err != nil {
		writeError(w, err)
		return
	}
	defer content.Body.Close()

	br := bufio.NewReader(content.Body)
	if _, err := br.Peek(1); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, err)
		return
	}

	if content.MimeType != "" {
		w.Header().Set("Content-Type", content.MimeType)
	}
	if content.FileName != "" {
		w.Header().Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": content.FileName}))
	}
	if content.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(content.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, br)
}
