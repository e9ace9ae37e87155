// Пакет mediatype — определение MIME-типа по имени файла и
// проверка MIME-типа по списку допустимых (точное совпадение, "type/*", "*/*").
package mediatype

import (
	"mime"
	"path/filepath"
	"strings"
)

// DefaultMimeType — тип для файлов без расширения или с неизвестным расширением.
const DefaultMimeType = "application/octet-stream"

// Wildcard — маска, допускающая любой тип.
const Wildcard = "*/*"

// knownTypes — типы, не зависящие от системной базы mime.types.
var knownTypes = map[string]string{
	".txt":  "text/plain",
	".csv":  "text/csv",
	".html": "text/html",
	".htm":  "text/html",
	".xml":  "application/xml",
	".json": "application/json",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".tar":  "application/x-tar",
	".7z":   "application/x-7z-compressed",
	".rar":  "application/vnd.rar",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".ico":  "image/vnd.microsoft.icon",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".doc":  "application/msword",
	".dot":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".rtf":  "application/rtf",
	".msg":  "application/vnd.ms-outlook",
	".eml":  "message/rfc822",
}

// ResolveMimeType определяет MIME-тип по расширению имени файла.
// Сначала используется встроенная таблица, затем системная база.
// Неизвестное или отсутствующее расширение → application/octet-stream.
func ResolveMimeType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(fileName)))
	if ext == "" || ext == "." {
		return DefaultMimeType
	}
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return normalize(t)
	}
	return DefaultMimeType
}

// IsMimeTypeAllowed проверяет mimeType по списку допустимых типов.
// Пустой список допускает любой непустой тип. Пустой mimeType не допускается никогда.
func IsMimeTypeAllowed(allowed []string, mimeType string) bool {
	mt := normalize(mimeType)
	if mt == "" {
		return false
	}
	if len(allowed) == 0 {
		return true
	}

	for _, a := range allowed {
		pattern := normalize(a)
		if pattern == "" {
			continue
		}
		if pattern == Wildcard || pattern == mt {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
			if strings.HasPrefix(mt, prefix+"/") {
				return true
			}
		}
	}
	return false
}

// normalize убирает параметры (charset и т.д.), пробелы и приводит к нижнему регистру.
func normalize(mimeType string) string {
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = mimeType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
