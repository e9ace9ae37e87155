// Пакет scanner — HTTP-клиент сканера вредоносного содержимого.
// Контент передаётся потоком в теле запроса; сканер отвечает
// JSON-вердиктом.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Verdict — результат сканирования.
type Verdict string

const (
	VerdictClean    Verdict = "clean"
	VerdictInfected Verdict = "infected"
)

// scanResponse — ответ сканера.
type scanResponse struct {
	Verdict   Verdict `json:"verdict"`
	Signature string  `json:"signature,omitempty"`
}

// Client — HTTP-клиент сканера.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент сканера.
// timeout ограничивает весь запрос, включая передачу контента.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
			},
		},
		logger: logger.With(slog.String("component", "scanner_client")),
	}
}

// URL возвращает базовый URL сканера.
func (c *Client) URL() string {
	return c.baseURL
}

// Scan отправляет контент на проверку.
// Формат запроса: POST {baseURL}/api/v1/scan, заголовок X-Content-ID.
// Сетевые ошибки и ответы не-2xx возвращаются вызывающему.
func (c *Client) Scan(ctx context.Context, contentID string, content io.Reader) (Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/scan", content)
	if err != nil {
		return "", fmt.Errorf("создание запроса Scan: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Content-ID", contentID)

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return "", fmt.Errorf("запрос Scan к %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("сканер вернул %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("разбор ответа сканера: %w", err)
	}

	switch sr.Verdict {
	case VerdictClean:
		return VerdictClean, nil
	case VerdictInfected:
		c.logger.Warn("Обнаружено вредоносное содержимое",
			slog.String("content_id", contentID),
			slog.String("signature", sr.Signature),
		)
		return VerdictInfected, nil
	default:
		return "", fmt.Errorf("неизвестный вердикт сканера: %q", sr.Verdict)
	}
}
