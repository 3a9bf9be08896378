package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shaiso/Conveyor/internal/telemetry"
)

const defaultTimeout = 30 * time.Second

// Ошибки клиента отчётов.
var (
	// ErrNotConfigured — URL сервиса не задан.
	ErrNotConfigured = errors.New("report service is not configured")

	// ErrRejected — сервис ответил кодом >= 400.
	ErrRejected = errors.New("report rejected")
)

// ClientConfig — параметры подключения к сервису отчётов.
//
// Аутентификация: статический bearer Token или OAuth2 client credentials
// (ClientID, ClientSecret, TokenURL). Если заданы оба, используется OAuth2.
type ClientConfig struct {
	URL          string
	Token        string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	Timeout      time.Duration

	// HTTPClient — базовый клиент (для тестов).
	HTTPClient *http.Client
}

// Client отправляет документы в сервис отчётов.
type Client struct {
	url   string
	token string
	http  *http.Client
}

// Receipt — ответ сервиса на принятый документ.
type Receipt struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// NewClient создаёт клиент.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid report url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: timeout}
	}

	c := &Client{url: cfg.URL, http: base}

	if cfg.ClientID != "" && cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		c.http = cc.Client(ctx)
		c.http.Timeout = timeout
		return c, nil
	}

	c.token = cfg.Token
	return c, nil
}

// Submit отправляет документ. Повторов нет: ошибка отправки терминальна для report stage.
func (c *Client) Submit(ctx context.Context, doc Document) (Receipt, error) {
	receipt, err := c.submit(ctx, doc)
	telemetry.ReportSubmitted(err == nil)
	return receipt, err
}

func (c *Client) submit(ctx context.Context, doc Document) (Receipt, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("submit report: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Receipt{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return Receipt{}, fmt.Errorf("%w: HTTP %d: %s", ErrRejected, resp.StatusCode, truncate(string(respBody), 200))
	}

	var receipt Receipt
	if len(respBody) > 0 {
		// Тело ответа необязательно; не-JSON ответ не считается ошибкой.
		_ = json.Unmarshal(respBody, &receipt)
	}
	return receipt, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
