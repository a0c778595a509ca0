package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"paybridge/metrics"
)

var logger = log.New(os.Stdout, "[Backend] ", log.LstdFlags|log.Lshortfile)

// maxBodySize ограничивает чтение ответа бэкенда
const maxBodySize = 1 << 20

const (
	EndpointAuthorize     = "authorize"
	EndpointReceipt       = "transaction"
	EndpointReversal      = "transaction/reversal"
	EndpointCash          = "transaction/cash"
	EndpointCashReversal  = "transaction/cash/reversal"
	EndpointGiftAuthorize = "giftcard/authorize"
	EndpointGiftCancel    = "giftcard/cancel"
	EndpointGiftBalance   = "giftcard/balance"
)

var (
	// ErrUnavailable оборачивает сетевые ошибки до получения HTTP-статуса
	ErrUnavailable = errors.New("backend unavailable")
	// ErrInvalidResponse - тело успешного ответа не удалось разобрать
	ErrInvalidResponse = errors.New("invalid backend response")
	// ErrEmptyToken - бэкенд ответил 2xx с пустым телом на запрос токена
	ErrEmptyToken = errors.New("backend returned an empty token")
)

// StatusError - бэкенд ответил статусом вне диапазона 2xx
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Endpoint, e.StatusCode)
}

// LogicalError - ошибка, переданная в теле ответа со статусом 2xx
type LogicalError struct {
	Code    int
	Message string
}

func (e *LogicalError) Error() string {
	return e.Message
}

// Config представляет настройки клиента бэкенда
type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// Client вызывает HTTP API бэкенда транзакций
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewClient создаёт клиента. httpClient может быть nil.
func NewClient(config Config, httpClient *http.Client, m *metrics.Metrics) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("backend base_url is required")
	}
	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend base_url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend base_url %q", config.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &Client{baseURL: base, httpClient: httpClient, metrics: m}, nil
}

// Authorize получает токен по логину и паролю. Токен - тело ответа целиком.
func (c *Client) Authorize(ctx context.Context, login, password string) (string, error) {
	query := url.Values{}
	query.Set("login", login)
	query.Set("password", password)

	body, err := c.do(ctx, http.MethodGet, EndpointAuthorize, "", query, nil)
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", ErrEmptyToken
	}
	logger.Printf("Token received for login %q", login)
	return token, nil
}

// SendReceipt записывает чек карточной оплаты
func (c *Client) SendReceipt(ctx context.Context, token string, req ReceiptRequest) (TransactionResponse, error) {
	var resp TransactionResponse
	err := c.call(ctx, EndpointReceipt, token, req, &resp)
	return resp, err
}

// ReverseCard регистрирует отмену или возврат карточной оплаты
func (c *Client) ReverseCard(ctx context.Context, token string, req ReversalRequest) error {
	return c.call(ctx, EndpointReversal, token, req, nil)
}

// Cash проводит оплату наличными
func (c *Client) Cash(ctx context.Context, token string, req CashRequest) (TransactionResponse, error) {
	var resp TransactionResponse
	err := c.call(ctx, EndpointCash, token, req, &resp)
	return resp, err
}

// ReverseCash отменяет оплату наличными
func (c *Client) ReverseCash(ctx context.Context, token string, req CashReversalRequest) error {
	return c.call(ctx, EndpointCashReversal, token, req, nil)
}

// GiftAuthorize списывает сумму с подарочной карты
func (c *Client) GiftAuthorize(ctx context.Context, token string, req GiftAuthorizeRequest) (GiftResponse, error) {
	return c.gift(ctx, EndpointGiftAuthorize, token, req)
}

// GiftCancel отменяет списание с подарочной карты
func (c *Client) GiftCancel(ctx context.Context, token string, req GiftCancelRequest) (GiftResponse, error) {
	return c.gift(ctx, EndpointGiftCancel, token, req)
}

// GiftBalance запрашивает баланс подарочной карты
func (c *Client) GiftBalance(ctx context.Context, token string, req GiftBalanceRequest) (GiftResponse, error) {
	return c.gift(ctx, EndpointGiftBalance, token, req)
}

func (c *Client) gift(ctx context.Context, endpoint, token string, req any) (GiftResponse, error) {
	var resp GiftResponse
	if err := c.call(ctx, endpoint, token, req, &resp); err != nil {
		return resp, err
	}
	if lerr := resp.logical(); lerr != nil {
		logger.Printf("%s rejected: code %d: %s", endpoint, lerr.Code, lerr.Message)
		return resp, lerr
	}
	return resp, nil
}

// call отправляет POST с JSON-телом и разбирает ответ в out
func (c *Client) call(ctx context.Context, endpoint, token string, req, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", endpoint, err)
	}
	body, err := c.do(ctx, http.MethodPost, endpoint, token, nil, payload)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, endpoint, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, query url.Values, payload []byte) ([]byte, error) {
	u := c.baseURL.ResolveReference(&url.URL{Path: endpoint})
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.BackendRequest(endpoint, 0)
		logger.Printf("%s %s failed: %v", method, endpoint, redact(err, query))
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, endpoint, redact(err, query))
	}
	defer resp.Body.Close()

	c.metrics.BackendRequest(endpoint, resp.StatusCode)
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", ErrUnavailable, endpoint, err)
	}

	logger.Printf("%s %s -> %d (%s)", method, endpoint, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// redact убирает пароль из текста ошибки: url.Error содержит полный адрес запроса
func redact(err error, query url.Values) string {
	msg := err.Error()
	if query == nil {
		return msg
	}
	if password := query.Get("password"); password != "" {
		msg = strings.ReplaceAll(msg, url.QueryEscape(password), "***")
		msg = strings.ReplaceAll(msg, password, "***")
	}
	return msg
}
