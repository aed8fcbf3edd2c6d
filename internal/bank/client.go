// Package bank предоставляет клиент веб-шлюза интернет-банка TPBank.
//
// Шлюз не является публичным API: это тот же эндпоинт, которым пользуется веб-версия банка,
// поэтому запросы повторяют фиксированный набор заголовков браузерного клиента.
package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmeshcher/payrecon/internal/metrics"
	"github.com/mmeshcher/payrecon/internal/model"
)

const (
	// DefaultBaseURL адрес шлюза веб-банка.
	DefaultBaseURL = "https://ebank.tpb.vn/gateway/api"
	// DefaultTimeout ограничивает каждый запрос к банку.
	DefaultTimeout = 30 * time.Second
	// DefaultWindowDays глубина запрашиваемой истории операций.
	DefaultWindowDays = 30

	loginPath   = "/auth/login"
	historyPath = "/smart-search-presentation-service/v2/account-transactions/find"

	historyPageSize = 400
	currencyVND     = "VND"
	dateLayout      = "20060102"

	appVersion      = "2024.07.12"
	platformName    = "WEB"
	platformVersion = "127"
	sourceApp       = "HYDRO"
	webOrigin       = "https://ebank.tpb.vn"
	webReferer      = "https://ebank.tpb.vn/retail/vX/"
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"
)

// bankZone часовой пояс банка (Asia/Ho_Chi_Minh, без перехода на летнее время).
var bankZone = time.FixedZone("ICT", 7*60*60)

// Credentials содержит расшифрованные учётные данные интернет-банка.
type Credentials struct {
	Username  string
	Password  string
	AccountNo string
	DeviceID  string
}

// Client инкапсулирует HTTP-взаимодействие с банком и владеет токеном сессии.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	now        func() time.Time

	mu    sync.Mutex
	token string
}

// Option настраивает Client.
type Option func(*Client)

// WithTimeout задаёт таймаут отдельного запроса.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMetrics подключает учёт запросов в Prometheus.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient создаёт клиент шлюза по указанному адресу.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type loginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	DeviceID      string `json:"deviceId"`
	TransactionID string `json:"transactionId"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

type historyRequest struct {
	PageNumber int    `json:"pageNumber"`
	PageSize   int    `json:"pageSize"`
	AccountNo  string `json:"accountNo"`
	Currency   string `json:"currency"`
	FromDate   string `json:"fromDate"`
	ToDate     string `json:"toDate"`
	Keyword    string `json:"keyword"`
}

// Login обменивает учётные данные на bearer-токен и сохраняет его в сессии клиента.
func (c *Client) Login(ctx context.Context, creds Credentials) (string, error) {
	res := c.post(ctx, loginPath, "", creds.DeviceID, loginRequest{
		Username:      creds.Username,
		Password:      creds.Password,
		DeviceID:      creds.DeviceID,
		TransactionID: "",
	})
	c.metrics.BankRequest("login", res.kind.String())

	switch res.kind {
	case outcomeOK:
	case outcomeUnauthorized, outcomeForbidden:
		return "", res.asError("login", ErrAuthentication)
	default:
		return "", res.asError("login", res.kind.sentinel())
	}

	var resp loginResponse
	if err := json.Unmarshal(res.body, &resp); err != nil {
		return "", fmt.Errorf("login: decode response: %w", errors.Join(ErrUnknown, err))
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("login: %w: empty access token", ErrUnknown)
	}

	c.setSession(resp.AccessToken)
	return resp.AccessToken, nil
}

// FetchTransactions возвращает операции по счёту за последние windowDays дней.
//
// Если сессии нет, сначала выполняется вход. Ответ 401 приводит ровно к одному повторному входу
// и одному повтору запроса; повторный 401 возвращается как ErrReAuthenticationFailed.
// 429 и 5xx возвращаются без повторов.
func (c *Client) FetchTransactions(ctx context.Context, creds Credentials, windowDays int) ([]model.BankTransaction, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}

	token := c.session()
	if token == "" {
		var err error
		if token, err = c.Login(ctx, creds); err != nil {
			return nil, err
		}
	}

	res := c.queryHistory(ctx, token, creds, windowDays)
	if res.kind == outcomeUnauthorized {
		c.clearSession()

		token, err := c.Login(ctx, creds)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReAuthenticationFailed, err)
		}

		res = c.queryHistory(ctx, token, creds, windowDays)
		if res.kind == outcomeUnauthorized {
			c.clearSession()
			return nil, res.asError("history", ErrReAuthenticationFailed)
		}
	}

	if res.kind != outcomeOK {
		return nil, res.asError("history", res.kind.sentinel())
	}

	txs, err := decodeHistory(res.body)
	if err != nil {
		return nil, fmt.Errorf("history: %w", errors.Join(ErrUnknown, err))
	}
	return txs, nil
}

func (c *Client) queryHistory(ctx context.Context, token string, creds Credentials, windowDays int) outcome {
	from, to := Window(c.now(), windowDays)
	res := c.post(ctx, historyPath, token, creds.DeviceID, historyRequest{
		PageNumber: 1,
		PageSize:   historyPageSize,
		AccountNo:  creds.AccountNo,
		Currency:   currencyVND,
		FromDate:   from,
		ToDate:     to,
		Keyword:    "",
	})
	c.metrics.BankRequest("history", res.kind.String())
	return res
}

// Window возвращает границы окна [now-days, now] в формате YYYYMMDD по времени банка.
func Window(now time.Time, days int) (string, string) {
	local := now.In(bankZone)
	return local.AddDate(0, 0, -days).Format(dateLayout), local.Format(dateLayout)
}

func (c *Client) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setSession(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) clearSession() {
	c.setSession("")
}

func (c *Client) post(ctx context.Context, path, token, deviceID string, payload any) outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		return outcome{kind: outcomeOther, err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return outcome{kind: outcomeOther, err: fmt.Errorf("create request: %w", err)}
	}
	setBrowserHeaders(req.Header, deviceID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return outcome{kind: outcomeTimeout, err: err}
		}
		return outcome{kind: outcomeOther, err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return outcome{kind: outcomeTimeout, status: resp.StatusCode, err: err}
		}
		return outcome{kind: outcomeOther, status: resp.StatusCode, err: fmt.Errorf("read body: %w", err)}
	}

	return classify(resp.StatusCode, data)
}

func setBrowserHeaders(h http.Header, deviceID string) {
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "vi")
	h.Set("Content-Type", "application/json")
	h.Set("APP_VERSION", appVersion)
	h.Set("DEVICE_ID", deviceID)
	h.Set("DEVICE_NAME", "Chrome")
	h.Set("PLATFORM_NAME", platformName)
	h.Set("PLATFORM_VERSION", platformVersion)
	h.Set("SOURCE_APP", sourceApp)
	h.Set("USER_TYPE", "Retail")
	h.Set("Origin", webOrigin)
	h.Set("Referer", webReferer)
	h.Set("User-Agent", userAgent)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
