package bank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/payrecon/internal/model"
)

var testCreds = Credentials{
	Username:  "0901234567",
	Password:  "secret",
	AccountNo: "00001234567",
	DeviceID:  "device-abc",
}

// fakePortal имитирует шлюз банка: выдаёт токены и отвечает на запросы истории.
type fakePortal struct {
	t *testing.T

	loginCalls   atomic.Int32
	historyCalls atomic.Int32

	loginStatus   int
	historyStatus func(call int32, auth string) int
	transactions  []map[string]any

	mu          sync.Mutex
	lastHistory historyRequest
}

func (p *fakePortal) history() historyRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHistory
}

func (p *fakePortal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		p.t.Errorf("method = %s, want POST", r.Method)
	}
	if r.Header.Get("DEVICE_ID") != testCreds.DeviceID {
		p.t.Errorf("DEVICE_ID = %q, want %q", r.Header.Get("DEVICE_ID"), testCreds.DeviceID)
	}
	if r.Header.Get("PLATFORM_NAME") != "WEB" || r.Header.Get("Origin") != webOrigin {
		p.t.Errorf("browser headers missing: %v", r.Header)
	}

	switch r.URL.Path {
	case loginPath:
		call := p.loginCalls.Add(1)
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			p.t.Errorf("decode login: %v", err)
		}
		if req.Username != testCreds.Username || req.Password != testCreds.Password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if p.loginStatus != 0 {
			w.WriteHeader(p.loginStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": tokenFor(call)})
	case historyPath:
		call := p.historyCalls.Add(1)
		var req historyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			p.t.Errorf("decode history: %v", err)
		}
		p.mu.Lock()
		p.lastHistory = req
		p.mu.Unlock()
		status := http.StatusOK
		if p.historyStatus != nil {
			status = p.historyStatus(call, r.Header.Get("Authorization"))
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"transactionInfos": p.transactions})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func tokenFor(call int32) string {
	return "token-" + string(rune('0'+call))
}

func newTestClient(t *testing.T, portal *fakePortal) *Client {
	t.Helper()
	portal.t = t
	ts := httptest.NewServer(portal)
	t.Cleanup(ts.Close)

	now := time.Date(2024, 7, 12, 20, 0, 0, 0, time.UTC)
	return NewClient(ts.URL, WithTimeout(time.Second), WithClock(func() time.Time { return now }))
}

func TestLogin_OK(t *testing.T) {
	portal := &fakePortal{}
	client := newTestClient(t, portal)

	token, err := client.Login(context.Background(), testCreds)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)
	assert.Equal(t, "token-1", client.session())
}

func TestLogin_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuthentication},
		{"forbidden", http.StatusForbidden, ErrAuthentication},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusBadGateway, ErrTransientServer},
		{"other", http.StatusTeapot, ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, &fakePortal{loginStatus: tt.status})

			_, err := client.Login(context.Background(), testCreds)
			require.ErrorIs(t, err, tt.want)

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Empty(t, client.session())
		})
	}
}

func TestLogin_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, WithTimeout(50*time.Millisecond))

	_, err := client.Login(context.Background(), testCreds)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFetchTransactions_LogsInFirst(t *testing.T) {
	portal := &fakePortal{
		transactions: []map[string]any{
			{"id": "FT001", "description": "CHUYEN TIEN ORD-1001", "amount": "500000", "creditDebitIndicator": "CRDT", "bookingDate": "2024-07-12"},
			{"transactionId": 42, "description": "PHI DICH VU", "amount": 11000, "creditDebitIndicator": "dbit"},
		},
	}
	client := newTestClient(t, portal)

	txs, err := client.FetchTransactions(context.Background(), testCreds, 30)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, int32(1), portal.loginCalls.Load())
	assert.Equal(t, int32(1), portal.historyCalls.Load())

	assert.Equal(t, "FT001", txs[0].ID)
	assert.True(t, txs[0].Amount.Equal(decimal.NewFromInt(500000)))
	assert.Equal(t, model.Credit, txs[0].Indicator)
	assert.Equal(t, 12, txs[0].BookingDate.Day())

	assert.Equal(t, "42", txs[1].ID)
	assert.Equal(t, model.Debit, txs[1].Indicator)

	assert.Equal(t, testCreds.AccountNo, portal.history().AccountNo)
	assert.Equal(t, "VND", portal.history().Currency)
	assert.Equal(t, "20240613", portal.history().FromDate)
	assert.Equal(t, "20240713", portal.history().ToDate)
}

func TestFetchTransactions_ReusesSession(t *testing.T) {
	portal := &fakePortal{}
	client := newTestClient(t, portal)

	_, err := client.FetchTransactions(context.Background(), testCreds, 30)
	require.NoError(t, err)
	_, err = client.FetchTransactions(context.Background(), testCreds, 30)
	require.NoError(t, err)

	assert.Equal(t, int32(1), portal.loginCalls.Load())
	assert.Equal(t, int32(2), portal.historyCalls.Load())
}

func TestFetchTransactions_ReloginOnUnauthorized(t *testing.T) {
	portal := &fakePortal{
		historyStatus: func(call int32, auth string) int {
			if auth == "Bearer stale" {
				return http.StatusUnauthorized
			}
			return http.StatusOK
		},
		transactions: []map[string]any{
			{"id": "FT1", "description": "ORD-1", "amount": 1, "creditDebitIndicator": "CRDT"},
		},
	}
	client := newTestClient(t, portal)
	client.setSession("stale")

	txs, err := client.FetchTransactions(context.Background(), testCreds, 30)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	assert.Equal(t, int32(1), portal.loginCalls.Load())
	assert.Equal(t, int32(2), portal.historyCalls.Load())
	assert.Equal(t, "token-1", client.session())
}

func TestFetchTransactions_ReauthFailsAfterSingleRetry(t *testing.T) {
	portal := &fakePortal{
		historyStatus: func(call int32, auth string) int {
			return http.StatusUnauthorized
		},
	}
	client := newTestClient(t, portal)
	client.setSession("stale")

	_, err := client.FetchTransactions(context.Background(), testCreds, 30)
	require.ErrorIs(t, err, ErrReAuthenticationFailed)

	assert.Equal(t, int32(1), portal.loginCalls.Load())
	assert.Equal(t, int32(2), portal.historyCalls.Load())
	assert.Empty(t, client.session())
}

func TestFetchTransactions_ReloginRejected(t *testing.T) {
	portal := &fakePortal{
		historyStatus: func(call int32, auth string) int {
			return http.StatusUnauthorized
		},
	}
	client := newTestClient(t, portal)
	client.setSession("stale")

	creds := testCreds
	creds.Password = "changed"

	_, err := client.FetchTransactions(context.Background(), creds, 30)
	assert.ErrorIs(t, err, ErrReAuthenticationFailed)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, int32(1), portal.historyCalls.Load())
}

func TestFetchTransactions_NoRetryOnRateLimitOrServerError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrTransientServer},
		{"gateway", http.StatusServiceUnavailable, ErrTransientServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			portal := &fakePortal{
				historyStatus: func(call int32, auth string) int { return tt.status },
			}
			client := newTestClient(t, portal)

			_, err := client.FetchTransactions(context.Background(), testCreds, 30)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), portal.historyCalls.Load())
			assert.Equal(t, int32(1), portal.loginCalls.Load())
		})
	}
}

func TestFetchTransactions_BadCredentials(t *testing.T) {
	portal := &fakePortal{}
	client := newTestClient(t, portal)

	creds := testCreds
	creds.Password = "wrong"

	_, err := client.FetchTransactions(context.Background(), creds, 30)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, int32(0), portal.historyCalls.Load())
}

func TestWindow(t *testing.T) {
	// 18:00 UTC is already the next day in Vietnam.
	now := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

	from, to := Window(now, 30)
	assert.Equal(t, "20240201", from)
	assert.Equal(t, "20240302", to)
}
