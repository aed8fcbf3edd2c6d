package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/payrecon/internal/model"
)

func TestDecodeSettings(t *testing.T) {
	tests := []struct {
		name        string
		raw         map[string][]byte
		wantEnabled bool
		wantBank    *model.BankConfig
		wantErr     bool
	}{
		{
			name: "empty",
			raw:  map[string][]byte{},
		},
		{
			name: "bool flag and bank config",
			raw: map[string][]byte{
				"auto_check_enabled": []byte(`true`),
				"bank_config":        []byte(`{"username":"u","password":"aa:bb","accountNo":"123","deviceId":"d"}`),
			},
			wantEnabled: true,
			wantBank:    &model.BankConfig{Username: "u", Password: "aa:bb", AccountNo: "123", DeviceID: "d"},
		},
		{
			name: "string flag",
			raw: map[string][]byte{
				"auto_check_enabled": []byte(`"true"`),
			},
			wantEnabled: true,
		},
		{
			name: "null bank config",
			raw: map[string][]byte{
				"auto_check_enabled": []byte(`false`),
				"bank_config":        []byte(`null`),
			},
		},
		{
			name: "broken flag",
			raw: map[string][]byte{
				"auto_check_enabled": []byte(`{}`),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := decodeSettings(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEnabled, s.AutoCheckEnabled)
			assert.Equal(t, tt.wantBank, s.Bank)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&pgconn.PgError{Code: pgerrcode.SerializationFailure}))
	assert.True(t, isRetryable(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: pgerrcode.DeadlockDetected})))
	assert.False(t, isRetryable(&pgconn.PgError{Code: pgerrcode.UniqueViolation}))
	assert.True(t, isRetryable(errors.New("dial tcp: connection refused")))
	assert.False(t, isRetryable(context.DeadlineExceeded))
	assert.False(t, isRetryable(errors.New("syntax error")))
}

func TestWithRetry_StopsOnNonRetryable(t *testing.T) {
	r := &PostgresRepository{}
	calls := 0

	err := r.withRetry(context.Background(), func() error {
		calls++
		return errors.New("syntax error")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_HonoursContext(t *testing.T) {
	r := &PostgresRepository{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	err := r.withRetry(ctx, func() error {
		calls++
		return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, []string{"pending", "pending_verification"}, statusStrings(model.AwaitingPaymentStatuses))
}
