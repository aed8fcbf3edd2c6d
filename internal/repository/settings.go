package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mmeshcher/payrecon/internal/model"
)

const (
	settingAutoCheckEnabled = "auto_check_enabled"
	settingBankConfig       = "bank_config"
)

// GetSettings читает настройки автоматической проверки платежей.
func (r *PostgresRepository) GetSettings(ctx context.Context) (*model.Settings, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT key, value FROM settings WHERE key = ANY($1)`,
		[]string{settingAutoCheckEnabled, settingBankConfig},
	)
	if err != nil {
		return nil, fmt.Errorf("select settings: %w", err)
	}
	defer rows.Close()

	raw := make(map[string][]byte, 2)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		raw[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return decodeSettings(raw)
}

// SaveSettings сохраняет настройки автоматической проверки. Пароль должен быть уже зашифрован.
func (r *PostgresRepository) SaveSettings(ctx context.Context, s model.Settings) error {
	enabled, err := json.Marshal(s.AutoCheckEnabled)
	if err != nil {
		return fmt.Errorf("encode %s: %w", settingAutoCheckEnabled, err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsert = `INSERT INTO settings (key, value, updated_at) VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	if _, err := tx.Exec(ctx, upsert, settingAutoCheckEnabled, enabled); err != nil {
		return fmt.Errorf("save %s: %w", settingAutoCheckEnabled, err)
	}

	if s.Bank != nil {
		bank, err := json.Marshal(s.Bank)
		if err != nil {
			return fmt.Errorf("encode %s: %w", settingBankConfig, err)
		}
		if _, err := tx.Exec(ctx, upsert, settingBankConfig, bank); err != nil {
			return fmt.Errorf("save %s: %w", settingBankConfig, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func decodeSettings(raw map[string][]byte) (*model.Settings, error) {
	s := &model.Settings{}

	if v, ok := raw[settingAutoCheckEnabled]; ok {
		if err := json.Unmarshal(v, &s.AutoCheckEnabled); err != nil {
			// Старые записи хранят флаг строкой "true"/"false".
			var str string
			if strErr := json.Unmarshal(v, &str); strErr != nil {
				return nil, fmt.Errorf("decode %s: %w", settingAutoCheckEnabled, err)
			}
			s.AutoCheckEnabled = str == "true"
		}
	}

	if v, ok := raw[settingBankConfig]; ok && string(v) != "null" {
		var bank model.BankConfig
		if err := json.Unmarshal(v, &bank); err != nil {
			return nil, fmt.Errorf("decode %s: %w", settingBankConfig, err)
		}
		s.Bank = &bank
	}

	return s, nil
}
