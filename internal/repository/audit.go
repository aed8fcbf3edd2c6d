package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mmeshcher/payrecon/internal/model"
)

// AppendAuditLog добавляет запись в журнал воркера.
func (r *PostgresRepository) AppendAuditLog(ctx context.Context, entry model.AuditEntry) error {
	var details []byte
	if len(entry.Details) > 0 {
		var err error
		if details, err = json.Marshal(entry.Details); err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO worker_logs (type, message, details, source, created_at)
		 VALUES ($1, $2, $3::jsonb, $4, $5)`,
		string(entry.Type), entry.Message, details, entry.Source, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListAuditLogs возвращает последние записи журнала, при необходимости отфильтрованные по типу.
func (r *PostgresRepository) ListAuditLogs(ctx context.Context, limit int, typ model.AuditType) ([]model.AuditEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, type, message, details, source, created_at
		 FROM worker_logs
		 WHERE $1 = '' OR type = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		string(typ), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select audit logs: %w", err)
	}
	defer rows.Close()

	var res []model.AuditEntry
	for rows.Next() {
		var (
			e       model.AuditEntry
			kind    string
			details []byte
		)
		if err := rows.Scan(&e.ID, &kind, &e.Message, &details, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		e.Type = model.AuditType(kind)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
