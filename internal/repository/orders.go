package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/payrecon/internal/model"
)

// ErrOrderNotFound возвращается, если заказ не найден ни по коду, ни по идентификатору.
var ErrOrderNotFound = errors.New("order not found")

const orderColumns = `id, order_code, username, product_id, description, amount, status,
	payment_method, order_type, created_at, verified_at, manual_verification`

// FindPendingOrders возвращает заказы, ожидающие подтверждения оплаты, в порядке создания.
func (r *PostgresRepository) FindPendingOrders(ctx context.Context, limit int) ([]model.Order, error) {
	var orders []model.Order

	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT `+orderColumns+`
			 FROM orders
			 WHERE status = ANY($1)
			 ORDER BY created_at
			 LIMIT $2`,
			statusStrings(model.AwaitingPaymentStatuses), limit,
		)
		if err != nil {
			return fmt.Errorf("select pending orders: %w", err)
		}
		defer rows.Close()

		orders = orders[:0]
		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				return err
			}
			orders = append(orders, *o)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return orders, nil
}

// FindOrderByCodeOrID ищет заказ сначала по коду, затем по внутреннему идентификатору.
func (r *PostgresRepository) FindOrderByCodeOrID(ctx context.Context, identifier string) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_code = $1`,
		identifier,
	))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, ErrOrderNotFound) {
		return nil, err
	}

	id, parseErr := uuid.Parse(identifier)
	if parseErr != nil {
		return nil, ErrOrderNotFound
	}

	return scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`,
		id,
	))
}

// CompleteOrder переводит заказ в completed только если его текущий статус входит в from.
// Возвращает false, если заказ уже был переведён другим участником.
func (r *PostgresRepository) CompleteOrder(ctx context.Context, id uuid.UUID, from []model.OrderStatus, verifiedAt time.Time, manual *model.ManualVerification) (bool, error) {
	var manualJSON []byte
	if manual != nil {
		var err error
		if manualJSON, err = json.Marshal(manual); err != nil {
			return false, fmt.Errorf("encode manual verification: %w", err)
		}
	}

	var updated bool
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE orders
			 SET status = $2,
			     verified_at = $3,
			     manual_verification = COALESCE($4::jsonb, manual_verification)
			 WHERE id = $1 AND status = ANY($5)`,
			id, string(model.OrderStatusCompleted), verifiedAt, manualJSON, statusStrings(from),
		)
		if err != nil {
			return fmt.Errorf("complete order: %w", err)
		}
		updated = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}

	return updated, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o          model.Order
		productID  *string
		amount     decimal.Decimal
		status     string
		orderType  string
		verifiedAt *time.Time
		manualRaw  []byte
	)

	err := row.Scan(&o.ID, &o.Code, &o.Username, &productID, &o.Description, &amount, &status,
		&o.PaymentMethod, &orderType, &o.CreatedAt, &verifiedAt, &manualRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.Status, err = model.ParseOrderStatus(status)
	if err != nil {
		return nil, fmt.Errorf("scan order %s: %w", o.Code, err)
	}

	o.ProductID = productID
	o.Amount = amount
	o.Type = model.OrderType(orderType)
	o.VerifiedAt = verifiedAt

	if len(manualRaw) > 0 {
		var mv model.ManualVerification
		if err := json.Unmarshal(manualRaw, &mv); err != nil {
			return nil, fmt.Errorf("decode manual verification for %s: %w", o.Code, err)
		}
		o.ManualVerification = &mv
	}

	return &o, nil
}

func statusStrings(statuses []model.OrderStatus) []string {
	res := make([]string, 0, len(statuses))
	for _, s := range statuses {
		res = append(res, string(s))
	}
	return res
}
