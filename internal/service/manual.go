package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/payrecon/internal/model"
)

const noTransactionID = "N/A"

// ManualVerifyRequest запрос оператора на ручное подтверждение заказа.
type ManualVerifyRequest struct {
	Identifier     string
	Operator       string
	TransactionID  string
	Note           string
	ReceivedAmount *decimal.Decimal
}

// ManualVerify завершает заказ по решению оператора. Сумма и статус оплаты не проверяются,
// сохраняется только разница между полученной и ожидаемой суммой.
func (s *Service) ManualVerify(ctx context.Context, req ManualVerifyRequest) (*model.Order, error) {
	order, err := s.findOrder(ctx, req.Identifier)
	if err != nil {
		return nil, err
	}

	if order.Status == model.OrderStatusCompleted {
		return nil, ErrAlreadyCompleted
	}

	received := order.Amount
	if req.ReceivedAmount != nil {
		if req.ReceivedAmount.IsNegative() {
			return nil, ErrInvalidAmount
		}
		received = *req.ReceivedAmount
	}

	txID := strings.TrimSpace(req.TransactionID)
	if txID == "" {
		txID = noTransactionID
	}

	operator := strings.TrimSpace(req.Operator)
	if operator == "" {
		operator = "unknown"
	}

	now := s.now().UTC()
	mv := &model.ManualVerification{
		VerifiedBy:     operator,
		VerifiedAt:     now,
		TransactionID:  txID,
		Note:           strings.TrimSpace(req.Note),
		ReceivedAmount: received,
		ExpectedAmount: order.Amount,
		Difference:     received.Sub(order.Amount),
	}

	updated, err := s.repo.CompleteOrder(ctx, order.ID, model.ManuallyVerifiableStatuses, now, mv)
	if err != nil {
		return nil, err
	}
	if !updated {
		// Заказ завершён параллельно воркером или другим оператором.
		return nil, ErrAlreadyCompleted
	}

	previous := order.Status
	order.Status = model.OrderStatusCompleted
	order.VerifiedAt = &now
	order.ManualVerification = mv

	s.logger.Info("order verified manually",
		zap.String("order_code", order.Code),
		zap.String("operator", operator),
		zap.String("difference", mv.Difference.String()),
	)

	s.audit.record(ctx, model.AuditManualVerify, sourceManual, "Order "+order.Code+" verified manually", map[string]any{
		"order_id":        order.ID.String(),
		"order_code":      order.Code,
		"previous_status": string(previous),
		"verified_by":     operator,
		"transaction_id":  txID,
		"note":            mv.Note,
		"expected_amount": mv.ExpectedAmount.String(),
		"received_amount": mv.ReceivedAmount.String(),
		"difference":      mv.Difference.String(),
	})
	s.metrics.OrderCompleted("manual")

	return order, nil
}
