// Package model содержит доменные сущности сервиса сверки платежей.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusPending             OrderStatus = "pending"
	OrderStatusPendingVerification OrderStatus = "pending_verification"
	OrderStatusProcessing          OrderStatus = "processing"
	OrderStatusPaid                OrderStatus = "paid"
	OrderStatusCompleted           OrderStatus = "completed"
	OrderStatusRefunded            OrderStatus = "refunded"
	OrderStatusFailed              OrderStatus = "failed"
)

// AwaitingPaymentStatuses перечисляет статусы, из которых воркер может завершить заказ.
var AwaitingPaymentStatuses = []OrderStatus{OrderStatusPending, OrderStatusPendingVerification}

// ManuallyVerifiableStatuses перечисляет статусы, из которых оператор может подтвердить заказ вручную.
var ManuallyVerifiableStatuses = []OrderStatus{
	OrderStatusPending, OrderStatusPendingVerification, OrderStatusProcessing,
	OrderStatusPaid, OrderStatusRefunded, OrderStatusFailed,
}

// ParseOrderStatus приводит строковое значение из хранилища к закрытому перечислению статусов.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case OrderStatusPending, OrderStatusPendingVerification, OrderStatusProcessing,
		OrderStatusPaid, OrderStatusCompleted, OrderStatusRefunded, OrderStatusFailed:
		return status, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// IsAwaitingPayment сообщает, ожидает ли заказ подтверждения оплаты.
func (s OrderStatus) IsAwaitingPayment() bool {
	for _, st := range AwaitingPaymentStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// OrderType описывает назначение заказа.
type OrderType string

const (
	OrderTypeProductPurchase OrderType = "product_purchase"
	OrderTypeBalanceTopup    OrderType = "balance_topup"
)

// ManualVerification хранит сведения о ручном подтверждении заказа оператором.
type ManualVerification struct {
	VerifiedBy     string          `json:"verified_by"`
	VerifiedAt     time.Time       `json:"verified_at"`
	TransactionID  string          `json:"transaction_id"`
	Note           string          `json:"note"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	Difference     decimal.Decimal `json:"difference"`
}

// Order описывает заказ на покупку или пополнение баланса.
type Order struct {
	ID                 uuid.UUID           `json:"id"`
	Code               string              `json:"order_code"`
	Username           string              `json:"username"`
	ProductID          *string             `json:"product_id,omitempty"`
	Description        string              `json:"description,omitempty"`
	Amount             decimal.Decimal     `json:"amount"`
	Status             OrderStatus         `json:"status"`
	PaymentMethod      string              `json:"payment_method"`
	Type               OrderType           `json:"order_type"`
	CreatedAt          time.Time           `json:"created_at"`
	VerifiedAt         *time.Time          `json:"verified_at,omitempty"`
	ManualVerification *ManualVerification `json:"manual_verification,omitempty"`
}

// CreditDebit указывает направление движения средств по счёту.
type CreditDebit string

const (
	Credit CreditDebit = "CRDT"
	Debit  CreditDebit = "DBIT"
)

// BankTransaction описывает одну операцию из выписки банка. Не сохраняется в хранилище.
type BankTransaction struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Indicator   CreditDebit     `json:"credit_debit_indicator"`
	BookingDate time.Time       `json:"booking_date,omitempty"`
}

// IsCredit сообщает, является ли операция поступлением средств.
func (t BankTransaction) IsCredit() bool {
	return strings.EqualFold(string(t.Indicator), string(Credit))
}

// AuditType описывает вид записи журнала воркера.
type AuditType string

const (
	AuditWorker       AuditType = "WORKER"
	AuditSuccess      AuditType = "SUCCESS"
	AuditWarning      AuditType = "WARNING"
	AuditError        AuditType = "ERROR"
	AuditInfo         AuditType = "INFO"
	AuditManualVerify AuditType = "MANUAL_VERIFY"
)

// AuditEntry описывает запись журнала действий воркера и операторов. Записи только добавляются.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Type      AuditType      `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Source    string         `json:"source"`
	CreatedAt time.Time      `json:"created_at"`
}

// BankConfig содержит учётные данные интернет-банка в том виде, в каком они хранятся в настройках.
type BankConfig struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	AccountNo string `json:"accountNo"`
	DeviceID  string `json:"deviceId"`
}

// Settings содержит настройки автоматической проверки платежей.
type Settings struct {
	AutoCheckEnabled bool
	Bank             *BankConfig
}
