// Package matcher сопоставляет банковские операции с ожидающими оплаты заказами.
//
// MatchStrict используется воркером и может привести к завершению заказа, поэтому требует
// совпадения кода, точного совпадения суммы и поступления средств. MatchLenient используется
// только для подсказки оператору и никогда не завершает заказ сам.
package matcher

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/payrecon/internal/model"
)

// Kind описывает результат сопоставления.
type Kind string

const (
	NoMatch Kind = "none"
	Exact   Kind = "exact"
	Partial Kind = "partial"
)

// Reason объясняет, почему совпадение по коду не стало точным.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonAmountMismatch Reason = "amount_mismatch"
	ReasonNotCredit      Reason = "not_credit"
)

// Result результат сопоставления заказа с набором операций.
type Result struct {
	Kind        Kind                   `json:"result"`
	Transaction *model.BankTransaction `json:"transaction,omitempty"`
	// Delta разница tx.Amount - order.Amount для частичного совпадения.
	Delta  decimal.Decimal `json:"delta"`
	Reason Reason          `json:"reason,omitempty"`
}

// NormalizeCode приводит код заказа к виду, в котором он ищется в назначении платежа.
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.TrimLeft(code, "#")
	return strings.ToUpper(strings.TrimSpace(code))
}

// ContainsCode сообщает, упоминается ли код заказа в назначении платежа.
func ContainsCode(description, code string) bool {
	code = NormalizeCode(code)
	if code == "" {
		return false
	}
	return strings.Contains(strings.ToUpper(description), code)
}

// MatchStrict ищет операцию, одновременно содержащую код заказа, совпадающую по сумме
// и являющуюся поступлением. Выбирается первая подходящая операция в порядке банка.
func MatchStrict(order model.Order, txs []model.BankTransaction) Result {
	for i := range txs {
		if isExact(order, txs[i]) {
			tx := txs[i]
			return Result{Kind: Exact, Transaction: &tx}
		}
	}
	return Result{Kind: NoMatch}
}

// MatchLenient работает как MatchStrict, но при отсутствии точного совпадения возвращает
// первую операцию с кодом заказа как частичное совпадение с причиной и разницей сумм.
func MatchLenient(order model.Order, txs []model.BankTransaction) Result {
	if res := MatchStrict(order, txs); res.Kind == Exact {
		return res
	}

	for i := range txs {
		if !ContainsCode(txs[i].Description, order.Code) {
			continue
		}
		tx := txs[i]
		return Result{
			Kind:        Partial,
			Transaction: &tx,
			Delta:       tx.Amount.Sub(order.Amount),
			Reason:      mismatchReason(order, tx),
		}
	}
	return Result{Kind: NoMatch}
}

func isExact(order model.Order, tx model.BankTransaction) bool {
	return ContainsCode(tx.Description, order.Code) &&
		tx.Amount.Equal(order.Amount) &&
		tx.IsCredit()
}

func mismatchReason(order model.Order, tx model.BankTransaction) Reason {
	if !tx.IsCredit() {
		return ReasonNotCredit
	}
	if !tx.Amount.Equal(order.Amount) {
		return ReasonAmountMismatch
	}
	return ReasonNone
}
