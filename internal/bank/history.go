package bank

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/payrecon/internal/model"
)

type historyResponse struct {
	TransactionInfos []transactionInfo `json:"transactionInfos"`
}

type transactionInfo struct {
	ID                   flexString      `json:"id"`
	TransactionID        flexString      `json:"transactionId"`
	Description          string          `json:"description"`
	Amount               decimal.Decimal `json:"amount"`
	CreditDebitIndicator string          `json:"creditDebitIndicator"`
	BookingDate          string          `json:"bookingDate"`
	ValueDate            string          `json:"valueDate"`
}

// flexString принимает в JSON как строку, так и число.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

var bookingLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102",
}

func decodeHistory(body []byte) ([]model.BankTransaction, error) {
	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	txs := make([]model.BankTransaction, 0, len(resp.TransactionInfos))
	for _, info := range resp.TransactionInfos {
		id := string(info.ID)
		if id == "" {
			id = string(info.TransactionID)
		}

		date := info.BookingDate
		if date == "" {
			date = info.ValueDate
		}

		txs = append(txs, model.BankTransaction{
			ID:          id,
			Description: info.Description,
			Amount:      info.Amount,
			Indicator:   model.CreditDebit(strings.ToUpper(strings.TrimSpace(info.CreditDebitIndicator))),
			BookingDate: parseBookingDate(date),
		})
	}
	return txs, nil
}

func parseBookingDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range bookingLayouts {
		if t, err := time.ParseInLocation(layout, s, bankZone); err == nil {
			return t
		}
	}
	return time.Time{}
}
