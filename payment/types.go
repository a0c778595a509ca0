package payment

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"paybridge/terminal"
)

// Method - способ оплаты
type Method string

const (
	MethodCard       Method = "CARD"        // Платёжной картой через терминал
	MethodCash       Method = "CASH"        // Наличными, только бэкенд
	MethodLinkedCard Method = "LINKED_CARD" // Подарочной или бонусной картой, только бэкенд
)

func (m Method) valid() bool {
	return m == MethodCard || m == MethodCash || m == MethodLinkedCard
}

// ReverseAction - вид отмены
type ReverseAction string

const (
	ActionCancel ReverseAction = "CANCEL" // Отмена платежа
	ActionReturn ReverseAction = "RETURN" // Возврат платежа
)

// Operation описывает платёж. Суммы в основных единицах.
type Operation struct {
	Method                   Method            `json:"method"`
	Amount                   decimal.Decimal   `json:"amount"`
	Currency                 string            `json:"currency,omitempty"`
	Description              string            `json:"description,omitempty"`
	SuppressSignatureWaiting bool              `json:"suppressSignatureWaiting,omitempty"`
	PaymentProductCode       string            `json:"paymentProductCode,omitempty"`
	PaymentProductTextData   map[string]string `json:"paymentProductTextData,omitempty"`
	ExtID                    string            `json:"extId,omitempty"`
	AcquirerCode             string            `json:"acquirerCode,omitempty"`
	LoyaltyNumber            string            `json:"loyaltyNumber,omitempty"` // для LINKED_CARD
	TID                      string            `json:"tid,omitempty"`           // для LINKED_CARD
	Data                     string            `json:"data,omitempty"`          // JSON для терминала, передаётся как есть
}

func (op Operation) validate() error {
	if !op.Method.valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidOperation, op.Method)
	}
	if !op.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidOperation, op.Amount)
	}
	if _, err := terminal.ToMinorUnits(op.Amount); err != nil {
		return err
	}
	if op.Method == MethodLinkedCard && op.LoyaltyNumber == "" {
		return fmt.Errorf("%w: LINKED_CARD payment requires a loyalty number", ErrInvalidOperation)
	}
	if op.Data != "" && !json.Valid([]byte(op.Data)) {
		return terminal.ErrInvalidData
	}
	return nil
}

// ReverseOperation описывает отмену или возврат
type ReverseOperation struct {
	Method                   Method           `json:"method"`
	TransactionID            string           `json:"transactionId,omitempty"`
	Action                   ReverseAction    `json:"action,omitempty"`
	Amount                   *decimal.Decimal `json:"amount,omitempty"` // nil - на всю сумму
	Currency                 string           `json:"currency,omitempty"`
	SuppressSignatureWaiting bool             `json:"suppressSignatureWaiting,omitempty"`
	ExtID                    string           `json:"extId,omitempty"`
	AcquirerCode             string           `json:"acquirerCode,omitempty"`
	LoyaltyNumber            string           `json:"loyaltyNumber,omitempty"`
	TID                      string           `json:"tid,omitempty"`
	Data                     string           `json:"data,omitempty"`
}

func (rev ReverseOperation) action() ReverseAction {
	if rev.Action == "" {
		return ActionCancel
	}
	return rev.Action
}

func (rev ReverseOperation) validate() error {
	if !rev.Method.valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidOperation, rev.Method)
	}
	if a := rev.action(); a != ActionCancel && a != ActionReturn {
		return fmt.Errorf("%w: unknown reverse action %q", ErrInvalidOperation, rev.Action)
	}
	if rev.Method != MethodCard && rev.TransactionID == "" {
		return fmt.Errorf("%w: %s reversal requires a transaction id", ErrInvalidOperation, rev.Method)
	}
	if rev.Method == MethodLinkedCard && rev.LoyaltyNumber == "" {
		return fmt.Errorf("%w: LINKED_CARD reversal requires a loyalty number", ErrInvalidOperation)
	}
	if rev.Amount != nil {
		if !rev.Amount.IsPositive() {
			return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidOperation, rev.Amount)
		}
		if _, err := terminal.ToMinorUnits(*rev.Amount); err != nil {
			return err
		}
	}
	if rev.Data != "" && !json.Valid([]byte(rev.Data)) {
		return terminal.ErrInvalidData
	}
	return nil
}

// Result - итог операции, передаётся обработчику ровно один раз.
// Kind пуст для отказов, о которых сообщил сам терминал.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
	Kind    Kind   `json:"kind,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Handler получает результат операции
type Handler func(Result)

// CardPaymentData - данные карточной операции
type CardPaymentData struct {
	TransactionID string          `json:"transactionId,omitempty"`
	TID           string          `json:"tid,omitempty"`
	CardNumber    string          `json:"cardNumber,omitempty"`
	RRN           string          `json:"rrn,omitempty"`
	AuthCode      string          `json:"authCode,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

// CashResult - данные наличной оплаты
type CashResult struct {
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
}

// GiftResult - данные оплаты подарочной картой
type GiftResult struct {
	TransactionID string          `json:"transactionId"`
	TID           string          `json:"tid,omitempty"`
	LoyaltyNumber string          `json:"loyaltyNumber"`
	Amount        decimal.Decimal `json:"amount"`
}

// ReverseResult - данные отмены или возврата
type ReverseResult struct {
	TransactionID string           `json:"transactionId,omitempty"`
	Action        ReverseAction    `json:"action"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
}

// BalanceResult - баланс карты, прочитанной терминалом
type BalanceResult struct {
	LoyaltyNumber string          `json:"loyaltyNumber"`
	TID           string          `json:"tid"`
	Balance       decimal.Decimal `json:"balance"`
}

// ServiceResult - ответ сервисной команды терминала без интерпретации
type ServiceResult struct {
	Command terminal.Command  `json:"command"`
	Fields  map[string]string `json:"fields,omitempty"`
	Data    json.RawMessage   `json:"data,omitempty"`
}
