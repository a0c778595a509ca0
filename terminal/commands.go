package terminal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Command - дискриминатор команды терминала (поле "command")
type Command string

const (
	SetDefaultTerminal   Command = "SET_DEFAULT_TERMINAL"   // Включение/выключение режима тестового терминала
	StartPayment         Command = "START_PAYMENT"          // Оплата
	StartCardPayment     Command = "START_CARD_PAYMENT"     // Оплата картой с токеном бэкенда
	StartCashPayment     Command = "START_CASH_PAYMENT"     // Оплата наличными
	StartGiftPayment     Command = "START_GIFT_PAYMENT"     // Оплата подарочной картой
	StartRefund          Command = "START_REFUND"           // Возврат
	StartCardRefund      Command = "START_CARD_REFUND"      // Возврат по карте с токеном бэкенда
	StartReversal        Command = "START_REVERSAL"         // Отмена
	StartReconciliation  Command = "START_RECONCILIATION"   // Сверка итогов
	StartServiceMenu     Command = "START_SERVICE_MENU"     // Сервисное меню
	AddTestConfiguration Command = "ADD_TEST_CONFIGURATION" // Тестовая конфигурация
	Cashout              Command = "CASHOUT"                // Выдача наличных
	PurchaseWithCashback Command = "PURCHASE_WITH_CASHBACK" // Оплата со сдачей
)

var knownCommands = map[Command]bool{
	SetDefaultTerminal:   true,
	StartPayment:         true,
	StartCardPayment:     true,
	StartCashPayment:     true,
	StartGiftPayment:     true,
	StartRefund:          true,
	StartCardRefund:      true,
	StartReversal:        true,
	StartReconciliation:  true,
	StartServiceMenu:     true,
	AddTestConfiguration: true,
	Cashout:              true,
	PurchaseWithCashback: true,
}

// Valid сообщает, входит ли команда в словарь терминала
func (c Command) Valid() bool {
	return knownCommands[c]
}

// CardFlow сообщает, несёт ли команда токен и отпечаток устройства
func (c Command) CardFlow() bool {
	return c == StartCardPayment || c == StartCardRefund
}

var (
	ErrUnknownCommand = errors.New("unknown terminal command")
	ErrMissingToken   = errors.New("card-flow command requires a bearer token")
	ErrInvalidData    = errors.New("command data is not valid JSON")
)

// DeviceInfo - отпечаток хост-устройства, прикладываемый к card-flow командам
type DeviceInfo struct {
	DeviceID    string `json:"deviceId"`
	DeviceModel string `json:"deviceModel"`
	DeviceName  string `json:"deviceName"`
	AppBuild    string `json:"appBuild"`
}

// Envelope - исходящая команда терминалу. После кодирования не меняется.
type Envelope struct {
	Command           Command
	Amount            *decimal.Decimal
	CashBack          *decimal.Decimal
	Data              string // JSON от вызывающей стороны, передаётся как есть
	Token             string
	Device            *DeviceInfo
	IsDefaultTerminal *bool
}

type wireEnvelope struct {
	Command           Command         `json:"command"`
	Amount            string          `json:"amount,omitempty"`
	CashBack          string          `json:"cashBack,omitempty"`
	IsDefaultTerminal *bool           `json:"isDefaultTerminal,omitempty"`
	Data              json.RawMessage `json:"data,omitempty"`
	Token             string          `json:"token,omitempty"`
	Device            *DeviceInfo     `json:"device,omitempty"`
}

// Encode сериализует команду в JSON-объект терминала
func (c *Codec) Encode(env Envelope) ([]byte, error) {
	if !env.Command.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Command)
	}

	wire := wireEnvelope{
		Command:           env.Command,
		IsDefaultTerminal: env.IsDefaultTerminal,
	}

	var err error
	if env.Amount != nil {
		if wire.Amount, err = c.FormatAmount(*env.Amount); err != nil {
			return nil, fmt.Errorf("amount: %w", err)
		}
	}
	if env.CashBack != nil {
		if wire.CashBack, err = c.FormatAmount(*env.CashBack); err != nil {
			return nil, fmt.Errorf("cashBack: %w", err)
		}
	}

	if env.Data != "" {
		if !json.Valid([]byte(env.Data)) {
			return nil, ErrInvalidData
		}
		wire.Data = json.RawMessage(env.Data)
	}

	if env.Command.CardFlow() {
		if env.Token == "" {
			return nil, ErrMissingToken
		}
		wire.Token = env.Token
		wire.Device = env.Device
	}

	return json.Marshal(wire)
}
