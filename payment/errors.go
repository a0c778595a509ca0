package payment

import (
	"context"
	"errors"
	"net/http"

	"paybridge/auth"
	"paybridge/backend"
	"paybridge/bluetooth"
	"paybridge/terminal"
)

// Kind - класс отказа
type Kind string

const (
	KindAuth       Kind = "auth"
	KindTransport  Kind = "transport"
	KindFraming    Kind = "framing"
	KindBackend    Kind = "backend"
	KindPermission Kind = "permission"
	KindBusy       Kind = "busy"
	KindTimeout    Kind = "timeout"
	KindInvalid    Kind = "invalid"
)

// Коды локальных отказов. Отказы бэкенда несут HTTP-статус или код из тела ответа.
const (
	CodeTransport   = -1
	CodeFraming     = -2
	CodeTimeout     = -3
	CodeBusy        = -4
	CodeAuth        = -5
	CodeInvalid     = -6
	CodeUnavailable = -7
	CodePermission  = -8
)

var (
	// ErrBusy - терминал занят другой операцией
	ErrBusy = errors.New("terminal is busy with another operation")
	// ErrTimeout - терминал не прислал результат вовремя
	ErrTimeout = errors.New("terminal did not respond in time")
	// ErrDisabled - соединение закрыто во время ожидания результата
	ErrDisabled = errors.New("terminal connection disabled")
	// ErrNoDevice - среди найденных устройств нет терминала
	ErrNoDevice = errors.New("no payment terminal found")
	// ErrInvalidOperation - параметры операции не прошли проверку
	ErrInvalidOperation = errors.New("invalid operation")
)

// Error - нормализованный отказ операции
type Error struct {
	Kind   Kind
	Status int // HTTP-статус, если отказ пришёл от бэкенда
	Code   int
	Err    error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result превращает отказ в неуспешный результат
func (e *Error) Result() Result {
	return Result{Success: false, Message: e.Error(), Code: e.Code, Kind: e.Kind}
}

// Classify сводит ошибку любого слоя к Error
func Classify(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	var authErr *auth.Error
	if errors.As(err, &authErr) {
		code := CodeAuth
		if authErr.Status != 0 {
			code = authErr.Status
		}
		return &Error{Kind: KindAuth, Status: authErr.Status, Code: code, Err: err}
	}

	var logical *backend.LogicalError
	if errors.As(err, &logical) {
		return &Error{Kind: KindBackend, Status: http.StatusOK, Code: logical.Code, Err: err}
	}

	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		return &Error{Kind: KindBackend, Status: statusErr.StatusCode, Code: statusErr.StatusCode, Err: err}
	}

	switch {
	case errors.Is(err, backend.ErrUnavailable), errors.Is(err, backend.ErrInvalidResponse):
		return &Error{Kind: KindBackend, Code: CodeUnavailable, Err: err}
	case errors.Is(err, bluetooth.ErrPermission):
		return &Error{Kind: KindPermission, Code: CodePermission, Err: err}
	case errors.Is(err, terminal.ErrMalformedFrame), errors.Is(err, terminal.ErrFrameTooLarge):
		return &Error{Kind: KindFraming, Code: CodeFraming, Err: err}
	case errors.Is(err, ErrInvalidOperation), errors.Is(err, terminal.ErrInvalidAmount),
		errors.Is(err, terminal.ErrInvalidData), errors.Is(err, terminal.ErrUnknownCommand),
		errors.Is(err, terminal.ErrMissingToken):
		return &Error{Kind: KindInvalid, Code: CodeInvalid, Err: err}
	case errors.Is(err, ErrBusy):
		return &Error{Kind: KindBusy, Code: CodeBusy, Err: err}
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &Error{Kind: KindTimeout, Code: CodeTimeout, Err: err}
	}
	return &Error{Kind: KindTransport, Code: CodeTransport, Err: err}
}

// failure - неуспешный результат для ошибки любого слоя
func failure(err error) Result {
	return Classify(err).Result()
}
