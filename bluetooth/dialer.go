package bluetooth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// ServiceUUID - идентификатор RFCOMM-сервиса платёжного терминала в SDP
const ServiceUUID = "8f87f7ce-a064-4123-910f-8a28d221b4c5"

var (
	// ErrNotConnected возвращается при отправке без активного соединения
	ErrNotConnected = errors.New("terminal is not connected")
	// ErrTransport оборачивает ошибки чтения/записи сокета
	ErrTransport = errors.New("terminal transport error")
	// ErrPermission - у процесса нет права открыть Bluetooth-сокет
	ErrPermission = errors.New("bluetooth permission denied")
	// ErrAdapterDisabled - Bluetooth-адаптер отсутствует или выключен
	ErrAdapterDisabled = errors.New("bluetooth adapter is disabled")
	// ErrInvalidAddress - адрес устройства не в формате XX:XX:XX:XX:XX:XX
	ErrInvalidAddress = errors.New("invalid bluetooth address")
)

// Dialer открывает байтовый поток к устройству. При ошибке Dial сам закрывает
// частично созданный сокет, чтобы повторная попытка шла на свежем.
type Dialer interface {
	Dial(ctx context.Context, address string) (io.ReadWriteCloser, error)
}

// DiscoveryCanceler реализуется диалерами, которые умеют прерывать поиск устройств
// перед подключением (поиск замедляет установку RFCOMM-соединения).
type DiscoveryCanceler interface {
	CancelDiscovery()
}

// ParseAddress разбирает адрес вида "AA:BB:CC:DD:EE:FF" в порядке записи
func ParseAddress(address string) ([6]byte, error) {
	var out [6]byte
	parts := strings.Split(strings.TrimSpace(address), ":")
	if len(parts) != 6 {
		return out, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	for i, part := range parts {
		if len(part) != 2 {
			return out, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
		b, err := hex.DecodeString(part)
		if err != nil {
			return out, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
		out[i] = b[0]
	}
	return out, nil
}

// SerialDialer открывает устройство, заранее привязанное через `rfcomm bind`
// (например /dev/rfcomm0). Адрес в Dial - путь к устройству.
type SerialDialer struct {
	BaudRate int
}

// Dial открывает последовательный порт
func (d SerialDialer) Dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	baud := d.BaudRate
	if baud == 0 {
		baud = 115200
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(address, mode)
	if err != nil {
		var portErr *serial.PortError
		if errors.As(err, &portErr) && portErr.Code() == serial.PermissionDenied {
			return nil, fmt.Errorf("%w: %s: %v", ErrPermission, address, err)
		}
		if errors.As(err, &portErr) && portErr.Code() == serial.PortNotFound {
			return nil, fmt.Errorf("device %s does not exist, run 'rfcomm bind' first: %w", address, err)
		}
		return nil, fmt.Errorf("failed to open %s: %w", address, err)
	}
	return port, nil
}
