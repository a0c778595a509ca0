package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"paybridge/metrics"
	"paybridge/terminal"
)

var logger = log.New(os.Stdout, "[Terminal-Transport] ", log.LstdFlags|log.Lshortfile)

// ReadBufferSize - размер буфера одного чтения из сокета
const ReadBufferSize = 4096

const (
	ModeSocket = "socket" // RFCOMM-сокет по MAC-адресу
	ModeSerial = "serial" // устройство /dev/rfcommN после `rfcomm bind`
)

// Config представляет конфигурацию транспорта терминала
type Config struct {
	Mode           string               `mapstructure:"mode"`            // ModeSocket или ModeSerial
	Address        string               `mapstructure:"address"`         // MAC-адрес или путь к устройству
	Channel        uint8                `mapstructure:"channel"`         // RFCOMM-канал
	BaudRate       int                  `mapstructure:"baud_rate"`       // Скорость для ModeSerial
	ConnectTimeout time.Duration        `mapstructure:"connect_timeout"` // Таймаут одной попытки подключения
	RetryDelay     time.Duration        `mapstructure:"retry_delay"`     // Пауза перед повторной попыткой
	Framing        terminal.FramingMode `mapstructure:"framing"`         // Способ выделения сообщений
	DeviceNames    []string             `mapstructure:"device_names"`    // Фильтр имён при поиске
	Paired         []Device             `mapstructure:"paired"`          // Сопряжённые устройства
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Mode:           ModeSocket,
		Channel:        1,
		BaudRate:       115200,
		ConnectTimeout: 10 * time.Second,
		RetryDelay:     200 * time.Millisecond,
		Framing:        terminal.FramingScan,
		DeviceNames:    []string{"CloudPOS", "WIZARPOS_Q3"},
	}
}

// NewDialer выбирает способ подключения по режиму из конфигурации
func NewDialer(config Config) Dialer {
	if config.Mode == ModeSerial {
		return SerialDialer{BaudRate: config.BaudRate}
	}
	return SocketDialer{Channel: config.Channel}
}

// FrameListener получает завершённые кадры терминала, ошибки кадрирования
// и ошибку чтения, после которой соединение считается потерянным.
type FrameListener func(frame []byte, err error)

// Adapter владеет единственным соединением с терминалом. Содержимое кадров не интерпретирует.
type Adapter struct {
	config  Config
	dialer  Dialer
	metrics *metrics.Metrics

	connMutex sync.RWMutex
	conn      io.ReadWriteCloser
	address   string
	active    atomic.Bool
	wg        sync.WaitGroup // цикл чтения

	writeMutex sync.Mutex

	listenerMutex sync.RWMutex
	listener      FrameListener
}

// NewAdapter создает новый транспорт терминала
func NewAdapter(config Config, dialer Dialer, m *metrics.Metrics) *Adapter {
	if dialer == nil {
		dialer = NewDialer(config)
	}
	return &Adapter{
		config:  config,
		dialer:  dialer,
		metrics: m,
	}
}

// IsActive сообщает, активно ли соединение
func (a *Adapter) IsActive() bool {
	return a.active.Load()
}

// Address возвращает адрес текущего (или последнего) устройства
func (a *Adapter) Address() string {
	a.connMutex.RLock()
	defer a.connMutex.RUnlock()
	return a.address
}

// SetFrameListener заменяет текущего получателя кадров
func (a *Adapter) SetFrameListener(listener FrameListener) {
	a.listenerMutex.Lock()
	a.listener = listener
	a.listenerMutex.Unlock()
}

// Connect подключается к устройству. После первой неудачи сокет
// пересоздаётся и делается ровно одна повторная попытка.
func (a *Adapter) Connect(ctx context.Context, address string) error {
	a.connMutex.Lock()
	defer a.connMutex.Unlock()

	if a.conn != nil && a.active.Load() {
		if a.address == address {
			logger.Printf("Already connected to %s", address)
			return nil
		}
		logger.Printf("Switching terminal from %s to %s", a.address, address)
		a.conn.Close()
		a.conn = nil
		a.active.Store(false)
	}

	if canceler, ok := a.dialer.(DiscoveryCanceler); ok {
		canceler.CancelDiscovery()
	}

	logger.Printf("Attempting to connect to %s", address)

	conn, err := a.dial(ctx, address)
	if err != nil {
		logger.Printf("Connect to %s failed: %v. Retrying with a fresh socket...", address, err)
		if waitErr := sleepContext(ctx, a.config.RetryDelay); waitErr != nil {
			return fmt.Errorf("connect %s: %w", address, waitErr)
		}
		conn, err = a.dial(ctx, address)
		if err != nil {
			logger.Printf("Reconnect to %s failed: %v", address, err)
			return fmt.Errorf("connect %s: %w", address, err)
		}
	}

	a.conn = conn
	a.address = address
	a.active.Store(true)
	logger.Printf("Terminal connection established: %s", address)

	a.wg.Add(1)
	go a.readLoop(conn, terminal.NewFramer(a.config.Framing))

	return nil
}

func (a *Adapter) dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	if a.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.ConnectTimeout)
		defer cancel()
	}
	return a.dialer.Dial(ctx, address)
}

// Send записывает байты в сокет без ожидания подтверждения.
// При ошибке записи соединение закрывается и помечается неактивным.
func (a *Adapter) Send(p []byte) error {
	a.connMutex.RLock()
	conn := a.conn
	a.connMutex.RUnlock()

	if conn == nil || !a.active.Load() {
		return ErrNotConnected
	}

	a.writeMutex.Lock()
	_, err := conn.Write(p)
	a.writeMutex.Unlock()

	if err != nil {
		logger.Printf("Write error: %v", err)
		a.dropConnection(conn)
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}

	logger.Printf("Sent %d bytes to terminal", len(p))
	return nil
}

// Disable закрывает соединение и дожидается завершения цикла чтения. Повторный вызов безопасен.
func (a *Adapter) Disable() error {
	a.connMutex.Lock()
	conn := a.conn
	a.conn = nil
	a.active.Store(false)
	a.connMutex.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
		logger.Println("Terminal connection closed")
	}
	a.wg.Wait()
	return err
}

// dropConnection снимает соединение, если оно всё ещё текущее.
// Возвращает false, если его уже закрыл кто-то другой.
func (a *Adapter) dropConnection(conn io.ReadWriteCloser) bool {
	a.connMutex.Lock()
	current := a.conn == conn
	if current {
		a.conn = nil
		a.active.Store(false)
	}
	a.connMutex.Unlock()

	if current {
		conn.Close()
	}
	return current
}

// readLoop читает поток до первой ошибки; перезапуска нет, нужен новый Connect
func (a *Adapter) readLoop(conn io.ReadWriteCloser, framer *terminal.Framer) {
	defer a.wg.Done()
	logger.Println("Starting terminal read loop")

	buf := make([]byte, ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			a.metrics.BytesRead(n)
			framer.Feed(buf[:n], a.dispatch)
		}
		if err != nil {
			if a.dropConnection(conn) {
				logger.Printf("Read error: %v", err)
				a.metrics.Frame("transport_error")
				a.notify(nil, fmt.Errorf("%w: read: %w", ErrTransport, err))
			}
			if framer.Pending() > 0 {
				logger.Printf("Discarding %d bytes of an incomplete frame", framer.Pending())
			}
			logger.Println("Read loop stopped")
			return
		}
	}
}

func (a *Adapter) dispatch(frame []byte, err error) {
	switch {
	case err != nil && errors.Is(err, terminal.ErrFrameTooLarge):
		logger.Printf("Frame dropped: %v", err)
		a.metrics.Frame("oversized")
	case err != nil:
		logger.Printf("Malformed frame: %v", err)
		a.metrics.Frame("malformed")
	default:
		logger.Printf("Received %d byte frame from terminal", len(frame))
	}
	a.notify(frame, err)
}

func (a *Adapter) notify(frame []byte, err error) {
	a.listenerMutex.RLock()
	listener := a.listener
	a.listenerMutex.RUnlock()

	if listener == nil {
		if err == nil {
			logger.Println("Warning: no frame listener, dropping frame")
			a.metrics.Frame("dropped")
		}
		return
	}
	if err == nil {
		a.metrics.Frame("delivered")
	}
	listener(frame, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
