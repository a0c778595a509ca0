//go:build linux

package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// SocketDialer открывает RFCOMM-сокет напрямую к сопряжённому устройству
type SocketDialer struct {
	Channel uint8 // RFCOMM-канал сервиса ServiceUUID
}

// Dial выполняет неблокирующий connect и ждёт завершения с учётом ctx
func (d SocketDialer) Dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, classifyErrno(fmt.Errorf("rfcomm socket: %w", err))
	}

	channel := d.Channel
	if channel == 0 {
		channel = 1
	}
	// bdaddr в ядре хранится в обратном порядке байт
	sa := &unix.SockaddrRFCOMM{Channel: channel}
	for i := range addr {
		sa.Addr[i] = addr[len(addr)-1-i]
	}

	err = unix.Connect(fd, sa)
	if err != nil && errors.Is(err, unix.EINPROGRESS) {
		err = waitConnected(ctx, fd)
	}
	if err != nil {
		unix.Close(fd)
		return nil, classifyErrno(fmt.Errorf("rfcomm connect %s channel %d: %w", address, channel, err))
	}

	return os.NewFile(uintptr(fd), "rfcomm:"+address), nil
}

func waitConnected(ctx context.Context, fd int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, 200)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}
		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		if soErr != 0 {
			return unix.Errno(soErr)
		}
		return nil
	}
}

func classifyErrno(err error) error {
	switch {
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: %w", ErrPermission, err)
	case errors.Is(err, unix.EAFNOSUPPORT), errors.Is(err, unix.EPROTONOSUPPORT),
		errors.Is(err, unix.ENODEV), errors.Is(err, unix.EHOSTDOWN):
		return fmt.Errorf("%w: %w", ErrAdapterDisabled, err)
	}
	return err
}
