//go:build !linux

package bluetooth

import (
	"context"
	"fmt"
	"io"
	"runtime"
)

// SocketDialer на этой платформе недоступен, используйте SerialDialer
type SocketDialer struct {
	Channel uint8
}

func (d SocketDialer) Dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("%w: rfcomm sockets are not supported on %s", ErrAdapterDisabled, runtime.GOOS)
}
