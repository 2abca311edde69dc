package controlserver

import (
	"context"
	stderrors "errors"
	"net"
	"strings"
	"time"

	"github.com/core-tools/hsu-procsup/pkg/errors"
)

const DefaultClientTimeout = 3 * time.Second

// SendCommand sends one command line to address and waits for the single reply datagram
func SendCommand(ctx context.Context, address, line string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", address)
	if err != nil {
		return "", errors.NewNetworkError("failed to dial control address", err).WithContext("address", address)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", errors.NewNetworkError("failed to set deadline", err)
	}

	if _, err := conn.Write([]byte(line)); err != nil {
		return "", errors.NewNetworkError("failed to send command", err).WithContext("address", address)
	}

	buf := make([]byte, 64*1024)
	n, err := conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return "", errors.NewTimeoutError("no reply from supervisor", err).
				WithContext("address", address).
				WithContext("timeout", timeout)
		}
		return "", errors.NewNetworkError("failed to receive reply", err).WithContext("address", address)
	}
	return string(buf[:n]), nil
}

// IsErrorReply reports whether reply carries the failure prefix
func IsErrorReply(reply string) bool {
	return strings.HasPrefix(reply, "ERROR:")
}
