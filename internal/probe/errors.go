package probe

import (
	"context"
	"errors"
	"net"
	"net/url"
	"os"
	"syscall"

	"github.com/hamed0406/uptimebatch/internal/domain"
)

// ClassifyError buckets a transport error into the probe failure taxonomy.
func ClassifyError(err error) domain.ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return domain.ErrorTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.ErrorTimeout
	}
	if errors.Is(err, context.Canceled) {
		return domain.ErrorAbort
	}
	var (
		dnsErr *net.DNSError
		opErr  *net.OpError
	)
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET):
		return domain.ErrorNetwork
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		// remaining url.Errors are TLS, protocol or EOF failures on the wire
		return domain.ErrorNetwork
	}
	return domain.ErrorUnknown
}
