package oracle

import (
	"context"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/teranos/reel/errors"
)

// StatusError classifies a non-2xx provider response. Rate limits, request
// timeouts and server errors are transient; everything else is permanent.
func StatusError(provider string, status int, body []byte) error {
	err := errors.Newf("%s API request failed with status %d: %s", provider, status, truncate(string(body), 500))
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		return errors.MarkTransient(err)
	}
	return err
}

// TransportError wraps a failed round trip, marking network failures
// transient. Context cancellation is never transient.
func TransportError(provider string, err error) error {
	wrapped := errors.Wrapf(err, "%s request failed", provider)
	if errors.Is(err, context.Canceled) {
		return wrapped
	}
	if isNetworkError(err) {
		return errors.MarkTransient(wrapped)
	}
	return wrapped
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"unexpected eof",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
