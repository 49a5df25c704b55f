package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"syscall"

	"github.com/hazz-dev/upwatch/internal/monitor"
)

// Classify maps a transport error to a failure reason.
func Classify(err error) monitor.Reason {
	if err == nil {
		return monitor.ReasonNone
	}

	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return monitor.ReasonRequestError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return monitor.ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return monitor.ReasonCanceled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return monitor.ReasonTimeout
		}
		return monitor.ReasonDNSFailure
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return monitor.ReasonConnectionRefused
	}
	if isTLS(err) {
		return monitor.ReasonTLSError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return monitor.ReasonTimeout
	}
	return monitor.ReasonConnectionError
}

func isTLS(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr)
}
