package monitor

import (
	"fmt"
	"strings"
	"time"
)

// Reason explains why a probe reported the target as down.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonTimeout           Reason = "timeout"
	ReasonConnectionRefused Reason = "connection_refused"
	ReasonDNSFailure        Reason = "dns_failure"
	ReasonTLSError          Reason = "tls_error"
	ReasonConnectionError   Reason = "connection_error"
	ReasonRequestError      Reason = "request_error"
	ReasonCanceled          Reason = "canceled"
)

const httpErrorPrefix = "http_error:"

// HTTPError is the reason for a response outside the success range.
func HTTPError(code int) Reason {
	return Reason(fmt.Sprintf("%s%d", httpErrorPrefix, code))
}

// IsHTTPError reports whether r was produced by HTTPError.
func (r Reason) IsHTTPError() bool {
	return strings.HasPrefix(string(r), httpErrorPrefix)
}

// ProbeResult is the outcome of a single probe. Results are append-only.
type ProbeResult struct {
	MonitorID    string    `json:"monitor_id"`
	IsUp         bool      `json:"is_up"`
	ResponseTime int64     `json:"response_time_ms"`
	StatusCode   int       `json:"status_code,omitempty"`
	Reason       Reason    `json:"reason,omitempty"`
	Detail       string    `json:"-"`
	Timestamp    time.Time `json:"timestamp"`
}
