package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/sells-group/entity-enrich/internal/model"
)

// StatusError is returned by API clients when the upstream answers with a
// non-success status, either on the HTTP response or inside the JSON body.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.StatusCode, body)
}

// NewStatusError builds a StatusError.
func NewStatusError(service string, statusCode int, body string) *StatusError {
	return &StatusError{Service: service, StatusCode: statusCode, Body: body}
}

// HTTPStatus returns the upstream status code.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// statusCoder is implemented by API client errors that carry an upstream status.
type statusCoder interface {
	HTTPStatus() int
}

// StatusCode returns the upstream status carried by err, or 0.
func StatusCode(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}

// IsRateLimitStatus reports whether an HTTP status signals quota or rate exhaustion.
func IsRateLimitStatus(code int) bool {
	return code == http.StatusPaymentRequired || code == http.StatusTooManyRequests
}

// IsRateLimited reports whether err is a quota/rate-limit response or an open
// circuit on a path that was tripped by rate limiting.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}
	return IsRateLimitStatus(StatusCode(err))
}

// IsTransient reports whether err is a connection- or timeout-level fault
// (as opposed to an upstream answer).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"connection refused",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Kind names the error taxonomy used in logs and failure records.
type Kind string

const (
	KindNone        Kind = ""
	KindRateLimited Kind = "rate_limited"
	KindTransient   Kind = "transient_network"
	KindUpstream    Kind = "upstream"
)

// Classify maps a client error to the taxonomy kind and lookup outcome.
// Upstream covers non-success statuses and undecodable bodies.
func Classify(err error) (Kind, model.Outcome) {
	switch {
	case err == nil:
		return KindNone, model.OutcomeFound
	case IsRateLimited(err):
		return KindRateLimited, model.OutcomeRateLimited
	case StatusCode(err) != 0:
		return KindUpstream, model.OutcomeError
	case IsTransient(err):
		return KindTransient, model.OutcomeError
	default:
		return KindUpstream, model.OutcomeError
	}
}
