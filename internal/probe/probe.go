package probe

import (
	"context"
	"net/http"

	"github.com/hamed0406/uptimebatch/internal/domain"
)

// CheckResult is the unified result of a single probe.
//
// Fields:
//   - StatusCode: HTTP status code when a response arrived; 0 for transport errors.
//   - ErrorKind: set only when no response arrived; diagnostic, never used for Status.
//   - Attempts: how many requests were issued, including retries.
type CheckResult struct {
	Status     domain.TargetStatus
	StatusCode int
	LatencyMS  float64
	Redirected bool
	ErrorKind  domain.ErrorKind
	Message    string
	Attempts   int
}

// Success reports whether the target classified as active.
func (r CheckResult) Success() bool { return r.Status == domain.StatusActive }

// Checker performs a single check for a given target URL.
type Checker interface {
	Check(ctx context.Context, target string) CheckResult
}

// Classify maps an HTTP status code to reachability. Redirects, auth walls
// and rate limits all prove the host answered.
func Classify(code int) domain.TargetStatus {
	switch {
	case code >= 200 && code < 400:
		return domain.StatusActive
	case code == http.StatusUnauthorized,
		code == http.StatusForbidden,
		code == http.StatusTooManyRequests:
		return domain.StatusActive
	default:
		return domain.StatusInactive
	}
}
