package probe

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/hamed0406/uptimebatch/internal/domain"
)

const (
	DefaultTimeout = 15 * time.Second
	maxRedirects   = 10
	drainLimit     = 64 << 10
)

// userAgents are rotated per attempt so that naive bot filters do not turn a
// healthy host into a false negative. They never influence classification.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Mobile Safari/537.36",
}

type HTTPChecker struct {
	Client     *http.Client
	Timeout    time.Duration
	UserAgents []string
}

func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPChecker{
		Client: &http.Client{
			Timeout:   timeout,
			Transport: cleanhttp.DefaultPooledTransport(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					// keep the last 3xx; a redirect loop still proves the host answers
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		Timeout:    timeout,
		UserAgents: userAgents,
	}
}

// Check issues one GET. The request carries its own deadline so a stalled
// server cannot hold the connection past Timeout.
func (h *HTTPChecker) Check(ctx context.Context, target string) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return CheckResult{
			Status:    domain.StatusInactive,
			ErrorKind: domain.ErrorUnknown,
			Message:   err.Error(),
			Attempts:  1,
		}
	}
	req.Header.Set("User-Agent", h.userAgent())
	req.Header.Set("Accept", "*/*")

	start := time.Now()
	resp, err := h.Client.Do(req)
	latency := time.Since(start).Seconds() * 1000 // ms
	if err != nil {
		return CheckResult{
			Status:    domain.StatusInactive,
			LatencyMS: latency,
			ErrorKind: ClassifyError(err),
			Message:   err.Error(),
			Attempts:  1,
		}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))

	redirected := resp.Request != nil && resp.Request.URL.String() != req.URL.String()
	return CheckResult{
		Status:     Classify(resp.StatusCode),
		StatusCode: resp.StatusCode,
		LatencyMS:  latency,
		Redirected: redirected || (resp.StatusCode >= 300 && resp.StatusCode < 400),
		Message:    resp.Status,
		Attempts:   1,
	}
}

func (h *HTTPChecker) userAgent() string {
	if len(h.UserAgents) == 0 {
		return userAgents[0]
	}
	return h.UserAgents[rand.IntN(len(h.UserAgents))]
}
