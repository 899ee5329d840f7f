package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	DefaultTimeout  = 15 * time.Second
	defaultRetryMax = 2
	maxBody         = 4 << 20
)

var ErrRejected = errors.New("source reported failure")

// Entry is one URL record served by the external source.
type Entry struct {
	ID           FlexString `json:"id"`
	CallbackName string     `json:"callback_name"`
	URL          string     `json:"url"`
	CallbackURL  string     `json:"callback_url"`
	IsActive     FlexBool   `json:"is_active"`
	CreatedAt    string     `json:"created_at,omitempty"`
	UpdatedAt    string     `json:"updated_at,omitempty"`
}

type response struct {
	Status json.RawMessage `json:"status"`
	Data   []Entry         `json:"data"`
}

// Client fetches the external target list.
type Client struct {
	HTTP   *retryablehttp.Client
	Logger *zap.Logger
}

func NewClient(logger *zap.Logger, timeout time.Duration) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = defaultRetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = leveledZap{logger.Named("source_http").Sugar()}
	return &Client{HTTP: rc, Logger: logger}
}

// Fetch GETs endpoint and returns its entries.
func (c *Client) Fetch(ctx context.Context, endpoint string) ([]Entry, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetch %s: status %d", endpoint, resp.StatusCode)
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !statusOK(out.Status) {
		return nil, fmt.Errorf("%w: status=%s", ErrRejected, bytes.TrimSpace(out.Status))
	}
	c.Logger.Debug("source_fetched", zap.String("endpoint", endpoint), zap.Int("entries", len(out.Data)))
	return out.Data, nil
}

func statusOK(raw json.RawMessage) bool {
	if len(bytes.TrimSpace(raw)) == 0 {
		return true
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "error", "fail", "failed", "false":
			return false
		}
		return true
	}
	return true
}

// FlexString accepts a JSON string or number.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// FlexBool accepts true/false, 1/0 and their string forms. Absent means true.
type FlexBool struct {
	Set   bool
	Value bool
}

func (f *FlexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.ToLower(strings.TrimSpace(string(b))), `"`)
	switch s {
	case "true", "1", "yes":
		*f = FlexBool{Set: true, Value: true}
	case "false", "0", "no":
		*f = FlexBool{Set: true, Value: false}
	case "null", "":
		*f = FlexBool{}
	default:
		return fmt.Errorf("is_active: unexpected value %s", b)
	}
	return nil
}

func (f FlexBool) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Active())
}

// Active reports the effective flag.
func (f FlexBool) Active() bool { return !f.Set || f.Value }

// leveledZap adapts zap to retryablehttp's LeveledLogger.
type leveledZap struct{ s *zap.SugaredLogger }

func (l leveledZap) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledZap) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l leveledZap) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledZap) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
