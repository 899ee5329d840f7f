package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimebatch/internal/domain"
	"github.com/hamed0406/uptimebatch/internal/probe"
)

const DefaultDispatchTimeout = 10 * time.Second

// Payload is the body POSTed to a receiver once per run.
type Payload struct {
	CheckType    string         `json:"checkType"`
	Timestamp    time.Time      `json:"timestamp"`
	IsBackground bool           `json:"isBackground"`
	Summary      PayloadSummary `json:"summary"`
	URLs         []PayloadURL   `json:"urls"`
	Network      NetworkInfo    `json:"network"`
	Device       DeviceInfo     `json:"device"`
	CallbackName string         `json:"callbackName"`
}

type PayloadSummary struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

type PayloadURL struct {
	URL          string `json:"url"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	ResponseTime int64  `json:"responseTime"`
}

type NetworkInfo struct {
	Hostname  string   `json:"hostname"`
	Addresses []string `json:"addresses,omitempty"`
}

type DeviceInfo struct {
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	Runtime    string `json:"runtime"`
	CPUs       int    `json:"cpus"`
	PID        int    `json:"pid"`
	AppName    string `json:"appName"`
	AppVersion string `json:"appVersion,omitempty"`
}

// Dispatcher delivers run summaries. It never retries within a run.
type Dispatcher struct {
	Client  *http.Client
	Timeout time.Duration
	Logger  *zap.Logger
	Now     func() time.Time

	Network NetworkInfo
	Device  DeviceInfo
}

func NewDispatcher(logger *zap.Logger, timeout time.Duration, appVersion string) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	c := cleanhttp.DefaultPooledClient()
	c.Timeout = timeout
	return &Dispatcher{
		Client:  c,
		Timeout: timeout,
		Logger:  logger,
		Now:     time.Now,
		Network: DescribeNetwork(),
		Device:  DescribeDevice(appVersion),
	}
}

// DescribeNetwork captures the host name and non-loopback addresses.
func DescribeNetwork() NetworkInfo {
	n := NetworkInfo{}
	n.Hostname, _ = os.Hostname()
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return n
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok || ipn.IP.IsLoopback() || ipn.IP.IsLinkLocalUnicast() {
			continue
		}
		n.Addresses = append(n.Addresses, ipn.IP.String())
	}
	return n
}

func DescribeDevice(appVersion string) DeviceInfo {
	return DeviceInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		Runtime:    runtime.Version(),
		CPUs:       runtime.NumCPU(),
		PID:        os.Getpid(),
		AppName:    "uptimebatch",
		AppVersion: appVersion,
	}
}

// BuildPayload renders a summary for one receiver.
func (d *Dispatcher) BuildPayload(sum domain.RunSummary, receiver domain.ReceiverConfig) Payload {
	p := Payload{
		CheckType:    string(sum.Trigger),
		Timestamp:    sum.Timestamp,
		IsBackground: sum.IsBackground,
		Summary:      PayloadSummary{Total: sum.Total, Active: sum.Active, Inactive: sum.Inactive},
		URLs:         make([]PayloadURL, 0, len(sum.Results)),
		Network:      d.Network,
		Device:       d.Device,
		CallbackName: receiver.Name,
	}
	if p.CheckType == "" {
		p.CheckType = string(domain.TriggerScheduled)
	}
	for _, r := range sum.Results {
		p.URLs = append(p.URLs, PayloadURL{
			URL:          r.URL,
			Status:       string(r.Status),
			Error:        r.Error,
			ResponseTime: r.ResponseTime,
		})
	}
	return p
}

// Dispatch posts sum to receiver exactly once. A receiver without a valid
// URL yields a skipped outcome and no network traffic.
func (d *Dispatcher) Dispatch(ctx context.Context, sum domain.RunSummary, receiver domain.ReceiverConfig) domain.DeliveryOutcome {
	out := domain.DeliveryOutcome{Receiver: receiver.Name, URL: receiver.URL, At: d.Now().UTC()}
	if !receiver.Enabled() {
		out.Kind = domain.DeliverySkipped
		return out
	}

	body, err := json.Marshal(d.BuildPayload(sum, receiver))
	if err != nil {
		out.Kind = domain.DeliveryTransportError
		out.Error = fmt.Sprintf("encode payload: %v", err)
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, receiver.URL, bytes.NewReader(body))
	if err != nil {
		out.Kind = domain.DeliveryTransportError
		out.Error = err.Error()
		return out
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		out.Kind = domain.DeliveryTransportError
		if probe.ClassifyError(err) == domain.ErrorTimeout {
			out.Kind = domain.DeliveryTimeout
		}
		out.Error = err.Error()
		d.Logger.Warn("dispatch_failed",
			zap.String("receiver", receiver.Name),
			zap.String("kind", string(out.Kind)),
			zap.Error(err),
		)
		return out
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	out.StatusCode = resp.StatusCode
	if resp.StatusCode/100 != 2 {
		out.Kind = domain.DeliveryRejected
		out.Error = resp.Status
		d.Logger.Warn("dispatch_rejected",
			zap.String("receiver", receiver.Name),
			zap.Int("status", resp.StatusCode),
		)
		return out
	}
	out.Kind = domain.DeliveryOK
	d.Logger.Info("dispatch_delivered",
		zap.String("receiver", receiver.Name),
		zap.Int("status", resp.StatusCode),
		zap.Int("urls", len(sum.Results)),
	)
	return out
}

// DispatchAll splits a run by receiver: results tagged with their own
// receiver URL go there, the rest go to fallback. One POST per receiver.
func (d *Dispatcher) DispatchAll(ctx context.Context, sum domain.RunSummary, fallback domain.ReceiverConfig) []domain.DeliveryOutcome {
	var (
		plain  []domain.TargetResult
		groups = map[string]*domain.RunSummary{}
		names  = map[string]string{}
	)
	for _, r := range sum.Results {
		if r.ReceiverURL == "" || r.ReceiverURL == fallback.URL {
			plain = append(plain, r)
			continue
		}
		g, ok := groups[r.ReceiverURL]
		if !ok {
			g = &domain.RunSummary{Timestamp: sum.Timestamp, Trigger: sum.Trigger, IsBackground: sum.IsBackground}
			groups[r.ReceiverURL] = g
			names[r.ReceiverURL] = r.Group
		}
		g.Results = append(g.Results, r)
	}

	var outs []domain.DeliveryOutcome
	if len(plain) > 0 || len(groups) == 0 {
		s := sum
		s.Results = plain
		s.Count()
		outs = append(outs, d.Dispatch(ctx, s, fallback))
	}

	urls := make([]string, 0, len(groups))
	for u := range groups {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	for _, u := range urls {
		g := groups[u]
		g.Count()
		outs = append(outs, d.Dispatch(ctx, *g, domain.ReceiverConfig{Name: names[u], URL: u}))
	}
	return outs
}
