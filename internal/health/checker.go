// Package health runs the periodic health sweep over every active service.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"workshop/internal/constants"
	"workshop/internal/errors"
	"workshop/internal/registry"
	"workshop/internal/service"
)

// Result is one classified health check
type Result struct {
	ServiceID  string         `json:"service_id"`
	Status     service.Status `json:"status"`
	Success    bool           `json:"success"`
	Latency    time.Duration  `json:"latency"`
	StatusCode int            `json:"status_code,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	TimedOut   bool           `json:"timed_out,omitempty"`
	CheckedAt  time.Time      `json:"checked_at"`
}

// LatencyMS returns the latency in milliseconds
func (r Result) LatencyMS() float64 {
	return float64(r.Latency.Microseconds()) / 1000
}

// Checker probes a single service
type Checker interface {
	Check(ctx context.Context, svc *registry.Service) Result
}

// HTTPChecker checks http(s):// endpoints with GET and tcp:// endpoints by dialing
type HTTPChecker struct {
	client  *http.Client
	dialer  *net.Dialer
	timeout time.Duration
}

// NewHTTPChecker creates a checker with a bounded per-check timeout
func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = constants.DefaultHealthTimeout
	}
	return &HTTPChecker{
		client: &http.Client{
			Timeout: timeout,
			// 3xx counts as healthy, so never follow redirects
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		dialer:  &net.Dialer{Timeout: timeout},
		timeout: timeout,
	}
}

// Check runs the probe in its own goroutine and gives up after the timeout.
// A probe that outlives the timeout is abandoned and its result discarded.
func (c *HTTPChecker) Check(ctx context.Context, svc *registry.Service) Result {
	start := time.Now()
	done := make(chan Result, 1)

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	go func() {
		done <- c.probe(probeCtx, svc)
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	var res Result
	select {
	case res = <-done:
	case <-timer.C:
		res = Result{
			Status:   service.StatusDegraded,
			Detail:   errors.HealthCheckTimeout(svc.ID, c.timeout).Error(),
			TimedOut: true,
		}
	case <-ctx.Done():
		res = Result{Status: service.StatusDown, Detail: ctx.Err().Error()}
	}

	res.ServiceID = svc.ID
	res.Success = res.Status == service.StatusHealthy
	res.Latency = time.Since(start)
	res.CheckedAt = start
	return res
}

// Ready implements service.Prober
func (c *HTTPChecker) Ready(ctx context.Context, svc *registry.Service) bool {
	return c.Check(ctx, svc).Success
}

func (c *HTTPChecker) probe(ctx context.Context, svc *registry.Service) Result {
	endpoint := svc.HealthCheckEndpoint()
	if endpoint == "" {
		return Result{Status: service.StatusDown, Detail: "no health endpoint configured"}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return Result{Status: service.StatusDown, Detail: fmt.Sprintf("invalid health endpoint: %v", err)}
	}

	if u.Scheme == "tcp" {
		return c.tcpProbe(ctx, u.Host)
	}
	return c.httpProbe(ctx, endpoint)
}

func (c *HTTPChecker) httpProbe(ctx context.Context, endpoint string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{Status: service.StatusDown, Detail: err.Error()}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Result{Status: service.StatusDegraded, Detail: "health check timed out", TimedOut: true}
		}
		return Result{Status: service.StatusDown, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return Result{
			Status:     service.StatusDegraded,
			StatusCode: resp.StatusCode,
			Detail:     fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}
	return Result{Status: service.StatusHealthy, StatusCode: resp.StatusCode}
}

func (c *HTTPChecker) tcpProbe(ctx context.Context, addr string) Result {
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Result{Status: service.StatusDown, Detail: err.Error()}
	}
	conn.Close()
	return Result{Status: service.StatusHealthy}
}
