package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"workshop/internal/operations"
	"workshop/internal/server"
)

// Service operations

// ListServices lists every registered service
func (c *Client) ListServices(ctx context.Context) ([]*operations.ServiceInfo, error) {
	var resp server.ServicesResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/services", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Services, nil
}

// GetService retrieves service information
func (c *Client) GetService(ctx context.Context, id string) (*operations.ServiceInfo, error) {
	var info operations.ServiceInfo
	if err := c.doRequest(ctx, http.MethodGet, "/api/services/"+escape(id), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// StartService starts a service and its unmet dependencies
func (c *Client) StartService(ctx context.Context, id string, ghosts bool) (*operations.ServiceInfo, error) {
	return c.lifecycle(ctx, id, "start", ghosts)
}

// StopService stops a service
func (c *Client) StopService(ctx context.Context, id string, ghosts bool) (*operations.ServiceInfo, error) {
	return c.lifecycle(ctx, id, "stop", ghosts)
}

// RestartService restarts a service
func (c *Client) RestartService(ctx context.Context, id string, ghosts bool) (*operations.ServiceInfo, error) {
	return c.lifecycle(ctx, id, "restart", ghosts)
}

func (c *Client) lifecycle(ctx context.Context, id, op string, ghosts bool) (*operations.ServiceInfo, error) {
	var info operations.ServiceInfo
	path := fmt.Sprintf("/api/services/%s/%s%s", escape(id), op, ghostsQuery(ghosts))
	if err := c.doRequest(ctx, http.MethodPost, path, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// StartGroup starts every member of a group
func (c *Client) StartGroup(ctx context.Context, group string, ghosts bool) (*server.GroupResponse, error) {
	return c.group(ctx, group, "start", ghosts)
}

// StopGroup stops every member of a group
func (c *Client) StopGroup(ctx context.Context, group string, ghosts bool) (*server.GroupResponse, error) {
	return c.group(ctx, group, "stop", ghosts)
}

// group returns the per-service results. A partial failure comes back as
// 207 with the results and a non-empty Error field.
func (c *Client) group(ctx context.Context, group, op string, ghosts bool) (*server.GroupResponse, error) {
	var resp server.GroupResponse
	path := fmt.Sprintf("/api/groups/%s/%s%s", escape(group), op, ghostsQuery(ghosts))
	if err := c.doRequest(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func ghostsQuery(ghosts bool) string {
	if ghosts {
		return "?ghosts=true"
	}
	return ""
}

// Health operations

// CheckHealth runs one health check now
func (c *Client) CheckHealth(ctx context.Context, id string) (*server.HealthCheckResponse, error) {
	var resp server.HealthCheckResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/services/"+escape(id)+"/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshAll forces a health sweep
func (c *Client) RefreshAll(ctx context.Context) (*server.RefreshResponse, error) {
	var resp server.RefreshResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/health/refresh", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetHeartbeat returns the sparkline for a service. Zero window and points
// use the server defaults.
func (c *Client) GetHeartbeat(ctx context.Context, id string, window time.Duration, points int) (*operations.Heartbeat, error) {
	q := url.Values{}
	if window > 0 {
		q.Set("window", window.String())
	}
	if points > 0 {
		q.Set("points", strconv.Itoa(points))
	}

	path := "/api/services/" + escape(id) + "/heartbeat"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var hb operations.Heartbeat
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &hb); err != nil {
		return nil, err
	}
	return &hb, nil
}
