package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"workshop/internal/constellation"
	"workshop/internal/events"
	"workshop/internal/incident"
	"workshop/internal/server"
)

// ListIncidents lists incidents matching filter
func (c *Client) ListIncidents(ctx context.Context, filter incident.Filter) ([]*incident.Incident, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.ServiceID != "" {
		q.Set("service", filter.ServiceID)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	path := "/api/incidents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp server.IncidentsResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Incidents, nil
}

// GetIncident fetches one incident with its annotations
func (c *Client) GetIncident(ctx context.Context, id string) (*incident.Incident, error) {
	var inc incident.Incident
	if err := c.doRequest(ctx, http.MethodGet, "/api/incidents/"+escape(id), nil, &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

// AnnotateIncident appends a note to an incident
func (c *Client) AnnotateIncident(ctx context.Context, id, author, text string) (*incident.Incident, error) {
	var inc incident.Incident
	req := server.AnnotateRequest{Author: author, Text: text}
	if err := c.doRequest(ctx, http.MethodPost, "/api/incidents/"+escape(id)+"/annotations", req, &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

// ResolveIncident closes an incident
func (c *Client) ResolveIncident(ctx context.Context, id string) (*incident.Incident, error) {
	var inc incident.Incident
	if err := c.doRequest(ctx, http.MethodPost, "/api/incidents/"+escape(id)+"/resolve", nil, &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

// GetConstellation returns the dependency graph with live status
func (c *Client) GetConstellation(ctx context.Context) (*constellation.Graph, error) {
	var g constellation.Graph
	if err := c.doRequest(ctx, http.MethodGet, "/api/constellation", nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// StreamEvents delivers live events to fn until ctx is done, the connection
// drops or fn returns false
func (c *Client) StreamEvents(ctx context.Context, replay int, fn func(events.Event) bool) error {
	path := "/api/events"
	if replay > 0 {
		path += "?replay=" + strconv.Itoa(replay)
	}

	conn, err := c.WebSocketConnect(ctx, path)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if ev.Type == "" {
			continue
		}
		if !fn(ev) {
			return nil
		}
	}
}
