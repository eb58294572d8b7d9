package server

import (
	"workshop/internal/health"
	"workshop/internal/incident"
	"workshop/internal/operations"
	"workshop/internal/service"
)

// SuccessResponse represents a successful operation response
type SuccessResponse struct {
	Message string `json:"message" example:"Operation completed successfully"`
}

// SystemStatusResponse is returned by /health
type SystemStatusResponse struct {
	Status   string `json:"status" example:"healthy"`
	Version  string `json:"version" example:"1.0.0"`
	Uptime   string `json:"uptime" example:"2h30m15s"`
	Services int    `json:"services" example:"24"`
}

// ServicesResponse is a list of services
type ServicesResponse struct {
	Services []*operations.ServiceInfo `json:"services"`
	Total    int                       `json:"total" example:"24"`
}

// GroupResponse reports a group start or stop
type GroupResponse struct {
	Group   string                `json:"group" example:"Core"`
	Results []service.GroupResult `json:"results"`
	Error   string                `json:"error,omitempty"`
}

// HealthCheckResponse is one on-demand check
type HealthCheckResponse struct {
	ServiceID  string  `json:"service_id" example:"inspector"`
	Status     string  `json:"status" example:"healthy"`
	Success    bool    `json:"success"`
	LatencyMS  float64 `json:"latency_ms" example:"12.5"`
	StatusCode int     `json:"status_code,omitempty" example:"200"`
	Detail     string  `json:"detail,omitempty"`
}

func toHealthCheckResponse(r health.Result) HealthCheckResponse {
	return HealthCheckResponse{
		ServiceID:  r.ServiceID,
		Status:     string(r.Status),
		Success:    r.Success,
		LatencyMS:  r.LatencyMS(),
		StatusCode: r.StatusCode,
		Detail:     r.Detail,
	}
}

// RefreshResponse summarizes a forced sweep
type RefreshResponse struct {
	Checked    int                   `json:"checked" example:"20"`
	Failing    int                   `json:"failing" example:"1"`
	DurationMS int64                 `json:"duration_ms" example:"140"`
	Results    []HealthCheckResponse `json:"results"`
}

func toRefreshResponse(r health.TickReport) RefreshResponse {
	out := RefreshResponse{
		Checked:    len(r.Results),
		DurationMS: r.Duration.Milliseconds(),
		Results:    make([]HealthCheckResponse, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		if !res.Success {
			out.Failing++
		}
		out.Results = append(out.Results, toHealthCheckResponse(res))
	}
	return out
}

// IncidentsResponse is a list of incidents
type IncidentsResponse struct {
	Incidents []*incident.Incident `json:"incidents"`
	Total     int                  `json:"total" example:"3"`
}

// AnnotateRequest adds a note to an incident
type AnnotateRequest struct {
	Author string `json:"author" example:"operator"`
	Text   string `json:"text" validate:"required" example:"Restarted postgres by hand"`
}
