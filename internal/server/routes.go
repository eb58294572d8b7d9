package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"workshop/internal/constants"
	"workshop/internal/errors"
	"workshop/internal/incident"
	"workshop/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"
)

func (s *Server) setupRoutes() {
	s.echo.GET("/swagger/*", echoSwagger.WrapHandler)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/health", s.handleHealth)

	api := s.echo.Group("/api")

	services := api.Group("/services")
	services.GET("", s.handleListServices)
	services.GET("/:id", s.handleGetService)
	services.POST("/:id/start", s.handleStartService)
	services.POST("/:id/stop", s.handleStopService)
	services.POST("/:id/restart", s.handleRestartService)
	services.GET("/:id/health", s.handleCheckHealth)
	services.GET("/:id/heartbeat", s.handleGetHeartbeat)

	groups := api.Group("/groups")
	groups.POST("/:group/start", s.handleStartGroup)
	groups.POST("/:group/stop", s.handleStopGroup)

	api.POST("/health/refresh", s.handleRefresh)

	incidents := api.Group("/incidents")
	incidents.GET("", s.handleListIncidents)
	incidents.GET("/:id", s.handleGetIncident)
	incidents.POST("/:id/annotations", s.handleAnnotateIncident)
	incidents.POST("/:id/resolve", s.handleResolveIncident)

	api.GET("/constellation", s.handleGetConstellation)
	api.GET("/events", s.handleEvents)
}

func ghostsParam(c echo.Context) bool {
	v, _ := strconv.ParseBool(c.QueryParam("ghosts"))
	return v
}

// handleHealth godoc
// @Summary Control plane health
// @Tags system
// @Produce json
// @Success 200 {object} SystemStatusResponse
// @Router /health [get]
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, SystemStatusResponse{
		Status:   "healthy",
		Version:  constants.Version,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		Services: s.ops.Registry().Len(),
	})
}

// handleListServices godoc
// @Summary List services
// @Description List every registered service with its live status
// @Tags services
// @Produce json
// @Success 200 {object} ServicesResponse
// @Router /api/services [get]
func (s *Server) handleListServices(c echo.Context) error {
	list := s.ops.ListServices(c.Request().Context())
	return c.JSON(http.StatusOK, ServicesResponse{Services: list, Total: len(list)})
}

// handleGetService godoc
// @Summary Get service
// @Tags services
// @Produce json
// @Param id path string true "Service ID"
// @Success 200 {object} operations.ServiceInfo
// @Failure 404 {object} errors.HTTPErrorResponse
// @Router /api/services/{id} [get]
func (s *Server) handleGetService(c echo.Context) error {
	info, err := s.ops.GetService(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, info)
}

// handleStartService godoc
// @Summary Start service
// @Description Start a service after its unmet dependencies
// @Tags services
// @Produce json
// @Param id path string true "Service ID"
// @Param ghosts query bool false "Allow ghost services"
// @Success 200 {object} operations.ServiceInfo
// @Failure 404 {object} errors.HTTPErrorResponse
// @Failure 409 {object} errors.HTTPErrorResponse
// @Router /api/services/{id}/start [post]
func (s *Server) handleStartService(c echo.Context) error {
	info, err := s.ops.StartService(c.Request().Context(), c.Param("id"), ghostsParam(c))
	if err != nil {
		return errors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, info)
}

// handleStopService godoc
// @Summary Stop service
// @Tags services
// @Produce json
// @Param id path string true "Service ID"
// @Param ghosts query bool false "Allow ghost services"
// @Success 200 {object} operations.ServiceInfo
// @Failure 404 {object} errors.HTTPErrorResponse
// @Failure 409 {object} errors.HTTPErrorResponse
// @Router /api/services/{id}/stop [post]
func (s *Server) handleStopService(c echo.Context) error {
	info, err := s.ops.StopService(c.Request().Context(), c.Param("id"), ghostsParam(c))
	if err != nil {
		return errors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, info)
}

// handleRestartService godoc
// @Summary Restart service
// @Tags services
// @Produce json
// @Param id path string true "Service ID"
// @Param ghosts query bool false "Allow ghost services"
// @Success 200 {object} operations.ServiceInfo
// @Failure 404 {object} errors.HTTPErrorResponse
// @Failure 409 {object} errors.HTTPErrorResponse
// @Router /api/services/{id}/restart [post]
func (s *Server) handleRestartService(c echo.Context) error {
	info, err := s.ops.RestartService(c.Request().Context(), c.Param("id"), ghostsParam(c))
	if err != nil {
		return errors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, info)
}

// handleStartGroup godoc
// @Summary Start group
// @Description Start every member of a group in dependency order. Ghosts are skipped unless ghosts=true.
// @Tags groups
// @Produce json
// @Param group path string true "Group name"
// @Param ghosts query bool false "Include ghost services"
// @Success 200 {object} GroupResponse
// @Failure 400 {object} errors.HTTPErrorResponse
// @Router /api/groups/{group}/start [post]
func (s *Server) handleStartGroup(c echo.Context) error {
	group := c.Param("group")
	results, err := s.ops.StartGroup(c.Request().Context(), group, ghostsParam(c))
	return s.groupResponse(c, group, results, err)
}

// handleStopGroup godoc
// @Summary Stop group
// @Tags groups
// @Produce json
// @Param group path string true "Group name"
// @Param ghosts query bool false "Include ghost services"
// @Success 200 {object} GroupResponse
// @Failure 400 {object} errors.HTTPErrorResponse
// @Router /api/groups/{group}/stop [post]
func (s *Server) handleStopGroup(c echo.Context) error {
	group := c.Param("group")
	results, err := s.ops.StopGroup(c.Request().Context(), group, ghostsParam(c))
	return s.groupResponse(c, group, results, err)
}

func (s *Server) groupResponse(c echo.Context, group string, results []service.GroupResult, err error) error {
	if err != nil && results == nil {
		return errors.ToHTTPError(err)
	}
	resp := GroupResponse{Group: group, Results: results}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusMultiStatus
	}
	return c.JSON(status, resp)
}

// handleCheckHealth godoc
// @Summary Check service health
// @Description Run one health check now and record it
// @Tags health
// @Produce json
// @Param id path string true "Service ID"
// @Success 200 {object} HealthCheckResponse
// @Failure 404 {object} errors.HTTPErrorResponse
// @Failure 409 {object} errors.HTTPErrorResponse
// @Router /api/services/{id}/health [get]
func (s *Server) handleCheckHealth(c echo.Context) error {
	res, err := s.ops.CheckHealth(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, toHealthCheckResponse(res))
}

// handleRefresh godoc
// @Summary Refresh all
// @Description Force a health sweep. Joins a sweep already in flight.
// @Tags health
// @Produce json
// @Success 200 {object} RefreshResponse
// @Router /api/health/refresh [post]
func (s *Server) handleRefresh(c echo.Context) error {
	report, err := s.ops.RefreshAll(c.Request().Context())
	if err != nil {
		return errors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, toRefreshResponse(report))
}

// handleGetHeartbeat godoc
// @Summary Heartbeat sparkline
// @Tags health
// @Produce json
// @Param id path string true "Service ID"
// @Param window query string false "Window such as 1h or 24h"
// @Param points query int false "Number of points"
// @Success 200 {object} operations.Heartbeat
// @Failure 400 {object} errors.HTTPErrorResponse
// @Failure 404 {object} errors.HTTPErrorResponse
// @Router /api/services/{id}/heartbeat [get]
func (s *Server) handleGetHeartbeat(c echo.Context) error {
	var window time.Duration
	if raw := c.QueryParam("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return errors.BadRequest("Invalid window", err.Error())
		}
		window = d
	}

	points := constants.DefaultSparklinePoints
	if raw := c.QueryParam("points"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return errors.BadRequest("Invalid points", "points must be a positive integer")
		}
		points = n
	}

	hb, err := s.ops.GetHeartbeat(c.Request().Context(), c.Param("id"), window, points)
	if err != nil {
		return errors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, hb)
}

// handleListIncidents godoc
// @Summary List incidents
// @Tags incidents
// @Produce json
// @Param status query string false "open, closed or all"
// @Param service query string false "Service ID"
// @Param limit query int false "Maximum results"
// @Success 200 {object} IncidentsResponse
// @Failure 400 {object} errors.HTTPErrorResponse
// @Router /api/incidents [get]
func (s *Server) handleListIncidents(c echo.Context) error {
	var filter incident.Filter
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &filter); err != nil {
		return errors.BadRequest("Invalid filter", err.Error())
	}

	list, err := s.ops.ListIncidents(c.Request().Context(), filter)
	if err != nil {
		return errors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, IncidentsResponse{Incidents: list, Total: len(list)})
}

// handleGetIncident godoc
// @Summary Get incident
// @Tags incidents
// @Produce json
// @Param id path string true "Incident ID"
// @Success 200 {object} incident.Incident
// @Failure 404 {object} errors.HTTPErrorResponse
// @Router /api/incidents/{id} [get]
func (s *Server) handleGetIncident(c echo.Context) error {
	inc, err := s.ops.GetIncident(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, inc)
}

// handleAnnotateIncident godoc
// @Summary Annotate incident
// @Tags incidents
// @Accept json
// @Produce json
// @Param id path string true "Incident ID"
// @Param request body AnnotateRequest true "Annotation"
// @Success 201 {object} incident.Incident
// @Failure 400 {object} errors.HTTPErrorResponse
// @Failure 404 {object} errors.HTTPErrorResponse
// @Router /api/incidents/{id}/annotations [post]
func (s *Server) handleAnnotateIncident(c echo.Context) error {
	var req AnnotateRequest
	if err := c.Bind(&req); err != nil {
		return errors.BadRequest("Invalid request body", err.Error())
	}
	if strings.TrimSpace(req.Text) == "" {
		return errors.BadRequest("Annotation text is required", "")
	}

	inc, err := s.ops.AnnotateIncident(c.Request().Context(), c.Param("id"), req.Author, req.Text)
	if err != nil {
		return errors.ToHTTPError(err)
	}
	return c.JSON(http.StatusCreated, inc)
}

// handleResolveIncident godoc
// @Summary Resolve incident
// @Description Close an incident. Resolving a closed incident is a no-op.
// @Tags incidents
// @Produce json
// @Param id path string true "Incident ID"
// @Success 200 {object} incident.Incident
// @Failure 404 {object} errors.HTTPErrorResponse
// @Router /api/incidents/{id}/resolve [post]
func (s *Server) handleResolveIncident(c echo.Context) error {
	inc, err := s.ops.ResolveIncident(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, inc)
}

// handleGetConstellation godoc
// @Summary Constellation
// @Description Dependency graph annotated with live status
// @Tags constellation
// @Produce json
// @Success 200 {object} constellation.Graph
// @Router /api/constellation [get]
func (s *Server) handleGetConstellation(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ops.GetConstellation(c.Request().Context()))
}

func queryInt(c echo.Context, name string) int {
	n, _ := strconv.Atoi(c.QueryParam(name))
	return n
}
