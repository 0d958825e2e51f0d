package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"cdnmon/internal/db"
	"cdnmon/internal/models"
	"cdnmon/internal/monitor"
	"cdnmon/internal/probe"
	"cdnmon/internal/stats"
)

// Server is the JSON API consumed by the dashboard frontend.
type Server struct {
	repo    *db.Repository
	builder *stats.Builder
	monitor *monitor.Service
	probes  *probe.Registry
	log     *slog.Logger
	echo    *echo.Echo
}

func NewServer(repo *db.Repository, builder *stats.Builder, mon *monitor.Service, probes *probe.Registry, logger *slog.Logger) *Server {
	s := &Server{repo: repo, builder: builder, monitor: mon, probes: probes, log: logger, echo: echo.New()}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("http_request",
				"method", v.Method,
				"path", v.URI,
				"status", v.Status,
				"duration_ms", v.Latency.Milliseconds(),
			)
			return nil
		},
	}))
	s.routes()
	return s
}

// Handler exposes the echo instance for the app's http.Server.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) routes() {
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/api/dashboard/stats", s.handleDashboardStats)
	s.echo.GET("/api/servers", s.handleListServers)
	s.echo.POST("/api/servers", s.handleCreateServer)
	s.echo.PUT("/api/servers/:id", s.handleUpdateServer)
	s.echo.DELETE("/api/servers/:id", s.handleDeleteServer)
	s.echo.POST("/api/servers/:id/test", s.handleTestServer)
	s.echo.GET("/api/servers/:id/metrics", s.handleServerMetrics)
	s.echo.GET("/api/servers/:id/streams", s.handleServerStreams)
	s.echo.GET("/api/alerts", s.handleListAlerts)
	s.echo.POST("/api/alerts/:id/acknowledge", s.handleAcknowledgeAlert)
}

func (s *Server) handleHealthz(c echo.Context) error {
	running, lastRun := s.monitor.Stats()
	body := map[string]any{"status": "ok", "cycle_running": running}
	if !lastRun.IsZero() {
		body["last_cycle"] = lastRun
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleDashboardStats(c echo.Context) error {
	snap, err := s.builder.Build(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}

type serverView struct {
	models.Server
	LatestMetric *models.Metric `json:"latest_metric"`
}

func (s *Server) handleListServers(c echo.Context) error {
	ctx := c.Request().Context()
	servers, err := s.repo.ListServers(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]serverView, 0, len(servers))
	for _, server := range servers {
		view := serverView{Server: server}
		if m, err := s.repo.LatestMetric(ctx, server.ID); err == nil {
			view.LatestMetric = &m
		}
		out = append(out, view)
	}
	return c.JSON(http.StatusOK, out)
}

type serverPayload struct {
	Hostname    string `json:"hostname"`
	IPAddress   string `json:"ip_address"`
	Port        int    `json:"port"`
	Role        string `json:"role"`
	APIEndpoint string `json:"api_endpoint"`
	APIType     string `json:"api_type"`
	APIToken    string `json:"api_token"`
	APIUsername string `json:"api_username"`
	APIPassword string `json:"api_password"`
}

func (p *serverPayload) validate() error {
	if p.Hostname == "" || p.IPAddress == "" || p.Role == "" {
		return errors.New("hostname, ip_address and role are required")
	}
	switch p.Role {
	case models.RoleOrigin, models.RoleEdge, models.RoleLoadBalancer:
	default:
		return errors.New("invalid server role")
	}
	switch p.APIType {
	case "", models.APITypeSRS, models.APITypeNginx, models.APITypeGeneric:
	default:
		return errors.New("invalid api type")
	}
	if p.Port < 0 || p.Port > 65535 {
		return errors.New("invalid port")
	}
	return nil
}

func (p *serverPayload) toModel() models.Server {
	port := p.Port
	if port == 0 {
		port = 80
	}
	apiType := p.APIType
	if apiType == "" {
		apiType = models.APITypeSRS
	}
	return models.Server{
		Hostname:    p.Hostname,
		IPAddress:   p.IPAddress,
		Port:        port,
		Role:        p.Role,
		APIEndpoint: p.APIEndpoint,
		APIType:     apiType,
		APIToken:    p.APIToken,
		APIUsername: p.APIUsername,
		APIPassword: p.APIPassword,
	}
}

func (s *Server) handleCreateServer(c echo.Context) error {
	var payload serverPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := payload.validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if _, err := s.repo.ServerByHostname(ctx, payload.Hostname); err == nil {
		return echo.NewHTTPError(http.StatusConflict, "server with this hostname already exists")
	} else if !errors.Is(err, db.ErrNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	id, err := s.repo.CreateServer(ctx, payload.toModel())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	server, err := s.repo.GetServer(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, server)
}

func (s *Server) handleUpdateServer(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var payload serverPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := payload.validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if existing, err := s.repo.ServerByHostname(ctx, payload.Hostname); err == nil && existing.ID != id {
		return echo.NewHTTPError(http.StatusConflict, "server with this hostname already exists")
	}
	server := payload.toModel()
	server.ID = id
	if err := s.repo.UpdateServer(ctx, server); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "server not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	updated, err := s.repo.GetServer(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteServer(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteServer(c.Request().Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "server not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleTestServer(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	metric, status, pollErr := s.monitor.PollServer(c.Request().Context(), id)
	if pollErr != nil && errors.Is(pollErr, db.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "server not found")
	}
	body := map[string]any{
		"success": pollErr == nil,
		"status":  status,
	}
	if pollErr != nil {
		body["error"] = pollErr.Error()
	} else {
		body["response_time_ms"] = metric.ResponseTime
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleServerMetrics(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := s.repo.GetServer(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "server not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	hours := 24
	if v := c.QueryParam("hours"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 24*7 {
			hours = parsed
		}
	}
	limit := 288
	if v := c.QueryParam("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	metrics, err := s.repo.RecentMetrics(ctx, id, since, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, metrics)
}

func (s *Server) handleServerStreams(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	server, err := s.repo.GetServer(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "server not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if server.APIType != models.APITypeSRS {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "streams are only available for srs servers")
	}
	streams, err := s.probes.Streams(ctx, server)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, streams)
}

func (s *Server) handleListAlerts(c echo.Context) error {
	ctx := c.Request().Context()
	if c.QueryParam("all") == "1" {
		limit := 50
		if v := c.QueryParam("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		alerts, err := s.repo.RecentAlerts(ctx, limit)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, alerts)
	}
	var serverID *int64
	if v := c.QueryParam("server_id"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid server_id")
		}
		serverID = &parsed
	}
	alerts, err := s.repo.ListOpenAlerts(ctx, serverID, c.QueryParam("type"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return c.JSON(http.StatusOK, alerts)
}

func (s *Server) handleAcknowledgeAlert(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.repo.AcknowledgeAlert(c.Request().Context(), id, time.Now().UTC()); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "alert not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

func paramID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}
