package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/livepoll/internal/adapter/websocket"
	"github.com/pscheid92/livepoll/internal/broadcast"
)

type statsResponse struct {
	Uptime      float64                `json:"uptime"`
	Connections *broadcast.Stats       `json:"connections,omitempty"`
	Limits      *websocket.LimitsStats `json:"limits,omitempty"`
	CachedPolls *int                   `json:"cached_polls,omitempty"`
}

func (s *Server) handleStats(c echo.Context) error {
	resp := statsResponse{Uptime: s.deps.Clock.Since(s.startTime).Seconds()}

	if s.deps.Connections != nil {
		stats := s.deps.Connections.Stats()
		resp.Connections = &stats
	}
	if s.deps.WebSocket != nil {
		if limits := s.deps.WebSocket.Limits(); limits != nil {
			stats := limits.Stats()
			resp.Limits = &stats
		}
	}
	if s.deps.Cache != nil {
		size := s.deps.Cache.Size()
		resp.CachedPolls = &size
	}

	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write stats response: %w", err)
	}
	return nil
}
