package httpserver

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/livepoll/internal/domain"
	apperrors "github.com/pscheid92/livepoll/internal/platform/errors"
)

const maxPollIDLength = 128

func (s *Server) registerSocketRoutes() {
	if s.deps.WebSocket == nil {
		return
	}
	s.echo.GET("/ws", s.handleLobbySocket)
	s.echo.GET("/ws/:poll_id", s.handlePollSocket)
}

func (s *Server) handleLobbySocket(c echo.Context) error {
	return s.deps.WebSocket.Serve(c.Response(), c.Request(), c.RealIP(), domain.LobbyRoom)
}

func (s *Server) handlePollSocket(c echo.Context) error {
	pollID := strings.TrimSpace(c.Param("poll_id"))
	if pollID == "" || len(pollID) > maxPollIDLength {
		return apperrors.ValidationError("invalid poll id")
	}
	return s.deps.WebSocket.Serve(c.Response(), c.Request(), c.RealIP(), domain.PollRoom(pollID))
}
