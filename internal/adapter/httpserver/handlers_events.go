package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/livepoll/internal/app"
	"github.com/pscheid92/livepoll/internal/domain"
	apperrors "github.com/pscheid92/livepoll/internal/platform/errors"
)

type acceptedResponse struct {
	Status string           `json:"status"`
	Type   domain.EventType `json:"type"`
}

// handleIngestEvent accepts an event envelope from the application layer and
// hands it to the event sink (the bus, or the local router).
func (s *Server) handleIngestEvent(c echo.Context) error {
	if s.deps.Events == nil {
		return apperrors.UnavailableError("event ingest is not configured", nil)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apperrors.ValidationError("failed to read request body")
	}

	event, err := app.DecodeEvent(body)
	if err != nil {
		return apperrors.ValidationError(err.Error())
	}

	if err := s.deps.Events.Route(c.Request().Context(), event); err != nil {
		if errors.Is(err, domain.ErrUnknownOption) || errors.Is(err, domain.ErrUnknownEvent) {
			return apperrors.ValidationError(err.Error()).WithField("poll_id", event.PollKey())
		}
		return apperrors.UnavailableError("failed to route event", err).WithField("poll_id", event.PollKey())
	}

	if err := c.JSON(http.StatusAccepted, acceptedResponse{Status: "accepted", Type: event.Type()}); err != nil {
		return fmt.Errorf("failed to write ingest response: %w", err)
	}
	return nil
}
