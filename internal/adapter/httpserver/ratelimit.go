package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/pscheid92/livepoll/internal/platform/errors"
	"golang.org/x/time/rate"
)

// Idle per-client buckets are dropped after this long.
const ingestLimiterExpiry = 5 * time.Minute

// newRateLimiter limits requests per client IP as resolved by the server's
// IP extractor, so a forwarded header only counts behind a trusted proxy.
func newRateLimiter(perSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     burst,
		ExpiresIn: ingestLimiterExpiry,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			slog.WarnContext(c.Request().Context(), "Ingest rate limit exceeded", "client_ip", identifier, "path", c.Path())
			return c.JSON(http.StatusTooManyRequests,
				apperrors.RateLimitedError("rate limit exceeded").WithField("client_ip", identifier).ToResponse())
		},
	})
}
