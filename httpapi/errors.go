package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ineyio/inferhub"
)

var (
	errUnauthorized = errors.New("unauthorized")
	errDisabled     = errors.New("feature disabled")
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps a domain error to an HTTP status and a stable code.
// Upstream failures are checked first: a provider that rejects a request
// wraps client sentinels that say nothing about the caller's input.
func statusFor(err error) (int, string) {
	var pe *inferhub.ProviderError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &pe):
		return http.StatusBadGateway, "provider_error"
	case errors.Is(err, inferhub.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, inferhub.ErrUnsupportedModel):
		return http.StatusBadRequest, "unsupported_model"
	case errors.Is(err, inferhub.ErrContextNotFound), errors.Is(err, inferhub.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, inferhub.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "quota_exceeded"
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errDisabled):
		return http.StatusServiceUnavailable, "disabled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *server) fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error(), Code: code})
}
