package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"offsetcore/internal/adapters/exports"
	"offsetcore/internal/core"
	"offsetcore/internal/infra/robot"
	"offsetcore/internal/jog"
	"offsetcore/pkg/domain"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error  string         `json:"error"`
	Result *domain.Result `json:"result,omitempty"`
}

func statusFor(err error) int {
	var (
		ruleErr       domain.RuleViolationError
		incomplete    *domain.IncompleteCalibrationError
		missingPos    *domain.MissingPositionError
		dupLoc        *domain.DuplicateLocationError
		unknownSubErr *core.UnknownSubstepError
		apiErr        *robot.APIError
	)
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRunExists), errors.Is(err, domain.ErrRunChanged), errors.Is(err, domain.ErrApplyInProgress):
		return http.StatusConflict
	case errors.As(err, &ruleErr), errors.As(err, &incomplete), errors.As(err, &missingPos),
		errors.Is(err, domain.ErrNoSelectedLabware), errors.Is(err, domain.ErrResetUnsupported),
		errors.Is(err, domain.ErrURIMismatch), errors.Is(err, domain.ErrUnknownStep):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrMissingDefinitionURI), errors.Is(err, domain.ErrDuplicateLabware),
		errors.Is(err, domain.ErrUnknownLabware), errors.Is(err, domain.ErrMissingLocation),
		errors.Is(err, jog.ErrInvalidAxis), errors.As(err, &dupLoc), errors.As(err, &unknownSubErr):
		return http.StatusBadRequest
	case errors.Is(err, jog.ErrDropped):
		return http.StatusTooManyRequests
	case errors.Is(err, jog.ErrClosed), errors.Is(err, exports.ErrQueueFull),
		errors.Is(err, exports.ErrStopped), errors.Is(err, robot.ErrNoMaintenanceRun):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error, res domain.Result) {
	status := statusFor(err)
	body := errorResponse{Error: err.Error()}
	if len(res.Violations) > 0 {
		body.Result = &res
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}
