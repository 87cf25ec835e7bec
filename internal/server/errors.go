package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/AltairaLabs/codereview-mcp/internal/config"
	"github.com/AltairaLabs/codereview-mcp/internal/dispatch"
	"github.com/AltairaLabs/codereview-mcp/internal/session"
	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

// errorResponse maps an error to its HTTP status and client-facing body
func errorResponse(err error, sessionID string) (int, session.ErrorBody) {
	switch {
	case errors.Is(err, types.ErrSessionBusy):
		return http.StatusConflict, session.ErrorBody{
			Code:      config.CodeSessionBusy,
			Message:   fmt.Sprintf(config.MsgSessionBusy, sessionID),
			Retryable: true,
		}
	case errors.Is(err, types.ErrUnknownSession):
		return http.StatusNotFound, session.ErrorBody{
			Code:    config.CodeUnknownSession,
			Message: err.Error(),
		}
	case errors.Is(err, dispatch.ErrUnknownMethod):
		return http.StatusBadRequest, session.ErrorBody{
			Code:    config.CodeUnknownMethod,
			Message: err.Error(),
		}
	case errors.Is(err, dispatch.ErrInvalidParams):
		return http.StatusBadRequest, session.ErrorBody{
			Code:    config.CodeInvalidParams,
			Message: err.Error(),
		}
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, session.ErrorBody{
			Code:      config.CodeRateLimited,
			Message:   config.MsgRateLimited,
			Retryable: true,
		}
	case errors.Is(err, dispatch.ErrQueueFull), errors.Is(err, dispatch.ErrStopped), errors.Is(err, session.ErrStopped):
		return http.StatusServiceUnavailable, session.ErrorBody{
			Code:      config.CodeQueueFull,
			Message:   config.MsgQueueFull,
			Retryable: true,
		}
	default:
		return http.StatusInternalServerError, session.ErrorBody{
			Code:    config.CodeInternal,
			Message: err.Error(),
		}
	}
}
