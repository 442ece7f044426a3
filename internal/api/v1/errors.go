package v1

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/agentdeck/internal/directory"
	"github.com/gosuda/agentdeck/internal/domain"
	"github.com/gosuda/agentdeck/internal/session"
)

// lifecycleError maps a controller failure onto an HTTP error. The
// controller's phase after the failure is attached as an error detail.
func lifecycleError(ctrl SessionController, msg string, err error) huma.StatusError {
	phase := &huma.ErrorDetail{
		Message:  "session phase after failure",
		Location: "phase",
		Value:    string(ctrl.Snapshot().Phase),
	}

	var apiErr *directory.APIError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound(msg+": not found", phase)
	case errors.Is(err, session.ErrNoActiveSession):
		return huma.Error409Conflict(msg+": no active session", phase)
	case errors.Is(err, session.ErrChannelNotOpen):
		return huma.Error409Conflict(msg+": channel not open", phase)
	case errors.Is(err, session.ErrSuperseded):
		return huma.Error409Conflict(msg+": superseded by a later operation", phase)
	case errors.Is(err, session.ErrClosed):
		return huma.Error503ServiceUnavailable(msg+": shutting down", phase)
	case errors.As(err, &apiErr):
		return huma.Error502BadGateway(msg+": "+apiErr.Error(), phase)
	default:
		return huma.Error500InternalServerError(msg, err, phase)
	}
}
