package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/osval-do/USOP/internal/fsm"
	"github.com/osval-do/USOP/internal/lock"
	"github.com/osval-do/USOP/internal/repository"
	"github.com/osval-do/USOP/internal/service/lifecycle"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps lifecycle and storage errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var orch *lifecycle.OrchestrationError
	if errors.As(err, &orch) {
		status := http.StatusBadGateway
		if orch.TimedOut {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, map[string]any{
			"error":      err.Error(),
			"transition": orch.Transition,
			"exit_code":  orch.ExitCode,
			"stderr":     orch.Stderr,
			"timed_out":  orch.TimedOut,
		})
		return
	}
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, fsm.ErrUnknownTransition):
		return http.StatusNotFound
	case errors.Is(err, fsm.ErrIllegalTransition), errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrAuthorizationDenied):
		return http.StatusPaymentRequired
	case errors.Is(err, lifecycle.ErrOrchestrationFailure):
		return http.StatusBadGateway
	case errors.Is(err, lifecycle.ErrInvalidRecord), errors.Is(err, repository.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, lock.ErrNotAcquired):
		return http.StatusLocked
	case errors.Is(err, lifecycle.ErrBackupsDisabled), errors.Is(err, lifecycle.ErrInspectionDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
