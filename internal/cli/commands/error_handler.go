package commands

import (
	"fmt"
	"os"
	"strings"

	"workshop/internal/errors"
	"workshop/internal/logger"
)

// HandleError turns an error into a user-facing message with a hint where
// one helps
func HandleError(err error) error {
	if err == nil {
		return nil
	}

	if we, ok := errors.As(err); ok {
		logger.WithError(err).Debug("Command failed")

		msg := we.Message
		if we.Details != "" {
			msg += ": " + we.Details
		}
		if we.Cause != nil {
			msg += ": " + we.Cause.Error()
		}

		switch we.Code {
		case errors.ErrUnknownService:
			return fmt.Errorf("%s\n\nTip: Use 'workshop services list' to see registered services.", msg)
		case errors.ErrUnknownIncident:
			return fmt.Errorf("%s\n\nTip: Use 'workshop incidents list --status all' to see incidents.", msg)
		case errors.ErrGhostService:
			return fmt.Errorf("%s\n\nTip: Pass --ghosts to operate on a ghost service.", msg)
		case errors.ErrAlreadyInProgress:
			return fmt.Errorf("%s\n\nTip: Another start, stop or recovery is running. Try again shortly.", msg)
		case errors.ErrConfigNotFound, errors.ErrRegistryInvalid, errors.ErrDependencyCycle:
			return fmt.Errorf("%s\n\nTip: Run 'workshop registry validate' to check the registry.", msg)
		default:
			return fmt.Errorf("%s", msg)
		}
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return fmt.Errorf("%v\n\nTip: Is the control plane running? Start it with 'workshop serve'.", err)
	case strings.Contains(errStr, "permission denied"):
		return fmt.Errorf("%v\n\nTip: Check file permissions on the workshop data directory.", err)
	default:
		return err
	}
}

// ExitOnError prints err and exits with a code derived from its class
func ExitOnError(err error) {
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", HandleError(err))

	switch errors.GetCode(err) {
	case errors.ErrUnknownService, errors.ErrUnknownIncident, errors.ErrConfigNotFound:
		os.Exit(2) // No such file or directory
	case errors.ErrInvalidInput, errors.ErrRegistryInvalid, errors.ErrDependencyCycle:
		os.Exit(64) // Usage error
	default:
		os.Exit(1)
	}
}
