package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("config not found")
	ErrNameConflict = errors.New("config already exists")
	ErrInvalidName  = errors.New("config name is empty")
	ErrValidation   = errors.New("invalid config")
)

// BackendError is the failure carried by a run's settlement.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string {
	return e.Err.Error()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// AsBackendError wraps err unless it is nil or already a BackendError.
func AsBackendError(err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Err: err}
}

// Describe renders a store error as a short user-facing status line.
func Describe(op string, err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return fmt.Sprintf("%s failed: config not found", op)
	case errors.Is(err, ErrNameConflict):
		return fmt.Sprintf("%s failed: a config with that name already exists", op)
	case errors.Is(err, ErrInvalidName):
		return fmt.Sprintf("%s failed: name is required", op)
	default:
		return fmt.Sprintf("%s failed: %v", op, err)
	}
}
