package publish

import (
	"errors"
	"fmt"
)

var (
	ErrEncodingFailed        = errors.New("encoding failed")
	ErrRegistrationRejected  = errors.New("registration rejected")
	ErrUploadFailed          = errors.New("upload failed")
	ErrCertificationRejected = errors.New("certification rejected")
	ErrResolveFailed         = errors.New("blob id resolution failed")

	ErrBusy         = errors.New("publish session is busy")
	ErrInvalidPhase = errors.New("operation not allowed in this phase")
	ErrTooLarge     = errors.New("blob exceeds size limit")
)

// Error is a phase failure. Phase is the state the session was in when the
// failing step began; Kind is one of the Err*Failed/Rejected sentinels.
type Error struct {
	Phase Phase
	Kind  error
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("publish (%s): %v", e.Phase, e.Kind)
	}
	return fmt.Sprintf("publish (%s): %v: %v", e.Phase, e.Kind, e.Cause)
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Retryable reports whether the same session may repeat the failed step.
func (e *Error) Retryable() bool {
	return errors.Is(e.Kind, ErrUploadFailed) || errors.Is(e.Kind, ErrResolveFailed)
}

// IsRetryable reports whether err is a retryable publish failure.
func IsRetryable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Retryable()
}
