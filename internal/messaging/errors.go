package messaging

import (
	"errors"
	"fmt"
)

var (
	ErrChannelOperationRejected = errors.New("channel operation rejected")
	ErrEmptyMessage             = errors.New("message is empty")
	ErrInvalidIndex             = errors.New("message index must not be negative")
	ErrSelfChannel              = errors.New("cannot open a channel with yourself")
)

// OpError is a channel operation the ledger did not accept.
type OpError struct {
	Op        string
	ChannelID string
	Err       error
}

func (e *OpError) Error() string {
	if e.ChannelID == "" {
		return fmt.Sprintf("chat %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("chat %s %s: %v", e.Op, e.ChannelID, e.Err)
}

func (e *OpError) Unwrap() []error {
	return []error{ErrChannelOperationRejected, e.Err}
}
