package client

import (
	"errors"
	"fmt"

	"github.com/danmuck/ledgerctl/internal/protocol/frame"
)

var (
	ErrEmptyBatch               = errors.New("client: empty batch")
	ErrMaximumBatchSizeExceeded = errors.New("client: maximum batch size exceeded")
	ErrInvalidOperation         = errors.New("client: invalid operation")
	ErrConcurrencyExceeded      = errors.New("client: concurrency max exceeded")
	ErrInvalidConcurrencyMax    = errors.New("client: invalid concurrency max")
	ErrClientClosed             = errors.New("client: closed")
	ErrRequestTimeout           = errors.New("client: request timeout")
	ErrClusterMismatch          = errors.New("client: cluster mismatch")
	ErrHandshakeRejected        = errors.New("client: handshake rejected")
	ErrConnectFailed            = errors.New("client: connect failed")
	ErrInvalidResultLength      = errors.New("client: invalid result length")
	ErrUnexpectedStatus         = errors.New("client: unexpected packet status")
)

// StatusError reports a reply status with no dedicated sentinel.
type StatusError struct {
	Status frame.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: unexpected packet status %s", e.Status)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// statusError maps a non-OK reply status to the error returned to callers.
func statusError(status frame.Status) error {
	switch status {
	case frame.StatusOK:
		return nil
	case frame.StatusTooMuchData:
		return ErrMaximumBatchSizeExceeded
	case frame.StatusInvalidOperation:
		return ErrInvalidOperation
	case frame.StatusClusterMismatch:
		return ErrClusterMismatch
	default:
		return &StatusError{Status: status}
	}
}
