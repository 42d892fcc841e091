package mqtt

import (
	"errors"
	"fmt"
)

// Broker session errors.
var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrTimeout          = errors.New("mqtt: operation timed out")
)

// Operation errors. A dead-letter publish that fails with any of these
// leaves the source message un-acked.
var (
	ErrPublishFailed   = errors.New("mqtt: publish failed")
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrPayloadTooLarge wraps ErrPublishFailed.
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrPublishFailed)
)

// Argument errors.
var (
	ErrInvalidQoS   = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
