package mqtt

import "errors"

// Sentinel errors; operations wrap them with detail, so match with errors.Is.
var (
	ErrNotConnected      = errors.New("mqtt: client not connected")
	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrReconnectExhausted is reported to the give-up callback once
	// reconnect.max_attempts consecutive attempts have failed.
	ErrReconnectExhausted = errors.New("mqtt: reconnect attempts exhausted")

	// ErrInvalidQoS rejects QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic rejects empty topics, wildcards in publish topics and
	// malformed subscription filters.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
