package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when metrics are switched off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed means the startup ping did not succeed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrUnhealthy means the server answered the ping but reported itself unhealthy.
	ErrUnhealthy = errors.New("influxdb: server not healthy")

	// ErrWriteFailed wraps asynchronous batch failures handed to the OnError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
