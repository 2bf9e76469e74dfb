package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when the exporter is switched
	// off in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps a failed startup ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)
