package http

import "log/slog"

const serviceName = "portal"

func httpLogger() *slog.Logger {
	return slog.Default().With(
		"service", serviceName,
		"module", "http",
	)
}
