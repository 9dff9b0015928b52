package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog.Logger tagged with the promptstash service name
// ("api", "migrate") so log lines from both binaries stay distinguishable.
func New(service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service)
}
