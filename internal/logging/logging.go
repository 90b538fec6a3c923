// Package logging builds the server's slog pipeline: console or file text
// output, an optional GELF sink and an optional OpenTelemetry bridge, plus
// the zerolog loggers the storage managers use.
package logging

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// LogFilePath names the log file for a server started at start, e.g.
// bzfslogs/bzfsd.20240101_120000.log.
func LogFilePath(logsDir, name string, start time.Time) string {
	return filepath.Join(logsDir, fmt.Sprintf("%s.%s.log", name, start.Format("20060102_150405")))
}

// level names accepted in configuration, in increasing severity.
var levelNames = []string{"debug", "info", "warn", "error"}

func normalizeLevel(level string) string {
	l := strings.ToLower(strings.TrimSpace(level))
	for _, n := range levelNames {
		if l == n {
			return n
		}
	}
	return "info"
}
