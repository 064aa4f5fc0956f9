package sentry

import (
	"io"
	"strings"

	gosentry "github.com/getsentry/sentry-go"
)

// Severity decides how a teed log line travels: errors become standalone
// events, everything below rides along as breadcrumbs on the next event.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// LogTee duplicates one logger's stream into the report pipeline. The
// destination writer always gets the bytes first; forwarding is best-effort
// and only happens while reporting is active.
type LogTee struct {
	dst      io.Writer
	severity Severity
}

// TeeLogs wraps dst so log lines at the given severity also reach Sentry.
func TeeLogs(dst io.Writer, s Severity) *LogTee {
	return &LogTee{dst: dst, severity: s}
}

func (t *LogTee) Write(p []byte) (int, error) {
	n, err := t.dst.Write(p)
	if !active {
		return n, err
	}

	line := strings.TrimSpace(string(p))
	if line == "" {
		return n, err
	}

	if t.severity == SeverityError {
		gosentry.CaptureMessage(line)
		return n, err
	}

	crumb := gosentry.Breadcrumb{
		Category: "kanblam.log",
		Message:  line,
		Level:    gosentry.LevelInfo,
	}
	if t.severity == SeverityWarning {
		crumb.Level = gosentry.LevelWarning
	}
	gosentry.AddBreadcrumb(&crumb)
	return n, err
}
