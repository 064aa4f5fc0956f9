package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/kanblam/kanblam/internal/sentry"
)

// Package-level loggers shared by every subsystem. They write to stderr until
// Initialize points them at the log file, so library code can log
// unconditionally.
var (
	InfoLog    = log.New(os.Stderr, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	WarningLog = log.New(os.Stderr, "WARNING: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLog   = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
)

var logFile *os.File

// LogFileName returns the path of the active log file, or "" before Initialize.
func LogFileName() string {
	if logFile == nil {
		return ""
	}
	return logFile.Name()
}

// Initialize opens the log file and points the package loggers at it. The TUI
// owns the terminal, so logs never go to stdout/stderr once initialized.
// When telemetry is passed and true, warnings and errors also feed Sentry
// breadcrumbs/events.
func Initialize(telemetry ...bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	dir := filepath.Join(home, ".kanblam")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}

	f, err := os.OpenFile(filepath.Join(dir, "kanblam.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	logFile = f

	var infoOut, warnOut, errOut io.Writer = f, f, f
	if len(telemetry) > 0 && telemetry[0] {
		infoOut = sentry.TeeLogs(f, sentry.SeverityInfo)
		warnOut = sentry.TeeLogs(f, sentry.SeverityWarning)
		errOut = sentry.TeeLogs(f, sentry.SeverityError)
	}

	InfoLog.SetOutput(infoOut)
	WarningLog.SetOutput(warnOut)
	ErrorLog.SetOutput(errOut)
}

// Close flushes and closes the log file. Safe to call when Initialize failed
// or was never called.
func Close() {
	if logFile == nil {
		return
	}
	if err := logFile.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
	logFile = nil
}
