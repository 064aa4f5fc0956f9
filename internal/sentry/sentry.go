// Package sentry is kanblam's crash and error reporting layer. Every function
// is a no-op until Init succeeds with telemetry turned on, so callers never
// guard their calls.
package sentry

import (
	"os"
	"runtime"
	"time"

	gosentry "github.com/getsentry/sentry-go"
)

// EnvDSN overrides the baked-in ingest endpoint. Setting it to an empty
// string disables reporting even when telemetry is on.
const EnvDSN = "KANBLAM_SENTRY_DSN"

const defaultDSN = "https://8c1f0a4d2e7b95c33d1a6f40be28d719@o4508112233445566.ingest.us.sentry.io/4508112239977001"

const flushWindow = 2 * time.Second

var active bool

func ingestDSN() string {
	if v, ok := os.LookupEnv(EnvDSN); ok {
		return v
	}
	return defaultDSN
}

// Init starts the reporting client. With telemetry off or the DSN blanked it
// leaves the package inert and returns nil.
func Init(version string, telemetry bool) error {
	active = false
	if !telemetry {
		return nil
	}
	dsn := ingestDSN()
	if dsn == "" {
		return nil
	}

	if err := gosentry.Init(gosentry.ClientOptions{
		Dsn:              dsn,
		Release:          "kanblam@" + version,
		AttachStacktrace: true,
		SampleRate:       1.0,
	}); err != nil {
		return err
	}

	gosentry.ConfigureScope(func(scope *gosentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("go_version", runtime.Version())
	})
	active = true
	return nil
}

// Active reports whether Init brought the client up.
func Active() bool {
	return active
}

// Flush blocks briefly so buffered reports make it out before exit.
func Flush() {
	if !active {
		return
	}
	gosentry.Flush(flushWindow)
}

// RecoverPanic reports a panic and re-raises it so the process still dies
// with the original stack. Meant as `defer sentry.RecoverPanic()` in main.
func RecoverPanic() {
	if !active {
		return
	}
	v := recover()
	if v == nil {
		return
	}
	gosentry.CurrentHub().Recover(v)
	gosentry.Flush(flushWindow)
	panic(v)
}

// RunContext carries the session facts worth attaching to every report. It
// exists so this package never has to import config.
type RunContext struct {
	Agent   string
	Project string
	QA      bool
}

// TagRun stamps the current scope with the run's configuration.
func TagRun(rc RunContext) {
	if !active {
		return
	}
	gosentry.ConfigureScope(func(scope *gosentry.Scope) {
		scope.SetTag("agent", rc.Agent)
		if rc.QA {
			scope.SetTag("qa", "on")
		} else {
			scope.SetTag("qa", "off")
		}
		scope.SetContext("run", map[string]interface{}{
			"agent":   rc.Agent,
			"project": rc.Project,
			"qa":      rc.QA,
		})
	})
}
