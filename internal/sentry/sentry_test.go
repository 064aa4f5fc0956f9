package sentry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitTelemetryOffStaysInert(t *testing.T) {
	assert.NoError(t, Init("0.1.0", false))
	assert.False(t, Active())
	Flush()
	TagRun(RunContext{Agent: "cli"})
}

func TestInitBlankDSNEnvDisables(t *testing.T) {
	t.Setenv(EnvDSN, "")
	assert.NoError(t, Init("0.1.0", true))
	assert.False(t, Active())
	Flush()
}

func TestRecoverPanicInertWithoutPanic(t *testing.T) {
	active = false
	RecoverPanic()
}
