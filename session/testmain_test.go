package session

import (
	"os"
	"testing"

	"github.com/kanblam/kanblam/log"
)

func TestMain(m *testing.M) {
	log.Initialize()
	code := m.Run()
	log.Close()
	os.Exit(code)
}
