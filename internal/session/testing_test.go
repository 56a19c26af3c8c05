package session

import (
	"testing"
	"time"

	"github.com/opengoat/opengoat/internal/common/logger"
	"github.com/opengoat/opengoat/internal/paths"
)

func fixedNow() time.Time {
	return time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
}

func newTestEngine(t *testing.T) (*Engine, *FixedClock) {
	t.Helper()
	fs := paths.NewMemoryFilesystem()
	layout := paths.New("/home/.opengoat")
	log, err := logger.New(logger.Config{Level: "error", Format: "text", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("logger.New() error = %v", err)
	}
	clock := NewFixedClock(fixedNow())
	return New(fs, layout, log, clock), clock
}
