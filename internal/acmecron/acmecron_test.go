package acmecron

import (
	"testing"

	"github.com/nilsbr/rushd/internal/acmeclient"
	"github.com/nilsbr/rushd/internal/logger"
)

func TestNewDefaultsScheduleWhenEmpty(t *testing.T) {
	client := acmeclient.New(t.TempDir(), "ops@example.com", true, logger.New("error", false))
	s := New(client, "example.com", nil, "", logger.New("error", false))
	if s == nil {
		t.Fatalf("expected non-nil scheduler")
	}
}

func TestNewToleratesInvalidScheduleWithoutPanicking(t *testing.T) {
	client := acmeclient.New(t.TempDir(), "ops@example.com", true, logger.New("error", false))
	s := New(client, "example.com", nil, "not a cron expression", logger.New("error", false))
	if s == nil {
		t.Fatalf("expected non-nil scheduler even with an invalid schedule")
	}
}

func TestStartAndStopLifecycle(t *testing.T) {
	client := acmeclient.New(t.TempDir(), "ops@example.com", true, logger.New("error", false))
	s := New(client, "example.com", []string{"www"}, "", logger.New("error", false))

	s.Start()
	s.Stop()
}
