package operator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/trunkline/internal/lease"
	"github.com/zulandar/trunkline/internal/models"
)

func TestDaemon_RunStopsOnCancel(t *testing.T) {
	svc, mock := newTestService(t)
	svc.Config().Ingest.PollIntervalMS = 10

	mock.Seed("C1", "alice", "hello")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewDaemon(svc).Run(ctx) }()

	// Give the poll ticker a few cycles, then shut down.
	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop on cancel")
	}

	var n int64
	svc.DB().Model(&models.InboxEvent{}).Count(&n)
	if n != 1 {
		t.Errorf("ingested rows = %d, want 1", n)
	}

	// Shutdown released the lease.
	if _, _, held := lease.Holder(svc.DB()); held {
		t.Error("lease should be released on shutdown")
	}
}

func TestNextCronDuration(t *testing.T) {
	if d := nextCronDuration("*/5 * * * *"); d <= 0 || d > 5*time.Minute {
		t.Errorf("next fire in %v, want within 5 minutes", d)
	}
	if d := nextCronDuration("not a cron"); d != 0 {
		t.Errorf("invalid expression returned %v, want 0", d)
	}
	if d := nextSweepIn("not a cron"); d != 30*time.Minute {
		t.Errorf("fallback = %v, want 30m", d)
	}
}
