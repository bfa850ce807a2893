package operator

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// Daemon drives the periodic work for one process: the ingestion poll
// ticker and the cron-scheduled retention sweep. Shutdown is cooperative:
// cancel the context and Run returns after releasing the lease.
type Daemon struct {
	svc *Service
}

// NewDaemon creates a Daemon around a Service.
func NewDaemon(svc *Service) *Daemon {
	return &Daemon{svc: svc}
}

// Run blocks until ctx is cancelled. Cycle errors are logged, never fatal:
// the next tick gets a fresh chance.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.svc.Config()

	pollTicker := time.NewTicker(cfg.Ingest.PollInterval())
	defer pollTicker.Stop()

	sweepExpr := cfg.Ingest.SweepCron
	sweepTimer := time.NewTimer(nextSweepIn(sweepExpr))
	defer sweepTimer.Stop()

	log.Printf("operator: daemon up as %s, polling every %v", d.svc.Self(), cfg.Ingest.PollInterval())

	for {
		select {
		case <-ctx.Done():
			if err := d.svc.Close(); err != nil {
				log.Printf("operator: shutdown: %v", err)
			}
			return ctx.Err()
		case <-pollTicker.C:
			stats, err := d.svc.IngestNow(ctx)
			if err != nil {
				log.Printf("operator: poll cycle: %v", err)
				continue
			}
			if stats.Polled && stats.Inserted > 0 {
				log.Printf("operator: ingested %d new events (%d mentions)", stats.Inserted, stats.Mentions)
			}
		case <-sweepTimer.C:
			if stats, err := d.svc.Sweep(); err != nil {
				log.Printf("operator: sweep: %v", err)
			} else if stats.Events+stats.Threads+stats.Mentions > 0 {
				log.Printf("operator: swept %d events, %d threads, %d mentions",
					stats.Events, stats.Threads, stats.Mentions)
			}
			sweepTimer.Reset(nextSweepIn(sweepExpr))
		}
	}
}

// nextSweepIn returns the wait until the next sweep, falling back to a
// 30-minute cadence when the expression does not parse.
func nextSweepIn(expr string) time.Duration {
	if d := nextCronDuration(expr); d > 0 {
		return d
	}
	return 30 * time.Minute
}
