package ingest

import (
	"fmt"
	"time"

	"github.com/zulandar/trunkline/internal/models"
	"gorm.io/gorm"
)

// SweepStats reports what a retention sweep removed.
type SweepStats struct {
	Events   int64
	Threads  int64
	Mentions int64
}

// Sweep removes handled inbox rows older than the inbox retention window,
// watched threads older than the thread retention window, and delivered
// mention notices past inbox retention. Unread rows are never swept.
func Sweep(db *gorm.DB, inboxRetention, threadRetention time.Duration) (SweepStats, error) {
	var stats SweepStats
	now := time.Now()

	res := db.Where("status <> ? AND fetched_at < ?",
		models.EventUnread, now.Add(-inboxRetention)).
		Delete(&models.InboxEvent{})
	if res.Error != nil {
		return stats, fmt.Errorf("ingest: sweep events: %w", res.Error)
	}
	stats.Events = res.RowsAffected

	res = db.Where("created_at < ?", now.Add(-threadRetention)).
		Delete(&models.WatchedThread{})
	if res.Error != nil {
		return stats, fmt.Errorf("ingest: sweep threads: %w", res.Error)
	}
	stats.Threads = res.RowsAffected

	res = db.Where("delivered = ? AND created_at < ?",
		true, now.Add(-inboxRetention)).
		Delete(&models.MentionNotice{})
	if res.Error != nil {
		return stats, fmt.Errorf("ingest: sweep mentions: %w", res.Error)
	}
	stats.Mentions = res.RowsAffected

	return stats, nil
}
