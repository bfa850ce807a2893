package ingest

import (
	"testing"
	"time"

	"github.com/zulandar/trunkline/internal/models"
)

func TestSweep(t *testing.T) {
	db := openIngestTestDB(t)
	now := time.Now()

	seed := []models.InboxEvent{
		{ChannelID: "C1", SeqToken: "1.1", Status: models.EventProcessed, FetchedAt: now.Add(-8 * 24 * time.Hour)},
		{ChannelID: "C1", SeqToken: "1.2", Status: models.EventRead, FetchedAt: now.Add(-8 * 24 * time.Hour)},
		{ChannelID: "C1", SeqToken: "1.3", Status: models.EventUnread, FetchedAt: now.Add(-8 * 24 * time.Hour)},
		{ChannelID: "C1", SeqToken: "1.4", Status: models.EventProcessed, FetchedAt: now.Add(-1 * time.Hour)},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed event: %v", err)
		}
	}
	threads := []models.WatchedThread{
		{ChannelID: "C1", ThreadRoot: "1.1", CreatedAt: now.Add(-72 * time.Hour)},
		{ChannelID: "C1", ThreadRoot: "2.1", CreatedAt: now.Add(-1 * time.Hour)},
	}
	for i := range threads {
		if err := db.Create(&threads[i]).Error; err != nil {
			t.Fatalf("seed thread: %v", err)
		}
	}

	stats, err := Sweep(db, 7*24*time.Hour, 48*time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Events != 2 {
		t.Errorf("swept events = %d, want 2", stats.Events)
	}
	if stats.Threads != 1 {
		t.Errorf("swept threads = %d, want 1", stats.Threads)
	}

	// Unread rows survive regardless of age; recent handled rows survive.
	var remaining []models.InboxEvent
	if err := db.Order("seq_token").Find(&remaining).Error; err != nil {
		t.Fatalf("read remaining: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("remaining events = %d, want 2", len(remaining))
	}
	if remaining[0].SeqToken != "1.3" || remaining[1].SeqToken != "1.4" {
		t.Errorf("remaining tokens = %q, %q; want 1.3, 1.4", remaining[0].SeqToken, remaining[1].SeqToken)
	}
}
