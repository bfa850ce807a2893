package models

import "time"

// Inbox event lifecycle statuses.
const (
	EventUnread    = "unread"
	EventRead      = "read"
	EventProcessed = "processed"
)

// InboxEvent is a single ingested chat message. The (channel, sequence
// token) unique index is the dedup key: inserts use ON CONFLICT DO NOTHING
// so re-fetching an overlapping page is harmless.
type InboxEvent struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	ChannelID  string `gorm:"size:128;not null;uniqueIndex:idx_channel_seq"`
	SeqToken   string `gorm:"size:64;not null;uniqueIndex:idx_channel_seq"`
	ThreadRoot string `gorm:"size:64;index"`
	SenderID   string `gorm:"size:64;index"`
	Body       string `gorm:"type:text"`
	Raw        string `gorm:"type:text"` // platform payload, JSON
	Status     string `gorm:"size:16;default:unread;index"`
	FetchedAt  time.Time
	ReadAt     *time.Time
	ReadBy     string `gorm:"size:64"`
}
