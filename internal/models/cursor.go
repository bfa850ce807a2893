package models

import "time"

// ChannelCursor tracks the last ingested sequence token for a channel.
// It is advanced only after a successful ingest batch, and only forward.
type ChannelCursor struct {
	ChannelID string `gorm:"primaryKey;size:128"`
	LastSeq   string `gorm:"size:64"`
	UpdatedAt time.Time
}
