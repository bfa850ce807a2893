package models

import "time"

// WatchedThread registers a thread root whose replies are folded into
// ingestion alongside the channel's main timeline. Entries expire after a
// fixed horizon and are removed by the retention sweep.
type WatchedThread struct {
	ChannelID  string `gorm:"primaryKey;size:128"`
	ThreadRoot string `gorm:"primaryKey;size:64"`
	Context    string `gorm:"type:text"`
	CreatedAt  time.Time
}
