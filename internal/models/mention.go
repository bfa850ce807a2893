package models

import "time"

// MentionNotice is a pending notification queued for an addressable
// identity (member ID, role, or persona name) found in an ingested
// message body. Single-writer append by the ingesting process; drained
// by whichever process serves the identity.
type MentionNotice struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Identity  string `gorm:"size:128;not null;index"`
	ChannelID string `gorm:"size:128;not null"`
	SeqToken  string `gorm:"size:64;not null"`
	Excerpt   string `gorm:"size:512"`
	Delivered bool   `gorm:"default:false;index"`
	CreatedAt time.Time
}
