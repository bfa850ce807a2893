package models

import "time"

// PollerLeaseName is the fixed key of the single poller lease row.
const PollerLeaseName = "poller"

// PollerLease is the TTL-based mutual-exclusion record that keeps exactly
// one process polling the chat platform. A process holds the lease only
// while now-RenewedAt < TTL and Holder matches its own identity; any
// process may overwrite a record older than the TTL.
type PollerLease struct {
	Name      string `gorm:"primaryKey;size:32"`
	Holder    string `gorm:"size:128;not null"`
	RenewedAt time.Time
}
