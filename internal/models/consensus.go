package models

import "time"

// Consensus request kinds and statuses.
const (
	ConsensusApproval   = "approval"
	ConsensusPermission = "permission"

	ConsensusPending  = "pending"
	ConsensusApproved = "approved"
	ConsensusDenied   = "denied"
)

// ConsensusRequest is a pending human decision (approve/deny an action or
// grant a permission). It transitions exactly once, pending -> approved or
// denied, via a conditional update guarded on status=pending so that of
// any number of concurrent resolution attempts exactly one commits.
type ConsensusRequest struct {
	ID          string `gorm:"primaryKey;size:36"`
	Kind        string `gorm:"size:16;not null;index"`
	Requestor   string `gorm:"size:128;not null"`
	Description string `gorm:"type:text"`
	ChannelID   string `gorm:"size:128;not null"`
	PromptSeq   string `gorm:"size:64"` // sequence token of the prompt message
	Status      string `gorm:"size:16;default:pending;index"`
	Decider     string `gorm:"size:128"`
	DecidedAt   *time.Time
	CreatedAt   time.Time
}
