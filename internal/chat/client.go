// Package chat defines the platform client interface Trunkline polls and
// posts through. Platform-specific implementations live in the slack and
// discord subpackages; every call they make is admitted by the gateway.
package chat

import (
	"context"
	"time"
)

// Message is a platform message normalized to Trunkline's shape. Seq is the
// server-assigned sequence token (Slack ts, Discord snowflake) used as the
// cursor unit.
type Message struct {
	ChannelID  string
	Seq        string
	ThreadRoot string // empty for top-level messages
	SenderID   string
	SenderName string
	Text       string
	Raw        string // platform payload, JSON
	Timestamp  time.Time
}

// Reaction is one emoji on a message with the identities that added it.
type Reaction struct {
	Name  string
	Users []string
}

// PostOpts holds optional parameters for posting a message.
type PostOpts struct {
	ThreadRoot string // reply into this thread
	Username   string // sender display override, where the platform allows it
}

// Client is the outbound surface against the chat platform. History and
// Replies return messages strictly after afterSeq (all available up to
// limit when afterSeq is empty).
type Client interface {
	// Identity returns the client's own user ID, for self-filtering.
	// Available after the first successful call.
	Identity() string

	PostMessage(ctx context.Context, channelID, text string, opts PostOpts) (seq string, err error)
	History(ctx context.Context, channelID, afterSeq string, limit int) ([]Message, error)
	Replies(ctx context.Context, channelID, threadRoot, afterSeq string, limit int) ([]Message, error)

	Reactions(ctx context.Context, channelID, seq string) ([]Reaction, error)
	AddReaction(ctx context.Context, channelID, seq, name string) error
	RemoveReaction(ctx context.Context, channelID, seq, name string) error

	OpenDM(ctx context.Context, userID string) (channelID string, err error)
	UploadFile(ctx context.Context, channelID, filename, title string, content []byte) error
	CreateChannel(ctx context.Context, name string, private bool) (channelID string, err error)
	ArchiveChannel(ctx context.Context, channelID string) error

	Close() error
}
