// Package slack implements the Trunkline chat client for Slack over the
// Web API. Every outbound call is admitted by the rate-limited gateway.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/trunkline/internal/chat"
	"github.com/zulandar/trunkline/internal/gateway"
)

// api abstracts the Slack Web API methods we use, enabling test mocks.
type api interface {
	AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slackapi.GetConversationHistoryParameters) (*slackapi.GetConversationHistoryResponse, error)
	GetConversationRepliesContext(ctx context.Context, params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error)
	GetReactionsContext(ctx context.Context, item slackapi.ItemRef, params slackapi.GetReactionsParameters) ([]slackapi.ItemReaction, error)
	AddReactionContext(ctx context.Context, name string, item slackapi.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slackapi.ItemRef) error
	OpenConversationContext(ctx context.Context, params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error)
	UploadFileV2Context(ctx context.Context, params slackapi.UploadFileV2Parameters) (*slackapi.FileSummary, error)
	CreateConversationContext(ctx context.Context, params slackapi.CreateConversationParams) (*slackapi.Channel, error)
	ArchiveConversationContext(ctx context.Context, channelID string) error
}

// Client implements chat.Client for Slack.
type Client struct {
	api api
	gw  *gateway.Gateway

	mu        sync.Mutex
	botUserID string
}

// Opts holds parameters for creating a Slack Client.
type Opts struct {
	BotToken string // xoxb-... Slack bot token
	Gateway  *gateway.Gateway

	// For testing: inject a mock API instead of the real Slack client.
	API api
}

// Classify recognizes Slack rate-limit errors for the gateway, returning
// the server-provided Retry-After hint.
func Classify(err error) (time.Duration, bool) {
	var rle *slackapi.RateLimitedError
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	return 0, false
}

// New creates a Slack Client and verifies credentials with an auth probe.
// Missing or invalid credentials fail fast here rather than surfacing later
// in a degraded steady state.
func New(ctx context.Context, opts Opts) (*Client, error) {
	if opts.API == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("slack: gateway is required")
	}

	c := &Client{api: opts.API, gw: opts.Gateway}
	if c.api == nil {
		c.api = slackapi.New(opts.BotToken)
	}

	var auth *slackapi.AuthTestResponse
	err := c.gw.Call(ctx, "auth.test", func() error {
		var apiErr error
		auth, apiErr = c.api.AuthTestContext(ctx)
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}
	c.botUserID = auth.UserID
	return c, nil
}

// Identity returns the bot's Slack user ID.
func (c *Client) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botUserID
}

// PostMessage posts text to a channel, optionally as a thread reply or with
// a sender display override. Returns the message's ts sequence token.
func (c *Client) PostMessage(ctx context.Context, channelID, text string, opts chat.PostOpts) (string, error) {
	options := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if opts.ThreadRoot != "" {
		options = append(options, slackapi.MsgOptionTS(opts.ThreadRoot))
	}
	if opts.Username != "" {
		options = append(options, slackapi.MsgOptionUsername(opts.Username))
	}

	var seq string
	err := c.gw.Call(ctx, "chat.postMessage", func() error {
		var apiErr error
		_, seq, apiErr = c.api.PostMessageContext(ctx, channelID, options...)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: post message: %w", err)
	}
	return seq, nil
}

// History fetches channel messages strictly after afterSeq, oldest first.
func (c *Client) History(ctx context.Context, channelID, afterSeq string, limit int) ([]chat.Message, error) {
	params := &slackapi.GetConversationHistoryParameters{
		ChannelID: channelID,
		Oldest:    afterSeq,
		Limit:     limit,
	}

	var resp *slackapi.GetConversationHistoryResponse
	err := c.gw.Call(ctx, "conversations.history", func() error {
		var apiErr error
		resp, apiErr = c.api.GetConversationHistoryContext(ctx, params)
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("slack: conversation history: %w", err)
	}

	out := make([]chat.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, c.convert(channelID, m))
	}
	// Slack returns newest first; callers expect oldest first.
	sort.Slice(out, func(i, j int) bool { return chat.SeqLess(out[i].Seq, out[j].Seq) })
	return out, nil
}

// Replies fetches thread replies strictly after afterSeq, excluding the
// root message itself.
func (c *Client) Replies(ctx context.Context, channelID, threadRoot, afterSeq string, limit int) ([]chat.Message, error) {
	params := &slackapi.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: threadRoot,
		Oldest:    afterSeq,
		Limit:     limit,
	}

	var msgs []slackapi.Message
	err := c.gw.Call(ctx, "conversations.replies", func() error {
		var apiErr error
		msgs, _, _, apiErr = c.api.GetConversationRepliesContext(ctx, params)
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("slack: conversation replies: %w", err)
	}

	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Timestamp == threadRoot {
			continue // the root itself, not a reply
		}
		cm := c.convert(channelID, m)
		if cm.ThreadRoot == "" {
			cm.ThreadRoot = threadRoot
		}
		out = append(out, cm)
	}
	sort.Slice(out, func(i, j int) bool { return chat.SeqLess(out[i].Seq, out[j].Seq) })
	return out, nil
}

// Reactions lists the reactions on a message.
func (c *Client) Reactions(ctx context.Context, channelID, seq string) ([]chat.Reaction, error) {
	ref := slackapi.NewRefToMessage(channelID, seq)

	var items []slackapi.ItemReaction
	err := c.gw.Call(ctx, "reactions.get", func() error {
		var apiErr error
		items, apiErr = c.api.GetReactionsContext(ctx, ref, slackapi.GetReactionsParameters{Full: true})
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("slack: get reactions: %w", err)
	}

	out := make([]chat.Reaction, 0, len(items))
	for _, it := range items {
		out = append(out, chat.Reaction{Name: it.Name, Users: it.Users})
	}
	return out, nil
}

// AddReaction adds an emoji reaction to a message.
func (c *Client) AddReaction(ctx context.Context, channelID, seq, name string) error {
	ref := slackapi.NewRefToMessage(channelID, seq)
	err := c.gw.Call(ctx, "reactions.add", func() error {
		return c.api.AddReactionContext(ctx, name, ref)
	})
	if err != nil {
		return fmt.Errorf("slack: add reaction: %w", err)
	}
	return nil
}

// RemoveReaction removes the bot's emoji reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, channelID, seq, name string) error {
	ref := slackapi.NewRefToMessage(channelID, seq)
	err := c.gw.Call(ctx, "reactions.remove", func() error {
		return c.api.RemoveReactionContext(ctx, name, ref)
	})
	if err != nil {
		return fmt.Errorf("slack: remove reaction: %w", err)
	}
	return nil
}

// OpenDM opens (or resumes) a direct conversation with a user.
func (c *Client) OpenDM(ctx context.Context, userID string) (string, error) {
	var ch *slackapi.Channel
	err := c.gw.Call(ctx, "conversations.open", func() error {
		var apiErr error
		ch, _, _, apiErr = c.api.OpenConversationContext(ctx, &slackapi.OpenConversationParameters{
			Users:    []string{userID},
			ReturnIM: true,
		})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: open dm: %w", err)
	}
	return ch.ID, nil
}

// UploadFile uploads a file snippet to a channel.
func (c *Client) UploadFile(ctx context.Context, channelID, filename, title string, content []byte) error {
	err := c.gw.Call(ctx, "files.upload", func() error {
		_, apiErr := c.api.UploadFileV2Context(ctx, slackapi.UploadFileV2Parameters{
			Channel:  channelID,
			Filename: filename,
			Title:    title,
			FileSize: len(content),
			Reader:   bytes.NewReader(content),
		})
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: upload file: %w", err)
	}
	return nil
}

// CreateChannel creates a channel and returns its ID.
func (c *Client) CreateChannel(ctx context.Context, name string, private bool) (string, error) {
	var ch *slackapi.Channel
	err := c.gw.Call(ctx, "conversations.create", func() error {
		var apiErr error
		ch, apiErr = c.api.CreateConversationContext(ctx, slackapi.CreateConversationParams{
			ChannelName: name,
			IsPrivate:   private,
		})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: create channel: %w", err)
	}
	return ch.ID, nil
}

// ArchiveChannel archives a channel.
func (c *Client) ArchiveChannel(ctx context.Context, channelID string) error {
	err := c.gw.Call(ctx, "conversations.archive", func() error {
		return c.api.ArchiveConversationContext(ctx, channelID)
	})
	if err != nil {
		return fmt.Errorf("slack: archive channel: %w", err)
	}
	return nil
}

// Close is a no-op for the Web API client.
func (c *Client) Close() error { return nil }

// convert maps a Slack message to Trunkline's shape. The raw payload is
// preserved as JSON for downstream consumers.
func (c *Client) convert(channelID string, m slackapi.Message) chat.Message {
	threadRoot := m.ThreadTimestamp
	if threadRoot == m.Timestamp {
		threadRoot = "" // thread parents carry their own ts here
	}
	raw, err := json.Marshal(m)
	if err != nil {
		raw = nil
	}
	return chat.Message{
		ChannelID:  channelID,
		Seq:        m.Timestamp,
		ThreadRoot: threadRoot,
		SenderID:   m.User,
		SenderName: m.Username,
		Text:       m.Text,
		Raw:        string(raw),
		Timestamp:  parseTimestamp(m.Timestamp),
	}
}

// parseTimestamp converts a Slack ts (e.g. "1234567890.123456") to a time.
func parseTimestamp(ts string) time.Time {
	major, _, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(major, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

