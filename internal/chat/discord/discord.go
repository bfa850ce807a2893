// Package discord implements the Trunkline chat client for Discord over the
// REST API. Snowflake message IDs serve as sequence tokens; Discord threads
// are channels whose ID equals the root message ID.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/trunkline/internal/chat"
	"github.com/zulandar/trunkline/internal/gateway"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactions(channelID, messageID, emojiID string, limit int, beforeID, afterID string, options ...discordgo.RequestOption) ([]*discordgo.User, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannelCreate(guildID, name string, ctype discordgo.ChannelType, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Close() error
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	return r.s.User(userID, options...)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	return r.s.ChannelMessages(channelID, limit, beforeID, afterID, aroundID, options...)
}
func (r *realSession) ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessage(channelID, messageID, options...)
}
func (r *realSession) MessageReactions(channelID, messageID, emojiID string, limit int, beforeID, afterID string, options ...discordgo.RequestOption) ([]*discordgo.User, error) {
	return r.s.MessageReactions(channelID, messageID, emojiID, limit, beforeID, afterID, options...)
}
func (r *realSession) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	return r.s.MessageReactionAdd(channelID, messageID, emojiID, options...)
}
func (r *realSession) MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error {
	return r.s.MessageReactionRemove(channelID, messageID, emojiID, userID, options...)
}
func (r *realSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.UserChannelCreate(recipientID, options...)
}
func (r *realSession) GuildChannelCreate(guildID, name string, ctype discordgo.ChannelType, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.GuildChannelCreate(guildID, name, ctype, options...)
}
func (r *realSession) ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ChannelEditComplex(channelID, data, options...)
}
func (r *realSession) Close() error { return r.s.Close() }

// Client implements chat.Client for Discord.
type Client struct {
	sess    session
	gw      *gateway.Gateway
	guildID string

	mu        sync.Mutex
	botUserID string
}

// Opts holds parameters for creating a Discord Client.
type Opts struct {
	BotToken string
	GuildID  string // guild for channel creation
	Gateway  *gateway.Gateway

	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// Classify recognizes Discord rate-limit errors for the gateway. A
// RateLimitError carries the server's retry_after; a bare 429 REST error
// leaves the hint to the gateway's own backoff.
func Classify(err error) (time.Duration, bool) {
	var rle *discordgo.RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusTooManyRequests {
		return 0, true
	}
	return 0, false
}

// New creates a Discord Client and verifies credentials with a self lookup.
func New(ctx context.Context, opts Opts) (*Client, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("discord: gateway is required")
	}

	c := &Client{sess: opts.Session, gw: opts.Gateway, guildID: opts.GuildID}
	if c.sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		c.sess = &realSession{s: dg}
	}

	var me *discordgo.User
	err := c.gw.Call(ctx, "users.me", func() error {
		var apiErr error
		me, apiErr = c.sess.User("@me")
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("discord: auth probe: %w", err)
	}
	c.botUserID = me.ID
	return c, nil
}

// Identity returns the bot's Discord user ID.
func (c *Client) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botUserID
}

// PostMessage posts text to a channel. A ThreadRoot targets the thread
// channel directly since Discord threads are channels. Discord has no
// per-message sender override, so a Username is rendered as a bold prefix.
func (c *Client) PostMessage(ctx context.Context, channelID, text string, opts chat.PostOpts) (string, error) {
	target := channelID
	if opts.ThreadRoot != "" {
		target = opts.ThreadRoot
	}
	if opts.Username != "" {
		text = "**" + opts.Username + ":** " + text
	}

	var msg *discordgo.Message
	err := c.gw.Call(ctx, "channel.message.send", func() error {
		var apiErr error
		msg, apiErr = c.sess.ChannelMessageSendComplex(target, &discordgo.MessageSend{Content: text})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: send message: %w", err)
	}
	return msg.ID, nil
}

// History fetches channel messages strictly after afterSeq, oldest first.
func (c *Client) History(ctx context.Context, channelID, afterSeq string, limit int) ([]chat.Message, error) {
	msgs, err := c.channelMessages(ctx, channelID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("discord: channel history: %w", err)
	}

	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, convert(channelID, "", m))
	}
	sortBySeq(out)
	return out, nil
}

// Replies fetches thread messages strictly after afterSeq. The thread
// channel's ID is the root message ID, and the root itself lives in the
// parent channel, so no root filtering is needed here.
func (c *Client) Replies(ctx context.Context, channelID, threadRoot, afterSeq string, limit int) ([]chat.Message, error) {
	msgs, err := c.channelMessages(ctx, threadRoot, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("discord: thread replies: %w", err)
	}

	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, convert(channelID, threadRoot, m))
	}
	sortBySeq(out)
	return out, nil
}

func (c *Client) channelMessages(ctx context.Context, channelID, afterSeq string, limit int) ([]*discordgo.Message, error) {
	var msgs []*discordgo.Message
	err := c.gw.Call(ctx, "channel.messages", func() error {
		var apiErr error
		msgs, apiErr = c.sess.ChannelMessages(channelID, limit, "", afterSeq, "")
		return apiErr
	})
	return msgs, err
}

// Reactions lists the reactions on a message, resolving the users behind
// each emoji. One extra call per distinct emoji.
func (c *Client) Reactions(ctx context.Context, channelID, seq string) ([]chat.Reaction, error) {
	var msg *discordgo.Message
	err := c.gw.Call(ctx, "channel.message", func() error {
		var apiErr error
		msg, apiErr = c.sess.ChannelMessage(channelID, seq)
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("discord: get message: %w", err)
	}

	out := make([]chat.Reaction, 0, len(msg.Reactions))
	for _, r := range msg.Reactions {
		if r.Emoji == nil {
			continue
		}
		emoji := r.Emoji.APIName()

		var users []*discordgo.User
		err := c.gw.Call(ctx, "message.reactions", func() error {
			var apiErr error
			users, apiErr = c.sess.MessageReactions(channelID, seq, emoji, 100, "", "")
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("discord: reaction users: %w", err)
		}

		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		out = append(out, chat.Reaction{Name: r.Emoji.Name, Users: ids})
	}
	return out, nil
}

// AddReaction adds an emoji reaction to a message.
func (c *Client) AddReaction(ctx context.Context, channelID, seq, name string) error {
	err := c.gw.Call(ctx, "reaction.add", func() error {
		return c.sess.MessageReactionAdd(channelID, seq, name)
	})
	if err != nil {
		return fmt.Errorf("discord: add reaction: %w", err)
	}
	return nil
}

// RemoveReaction removes the bot's emoji reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, channelID, seq, name string) error {
	err := c.gw.Call(ctx, "reaction.remove", func() error {
		return c.sess.MessageReactionRemove(channelID, seq, name, "@me")
	})
	if err != nil {
		return fmt.Errorf("discord: remove reaction: %w", err)
	}
	return nil
}

// OpenDM opens (or resumes) a direct message channel with a user.
func (c *Client) OpenDM(ctx context.Context, userID string) (string, error) {
	var ch *discordgo.Channel
	err := c.gw.Call(ctx, "user.channel.create", func() error {
		var apiErr error
		ch, apiErr = c.sess.UserChannelCreate(userID)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: open dm: %w", err)
	}
	return ch.ID, nil
}

// UploadFile posts a file attachment to a channel.
func (c *Client) UploadFile(ctx context.Context, channelID, filename, title string, content []byte) error {
	err := c.gw.Call(ctx, "channel.file.send", func() error {
		_, apiErr := c.sess.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content: title,
			Files: []*discordgo.File{
				{Name: filename, Reader: bytes.NewReader(content)},
			},
		})
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: upload file: %w", err)
	}
	return nil
}

// CreateChannel creates a text channel in the configured guild. Discord
// privacy is permission-overwrite based, so private is accepted for
// interface parity but the channel inherits guild defaults.
func (c *Client) CreateChannel(ctx context.Context, name string, private bool) (string, error) {
	if c.guildID == "" {
		return "", fmt.Errorf("discord: create channel: no guild configured")
	}
	var ch *discordgo.Channel
	err := c.gw.Call(ctx, "guild.channel.create", func() error {
		var apiErr error
		ch, apiErr = c.sess.GuildChannelCreate(c.guildID, name, discordgo.ChannelTypeGuildText)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: create channel: %w", err)
	}
	return ch.ID, nil
}

// ArchiveChannel archives a thread channel.
func (c *Client) ArchiveChannel(ctx context.Context, channelID string) error {
	archived := true
	err := c.gw.Call(ctx, "channel.edit", func() error {
		_, apiErr := c.sess.ChannelEditComplex(channelID, &discordgo.ChannelEdit{Archived: &archived})
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: archive channel: %w", err)
	}
	return nil
}

// Close shuts down the underlying session.
func (c *Client) Close() error {
	return c.sess.Close()
}

// convert maps a Discord message to Trunkline's shape.
func convert(channelID, threadRoot string, m *discordgo.Message) chat.Message {
	var senderID, senderName string
	if m.Author != nil {
		senderID = m.Author.ID
		senderName = m.Author.Username
	}
	raw, err := json.Marshal(m)
	if err != nil {
		raw = nil
	}
	ts, _ := discordgo.SnowflakeTimestamp(m.ID)
	return chat.Message{
		ChannelID:  channelID,
		Seq:        m.ID,
		ThreadRoot: threadRoot,
		SenderID:   senderID,
		SenderName: senderName,
		Text:       m.Content,
		Raw:        string(raw),
		Timestamp:  ts,
	}
}

func sortBySeq(msgs []chat.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		return snowflakeLess(msgs[i].Seq, msgs[j].Seq)
	})
}

// snowflakeLess compares two snowflake IDs numerically.
func snowflakeLess(a, b string) bool {
	av, _ := strconv.ParseUint(a, 10, 64)
	bv, _ := strconv.ParseUint(b, 10, 64)
	return av < bv
}
