package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockClient implements Client for testing. It keeps channels, threads, and
// reactions in memory and assigns Slack-style "sec.frac" sequence tokens.
type MockClient struct {
	mu       sync.Mutex
	identity string
	closed   bool
	seqCount int
	baseSec  int64

	messages  map[string][]Message            // channelID -> timeline
	replies   map[string][]Message            // channelID:root -> thread replies
	reactions map[string][]Reaction           // channelID:seq -> reactions
	dms       map[string]string               // userID -> DM channel ID
	files     map[string][]string             // channelID -> uploaded file names
	archived  map[string]bool                 // channelID -> archived
	failures  map[string]error                // op -> forced error
	posted    []Message                       // everything sent via PostMessage
}

// NewMockClient creates a MockClient with the given bot identity.
func NewMockClient(identity string) *MockClient {
	return &MockClient{
		identity:  identity,
		baseSec:   1_700_000_000,
		messages:  make(map[string][]Message),
		replies:   make(map[string][]Message),
		reactions: make(map[string][]Reaction),
		dms:       make(map[string]string),
		files:     make(map[string][]string),
		archived:  make(map[string]bool),
		failures:  make(map[string]error),
	}
}

// Identity returns the configured bot identity.
func (m *MockClient) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

func (m *MockClient) nextSeqLocked() string {
	m.seqCount++
	return fmt.Sprintf("%d.%06d", m.baseSec, m.seqCount)
}

// PostMessage records the message on the channel (or thread) timeline and
// returns its assigned sequence token.
func (m *MockClient) PostMessage(ctx context.Context, channelID, text string, opts PostOpts) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["post"]; err != nil {
		return "", err
	}
	seq := m.nextSeqLocked()
	msg := Message{
		ChannelID:  channelID,
		Seq:        seq,
		ThreadRoot: opts.ThreadRoot,
		SenderID:   m.identity,
		SenderName: opts.Username,
		Text:       text,
		Timestamp:  time.Now(),
	}
	if opts.ThreadRoot != "" {
		key := channelID + ":" + opts.ThreadRoot
		m.replies[key] = append(m.replies[key], msg)
	} else {
		m.messages[channelID] = append(m.messages[channelID], msg)
	}
	m.posted = append(m.posted, msg)
	return seq, nil
}

// History returns channel messages strictly after afterSeq.
func (m *MockClient) History(ctx context.Context, channelID, afterSeq string, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["history"]; err != nil {
		return nil, err
	}
	return filterAfter(m.messages[channelID], afterSeq, limit), nil
}

// Replies returns thread replies strictly after afterSeq.
func (m *MockClient) Replies(ctx context.Context, channelID, threadRoot, afterSeq string, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["replies"]; err != nil {
		return nil, err
	}
	return filterAfter(m.replies[channelID+":"+threadRoot], afterSeq, limit), nil
}

// Reactions returns the reactions recorded on a message.
func (m *MockClient) Reactions(ctx context.Context, channelID, seq string) ([]Reaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["reactions"]; err != nil {
		return nil, err
	}
	out := make([]Reaction, len(m.reactions[channelID+":"+seq]))
	copy(out, m.reactions[channelID+":"+seq])
	return out, nil
}

// AddReaction records a reaction from the bot identity.
func (m *MockClient) AddReaction(ctx context.Context, channelID, seq, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["add_reaction"]; err != nil {
		return err
	}
	m.addReactionLocked(channelID, seq, name, m.identity)
	return nil
}

// RemoveReaction removes the bot identity from a reaction.
func (m *MockClient) RemoveReaction(ctx context.Context, channelID, seq, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := channelID + ":" + seq
	for i, r := range m.reactions[key] {
		if r.Name != name {
			continue
		}
		users := r.Users[:0]
		for _, u := range r.Users {
			if u != m.identity {
				users = append(users, u)
			}
		}
		m.reactions[key][i].Users = users
	}
	return nil
}

// OpenDM returns a synthetic DM channel ID for the user.
func (m *MockClient) OpenDM(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.dms[userID]; ok {
		return ch, nil
	}
	ch := "D" + strings.ToUpper(userID)
	m.dms[userID] = ch
	return ch, nil
}

// UploadFile records the uploaded file name against the channel.
func (m *MockClient) UploadFile(ctx context.Context, channelID, filename, title string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[channelID] = append(m.files[channelID], filename)
	return nil
}

// CreateChannel returns a synthetic channel ID.
func (m *MockClient) CreateChannel(ctx context.Context, name string, private bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return "C" + strings.ToUpper(name), nil
}

// ArchiveChannel marks a channel archived.
func (m *MockClient) ArchiveChannel(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived[channelID] = true
	return nil
}

// Close marks the client closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// --- Test helpers ---

// Seed appends a message from another identity to a channel timeline and
// returns its sequence token.
func (m *MockClient) Seed(channelID, senderID, text string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.nextSeqLocked()
	m.messages[channelID] = append(m.messages[channelID], Message{
		ChannelID: channelID,
		Seq:       seq,
		SenderID:  senderID,
		Text:      text,
		Timestamp: time.Now(),
	})
	return seq
}

// SeedReply appends a thread reply from another identity.
func (m *MockClient) SeedReply(channelID, threadRoot, senderID, text string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.nextSeqLocked()
	key := channelID + ":" + threadRoot
	m.replies[key] = append(m.replies[key], Message{
		ChannelID:  channelID,
		Seq:        seq,
		ThreadRoot: threadRoot,
		SenderID:   senderID,
		Text:       text,
		Timestamp:  time.Now(),
	})
	return seq
}

// SeedRaw appends a fully specified message, allowing duplicate tokens.
func (m *MockClient) SeedRaw(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ChannelID] = append(m.messages[msg.ChannelID], msg)
}

// React records a reaction from an arbitrary identity.
func (m *MockClient) React(channelID, seq, name, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addReactionLocked(channelID, seq, name, userID)
}

func (m *MockClient) addReactionLocked(channelID, seq, name, userID string) {
	key := channelID + ":" + seq
	for i, r := range m.reactions[key] {
		if r.Name == name {
			m.reactions[key][i].Users = append(r.Users, userID)
			return
		}
	}
	m.reactions[key] = append(m.reactions[key], Reaction{Name: name, Users: []string{userID}})
}

// FailWith forces the named operation ("post", "history", "replies",
// "reactions", "add_reaction") to return err. Nil clears the failure.
func (m *MockClient) FailWith(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Posted returns a copy of every message sent via PostMessage.
func (m *MockClient) Posted() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.posted))
	copy(out, m.posted)
	return out
}

// LastPosted returns the most recent posted message, if any.
func (m *MockClient) LastPosted() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.posted) == 0 {
		return Message{}, false
	}
	return m.posted[len(m.posted)-1], true
}

// filterAfter returns messages with seq strictly greater than afterSeq,
// sorted ascending, capped at limit.
func filterAfter(msgs []Message, afterSeq string, limit int) []Message {
	var out []Message
	for _, msg := range msgs {
		if afterSeq == "" || SeqLess(afterSeq, msg.Seq) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return SeqLess(out[i].Seq, out[j].Seq) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
