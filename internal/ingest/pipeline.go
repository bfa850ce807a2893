// Package ingest implements the polling ingestion pipeline: channel history
// and watched-thread replies are fetched after the stored cursor, deduplicated
// against the shared inbox, fanned out to mention queues, and the cursor
// advanced to the newest token observed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/trunkline/internal/chat"
	"github.com/zulandar/trunkline/internal/gateway"
	"github.com/zulandar/trunkline/internal/lease"
	"github.com/zulandar/trunkline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPageSize      = 200
	defaultThreadPollCap = 10
)

// Opts holds parameters for creating a Pipeline.
type Opts struct {
	DB     *gorm.DB
	Client chat.Client

	// Self identifies this process for the poller lease.
	Self string

	// Channels are polled every cycle, in order.
	Channels []string

	// Identities are the member/role/persona names mention fan-out
	// matches against message bodies.
	Identities []string

	PageSize      int
	ThreadPollCap int
	LeaseTTL      time.Duration
}

// Pipeline polls the chat platform into the shared inbox. Every process runs
// one, but only the lease holder does remote work in a given cycle.
type Pipeline struct {
	db            *gorm.DB
	client        chat.Client
	self          string
	channels      []string
	identities    []string
	pageSize      int
	threadPollCap int
	leaseTTL      time.Duration
}

// CycleStats reports what one poll cycle did.
type CycleStats struct {
	Polled     bool // false when the lease was held elsewhere
	Fetched    int
	Inserted   int
	Duplicates int
	Mentions   int
	Errors     int // channels or threads skipped on non-throttle errors
}

// New creates a Pipeline.
func New(opts Opts) *Pipeline {
	p := &Pipeline{
		db:            opts.DB,
		client:        opts.Client,
		self:          opts.Self,
		channels:      opts.Channels,
		identities:    opts.Identities,
		pageSize:      opts.PageSize,
		threadPollCap: opts.ThreadPollCap,
		leaseTTL:      opts.LeaseTTL,
	}
	if p.pageSize <= 0 {
		p.pageSize = defaultPageSize
	}
	if p.threadPollCap <= 0 {
		p.threadPollCap = defaultThreadPollCap
	}
	return p
}

// PollCycle runs one ingestion cycle. When the lease is held by another
// process the cycle is a no-op. A throttle that survives the gateway's
// retry budget aborts the remainder of the cycle; any other per-channel
// error is logged and the next channel polled.
func (p *Pipeline) PollCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	if !lease.TryAcquireOrRenew(p.db, p.self, p.leaseTTL) {
		return stats, nil
	}
	stats.Polled = true

	budget := p.threadPollCap
	for _, channelID := range p.channels {
		err := p.pollChannel(ctx, channelID, &stats, &budget)
		if err == nil {
			continue
		}
		var th *gateway.Throttled
		if errors.As(err, &th) {
			// The platform is pushing back; the rest of the cycle
			// would only make it worse.
			log.Printf("ingest: throttled on %s, aborting cycle: %v", channelID, err)
			return stats, err
		}
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Errors++
		log.Printf("ingest: channel %s: %v", channelID, err)
	}
	return stats, nil
}

// pollChannel ingests one channel's history plus its watched threads,
// then advances the cursor. budget caps watched-thread fetches per cycle
// across all channels.
func (p *Pipeline) pollChannel(ctx context.Context, channelID string, stats *CycleStats, budget *int) error {
	cursor := p.loadCursor(channelID)

	msgs, err := p.client.History(ctx, channelID, cursor, p.pageSize)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	var threads []models.WatchedThread
	if err := p.db.Where("channel_id = ?", channelID).
		Order("created_at").Find(&threads).Error; err != nil {
		return fmt.Errorf("watched threads: %w", err)
	}
	for _, wt := range threads {
		if *budget <= 0 {
			break
		}
		*budget--
		replies, err := p.client.Replies(ctx, channelID, wt.ThreadRoot, cursor, p.pageSize)
		if err != nil {
			var th *gateway.Throttled
			if errors.As(err, &th) {
				return fmt.Errorf("replies %s: %w", wt.ThreadRoot, err)
			}
			stats.Errors++
			log.Printf("ingest: thread %s/%s: %v", channelID, wt.ThreadRoot, err)
			continue
		}
		msgs = append(msgs, replies...)
	}

	return p.store(channelID, cursor, msgs, stats)
}

// store deduplicates, inserts, fans out mentions, and advances the cursor
// in one transaction.
func (p *Pipeline) store(channelID, cursor string, msgs []chat.Message, stats *CycleStats) error {
	self := p.client.Identity()

	// A page can carry the same token twice (thread roots appear in both
	// history and replies); collapse before touching the store.
	seen := make(map[string]bool, len(msgs))
	maxSeq := cursor
	var candidates []chat.Message
	for _, m := range msgs {
		if maxSeq == "" || chat.SeqLess(maxSeq, m.Seq) {
			maxSeq = m.Seq
		}
		if seen[m.Seq] {
			stats.Duplicates++
			continue
		}
		seen[m.Seq] = true
		if m.SenderID == self && self != "" {
			continue
		}
		candidates = append(candidates, m)
	}
	stats.Fetched += len(msgs)

	return p.db.Transaction(func(tx *gorm.DB) error {
		for _, m := range candidates {
			row := models.InboxEvent{
				ChannelID:  m.ChannelID,
				SeqToken:   m.Seq,
				ThreadRoot: m.ThreadRoot,
				SenderID:   m.SenderID,
				Body:       m.Text,
				Raw:        m.Raw,
				Status:     models.EventUnread,
				FetchedAt:  time.Now(),
			}
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if result.Error != nil {
				return fmt.Errorf("insert event: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				// Already ingested in a previous cycle.
				stats.Duplicates++
				continue
			}
			stats.Inserted++
			stats.Mentions += fanOutMentions(tx, p.identities, m)
		}
		if maxSeq != cursor && maxSeq != "" {
			if err := advanceCursor(tx, channelID, maxSeq); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Pipeline) loadCursor(channelID string) string {
	var rec models.ChannelCursor
	if err := p.db.Where("channel_id = ?", channelID).First(&rec).Error; err != nil {
		return ""
	}
	return rec.LastSeq
}

// advanceCursor moves the channel cursor forward, never backward. The
// compare runs under the caller's transaction so concurrent writers cannot
// interleave a regression.
func advanceCursor(tx *gorm.DB, channelID, seq string) error {
	var rec models.ChannelCursor
	err := tx.Where("channel_id = ?", channelID).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		rec = models.ChannelCursor{ChannelID: channelID, LastSeq: seq}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("create cursor: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	if !chat.SeqLess(rec.LastSeq, seq) {
		return nil
	}
	if err := tx.Model(&rec).Update("last_seq", seq).Error; err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// Watermark advances the channel cursor to seq (monotonic). The send path
// uses it so a poster never re-ingests its own message.
func Watermark(db *gorm.DB, channelID, seq string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		return advanceCursor(tx, channelID, seq)
	})
}

// Cursor returns the stored cursor for a channel, if any.
func Cursor(db *gorm.DB, channelID string) (string, bool) {
	var rec models.ChannelCursor
	if err := db.Where("channel_id = ?", channelID).First(&rec).Error; err != nil {
		return "", false
	}
	return rec.LastSeq, true
}
