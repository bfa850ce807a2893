// Package operator wires one process's view of the coordination layer: the
// shared store, the rate-limited gateway, the platform client, and the
// ingestion pipeline, behind the tool surface other components call. One
// Service is constructed per process and passed explicitly; there is no
// package-level state.
package operator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zulandar/trunkline/internal/chat"
	"github.com/zulandar/trunkline/internal/chat/discord"
	"github.com/zulandar/trunkline/internal/chat/slack"
	"github.com/zulandar/trunkline/internal/config"
	"github.com/zulandar/trunkline/internal/consensus"
	"github.com/zulandar/trunkline/internal/db"
	"github.com/zulandar/trunkline/internal/digest"
	"github.com/zulandar/trunkline/internal/gateway"
	"github.com/zulandar/trunkline/internal/ingest"
	"github.com/zulandar/trunkline/internal/lease"
	"github.com/zulandar/trunkline/internal/models"
	"github.com/zulandar/trunkline/internal/shellscan"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service owns one process's handles. Construct with New, share freely;
// all methods are safe for concurrent use.
type Service struct {
	cfg      *config.Config
	db       *gorm.DB
	gw       *gateway.Gateway
	client   chat.Client
	pipeline *ingest.Pipeline
	self     string
}

// Opts holds parameters for creating a Service. DB, Gateway, and Client are
// built from Config when nil; tests inject their own.
type Opts struct {
	Config  *config.Config
	DB      *gorm.DB
	Gateway *gateway.Gateway
	Client  chat.Client
}

// New creates a Service. Credential problems surface here, at startup,
// because the platform clients run an auth probe on construction.
func New(ctx context.Context, opts Opts) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("operator: config is required")
	}

	s := &Service{
		cfg:  cfg,
		db:   opts.DB,
		gw:   opts.Gateway,
		self: fmt.Sprintf("%s-%d", cfg.Identity, os.Getpid()),
	}

	if s.db == nil {
		conn, err := db.Connect(db.Options{
			Driver:   cfg.Store.Driver,
			Path:     cfg.Store.Path,
			Host:     cfg.Store.Host,
			Port:     cfg.Store.Port,
			Database: cfg.Store.Database,
			User:     cfg.Store.User,
			Password: cfg.Store.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("operator: %w", err)
		}
		if err := db.AutoMigrate(conn); err != nil {
			return nil, fmt.Errorf("operator: %w", err)
		}
		s.db = conn
	}

	if s.gw == nil {
		s.gw = gateway.New(gateway.Opts{
			Burst:           cfg.Gateway.Burst,
			RefillPerMinute: cfg.Gateway.RefillPerMinute,
			RetryBudget:     cfg.Gateway.RetryBudget,
			BaseBackoff:     cfg.Gateway.BaseBackoff(),
			MaxBackoff:      cfg.Gateway.MaxBackoff(),
			Classify:        classifierFor(cfg.Platform.Kind),
		})
	}

	s.client = opts.Client
	if s.client == nil {
		client, err := buildClient(ctx, cfg, s.gw)
		if err != nil {
			return nil, err
		}
		s.client = client
	}

	s.pipeline = ingest.New(ingest.Opts{
		DB:            s.db,
		Client:        s.client,
		Self:          s.self,
		Channels:      cfg.AllChannels(),
		Identities:    allIdentities(cfg),
		PageSize:      cfg.Ingest.PageSize,
		ThreadPollCap: cfg.Ingest.ThreadPollCap,
		LeaseTTL:      cfg.Lease.TTL(),
	})
	return s, nil
}

func buildClient(ctx context.Context, cfg *config.Config, gw *gateway.Gateway) (chat.Client, error) {
	switch cfg.Platform.Kind {
	case "discord":
		return discord.New(ctx, discord.Opts{
			BotToken: cfg.Platform.BotToken,
			GuildID:  cfg.Platform.GuildID,
			Gateway:  gw,
		})
	default:
		return slack.New(ctx, slack.Opts{
			BotToken: cfg.Platform.BotToken,
			Gateway:  gw,
		})
	}
}

func classifierFor(kind string) gateway.Classifier {
	if kind == "discord" {
		return discord.Classify
	}
	return slack.Classify
}

func allIdentities(cfg *config.Config) []string {
	var out []string
	out = append(out, cfg.Identities.Members...)
	out = append(out, cfg.Identities.Roles...)
	out = append(out, cfg.Identities.Personas...)
	return out
}

// Accessors for the status endpoint and CLI.

func (s *Service) DB() *gorm.DB              { return s.db }
func (s *Service) Gateway() *gateway.Gateway { return s.gw }
func (s *Service) Client() chat.Client       { return s.client }
func (s *Service) Config() *config.Config    { return s.cfg }
func (s *Service) Self() string              { return s.self }

// IngestNow runs one ingestion cycle immediately.
func (s *Service) IngestNow(ctx context.Context) (ingest.CycleStats, error) {
	return s.pipeline.PollCycle(ctx)
}

// GetUnread returns unread inbox events, oldest fetch first. An empty
// channel returns the backlog across all channels.
func (s *Service) GetUnread(channelID string) ([]models.InboxEvent, error) {
	return Unread(s.db, channelID)
}

// Unread is the store-level query behind GetUnread, usable without a
// platform client (the CLI reads the shared store directly).
func Unread(db *gorm.DB, channelID string) ([]models.InboxEvent, error) {
	q := db.Where("status = ?", models.EventUnread)
	if channelID != "" {
		q = q.Where("channel_id = ?", channelID)
	}
	var events []models.InboxEvent
	if err := q.Order("id").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("operator: get unread: %w", err)
	}
	return events, nil
}

// MarkRead transitions a channel's unread events to read, recording the
// actor. Returns how many rows changed.
func (s *Service) MarkRead(channelID, actor string) (int64, error) {
	return MarkRead(s.db, channelID, actor)
}

// MarkRead is the store-level transition behind Service.MarkRead.
func MarkRead(db *gorm.DB, channelID, actor string) (int64, error) {
	now := time.Now()
	res := db.Model(&models.InboxEvent{}).
		Where("channel_id = ? AND status = ?", channelID, models.EventUnread).
		Updates(map[string]interface{}{
			"status":  models.EventRead,
			"read_at": now,
			"read_by": actor,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("operator: mark read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SendMessage posts to a channel and watermarks the channel cursor with the
// returned token so the poller never re-ingests our own message. Top-level
// sends register the new message as a watched thread; replies to it then
// fold into ingestion automatically.
func (s *Service) SendMessage(ctx context.Context, channelID, text string, opts chat.PostOpts) (string, error) {
	seq, err := s.client.PostMessage(ctx, channelID, text, opts)
	if err != nil {
		return "", fmt.Errorf("operator: send: %w", err)
	}
	if err := ingest.Watermark(s.db, channelID, seq); err != nil {
		return seq, fmt.Errorf("operator: watermark: %w", err)
	}
	root := opts.ThreadRoot
	if root == "" {
		root = seq
	}
	if err := s.WatchThread(channelID, root, ""); err != nil {
		return seq, err
	}
	return seq, nil
}

// WatchThread registers a thread for reply ingestion. Re-registering an
// already watched thread is a no-op.
func (s *Service) WatchThread(channelID, threadRoot, context string) error {
	wt := models.WatchedThread{
		ChannelID:  channelID,
		ThreadRoot: threadRoot,
		Context:    context,
		CreatedAt:  time.Now(),
	}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&wt).Error
	if err != nil {
		return fmt.Errorf("operator: watch thread: %w", err)
	}
	return nil
}

// PullMentions drains the mention queue for an identity, marking the
// returned notices delivered.
func (s *Service) PullMentions(identity string) ([]models.MentionNotice, error) {
	return PullMentions(s.db, identity)
}

// PullMentions is the store-level drain behind Service.PullMentions.
func PullMentions(db *gorm.DB, identity string) ([]models.MentionNotice, error) {
	var notices []models.MentionNotice
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("identity = ? AND delivered = ?", identity, false).
			Order("id").Find(&notices).Error; err != nil {
			return err
		}
		if len(notices) == 0 {
			return nil
		}
		ids := make([]uint, len(notices))
		for i, n := range notices {
			ids[i] = n.ID
		}
		return tx.Model(&models.MentionNotice{}).
			Where("id IN ?", ids).Update("delivered", true).Error
	})
	if err != nil {
		return nil, fmt.Errorf("operator: pull mentions: %w", err)
	}
	return notices, nil
}

// CreateApproval opens an approve/deny request in the coordination channel.
func (s *Service) CreateApproval(ctx context.Context, requestor, description string, deciders []string) (*models.ConsensusRequest, error) {
	return consensus.Create(ctx, s.db, s.client, consensus.CreateOpts{
		Kind:          models.ConsensusApproval,
		Requestor:     requestor,
		Description:   description,
		ChannelID:     s.cfg.Platform.Channel,
		Deciders:      deciders,
		NotifyChannel: s.cfg.Consensus.NotifyChannel,
	})
}

// CreatePermissionRequest scans a shell command and, when it trips the
// danger classifier, opens a permission-grant request naming every trigger.
// Benign commands return (nil, false, nil): no grant needed.
func (s *Service) CreatePermissionRequest(ctx context.Context, requestor, command string, deciders []string) (*models.ConsensusRequest, bool, error) {
	verdict := shellscan.Scan(command)
	if !verdict.NeedsGrant {
		return nil, false, nil
	}
	desc := fmt.Sprintf("run `%s` (%s)", command, strings.Join(verdict.Reasons, "; "))
	req, err := consensus.Create(ctx, s.db, s.client, consensus.CreateOpts{
		Kind:          models.ConsensusPermission,
		Requestor:     requestor,
		Description:   desc,
		ChannelID:     s.cfg.Platform.Channel,
		Deciders:      deciders,
		NotifyChannel: s.cfg.Consensus.NotifyChannel,
	})
	if err != nil {
		return nil, true, err
	}
	return req, true, nil
}

// ResolveConsensus applies a direct decision; see consensus.Resolve for the
// conflict semantics.
func (s *Service) ResolveConsensus(id, decision, decider string) error {
	return consensus.Resolve(s.db, id, decision, decider)
}

// AwaitConsensus blocks on a request with the configured timeout and poll
// cadence.
func (s *Service) AwaitConsensus(ctx context.Context, id string) (*models.ConsensusRequest, error) {
	return consensus.Await(ctx, s.db, s.client, id, consensus.AwaitOpts{
		Timeout:      s.cfg.Consensus.Timeout(),
		PollInterval: s.cfg.Consensus.PollInterval(),
	})
}

// ListPendingConsensus returns unresolved requests, oldest first.
func (s *Service) ListPendingConsensus() ([]models.ConsensusRequest, error) {
	return consensus.ListPending(s.db)
}

// BuildDigest summarizes a channel's unread backlog as chat-ready text.
// An empty channel digests everything.
func (s *Service) BuildDigest(channelID string) (string, error) {
	events, err := s.GetUnread(channelID)
	if err != nil {
		return "", err
	}
	return digest.Format(digest.Build(events, digest.Opts{})), nil
}

// Sweep runs the retention sweep with the configured windows.
func (s *Service) Sweep() (ingest.SweepStats, error) {
	return ingest.Sweep(s.db, s.cfg.Ingest.InboxRetention(), s.cfg.Ingest.ThreadRetention())
}

// Close releases the poller lease if held and shuts down the client.
func (s *Service) Close() error {
	if err := lease.Release(s.db, s.self); err != nil {
		return err
	}
	return s.client.Close()
}
