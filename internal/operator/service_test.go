package operator

import (
	"context"
	"strings"
	"testing"

	"github.com/zulandar/trunkline/internal/chat"
	"github.com/zulandar/trunkline/internal/config"
	"github.com/zulandar/trunkline/internal/db"
	"github.com/zulandar/trunkline/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*Service, *chat.MockClient) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	cfg := &config.Config{
		Identity: "ops",
		Platform: config.PlatformConfig{Kind: "slack", Channel: "C1"},
		Identities: config.IdentitiesConfig{
			Members: []string{"piper"},
			Roles:   []string{"oncall"},
		},
	}
	mock := chat.NewMockClient("bot")
	svc, err := New(context.Background(), Opts{Config: cfg, DB: conn, Client: mock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, mock
}

func TestSendMessage_WatermarksAndWatches(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	seq, err := svc.SendMessage(ctx, "C1", "status update", chat.PostOpts{})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	var cur models.ChannelCursor
	if err := svc.DB().First(&cur, "channel_id = ?", "C1").Error; err != nil {
		t.Fatalf("read cursor: %v", err)
	}
	if cur.LastSeq != seq {
		t.Errorf("cursor = %q, want watermark %q", cur.LastSeq, seq)
	}

	var wt models.WatchedThread
	if err := svc.DB().First(&wt, "channel_id = ? AND thread_root = ?", "C1", seq).Error; err != nil {
		t.Errorf("top-level send should register a watched thread: %v", err)
	}

	// The poller must not re-ingest our own message.
	stats, err := svc.IngestNow(ctx)
	if err != nil {
		t.Fatalf("IngestNow: %v", err)
	}
	if stats.Inserted != 0 {
		t.Errorf("inserted = %d, want 0 after watermark", stats.Inserted)
	}

	// A reply from someone else in the watched thread does get ingested.
	mock.SeedReply("C1", seq, "alice", "ack @piper")
	stats, err = svc.IngestNow(ctx)
	if err != nil {
		t.Fatalf("IngestNow: %v", err)
	}
	if stats.Inserted != 1 {
		t.Errorf("inserted = %d, want the thread reply", stats.Inserted)
	}
}

func TestGetUnreadAndMarkRead(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	mock.Seed("C1", "alice", "one")
	mock.Seed("C1", "bob", "two")
	if _, err := svc.IngestNow(ctx); err != nil {
		t.Fatalf("IngestNow: %v", err)
	}

	unread, err := svc.GetUnread("C1")
	if err != nil {
		t.Fatalf("GetUnread: %v", err)
	}
	if len(unread) != 2 {
		t.Fatalf("unread = %d, want 2", len(unread))
	}

	n, err := svc.MarkRead("C1", "ops")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if n != 2 {
		t.Errorf("marked = %d, want 2", n)
	}

	unread, _ = svc.GetUnread("C1")
	if len(unread) != 0 {
		t.Errorf("unread after mark = %d, want 0", len(unread))
	}

	var ev models.InboxEvent
	svc.DB().First(&ev)
	if ev.Status != models.EventRead || ev.ReadBy != "ops" || ev.ReadAt == nil {
		t.Errorf("event after mark = %+v", ev)
	}
}

func TestPullMentions_DrainsQueue(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	mock.Seed("C1", "alice", "hey @piper take a look")
	mock.Seed("C1", "bob", "@oncall we have a problem")
	if _, err := svc.IngestNow(ctx); err != nil {
		t.Fatalf("IngestNow: %v", err)
	}

	notices, err := svc.PullMentions("piper")
	if err != nil {
		t.Fatalf("PullMentions: %v", err)
	}
	if len(notices) != 1 {
		t.Fatalf("notices = %d, want 1", len(notices))
	}
	if !strings.Contains(notices[0].Excerpt, "take a look") {
		t.Errorf("excerpt = %q", notices[0].Excerpt)
	}

	again, err := svc.PullMentions("piper")
	if err != nil {
		t.Fatalf("second PullMentions: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second pull = %d notices, want 0", len(again))
	}

	// The oncall queue is untouched by piper's drain.
	oncall, _ := svc.PullMentions("oncall")
	if len(oncall) != 1 {
		t.Errorf("oncall notices = %d, want 1", len(oncall))
	}
}

func TestCreatePermissionRequest_BenignNeedsNoGrant(t *testing.T) {
	svc, mock := newTestService(t)

	req, needed, err := svc.CreatePermissionRequest(context.Background(), "builder", "ls -la", nil)
	if err != nil {
		t.Fatalf("CreatePermissionRequest: %v", err)
	}
	if needed || req != nil {
		t.Errorf("benign command should not need a grant, got needed=%v req=%v", needed, req)
	}
	if len(mock.Posted()) != 0 {
		t.Error("benign command should not post a prompt")
	}
}

func TestCreatePermissionRequest_DangerousOpensRequest(t *testing.T) {
	svc, mock := newTestService(t)

	req, needed, err := svc.CreatePermissionRequest(context.Background(), "builder", "rm -rf /srv/data", []string{"piper"})
	if err != nil {
		t.Fatalf("CreatePermissionRequest: %v", err)
	}
	if !needed || req == nil {
		t.Fatal("dangerous command should open a request")
	}
	if req.Kind != models.ConsensusPermission {
		t.Errorf("kind = %q, want permission", req.Kind)
	}
	if !strings.Contains(req.Description, "recursive delete") {
		t.Errorf("description should name the trigger, got %q", req.Description)
	}

	msg, ok := mock.LastPosted()
	if !ok || msg.ChannelID != "C1" {
		t.Errorf("prompt should post to the coordination channel, got %+v", msg)
	}
}

func TestApprovalRoundtrip(t *testing.T) {
	svc, _ := newTestService(t)

	req, err := svc.CreateApproval(context.Background(), "builder", "deploy v2", []string{"piper"})
	if err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}

	pending, err := svc.ListPendingConsensus()
	if err != nil {
		t.Fatalf("ListPendingConsensus: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != req.ID {
		t.Fatalf("pending = %+v", pending)
	}

	if err := svc.ResolveConsensus(req.ID, models.ConsensusApproved, "piper"); err != nil {
		t.Fatalf("ResolveConsensus: %v", err)
	}
	pending, _ = svc.ListPendingConsensus()
	if len(pending) != 0 {
		t.Errorf("pending after resolve = %d, want 0", len(pending))
	}
}

func TestBuildDigest(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	mock.Seed("C1", "alice", "first")
	mock.Seed("C1", "alice", "second")
	if _, err := svc.IngestNow(ctx); err != nil {
		t.Fatalf("IngestNow: %v", err)
	}

	out, err := svc.BuildDigest("C1")
	if err != nil {
		t.Fatalf("BuildDigest: %v", err)
	}
	if !strings.Contains(out, "2 unread") {
		t.Errorf("digest = %q", out)
	}
}

func TestWatchThread_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.WatchThread("C1", "100.1", "review thread"); err != nil {
		t.Fatalf("WatchThread: %v", err)
	}
	if err := svc.WatchThread("C1", "100.1", "review thread"); err != nil {
		t.Fatalf("second WatchThread: %v", err)
	}

	var n int64
	svc.DB().Model(&models.WatchedThread{}).Count(&n)
	if n != 1 {
		t.Errorf("watched threads = %d, want 1", n)
	}
}
