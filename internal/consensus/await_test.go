package consensus

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/trunkline/internal/chat"
	"github.com/zulandar/trunkline/internal/models"
)

var fastAwait = AwaitOpts{Timeout: 500 * time.Millisecond, PollInterval: 10 * time.Millisecond}

func TestAwait_ReactionApproves(t *testing.T) {
	db := openConsensusTestDB(t)
	mock := chat.NewMockClient("bot")
	req := createTestRequest(t, db, mock)

	mock.React("C1", req.PromptSeq, "+1", "alice")

	got, err := Await(context.Background(), db, mock, req.ID, fastAwait)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got.Status != models.ConsensusApproved || got.Decider != "alice" {
		t.Errorf("resolved = %s/%s, want approved/alice", got.Status, got.Decider)
	}

	// Visual ack: reaction swap plus threaded confirmation.
	last, ok := mock.LastPosted()
	if !ok || last.ThreadRoot != req.PromptSeq {
		t.Errorf("expected a threaded confirmation, got %+v", last)
	}
	if !strings.Contains(last.Text, "approved by @alice") {
		t.Errorf("confirmation text = %q", last.Text)
	}
}

func TestAwait_DenyReactionBeatsApprove(t *testing.T) {
	db := openConsensusTestDB(t)
	mock := chat.NewMockClient("bot")
	req := createTestRequest(t, db, mock)

	mock.React("C1", req.PromptSeq, "+1", "alice")
	mock.React("C1", req.PromptSeq, "-1", "bob")

	got, err := Await(context.Background(), db, mock, req.ID, fastAwait)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got.Status != models.ConsensusDenied || got.Decider != "bob" {
		t.Errorf("resolved = %s/%s, want denied/bob", got.Status, got.Decider)
	}
}

func TestAwait_IgnoresBotOnlyReactions(t *testing.T) {
	db := openConsensusTestDB(t)
	mock := chat.NewMockClient("bot")
	req := createTestRequest(t, db, mock)

	// Only the bot itself has reacted; that must not resolve anything.
	mock.React("C1", req.PromptSeq, "+1", "bot")

	_, err := Await(context.Background(), db, mock, req.ID, fastAwait)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
}

func TestAwait_ReplyDenies(t *testing.T) {
	db := openConsensusTestDB(t)
	mock := chat.NewMockClient("bot")
	req := createTestRequest(t, db, mock)

	mock.SeedReply("C1", req.PromptSeq, "carol", "No, hold off.")

	got, err := Await(context.Background(), db, mock, req.ID, fastAwait)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got.Status != models.ConsensusDenied || got.Decider != "carol" {
		t.Errorf("resolved = %s/%s, want denied/carol", got.Status, got.Decider)
	}
}

func TestAwait_OnlyLatestReplyCounts(t *testing.T) {
	db := openConsensusTestDB(t)
	mock := chat.NewMockClient("bot")
	req := createTestRequest(t, db, mock)

	// An early "yes" buried under later chatter must not resolve.
	mock.SeedReply("C1", req.PromptSeq, "alice", "yes")
	mock.SeedReply("C1", req.PromptSeq, "bob", "wait, let me check the logs first")

	_, err := Await(context.Background(), db, mock, req.ID, fastAwait)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}

	got, _ := Get(db, req.ID)
	if got.Status != models.ConsensusPending {
		t.Errorf("status after timeout = %q, want pending", got.Status)
	}
}

func TestAwait_TimeoutLeavesPending(t *testing.T) {
	db := openConsensusTestDB(t)
	mock := chat.NewMockClient("bot")
	req := createTestRequest(t, db, mock)

	_, err := Await(context.Background(), db, mock, req.ID, AwaitOpts{
		Timeout:      50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}

	// A late decision still lands.
	if err := Resolve(db, req.ID, models.ConsensusApproved, "alice"); err != nil {
		t.Fatalf("late resolve: %v", err)
	}
}

func TestAwait_DirectResolutionObserved(t *testing.T) {
	db := openConsensusTestDB(t)
	mock := chat.NewMockClient("bot")
	req := createTestRequest(t, db, mock)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(30 * time.Millisecond)
		Resolve(db, req.ID, models.ConsensusApproved, "cli")
	}()

	got, err := Await(context.Background(), db, mock, req.ID, fastAwait)
	<-done
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got.Status != models.ConsensusApproved || got.Decider != "cli" {
		t.Errorf("resolved = %s/%s, want approved/cli", got.Status, got.Decider)
	}
}

func TestAwait_CancelledContext(t *testing.T) {
	db := openConsensusTestDB(t)
	mock := chat.NewMockClient("bot")
	req := createTestRequest(t, db, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Await(ctx, db, mock, req.ID, fastAwait)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestAwait_AckFailureKeepsDecision(t *testing.T) {
	db := openConsensusTestDB(t)
	mock := chat.NewMockClient("bot")
	req := createTestRequest(t, db, mock)

	mock.React("C1", req.PromptSeq, "+1", "alice")
	mock.FailWith("add_reaction", errors.New("emoji quota"))
	mock.FailWith("post", errors.New("channel archived"))

	got, err := Await(context.Background(), db, mock, req.ID, fastAwait)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got.Status != models.ConsensusApproved {
		t.Errorf("status = %q, want approved despite ack failures", got.Status)
	}
}

func TestClassifyReply(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"yes", models.ConsensusApproved, true},
		{"Yes, go ahead", models.ConsensusApproved, true},
		{"LGTM", models.ConsensusApproved, true},
		{"oui", models.ConsensusApproved, true},
		{"No.", models.ConsensusDenied, true},
		{"nein!", models.ConsensusDenied, true},
		{"veto", models.ConsensusDenied, true},
		{"maybe later", "", false},
		{"", "", false},
		{"  ", "", false},
	}
	for _, tt := range tests {
		got, ok := ClassifyReply(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ClassifyReply(%q) = %q/%v, want %q/%v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestClassifyReactions(t *testing.T) {
	reactions := []chat.Reaction{
		{Name: "eyes", Users: []string{"alice"}},
		{Name: "+1", Users: []string{"bot", "bob"}},
	}
	decision, decider, ok := ClassifyReactions(reactions, "bot")
	if !ok || decision != models.ConsensusApproved || decider != "bob" {
		t.Errorf("got %s/%s/%v, want approved/bob/true", decision, decider, ok)
	}

	reactions = append(reactions, chat.Reaction{Name: "x", Users: []string{"carol"}})
	decision, decider, ok = ClassifyReactions(reactions, "bot")
	if !ok || decision != models.ConsensusDenied || decider != "carol" {
		t.Errorf("got %s/%s/%v, want denied/carol/true", decision, decider, ok)
	}

	_, _, ok = ClassifyReactions([]chat.Reaction{{Name: "+1", Users: []string{"bot"}}}, "bot")
	if ok {
		t.Error("bot-only reactions must not classify")
	}
}
