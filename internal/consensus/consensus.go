// Package consensus implements approval and permission-grant requests
// resolved over the chat channel. A request is a durable pending row plus a
// posted prompt; reactions, replies, and direct calls race to resolve it,
// and a conditional status update guarantees exactly one winner.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/trunkline/internal/chat"
	"github.com/zulandar/trunkline/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no request exists with the given ID.
var ErrNotFound = errors.New("consensus: request not found")

// AlreadyResolvedError is returned to resolution losers. It carries the
// decision that won so callers can report the actual outcome.
type AlreadyResolvedError struct {
	Status  string
	Decider string
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("consensus: already resolved: %s by %s", e.Status, e.Decider)
}

// CreateOpts holds parameters for opening a request.
type CreateOpts struct {
	Kind        string // models.ConsensusApproval or models.ConsensusPermission
	Requestor   string
	Description string
	ChannelID   string

	// ThreadRoot posts the prompt into an existing thread instead of
	// top-level.
	ThreadRoot string

	// Deciders are mentioned in the prompt so the right people see it.
	Deciders []string

	// NotifyChannel receives a secondary pointer to the prompt.
	NotifyChannel string
}

// Create posts a prompt and records the pending request. The row is written
// only after the prompt posts, so every stored request has a real PromptSeq
// to poll.
func Create(ctx context.Context, db *gorm.DB, client chat.Client, opts CreateOpts) (*models.ConsensusRequest, error) {
	if opts.Kind != models.ConsensusApproval && opts.Kind != models.ConsensusPermission {
		return nil, fmt.Errorf("consensus: unknown kind %q", opts.Kind)
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("consensus: channel is required")
	}

	id := uuid.NewString()
	prompt := buildPrompt(id, opts)

	seq, err := client.PostMessage(ctx, opts.ChannelID, prompt, chat.PostOpts{ThreadRoot: opts.ThreadRoot})
	if err != nil {
		return nil, fmt.Errorf("consensus: post prompt: %w", err)
	}

	req := models.ConsensusRequest{
		ID:          id,
		Kind:        opts.Kind,
		Requestor:   opts.Requestor,
		Description: opts.Description,
		ChannelID:   opts.ChannelID,
		PromptSeq:   seq,
		Status:      models.ConsensusPending,
		CreatedAt:   time.Now(),
	}
	if err := db.Create(&req).Error; err != nil {
		return nil, fmt.Errorf("consensus: store request: %w", err)
	}

	if opts.NotifyChannel != "" && opts.NotifyChannel != opts.ChannelID {
		notice := fmt.Sprintf("%s pending in <#%s>: %s", kindLabel(opts.Kind), opts.ChannelID, opts.Description)
		if _, err := client.PostMessage(ctx, opts.NotifyChannel, notice, chat.PostOpts{}); err != nil {
			// The request stands either way.
			log.Printf("consensus: notify %s: %v", opts.NotifyChannel, err)
		}
	}

	return &req, nil
}

// Resolve applies a decision to a pending request. Exactly one caller wins
// the conditional update; everyone else gets AlreadyResolvedError with the
// winning decision, or ErrNotFound for an unknown ID.
func Resolve(db *gorm.DB, id, decision, decider string) error {
	if decision != models.ConsensusApproved && decision != models.ConsensusDenied {
		return fmt.Errorf("consensus: invalid decision %q", decision)
	}

	now := time.Now()
	res := db.Model(&models.ConsensusRequest{}).
		Where("id = ? AND status = ?", id, models.ConsensusPending).
		Updates(map[string]interface{}{
			"status":     decision,
			"decider":    decider,
			"decided_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("consensus: resolve: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var req models.ConsensusRequest
	err := db.Where("id = ?", id).First(&req).Error
	if err == gorm.ErrRecordNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("consensus: read request: %w", err)
	}
	return &AlreadyResolvedError{Status: req.Status, Decider: req.Decider}
}

// Get returns a request by ID.
func Get(db *gorm.DB, id string) (*models.ConsensusRequest, error) {
	var req models.ConsensusRequest
	err := db.Where("id = ?", id).First(&req).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consensus: read request: %w", err)
	}
	return &req, nil
}

// ListPending returns pending requests, oldest first.
func ListPending(db *gorm.DB) ([]models.ConsensusRequest, error) {
	var reqs []models.ConsensusRequest
	err := db.Where("status = ?", models.ConsensusPending).
		Order("created_at").Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("consensus: list pending: %w", err)
	}
	return reqs, nil
}

func buildPrompt(id string, opts CreateOpts) string {
	var b strings.Builder
	for _, d := range opts.Deciders {
		fmt.Fprintf(&b, "@%s ", d)
	}
	fmt.Fprintf(&b, "%s from %s: %s\n", kindLabel(opts.Kind), opts.Requestor, opts.Description)
	fmt.Fprintf(&b, "React 👍/👎 or reply yes/no. [%s]", id)
	return b.String()
}

func kindLabel(kind string) string {
	if kind == models.ConsensusPermission {
		return "Permission request"
	}
	return "Approval request"
}
