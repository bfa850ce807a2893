package consensus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/trunkline/internal/chat"
	"github.com/zulandar/trunkline/internal/models"
	"gorm.io/gorm"
)

// ErrTimeout is returned when a request stays pending through the await
// window. The request itself is not force-denied; a later resolution still
// completes it.
var ErrTimeout = errors.New("consensus: await timed out")

const (
	defaultTimeout      = 5 * time.Minute
	defaultPollInterval = 3 * time.Second
	replyPollLimit      = 50
)

// AwaitOpts tunes the await loop.
type AwaitOpts struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// Await blocks until the request resolves or the timeout elapses. Each tick
// races three sources: the stored status (direct resolutions), the prompt's
// reactions, and the prompt thread's latest foreign reply. Whichever signal
// lands first goes through the same conditional update as everyone else.
func Await(ctx context.Context, db *gorm.DB, client chat.Client, id string, opts AwaitOpts) (*models.ConsensusRequest, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	req, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.ConsensusPending {
		return req, nil
	}

	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		req, err = Get(db, id)
		if err != nil {
			return nil, err
		}
		if req.Status != models.ConsensusPending {
			// Resolved elsewhere; the winner owns the ack.
			return req, nil
		}

		if decision, decider, ok := pollSignals(ctx, client, req); ok {
			resolved, err := settle(ctx, db, client, req, decision, decider)
			if err != nil {
				return nil, err
			}
			return resolved, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
	}
}

// pollSignals checks reactions first, then the latest foreign reply.
func pollSignals(ctx context.Context, client chat.Client, req *models.ConsensusRequest) (decision, decider string, ok bool) {
	self := client.Identity()

	reactions, err := client.Reactions(ctx, req.ChannelID, req.PromptSeq)
	if err != nil {
		log.Printf("consensus: poll reactions for %s: %v", req.ID, err)
	} else if decision, decider, ok = ClassifyReactions(reactions, self); ok {
		return decision, decider, true
	}

	replies, err := client.Replies(ctx, req.ChannelID, req.PromptSeq, "", replyPollLimit)
	if err != nil {
		log.Printf("consensus: poll replies for %s: %v", req.ID, err)
		return "", "", false
	}
	// Only the latest foreign reply counts; earlier chatter in the thread
	// must not resolve the request.
	for i := len(replies) - 1; i >= 0; i-- {
		r := replies[i]
		if r.SenderID == self {
			continue
		}
		if decision, ok := ClassifyReply(r.Text); ok {
			return decision, r.SenderID, true
		}
		return "", "", false
	}
	return "", "", false
}

// settle runs the conditional resolution and, on a win, posts the
// best-effort visual ack. Losing the race is not an error: the stored
// decision is returned either way.
func settle(ctx context.Context, db *gorm.DB, client chat.Client, req *models.ConsensusRequest, decision, decider string) (*models.ConsensusRequest, error) {
	err := Resolve(db, req.ID, decision, decider)
	var already *AlreadyResolvedError
	switch {
	case err == nil:
		ack(ctx, client, req, decision, decider)
	case errors.As(err, &already):
		// Someone beat us to it; report their decision.
	default:
		return nil, err
	}
	return Get(db, req.ID)
}

// ack swaps a reaction onto the prompt and posts a threaded confirmation.
// Failures are logged only; the decision is already durable.
func ack(ctx context.Context, client chat.Client, req *models.ConsensusRequest, decision, decider string) {
	name := "white_check_mark"
	verb := "approved"
	if decision == models.ConsensusDenied {
		name = "x"
		verb = "denied"
	}
	if err := client.AddReaction(ctx, req.ChannelID, req.PromptSeq, name); err != nil {
		log.Printf("consensus: ack reaction for %s: %v", req.ID, err)
	}
	text := fmt.Sprintf("%s %s by @%s", kindLabel(req.Kind), verb, decider)
	if _, err := client.PostMessage(ctx, req.ChannelID, text, chat.PostOpts{ThreadRoot: req.PromptSeq}); err != nil {
		log.Printf("consensus: ack reply for %s: %v", req.ID, err)
	}
}
