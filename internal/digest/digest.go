// Package digest builds bounded summaries of an inbox backlog. Build is a
// pure transform over rows the ingestion pipeline produced; it performs no
// I/O so any consumer can digest any slice of events.
package digest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zulandar/trunkline/internal/models"
)

const (
	// DefaultPreviewLen is the per-message preview cap in runes.
	DefaultPreviewLen = 140
	// DefaultMaxPerGroup caps previewed messages per group; earlier
	// overflow is collapsed into an omission marker.
	DefaultMaxPerGroup = 5
)

// Opts tunes digest construction. Zero values take the defaults.
type Opts struct {
	PreviewLen  int
	MaxPerGroup int
}

// Group is one (sender, thread-or-channel) bucket of the backlog. Previews
// holds the newest messages, oldest first; Omitted counts earlier messages
// that fell past the per-group cap.
type Group struct {
	SenderID   string
	ChannelID  string
	ThreadRoot string // empty for channel-level traffic
	Count      int
	Omitted    int
	Previews   []string
}

// Digest is a bounded summary of a backlog.
type Digest struct {
	Total  int
	Groups []Group
}

// Build groups events by (sender, thread-or-channel), truncates bodies to
// the preview length, and caps previews per group. Events are assumed to be
// in ingestion order; previews keep the newest messages.
func Build(events []models.InboxEvent, opts Opts) Digest {
	if opts.PreviewLen <= 0 {
		opts.PreviewLen = DefaultPreviewLen
	}
	if opts.MaxPerGroup <= 0 {
		opts.MaxPerGroup = DefaultMaxPerGroup
	}

	byKey := make(map[string]*Group)
	var order []string
	for _, ev := range events {
		key := ev.SenderID + "\x00" + ev.ChannelID + "\x00" + ev.ThreadRoot
		g, ok := byKey[key]
		if !ok {
			g = &Group{
				SenderID:   ev.SenderID,
				ChannelID:  ev.ChannelID,
				ThreadRoot: ev.ThreadRoot,
			}
			byKey[key] = g
			order = append(order, key)
		}
		g.Count++
		g.Previews = append(g.Previews, truncate(ev.Body, opts.PreviewLen))
	}

	d := Digest{Total: len(events)}
	for _, key := range order {
		g := byKey[key]
		if over := len(g.Previews) - opts.MaxPerGroup; over > 0 {
			g.Previews = g.Previews[over:]
			g.Omitted = over
		}
		d.Groups = append(d.Groups, *g)
	}
	// Busiest groups first; ties keep a stable, readable order.
	sort.SliceStable(d.Groups, func(i, j int) bool {
		return d.Groups[i].Count > d.Groups[j].Count
	})
	return d
}

// Format renders a digest as chat-ready text.
func Format(d Digest) string {
	if d.Total == 0 {
		return "Inbox is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d unread across %d conversations\n", d.Total, len(d.Groups))
	for _, g := range d.Groups {
		where := g.ChannelID
		if g.ThreadRoot != "" {
			where = fmt.Sprintf("%s (thread %s)", g.ChannelID, g.ThreadRoot)
		}
		fmt.Fprintf(&b, "\n%s in %s — %d message", g.SenderID, where, g.Count)
		if g.Count != 1 {
			b.WriteString("s")
		}
		b.WriteString("\n")
		if g.Omitted > 0 {
			fmt.Fprintf(&b, "  (%d earlier messages omitted)\n", g.Omitted)
		}
		for _, p := range g.Previews {
			fmt.Fprintf(&b, "  > %s\n", p)
		}
	}
	return b.String()
}

// truncate caps s at n runes without splitting a character.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
