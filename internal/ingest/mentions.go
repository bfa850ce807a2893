package ingest

import (
	"log"
	"strings"

	"github.com/zulandar/trunkline/internal/chat"
	"github.com/zulandar/trunkline/internal/models"
	"gorm.io/gorm"
)

const excerptLen = 200

// fanOutMentions scans a freshly ingested message for addressed identities
// and queues a MentionNotice per match. Returns the number queued. Queue
// failures are logged, not fatal; the event row itself is already durable.
func fanOutMentions(tx *gorm.DB, identities []string, m chat.Message) int {
	queued := 0
	for _, id := range identities {
		if !Mentions(m.Text, id) {
			continue
		}
		notice := models.MentionNotice{
			Identity:  id,
			ChannelID: m.ChannelID,
			SeqToken:  m.Seq,
			Excerpt:   excerpt(m.Text),
		}
		if err := tx.Create(&notice).Error; err != nil {
			log.Printf("ingest: queue mention for %s: %v", id, err)
			continue
		}
		queued++
	}
	return queued
}

// Mentions reports whether text addresses the identity, either as a plain
// @name token or a platform-style <@NAME> reference. Matching is
// case-insensitive and requires a token boundary so "@art" does not match
// "@arthur".
func Mentions(text, identity string) bool {
	if identity == "" {
		return false
	}
	lower := strings.ToLower(text)
	id := strings.ToLower(identity)

	for _, pat := range []string{"@" + id, "<@" + id + ">"} {
		idx := 0
		for {
			i := strings.Index(lower[idx:], pat)
			if i < 0 {
				break
			}
			start := idx + i
			end := start + len(pat)
			if boundaryAt(lower, start, end) {
				return true
			}
			idx = start + 1
		}
	}
	return false
}

// boundaryAt checks that the match is not embedded in a longer token.
func boundaryAt(s string, start, end int) bool {
	if start > 0 && isTokenChar(s[start-1]) {
		return false
	}
	if end < len(s) && isTokenChar(s[end]) {
		return false
	}
	return true
}

func isTokenChar(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func excerpt(text string) string {
	if len(text) <= excerptLen {
		return text
	}
	return text[:excerptLen] + "…"
}
