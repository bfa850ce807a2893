package chat

import (
	"strconv"
	"strings"
)

// SeqLess reports whether sequence token a sorts strictly before b.
// Tokens are Slack-style "sec.frac" pairs or plain integers (Discord
// snowflakes); both compare numerically, never lexically.
func SeqLess(a, b string) bool {
	am, af := splitSeq(a)
	bm, bf := splitSeq(b)
	if am != bm {
		return am < bm
	}
	return af < bf
}

func splitSeq(s string) (int64, int64) {
	major, minor, _ := strings.Cut(s, ".")
	mj, _ := strconv.ParseInt(major, 10, 64)
	mn, _ := strconv.ParseInt(minor, 10, 64)
	return mj, mn
}
