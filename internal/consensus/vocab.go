package consensus

import (
	"strings"

	"github.com/zulandar/trunkline/internal/chat"
	"github.com/zulandar/trunkline/internal/models"
)

// Reply and reaction vocabularies. Deny always beats approve on a tie so an
// ambiguous signal can never accidentally green-light an action.

var approveWords = map[string]bool{
	"yes": true, "y": true, "yep": true, "yeah": true,
	"approve": true, "approved": true, "accept": true, "accepted": true,
	"ok": true, "okay": true, "lgtm": true, "go": true,
	"si": true, "sí": true, "oui": true, "ja": true, "da": true, "hai": true,
}

var denyWords = map[string]bool{
	"no": true, "n": true, "nope": true, "nah": true,
	"deny": true, "denied": true, "reject": true, "rejected": true,
	"stop": true, "abort": true, "veto": true,
	"non": true, "nein": true, "nyet": true, "nej": true, "iie": true,
}

var approveReactions = map[string]bool{
	"+1": true, "thumbsup": true, "thumbs_up": true,
	"white_check_mark": true, "heavy_check_mark": true, "ballot_box_with_check": true,
	"👍": true, "✅": true, "☑️": true,
}

var denyReactions = map[string]bool{
	"-1": true, "thumbsdown": true, "thumbs_down": true,
	"x": true, "no_entry": true, "no_entry_sign": true, "negative_squared_cross_mark": true,
	"👎": true, "❌": true, "🚫": true, "⛔": true,
}

// ClassifyReply maps a reply's leading word to a decision. Punctuation is
// stripped so "yes!" and "No." classify like their bare forms.
func ClassifyReply(text string) (string, bool) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return "", false
	}
	word := strings.Trim(fields[0], ".,!?:;")
	switch {
	case denyWords[word]:
		return models.ConsensusDenied, true
	case approveWords[word]:
		return models.ConsensusApproved, true
	}
	return "", false
}

// ClassifyReactions scans all reactions on a prompt, ignoring those whose
// only contributor is selfID. Any deny-class reaction wins over any number
// of approve-class ones. The returned decider is the first foreign user on
// the winning reaction.
func ClassifyReactions(reactions []chat.Reaction, selfID string) (decision, decider string, ok bool) {
	var approveBy string
	for _, r := range reactions {
		user := firstForeignUser(r.Users, selfID)
		if user == "" {
			continue
		}
		name := strings.Trim(r.Name, ":")
		switch {
		case denyReactions[name]:
			return models.ConsensusDenied, user, true
		case approveReactions[name]:
			if approveBy == "" {
				approveBy = user
			}
		}
	}
	if approveBy != "" {
		return models.ConsensusApproved, approveBy, true
	}
	return "", "", false
}

func firstForeignUser(users []string, selfID string) string {
	for _, u := range users {
		if u != selfID {
			return u
		}
	}
	return ""
}
