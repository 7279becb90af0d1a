package jobs

import "strings"

// HeadlessAnswer is what the reviewee hears when it asks a question and no
// human is around to answer it. Both serve mode and the CLI's plain
// streaming mode use it.
const HeadlessAnswer = "This rally runs unattended, so nobody can answer your question. " +
	"Proceed on your best judgment and record the open question in your summary."

// AutoGrant reports whether a requested action is covered by the
// repository's auto-grant list. A "*" entry grants everything; matching is
// case-insensitive and ignores surrounding whitespace.
func AutoGrant(action string, allowed []string) bool {
	action = strings.TrimSpace(action)
	if action == "" {
		return false
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "*" || strings.EqualFold(a, action) {
			return true
		}
	}
	return false
}
