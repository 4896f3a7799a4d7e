package session

import (
	"regexp"
	"strings"
)

// GenericIncorrectFeedback replaces any incorrect-answer feedback that could
// give the answer away.
const GenericIncorrectFeedback = "That's not correct. Re-read the question and source context, then try again."

var revealPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bcorrect answer\b`),
	regexp.MustCompile(`\bexpected answer\b`),
	regexp.MustCompile(`\bthe answer is\b`),
	regexp.MustCompile(`\boption\s+[a-z0-9]+\s+is correct\b`),
	regexp.MustCompile(`\bshould be\b`),
	regexp.MustCompile(`\bmust be\b`),
	regexp.MustCompile(`\bresponse does not match\b`),
	regexp.MustCompile(`\bmatches the expected\b`),
}

// revealsAnswer reports whether feedback is blank, reads like it states the
// answer, or contains any sensitive token of at least two characters.
func revealsAnswer(feedback string, sensitive []string) bool {
	text := strings.ToLower(strings.TrimSpace(feedback))
	if text == "" {
		return true
	}
	for _, re := range revealPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	for _, token := range sensitive {
		token = strings.ToLower(strings.TrimSpace(token))
		if len([]rune(token)) < 2 {
			continue
		}
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

// safeIncorrectFeedback returns raw unless it would leak the answer.
func safeIncorrectFeedback(raw string, sensitive []string) string {
	candidate := strings.TrimSpace(raw)
	if revealsAnswer(candidate, sensitive) {
		return GenericIncorrectFeedback
	}
	return candidate
}
