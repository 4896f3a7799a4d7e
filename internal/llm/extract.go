package llm

import (
	"regexp"
	"strings"
)

var fencedObject = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")

// ExtractJSON pulls a single JSON object out of model output. It accepts,
// in order: the trimmed text when it is already {...}, the contents of a
// fenced code block, or the span from the first '{' to the last '}'.
// Otherwise it fails with CategoryInvalidJSON.
func ExtractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s, nil
	}
	if m := fencedObject.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}
	first := strings.Index(s, "{")
	last := strings.LastIndex(s, "}")
	if first != -1 && last != -1 && first < last {
		return s[first : last+1], nil
	}
	return "", newError(CategoryInvalidJSON, "Could not extract JSON object from model output")
}
