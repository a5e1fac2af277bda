package qaspace

import (
	"regexp"
	"strings"
)

// TriggerTag opts a test case into reporting. The ticket key is passed in
// parentheses, e.g. @JIRATestKey(QA-123).
const TriggerTag = "@JIRATestKey"

var tagPattern = regexp.MustCompile(regexp.QuoteMeta(TriggerTag) + `\((.*)\)`)

// FindTriggerTag returns the first tag that contains TriggerTag.
func FindTriggerTag(tags []string) (string, bool) {
	for _, t := range tags {
		if strings.Contains(t, TriggerTag) {
			return t, true
		}
	}

	return "", false
}

// ExtractKey returns the text between the opening parenthesis following
// TriggerTag and the last closing parenthesis of tag.
func ExtractKey(tag string) string {
	m := tagPattern.FindStringSubmatch(tag)
	if m == nil {
		return ""
	}

	return m[1]
}

// TicketKey returns the key of the first trigger tag or an empty string if
// none of the tags contains one.
func TicketKey(tags []string) string {
	tag, ok := FindTriggerTag(tags)
	if !ok {
		return ""
	}

	return ExtractKey(tag)
}
