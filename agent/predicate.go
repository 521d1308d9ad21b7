package agent

import (
	"regexp"
	"strings"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
)

// MatchKeywords claims messages containing any of the keywords (case insensitive).
func MatchKeywords(keywords ...string) Predicate {
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}

	return func(msg core.Message) bool {
		text := strings.ToLower(msg.Text)
		for _, k := range lowered {
			if strings.Contains(text, k) {
				return true
			}
		}

		return false
	}
}

// MatchPattern claims messages matching any of the regular expressions.
// Patterns are compiled once; an invalid pattern panics at construction.
func MatchPattern(patterns ...string) Predicate {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}

	return func(msg core.Message) bool {
		for _, re := range compiled {
			if re.MatchString(msg.Text) {
				return true
			}
		}

		return false
	}
}

// MatchAny claims a message if any predicate does.
func MatchAny(preds ...Predicate) Predicate {
	return func(msg core.Message) bool {
		for _, p := range preds {
			if p != nil && p(msg) {
				return true
			}
		}

		return false
	}
}
