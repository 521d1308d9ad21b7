package gtd

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Time estimate buckets.
const (
	EstimateQuick  = "2min"
	EstimateMedium = "10min"
	EstimateLong   = "30+min"
)

// DefaultContext is used when no GTD context can be inferred.
const DefaultContext = "@next"

var actionVerbs = map[string]bool{
	"call": true, "email": true, "write": true, "read": true, "buy": true,
	"make": true, "plan": true, "do": true, "get": true, "find": true,
	"create": true, "build": true, "review": true, "update": true, "prepare": true,
	"gather": true, "collect": true, "finish": true, "complete": true, "schedule": true,
	"book": true, "arrange": true, "setup": true, "configure": true, "install": true,
	"send": true, "pay": true, "fix": true,
}

var filler = []string{"create a task to", "add task to", "remind me to", "i need to", "i want to", "i have to"}

// contexts is ordered; the first matching context wins.
var contexts = []struct {
	name     string
	keywords []string
}{
	{"@computer", []string{"computer", "laptop", "online", "internet", "email", "type", "code"}},
	{"@phone", []string{"call", "phone", "ring", "contact", "speak"}},
	{"@office", []string{"office", "work", "meeting", "colleague", "boss"}},
	{"@home", []string{"home", "house", "family", "personal"}},
	{"@errands", []string{"buy", "shop", "store", "bank", "post office", "pick up"}},
	{"@anywhere", []string{"read", "think", "plan", "brainstorm", "review"}},
}

var (
	numbered = regexp.MustCompile(`\d+[.)]`)
	bullet   = regexp.MustCompile(`^[-*•]\s+`)
	spaces   = regexp.MustCompile(`\s+`)

	quickPattern  = regexp.MustCompile(`\b(2\s*min|quick|fast|2m)\b`)
	mediumPattern = regexp.MustCompile(`\b(10\s*min|15\s*min|medium)\b`)
	longPattern   = regexp.MustCompile(`\b(30\+?\s*min|1\s*hour|long|hours?)\b`)
)

// StartsWithActionVerb reports whether text opens with a known action verb.
func StartsWithActionVerb(text string) bool {
	fields := strings.Fields(strings.ToLower(text))
	return len(fields) > 0 && actionVerbs[fields[0]]
}

// FormatNextAction rewrites free text into a next action that starts with a
// verb.
func FormatNextAction(text string) string {
	text = spaces.ReplaceAllString(strings.TrimSpace(text), " ")
	lower := strings.ToLower(text)

	for _, p := range filler {
		if strings.HasPrefix(lower, p) {
			text = strings.TrimSpace(text[len(p):])
			lower = strings.ToLower(text)

			break
		}
	}

	if text == "" {
		return ""
	}

	if !StartsWithActionVerb(text) {
		switch {
		case strings.Contains(lower, "meeting") || strings.Contains(lower, "appointment"):
			text = "Schedule " + text
		case containsAny(lower, "email", "mail", "message"):
			text = "Send " + text
		case containsAny(lower, "phone", "ring"):
			text = "Call " + text
		default:
			text = "Do " + text
		}
	}

	return capitalize(text)
}

// SuggestEstimate returns an explicit estimate found in text or one derived
// from its length.
func SuggestEstimate(text string) string {
	lower := strings.ToLower(text)

	switch {
	case quickPattern.MatchString(lower):
		return EstimateQuick
	case mediumPattern.MatchString(lower):
		return EstimateMedium
	case longPattern.MatchString(lower):
		return EstimateLong
	}

	switch n := len(strings.Fields(text)); {
	case n <= 4:
		return EstimateQuick
	case n <= 8:
		return EstimateMedium
	default:
		return EstimateLong
	}
}

// SuggestContext returns the GTD context for text.
func SuggestContext(text string) string {
	lower := strings.ToLower(text)

	for _, c := range contexts {
		if containsAny(lower, c.keywords...) {
			return c.name
		}
	}

	return DefaultContext
}

// SplitTasks splits numbered lists, bullet lists and "then" chains into
// single tasks. Text holding one task is returned as is.
func SplitTasks(text string) []string {
	var tasks []string

	if parts := numbered.Split(text, -1); len(parts) > 2 {
		for _, p := range parts[1:] {
			if p = strings.TrimSpace(p); p != "" {
				tasks = append(tasks, p)
			}
		}

		return tasks
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if bullet.MatchString(line) {
			if t := strings.TrimSpace(bullet.ReplaceAllString(line, "")); t != "" {
				tasks = append(tasks, t)
			}
		}
	}

	if len(tasks) > 1 {
		return tasks
	}

	tasks = tasks[:0]

	if strings.Contains(strings.ToLower(text), " then ") {
		for _, t := range strings.Split(text, " then ") {
			if t = strings.TrimSpace(t); t != "" {
				tasks = append(tasks, t)
			}
		}
	}

	if len(tasks) > 1 {
		return tasks
	}

	return []string{strings.TrimSpace(text)}
}

// IsLikelyProject reports whether text reads like a multi-step project and
// why.
func IsLikelyProject(text string) (bool, string) {
	lower := strings.ToLower(text)

	var keyword string

	for _, k := range ProjectKeywords {
		if strings.Contains(lower, k) {
			keyword = k
			break
		}
	}

	broad := containsAny(lower, ComplexityWords...)

	if keyword != "" && (broad || len(strings.Fields(text)) > 6) {
		reason := fmt.Sprintf("Contains project keyword '%s'", keyword)
		if broad {
			reason += " and complexity indicators"
		}

		return true, reason
	}

	return false, "Appears to be a single action item"
}

// ProjectKeywords mark requests that usually need more than one action.
var ProjectKeywords = []string{
	"project", "build", "create", "develop", "design", "implement", "plan",
	"organize", "setup", "establish", "launch", "complete",
}

// ComplexityWords mark requests with a large scope.
var ComplexityWords = []string{
	"entire", "complete", "full", "comprehensive", "system", "website", "application",
	"multiple", "several", "phases", "stages", "strategy",
}

// ParseItems splits brainstormed text into items. Lines win over commas and
// commas over sentences; list markers are stripped and items of three
// characters or fewer are dropped.
func ParseItems(text string) []string {
	var raw []string

	switch {
	case strings.Contains(text, "\n"):
		raw = strings.Split(text, "\n")
	case strings.Contains(text, ","):
		raw = strings.Split(text, ",")
	case strings.Count(text, ".") > 1:
		raw = strings.Split(text, ".")
	default:
		raw = []string{text}
	}

	items := make([]string, 0, len(raw))

	for _, item := range raw {
		item = strings.TrimLeftFunc(strings.TrimSpace(item), func(r rune) bool {
			return r == '-' || r == '•' || r == '*' || r == '.' || r == ')' || unicode.IsDigit(r) || unicode.IsSpace(r)
		})

		if utf8.RuneCountInString(item) > 3 {
			items = append(items, item)
		}
	}

	return items
}

// Categories in the order next actions are drawn from them.
var Categories = []struct {
	Name     string
	Context  string
	Keywords []string
}{
	{"Planning & Research", "@computer", []string{"research", "plan", "analyze", "study", "investigate"}},
	{"Communication & Coordination", "@phone", []string{"email", "call", "meeting", "discuss", "coordinate", "contact"}},
	{"Development & Creation", "@computer", []string{"build", "create", "develop", "design", "write", "code"}},
	{"Testing & Quality", "@computer", []string{"test", "review", "check", "validate", "verify", "quality"}},
	{"Launch & Deployment", "@computer", []string{"launch", "deploy", "release", "publish", "go live"}},
}

const otherCategory = "Other"

// NextAction is a concrete first step of a project.
type NextAction struct {
	Description string `json:"description" yaml:"description"`
	Context     string `json:"context" yaml:"context"`
	Estimate    string `json:"estimate" yaml:"estimate"`
	Category    string `json:"category" yaml:"category"`
}

// Map converts the action into a context friendly value.
func (a NextAction) Map() map[string]any {
	return map[string]any{
		"description": a.Description,
		"context":     a.Context,
		"estimate":    a.Estimate,
		"category":    a.Category,
	}
}

// Categorize groups items by category keywords.
func Categorize(items []string) map[string][]string {
	out := map[string][]string{}

	for _, item := range items {
		lower := strings.ToLower(item)
		category := otherCategory

		for _, c := range Categories {
			if containsAny(lower, c.Keywords...) {
				category = c.Name
				break
			}
		}

		out[category] = append(out[category], item)
	}

	return out
}

// NextActions picks the first item of each category, in category order, up
// to limit actions.
func NextActions(items []string, limit int) []NextAction {
	groups := Categorize(items)

	var actions []NextAction

	add := func(category, context string) {
		list := groups[category]
		if len(list) == 0 || len(actions) >= limit {
			return
		}

		actions = append(actions, NextAction{
			Description: FormatNextAction(list[0]),
			Context:     context,
			Estimate:    estimateItem(list[0]),
			Category:    category,
		})
	}

	for _, c := range Categories {
		add(c.Name, c.Context)
	}

	add(otherCategory, "@anywhere")

	return actions
}

func estimateItem(item string) string {
	lower := strings.ToLower(item)

	switch {
	case containsAny(lower, "quick", "check", "call", "email"):
		return EstimateQuick
	case containsAny(lower, "research", "analyze", "review", "plan"):
		return EstimateLong
	default:
		return EstimateMedium
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}

	return false
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}

	return string(unicode.ToUpper(r)) + s[size:]
}
