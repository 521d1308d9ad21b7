package core

import "strings"

// CommandPrefix marks the beginning of an explicit command ("*capture buy milk").
const CommandPrefix = "*"

// Message is an inbound user request. It is never persisted.
type Message struct {
	Text   string         `json:"text"`
	UserID string         `json:"userId"`
	Source map[string]any `json:"source,omitempty"`
}

// Command is a parsed explicit command: the name without prefix plus the raw
// argument string that followed it.
type Command struct {
	Name string `json:"name"`
	Args string `json:"args,omitempty"`
}

// Command parses the message text as an explicit command using prefix. The
// second return value is false when the text is not a command.
func (m Message) Command(prefix string) (Command, bool) {
	return ParseCommand(m.Text, prefix)
}

// ParseCommand splits "<prefix><name> <args>" into a Command. Names are
// lower-cased; an empty name after the prefix is not a command.
func ParseCommand(text, prefix string) (Command, bool) {
	if prefix == "" {
		prefix = CommandPrefix
	}

	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, prefix) {
		return Command{}, false
	}

	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
	if rest == "" {
		return Command{}, false
	}

	name, args, _ := strings.Cut(rest, " ")

	return Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}, true
}

// String renders the command back into its textual form.
func (c Command) String() string {
	if c.Args == "" {
		return CommandPrefix + c.Name
	}

	return CommandPrefix + c.Name + " " + c.Args
}
