package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
)

// ActionKind tells how a step reaches its agent.
type ActionKind int

const (
	// InvokeCommand runs an explicit agent command, exactly as if the user
	// had typed it.
	InvokeCommand ActionKind = iota + 1
	// InvokeCapability runs a named agent capability.
	InvokeCapability
)

func (k ActionKind) String() string {
	switch k {
	case InvokeCommand:
		return "command"
	case InvokeCapability:
		return "capability"
	default:
		return "unknown"
	}
}

var actionName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Action is the resolved form of a step's action string. Commands are
// written "*name args"; capabilities as a bare identifier. Command args may
// reference execution context fields with {{.field}}.
type Action struct {
	Kind ActionKind
	Name string
	Args string
}

// CommandAction builds an InvokeCommand action.
func CommandAction(name, args string) Action {
	return Action{Kind: InvokeCommand, Name: name, Args: args}
}

// CapabilityAction builds an InvokeCapability action.
func CapabilityAction(name string) Action {
	return Action{Kind: InvokeCapability, Name: name}
}

// ParseAction resolves an action string.
func ParseAction(s string) (Action, error) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, core.CommandPrefix) {
		cmd, ok := core.ParseCommand(s, core.CommandPrefix)
		if !ok || !actionName.MatchString(cmd.Name) {
			return Action{}, fmt.Errorf("%w: malformed command action %q", core.ErrInvalidDefinition, s)
		}

		return CommandAction(cmd.Name, cmd.Args), nil
	}

	if !actionName.MatchString(s) {
		return Action{}, fmt.Errorf("%w: action %q is neither a command nor a capability", core.ErrInvalidDefinition, s)
	}

	return CapabilityAction(s), nil
}

// String returns the declarative form.
func (a Action) String() string {
	if a.Kind != InvokeCommand {
		return a.Name
	}

	if a.Args == "" {
		return core.CommandPrefix + a.Name
	}

	return core.CommandPrefix + a.Name + " " + a.Args
}
