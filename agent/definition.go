package agent

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
)

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Definition is the declarative description of an agent: identity, the
// commands it exposes and the capabilities workflows may invoke. Behavior is
// bound separately through handlers passed to New.
//
// Example YAML:
//
//	id: task
//	name: Task Agent
//	title: GTD Task Specialist
//	commands:
//	  - capture
//	  - name: cleanup
//	    description: Clean up stale tasks
//	    examples: ["*cleanup stale tasks"]
//	  - organize: Organize tasks by context
//	capabilities: [capture_task]
type Definition struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	Title        string        `yaml:"title,omitempty"`
	Description  string        `yaml:"description,omitempty"`
	Icon         string        `yaml:"icon,omitempty"`
	Commands     []CommandSpec `yaml:"commands,omitempty"`
	Capabilities []string      `yaml:"capabilities,omitempty"`
	Dependencies []string      `yaml:"dependencies,omitempty"`
}

// CommandSpec declares one command. In YAML it may be a bare name, a
// single "name: description" pair, or a full mapping.
type CommandSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Examples    []string `yaml:"examples,omitempty"`
	Parameters  []string `yaml:"parameters,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *CommandSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		c.Name = node.Value
		return nil
	case yaml.MappingNode:
		if len(node.Content) == 2 && node.Content[0].Value != "name" && node.Content[1].Kind == yaml.ScalarNode {
			c.Name = node.Content[0].Value
			c.Description = node.Content[1].Value

			return nil
		}

		type plain CommandSpec

		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}

		*c = CommandSpec(p)

		return nil
	default:
		return fmt.Errorf("line %d: command must be a name or a mapping", node.Line)
	}
}

// Info converts c into core.CommandInfo, filling a default description.
func (c CommandSpec) Info() core.CommandInfo {
	desc := c.Description
	if desc == "" {
		desc = "Execute " + c.Name
	}

	return core.CommandInfo{Name: c.Name, Description: desc, Examples: c.Examples, Parameters: c.Parameters}
}

// ParseDefinition decodes and validates a YAML agent definition.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("%w: parse agent definition: %v", core.ErrInvalidDefinition, err)
	}

	if err := def.Validate(); err != nil {
		return Definition{}, err
	}

	return def, nil
}

// LoadDefinition reads a YAML agent definition from r.
func LoadDefinition(r io.Reader) (Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Definition{}, fmt.Errorf("read agent definition: %w", err)
	}

	return ParseDefinition(data)
}

// Validate checks identifiers and uniqueness of commands and capabilities.
func (d Definition) Validate() error {
	if !identPattern.MatchString(d.ID) {
		return fmt.Errorf("%w: agent id %q must match %s", core.ErrInvalidDefinition, d.ID, identPattern)
	}

	seen := map[string]bool{}

	for _, c := range d.Commands {
		name := strings.ToLower(c.Name)
		if !identPattern.MatchString(name) {
			return fmt.Errorf("%w: agent %s: invalid command name %q", core.ErrInvalidDefinition, d.ID, c.Name)
		}

		if seen[name] {
			return fmt.Errorf("%w: agent %s: duplicate command %q", core.ErrInvalidDefinition, d.ID, c.Name)
		}

		seen[name] = true
	}

	caps := map[string]bool{}

	for _, c := range d.Capabilities {
		if !identPattern.MatchString(c) {
			return fmt.Errorf("%w: agent %s: invalid capability name %q", core.ErrInvalidDefinition, d.ID, c)
		}

		if caps[c] {
			return fmt.Errorf("%w: agent %s: duplicate capability %q", core.ErrInvalidDefinition, d.ID, c)
		}

		caps[c] = true
	}

	return nil
}

// AgentInfo returns the identity part of the definition.
func (d Definition) AgentInfo() core.AgentInfo {
	name := d.Name
	if name == "" {
		name = d.ID
	}

	return core.AgentInfo{
		ID:           d.ID,
		Name:         name,
		Title:        d.Title,
		Description:  d.Description,
		Icon:         d.Icon,
		Dependencies: append([]string(nil), d.Dependencies...),
	}
}
