package workflow

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
)

// Document is the declarative YAML form of a workflow.
//
//	id: project_breakdown
//	name: Project Breakdown
//	entry_point: detect_complexity
//	timeout: 1h
//	steps:
//	  - id: detect_complexity
//	    agent: coordinator
//	    action: detect_complexity
//	    next: [initiate_planning]
//	  - id: plan
//	    agent: planning
//	    action: "*breakdown {{.initial_request}}"
//	    condition: is_complex == true
//	    on_failure: fallback_capture
//	    timeout: 300
//	    retries: 1
type Document struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Version     string         `yaml:"version,omitempty"`
	EntryPoint  string         `yaml:"entry_point,omitempty"`
	Timeout     Duration       `yaml:"timeout,omitempty"`
	Steps       []StepDocument `yaml:"steps"`
}

// StepDocument is the declarative form of one step.
type StepDocument struct {
	ID        string     `yaml:"id"`
	Name      string     `yaml:"name,omitempty"`
	Agent     string     `yaml:"agent"`
	Action    string     `yaml:"action"`
	Condition string     `yaml:"condition,omitempty"`
	Next      StringList `yaml:"next,omitempty"`
	OnFailure string     `yaml:"on_failure,omitempty"`
	Timeout   Duration   `yaml:"timeout,omitempty"`
	Retries   int        `yaml:"retries,omitempty"`
}

// Duration accepts either a Go duration string ("5m") or a number of
// seconds in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}

	if node.ShortTag() == "!!int" {
		var secs int64
		if err := node.Decode(&secs); err != nil {
			return err
		}

		*d = Duration(time.Duration(secs) * time.Second)

		return nil
	}

	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*d = Duration(v)

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// IsZero lets omitempty drop unset durations.
func (d Duration) IsZero() bool { return d == 0 }

// StringList accepts a single string or a sequence in YAML.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			*s = nil
			return nil
		}

		*s = StringList{node.Value}

		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}

		*s = list

		return nil
	default:
		return fmt.Errorf("line %d: expected a step id or a list of step ids", node.Line)
	}
}

// Parse decodes and validates a YAML workflow document.
func Parse(data []byte) (*Definition, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse workflow: %v", core.ErrInvalidDefinition, err)
	}

	return New(doc)
}

// Load reads a YAML workflow document from r.
func Load(r io.Reader) (*Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}

	return Parse(data)
}

// Marshal encodes the definition back to YAML.
func (d *Definition) Marshal() ([]byte, error) {
	return yaml.Marshal(d.Document())
}

// Document converts the definition back to its declarative form. Defaults
// are written out explicitly.
func (d *Definition) Document() Document {
	doc := Document{
		ID:          d.id,
		Name:        d.name,
		Description: d.description,
		Version:     d.version,
		EntryPoint:  d.entryPoint,
		Timeout:     Duration(d.timeout),
	}

	for _, id := range d.order {
		s := d.steps[id]

		sd := StepDocument{
			ID:        s.ID,
			Name:      s.Name,
			Agent:     s.Agent,
			Action:    s.Action.String(),
			Next:      append(StringList(nil), s.Next...),
			OnFailure: s.OnFailure,
			Timeout:   Duration(s.Timeout),
			Retries:   s.Retries,
		}

		if s.Condition != nil {
			sd.Condition = s.Condition.String()
		}

		doc.Steps = append(doc.Steps, sd)
	}

	return doc
}
