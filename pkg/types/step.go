package types

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

const (
	// StepTypeHTTP 是 HTTP 步骤的类型标识符。
	StepTypeHTTP = "http"
	// StepTypeReno 是 AI 评估步骤的类型标识符。
	StepTypeReno = "reno"
)

// HTTPSpec is the payload of an `http` step.
// String fields and body values may contain {{name}} placeholders.
type HTTPSpec struct {
	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body    any               `yaml:"body,omitempty" json:"body,omitempty"`
	Expect  *Expect           `yaml:"expect,omitempty" json:"expect,omitempty"`
	Save    map[string]string `yaml:"save,omitempty" json:"save,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// StepType implements StepSpec.
func (s *HTTPSpec) StepType() string { return StepTypeHTTP }

// Validate implements StepSpec.
func (s *HTTPSpec) Validate() error {
	if s.URL == "" {
		return errors.New("url is required")
	}
	for name, path := range s.Save {
		if path == "" {
			return fmt.Errorf("save rule %q has an empty path", name)
		}
	}
	return nil
}

// Expect holds the response validation rules of an HTTP step.
// Rules are evaluated in field order; the first failing rule wins.
type Expect struct {
	Status      *int           `yaml:"status,omitempty" json:"status,omitempty"`
	JSON        map[string]any `yaml:"json,omitempty" json:"json,omitempty"`
	Contains    StringList     `yaml:"contains,omitempty" json:"contains,omitempty"`
	NotContains StringList     `yaml:"not_contains,omitempty" json:"not_contains,omitempty"`
}

// StringList accepts either a single string or a list of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}

// DefaultPassThreshold is the pass rate a reno step needs when none is set.
const DefaultPassThreshold = 0.6

// RenoSpec is the payload of a `reno` (AI evaluation) step.
type RenoSpec struct {
	Scenario      string   `yaml:"scenario" json:"scenario"`
	PassThreshold *float64 `yaml:"pass_threshold,omitempty" json:"pass_threshold,omitempty"`
	Timeout       Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	BaseURL       string   `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// StepType implements StepSpec.
func (s *RenoSpec) StepType() string { return StepTypeReno }

// Validate implements StepSpec.
func (s *RenoSpec) Validate() error {
	if s.Scenario == "" {
		return errors.New("scenario is required")
	}
	if s.PassThreshold != nil && (*s.PassThreshold < 0 || *s.PassThreshold > 1) {
		return fmt.Errorf("pass_threshold must be within [0, 1], got %v", *s.PassThreshold)
	}
	return nil
}

// Threshold returns the configured pass threshold or the default.
func (s *RenoSpec) Threshold() float64 {
	if s.PassThreshold == nil {
		return DefaultPassThreshold
	}
	return *s.PassThreshold
}
