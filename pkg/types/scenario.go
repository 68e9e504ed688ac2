package types

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Environment is the target environment of a run.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvStaging    Environment = "staging"
	EnvLocal      Environment = "local"
	EnvDocker     Environment = "docker"
)

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool {
	switch e {
	case EnvProduction, EnvStaging, EnvLocal, EnvDocker:
		return true
	}
	return false
}

// Scenario represents a parsed test scenario definition.
// A scenario is immutable once handed to a run.
type Scenario struct {
	Name        string            `yaml:"name" json:"name"`
	Slug        string            `yaml:"slug,omitempty" json:"slug"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Environment Environment       `yaml:"environment,omitempty" json:"environment"`
	Schedule    string            `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Variables   map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
	RenoConfig  *RenoConfig       `yaml:"reno_config,omitempty" json:"reno_config,omitempty"`
	Steps       []Step            `yaml:"steps" json:"steps"`

	// Project 和 Source 由加载器填充，不来自 YAML
	Project string `yaml:"-" json:"project"`
	Source  string `yaml:"-" json:"-"`
}

// RenoConfig holds scenario-level settings for the AI evaluation service.
type RenoConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
}

// StepSpec is the type-specific payload of a step.
// Each adapter type contributes one implementation.
type StepSpec interface {
	// StepType returns the type discriminator this payload belongs to.
	StepType() string

	// Validate checks the payload's required fields.
	Validate() error
}

// Step represents a single unit of work within a scenario.
type Step struct {
	Name string   `json:"name"`
	Type string   `json:"type"`
	Spec StepSpec `json:"spec"`
}

// stepHeader 用于先读出判别字段
type stepHeader struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// UnmarshalYAML decodes the common fields, then decodes the remaining keys
// into the payload registered for the step's type.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	var header stepHeader
	if err := node.Decode(&header); err != nil {
		return err
	}
	s.Name = header.Name
	s.Type = header.Type

	if header.Type == "" {
		return nil
	}

	newSpec, ok := lookupStepSpec(header.Type)
	if !ok {
		return &UnknownStepTypeError{Type: header.Type, Line: node.Line}
	}
	spec := newSpec()
	if err := node.Decode(spec); err != nil {
		return err
	}
	s.Spec = spec
	return nil
}

// HTTP returns the step's HTTP payload, or nil for other step types.
func (s *Step) HTTP() *HTTPSpec {
	spec, _ := s.Spec.(*HTTPSpec)
	return spec
}

// Reno returns the step's evaluation payload, or nil for other step types.
func (s *Step) Reno() *RenoSpec {
	spec, _ := s.Spec.(*RenoSpec)
	return spec
}

// UnknownStepTypeError is returned when a step declares an unregistered type.
type UnknownStepTypeError struct {
	Type string
	Line int
}

func (e *UnknownStepTypeError) Error() string {
	return fmt.Sprintf("line %d: unknown step type %q (known: %s)", e.Line, e.Type, strings.Join(StepTypes(), ", "))
}

var (
	stepSpecsMu sync.RWMutex
	stepSpecs   = map[string]func() StepSpec{}
)

// RegisterStepSpec registers the payload constructor for a step type.
func RegisterStepSpec(stepType string, newSpec func() StepSpec) {
	stepSpecsMu.Lock()
	defer stepSpecsMu.Unlock()
	stepSpecs[stepType] = newSpec
}

func lookupStepSpec(stepType string) (func() StepSpec, bool) {
	stepSpecsMu.RLock()
	defer stepSpecsMu.RUnlock()
	newSpec, ok := stepSpecs[stepType]
	return newSpec, ok
}

// StepTypes returns the registered step types in sorted order.
func StepTypes() []string {
	stepSpecsMu.RLock()
	defer stepSpecsMu.RUnlock()
	out := make([]string, 0, len(stepSpecs))
	for t := range stepSpecs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func init() {
	RegisterStepSpec(StepTypeHTTP, func() StepSpec { return &HTTPSpec{} })
	RegisterStepSpec(StepTypeReno, func() StepSpec { return &RenoSpec{} })
}
