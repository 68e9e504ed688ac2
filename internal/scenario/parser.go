package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"yqhp/test-runner/pkg/types"
)

// Parser decodes and validates scenario documents.
type Parser struct {
	// Strict 模式下未知的顶层字段会报错
	Strict bool
}

// Parse parses a scenario with the default (lenient) parser.
func Parse(data []byte) (*types.Scenario, error) {
	return (&Parser{}).Parse(data)
}

// Parse parses a scenario definition from bytes.
func (p *Parser) Parse(data []byte) (*types.Scenario, error) {
	var sc types.Scenario

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(p.Strict)

	if err := decoder.Decode(&sc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Message: "empty document", Cause: err}
		}
		return nil, wrapYAMLError(err)
	}

	if sc.Environment == "" {
		sc.Environment = types.EnvProduction
	}

	if err := validate(&sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// wrapYAMLError converts a YAML error to a ParseError with line information.
func wrapYAMLError(err error) error {
	var typeErr *types.UnknownStepTypeError
	if errors.As(err, &typeErr) {
		return &ParseError{
			Line:    typeErr.Line,
			Field:   "type",
			Message: fmt.Sprintf("unknown step type %q (known: %s)", typeErr.Type, strings.Join(types.StepTypes(), ", ")),
			Cause:   err,
		}
	}

	errStr := err.Error()
	line, column := extractLineColumn(errStr)
	return &ParseError{
		Line:    line,
		Column:  column,
		Message: cleanYAMLErrorMessage(errStr),
		Cause:   err,
	}
}

// extractLineColumn attempts to extract line and column from YAML error message.
func extractLineColumn(errStr string) (int, int) {
	var line, column int
	if idx := strings.Index(errStr, "line "); idx != -1 {
		fmt.Sscanf(errStr[idx:], "line %d", &line)
	}
	if idx := strings.Index(errStr, "column "); idx != -1 {
		fmt.Sscanf(errStr[idx:], "column %d", &column)
	}
	return line, column
}

// cleanYAMLErrorMessage creates a cleaner error message.
func cleanYAMLErrorMessage(errStr string) string {
	errStr = strings.TrimPrefix(errStr, "yaml: ")
	if len(errStr) > 0 {
		errStr = strings.ToUpper(errStr[:1]) + errStr[1:]
	}
	return errStr
}

// validate checks required fields and the payload of every step.
func validate(sc *types.Scenario) error {
	if sc.Name == "" {
		return newFieldError("name", "scenario name is required")
	}
	if len(sc.Steps) == 0 {
		return newFieldError("steps", "scenario must have at least one step")
	}
	if !sc.Environment.Valid() {
		return newFieldError("environment", fmt.Sprintf("invalid environment: %s", sc.Environment))
	}

	for i := range sc.Steps {
		step := &sc.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)

		if step.Name == "" {
			return newFieldError(path+".name", "step name is required")
		}
		if step.Type == "" {
			return newFieldError(path+".type", "step type is required")
		}
		if step.Spec == nil {
			return newFieldError(path+".type", fmt.Sprintf("invalid step type: %s", step.Type))
		}
		if err := step.Spec.Validate(); err != nil {
			return &ParseError{Field: path, Message: err.Error(), Cause: err}
		}
	}
	return nil
}
