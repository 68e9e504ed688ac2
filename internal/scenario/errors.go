package scenario

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrScenarioNotFound 没有与 (project, slug) 匹配的场景文件
	ErrScenarioNotFound = errors.New("scenario not found")
	// ErrScenarioParse 场景文件不是合法 YAML 或缺少必填字段
	ErrScenarioParse = errors.New("scenario parse error")
)

// NotFoundError is returned when no source file matches a project and slug.
type NotFoundError struct {
	Project string
	Slug    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("scenario not found: %s/%s", e.Project, e.Slug)
}

// Is makes errors.Is(err, ErrScenarioNotFound) work.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrScenarioNotFound
}

// ParseError represents a parsing or validation error with location information.
type ParseError struct {
	Path    string // Source file, empty when parsing raw bytes
	Line    int    // Line number where the error occurred (1-based)
	Column  int    // Column number where the error occurred (1-based)
	Field   string // Field that failed validation
	Message string // Error message
	Cause   error  // Underlying error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	var sb strings.Builder
	sb.WriteString("parse error")
	if e.Path != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.Path)
	}
	switch {
	case e.Line > 0 && e.Column > 0:
		fmt.Fprintf(&sb, " at line %d, column %d", e.Line, e.Column)
	case e.Line > 0:
		fmt.Fprintf(&sb, " at line %d", e.Line)
	}
	if e.Field != "" {
		fmt.Fprintf(&sb, ": field '%s'", e.Field)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrScenarioParse) work.
func (e *ParseError) Is(target error) bool {
	return target == ErrScenarioParse
}

func newFieldError(field, message string) *ParseError {
	return &ParseError{Field: field, Message: message}
}
