// Package structured implements spec.md §4.2's structured output support:
// a JSON Schema reflected from a Go type via the teacher-adjacent
// invopop/jsonschema reflector (grounded on haasonsaas-nexus's
// internal/config/schema.go JSONSchema() pattern), validated with the
// same santhosh-tekuri/jsonschema/v6 compiler the tool package uses, and
// parsed from a model's raw response text using the parse-recovery
// algorithm: try a direct parse, then a fenced-code-block-stripped
// retry, then give up with a diagnosable failure.
//
// model.Response keeps Content as a raw string rather than a parsed
// value because Go does not allow generic methods on interfaces; this
// package is where callers combine that raw string with a concrete
// target type T.
package structured

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	v6 "github.com/santhosh-tekuri/jsonschema/v6"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ParseFailure reports that a model response could not be parsed into the
// target type after both the direct and fenced-block recovery attempts.
type ParseFailure struct {
	Content string
	Cause   error
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("structured: failed to parse structured output: %s", e.Content)
}

func (e *ParseFailure) Unwrap() error { return e.Cause }

// OutputSchema reflects a JSON Schema for T once and reuses it for every
// Parse call. The zero value is not usable; construct with NewOutputSchema.
type OutputSchema[T any] struct {
	once   sync.Once
	doc    json.RawMessage
	schema *v6.Schema
	err    error
}

// NewOutputSchema constructs an OutputSchema for T. The schema is reflected
// and compiled lazily, on first use, so constructing one has no cost for
// types that are never actually parsed.
func NewOutputSchema[T any]() *OutputSchema[T] {
	return &OutputSchema[T]{}
}

func (s *OutputSchema[T]) compile() {
	s.once.Do(func() {
		var zero T
		r := &jsonschema.Reflector{}
		reflected := r.Reflect(&zero)
		doc, err := json.Marshal(reflected)
		if err != nil {
			s.err = fmt.Errorf("structured: reflect schema: %w", err)
			return
		}
		s.doc = doc

		var decoded any
		if err := json.Unmarshal(doc, &decoded); err != nil {
			s.err = fmt.Errorf("structured: decode reflected schema: %w", err)
			return
		}
		c := v6.NewCompiler()
		const resource = "structured://output.json"
		if err := c.AddResource(resource, decoded); err != nil {
			s.err = fmt.Errorf("structured: add schema resource: %w", err)
			return
		}
		schema, err := c.Compile(resource)
		if err != nil {
			s.err = fmt.Errorf("structured: compile schema: %w", err)
			return
		}
		s.schema = schema
	})
}

// Schema returns the JSON Schema document describing T, suitable for
// Request.OutputSchema.
func (s *OutputSchema[T]) Schema() (json.RawMessage, error) {
	s.compile()
	if s.err != nil {
		return nil, s.err
	}
	return s.doc, nil
}

// Parse recovers a T from a model's raw response content, per spec.md
// §4.2: 1) parse content directly as JSON; 2) if that fails and content
// contains a fenced code block, strip the fence and retry; 3) otherwise
// return a ParseFailure wrapping the error from the direct parse.
func (s *OutputSchema[T]) Parse(content string) (T, error) {
	s.compile()
	var zero T
	if s.err != nil {
		return zero, s.err
	}

	value, firstErr := decode[T](content)
	if firstErr == nil {
		if err := s.validate(value); err != nil {
			return zero, err
		}
		return value, nil
	}

	if m := fencePattern.FindStringSubmatch(content); m != nil {
		if value, err := decode[T](m[1]); err == nil {
			if verr := s.validate(value); verr != nil {
				return zero, verr
			}
			return value, nil
		}
	}

	return zero, &ParseFailure{Content: content, Cause: firstErr}
}

func (s *OutputSchema[T]) validate(value T) error {
	if s.schema == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("structured: marshal parsed value: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("structured: decode parsed value: %w", err)
	}
	if err := s.schema.Validate(decoded); err != nil {
		return fmt.Errorf("structured: parsed value does not conform to schema: %w", err)
	}
	return nil
}

func decode[T any](content string) (T, error) {
	var value T
	trimmed := strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return value, err
	}
	return value, nil
}
