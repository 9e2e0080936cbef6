// Package wizard defines the step contract and the per-wizard step definition
// table. Definitions are built at startup and read-only afterwards.
package wizard

import (
	"context"
	"fmt"
	"time"

	"github.com/docwell/stepflow/pkg/models"
)

// Step is one unit of a wizard sequence. Validate must be pure; Apply may call
// external collaborators and must be idempotent under retry with the same
// payload on the same session.
type Step interface {
	Name() string
	Description() string

	// Schema declares the expected payload shape. A nil schema skips the
	// shape check.
	Schema() *models.JSONSchema

	// Validate returns field-attributable failure messages. An empty result
	// means the payload is acceptable. It never mutates the session.
	Validate(payload map[string]any, session *models.Session) []string

	// Apply performs the step's side effect and returns the field updates to
	// merge into the session. Collaborator failures should be returned as
	// *protocol.CallError so the engine can classify them.
	Apply(ctx context.Context, payload map[string]any, session *models.Session) (*Result, error)
}

// TimeoutStep is optionally implemented by steps whose Apply calls an external
// collaborator; the engine bounds the call by the returned duration.
type TimeoutStep interface {
	Step

	Timeout() time.Duration
}

// Result carries the outcome of a successful Apply.
type Result struct {
	// Fields are merged into the session. Keys must be namespaced by the
	// owning step ("step2.clientId") so no two steps collide.
	Fields map[string]any

	// Warnings surface non-blocking notes to the client.
	Warnings []string

	// Activated is set by terminal steps of integration wizards once the
	// external system is live.
	Activated bool
}

// Definition is the ordered step table for one wizard type. Step indices are
// 1-based with no gaps; the last step is the terminal one.
type Definition struct {
	wizardType  string
	description string
	steps       []Step
}

// NewDefinition builds a step table. It fails on an empty step list so a
// registered wizard always has a terminal step.
func NewDefinition(wizardType, description string, steps ...Step) (*Definition, error) {
	if wizardType == "" {
		return nil, fmt.Errorf("wizard type is required")
	}

	if len(steps) == 0 {
		return nil, fmt.Errorf("wizard %q must declare at least one step", wizardType)
	}

	return &Definition{
		wizardType:  wizardType,
		description: description,
		steps:       steps,
	}, nil
}

// MustDefinition is NewDefinition for startup registration paths where a bad
// table is a programming error.
func MustDefinition(wizardType, description string, steps ...Step) *Definition {
	def, err := NewDefinition(wizardType, description, steps...)
	if err != nil {
		panic(err)
	}

	return def
}

func (d *Definition) Type() string        { return d.wizardType }
func (d *Definition) Description() string { return d.description }

// TotalSteps returns N, the number of steps in the sequence.
func (d *Definition) TotalSteps() int { return len(d.steps) }

// Step returns the step at the given 1-based index.
func (d *Definition) Step(index int) (Step, error) {
	if index < 1 || index > len(d.steps) {
		return nil, fmt.Errorf("wizard %q has no step %d", d.wizardType, index)
	}

	return d.steps[index-1], nil
}

// IsTerminal reports whether index is the last step of the sequence.
func (d *Definition) IsTerminal(index int) bool {
	return index == len(d.steps)
}

// StepTimeout returns the apply deadline for a step, or fallback when the step
// does not declare one.
func StepTimeout(step Step, fallback time.Duration) time.Duration {
	if ts, ok := step.(TimeoutStep); ok && ts.Timeout() > 0 {
		return ts.Timeout()
	}

	return fallback
}
