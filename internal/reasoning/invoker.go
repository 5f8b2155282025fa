// Package reasoning sends structured prompts to a hosted language model and
// returns its text response.
//
// The Invoker interface is the only thing stages depend on. GeminiInvoker is
// the production implementation; Scripted answers from canned replies in tests.
//
// No retry happens in this package. Every failure is wrapped in ErrService so
// the orchestrator can classify it and apply its own retry policy.
package reasoning

import (
	"context"
	"errors"
	"strings"
)

// ErrService is wrapped by every failure to obtain a model response:
// transport errors, rejected credentials, quota exhaustion, blocked prompts,
// and empty responses.
var ErrService = errors.New("reasoning service error")

// Invoker sends one prompt and returns the model's text.
type Invoker interface {
	Invoke(ctx context.Context, p Prompt) (string, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, p Prompt) (string, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

// Section is a titled block of context material such as source files or a
// prior stage's output.
type Section struct {
	Title string
	Body  string
}

// Prompt is the structured input of a reasoning call.
type Prompt struct {
	// Role is the persona the model answers as ("Senior Python Developer").
	Role string
	// Instructions describe the task and the expected output shape.
	Instructions string
	// Context is rendered after the instructions, in order.
	Context []Section
}

// Render produces the deterministic text sent to the model.
//
// Each section is fenced by
//
//	===== BEGIN <TITLE> =====
//	...
//	===== END <TITLE> =====
//
// so the same prompt always renders to the same bytes.
func (p Prompt) Render() string {
	var b strings.Builder
	if p.Role != "" {
		b.WriteString("You are a ")
		b.WriteString(p.Role)
		b.WriteString(".\n\n")
	}
	b.WriteString(strings.TrimSpace(p.Instructions))
	b.WriteString("\n")
	for _, s := range p.Context {
		title := strings.ToUpper(strings.TrimSpace(s.Title))
		b.WriteString("\n===== BEGIN ")
		b.WriteString(title)
		b.WriteString(" =====\n")
		b.WriteString(s.Body)
		if !strings.HasSuffix(s.Body, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("===== END ")
		b.WriteString(title)
		b.WriteString(" =====\n")
	}
	return b.String()
}
