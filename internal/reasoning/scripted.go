package reasoning

import (
	"context"
	"fmt"
	"sync"
)

// Reply is one canned answer. A non-nil Err is returned instead of Text.
type Reply struct {
	Text string
	Err  error
}

// Scripted is a deterministic Invoker for offline runs and tests. Replies are
// queued per prompt role and consumed in order; the last reply for a role is
// repeated once the queue runs dry.
type Scripted struct {
	mu       sync.Mutex
	replies  map[string][]Reply
	fallback func(Prompt) Reply
	calls    []Prompt
}

// NewScripted creates an empty Scripted invoker.
func NewScripted() *Scripted {
	return &Scripted{replies: make(map[string][]Reply)}
}

// On queues replies for prompts with the given role.
func (s *Scripted) On(role string, replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[role] = append(s.replies[role], replies...)
	return s
}

// OnText queues plain text replies for the given role.
func (s *Scripted) OnText(role string, texts ...string) *Scripted {
	replies := make([]Reply, len(texts))
	for i, t := range texts {
		replies[i] = Reply{Text: t}
	}
	return s.On(role, replies...)
}

// Fallback answers prompts whose role has no queued replies.
func (s *Scripted) Fallback(fn func(Prompt) Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = fn
	return s
}

// Invoke implements Invoker.
func (s *Scripted) Invoke(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, p)

	queue := s.replies[p.Role]
	var r Reply
	switch {
	case len(queue) > 1:
		r = queue[0]
		s.replies[p.Role] = queue[1:]
	case len(queue) == 1:
		r = queue[0]
	case s.fallback != nil:
		r = s.fallback(p)
	default:
		return "", fmt.Errorf("%w: no scripted reply for role %q", ErrService, p.Role)
	}
	if r.Err != nil {
		return "", r.Err
	}
	return r.Text, nil
}

// Calls returns every prompt received, in order.
func (s *Scripted) Calls() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Prompt, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsFor returns the prompts received for one role.
func (s *Scripted) CallsFor(role string) []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Prompt
	for _, c := range s.calls {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}
