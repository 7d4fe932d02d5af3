package llmprovider

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Scripted is a deterministic Provider test double: each call to
// GenerateStructured or GenerateStructuredInConversation pops the next
// entry off Responses in order. It lets tests and cmd/pipelinectl's demo
// wiring script exact response sequences without a live SDK, matching
// tarsy's hand-rolled mock style rather than a mocking framework.
type Scripted struct {
	mu        sync.Mutex
	Responses []Response
	next      int
	cumulative Usage
}

// NewScripted builds a Scripted provider that returns responses in order.
func NewScripted(responses ...Response) *Scripted {
	return &Scripted{Responses: responses}
}

func (s *Scripted) take() (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.Responses) {
		return Response{}, fmt.Errorf("llmprovider: scripted provider exhausted after %d calls", s.next)
	}
	r := s.Responses[s.next]
	s.next++
	s.cumulative.PromptTokens += r.Usage.PromptTokens
	s.cumulative.CompletionTokens += r.Usage.CompletionTokens
	s.cumulative.TotalTokens += r.Usage.TotalTokens
	return r, nil
}

// GenerateStructured implements Provider.
func (s *Scripted) GenerateStructured(_ context.Context, _ []Message, _ string, _ float64) (*Response, error) {
	r, err := s.take()
	if err != nil {
		return nil, err
	}
	if r.ResponseID == "" {
		r.ResponseID = uuid.NewString()
	}
	return &r, nil
}

// GenerateStructuredInConversation implements Provider, minting a new
// conversation id when conversationID is empty.
func (s *Scripted) GenerateStructuredInConversation(_ context.Context, _, conversationID, _, _ string, _ float64) (*Response, error) {
	r, err := s.take()
	if err != nil {
		return nil, err
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	r.ConversationID = conversationID
	if r.ResponseID == "" {
		r.ResponseID = uuid.NewString()
	}
	return &r, nil
}

// GetCumulativeUsage implements Provider.
func (s *Scripted) GetCumulativeUsage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cumulative
}

// ResetUsage implements Provider.
func (s *Scripted) ResetUsage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cumulative = Usage{}
}
