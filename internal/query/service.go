// Package query orchestrates one chat exchange: conversation state, corpus
// retrieval and grounded answer synthesis.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/depie/maicookbook/internal/conversation"
	"github.com/depie/maicookbook/internal/retrieval"
)

// State tracks how far a request made it through the pipeline. Transitions
// are logged so a failed exchange can be placed.
type State string

const (
	StateReceived     State = "received"
	StateRetrieving   State = "retrieving"
	StateSynthesizing State = "synthesizing"
	StateResponded    State = "responded"
	StateFailed       State = "failed"
)

const (
	defaultTopK    = 4
	defaultTimeout = 90 * time.Second
)

// Retriever returns the best matching documents for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.ScoredDocument, error)
}

// Synthesizer produces a grounded answer from a query, its retrieved
// documents and the prior history.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, docs []retrieval.ScoredDocument, history []conversation.Message) (string, error)
}

// Service answers chat queries against the recipe corpus, one conversation
// turn at a time.
type Service struct {
	sessions    *conversation.Store
	retriever   Retriever
	synthesizer Synthesizer
	topK        int
	timeout     time.Duration
	now         func() time.Time
}

// New wires the service. topK and timeout fall back to defaults when
// non-positive.
func New(sessions *conversation.Store, retriever Retriever, synthesizer Synthesizer, topK int, timeout time.Duration) *Service {
	if topK <= 0 {
		topK = defaultTopK
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{
		sessions:    sessions,
		retriever:   retriever,
		synthesizer: synthesizer,
		topK:        topK,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Ask runs one exchange for the conversation key:
//  1. Acquire the session (created on first use) and hold its lock.
//  2. Append the user turn; alternation violations stop here.
//  3. Retrieve grounding documents for the query.
//  4. Synthesize the answer and append it as the assistant turn.
//
// When retrieval or synthesis fails the conversation keeps only the user
// turn, never a partial answer. The whole exchange runs under the request
// timeout.
func (s *Service) Ask(ctx context.Context, conversationID, text string) (string, error) {
	log := slog.With("conversation", conversationID)
	log.Debug("chat exchange", "state", StateReceived)

	conv, release := s.sessions.Acquire(conversationID)
	defer release()

	// Capture history before the new turn so the prompt does not repeat
	// the query.
	history := conv.Messages(-1)

	if err := conv.Append(conversation.Message{Role: conversation.RoleUser, Text: text, Timestamp: s.now()}); err != nil {
		log.Debug("chat exchange", "state", StateFailed, "error", err)
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log.Debug("chat exchange", "state", StateRetrieving)
	docs, err := s.retriever.Retrieve(ctx, text, s.topK)
	if err != nil {
		log.Warn("chat exchange", "state", StateFailed, "error", err)
		return "", fmt.Errorf("retrieving context: %w", err)
	}

	log.Debug("chat exchange", "state", StateSynthesizing)
	reply, err := s.synthesizer.Synthesize(ctx, text, docs, history)
	if err != nil {
		log.Warn("chat exchange", "state", StateFailed, "error", err)
		return "", fmt.Errorf("synthesizing answer: %w", err)
	}

	if err := conv.Append(conversation.Message{Role: conversation.RoleAssistant, Text: reply, Timestamp: s.now()}); err != nil {
		log.Warn("chat exchange", "state", StateFailed, "error", err)
		return "", err
	}

	log.Debug("chat exchange", "state", StateResponded)
	return reply, nil
}

// Answer runs retrieval and synthesis for a one-shot query without touching
// conversation state. The MCP tools use it.
func (s *Service) Answer(ctx context.Context, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	docs, err := s.retriever.Retrieve(ctx, query, s.topK)
	if err != nil {
		return "", fmt.Errorf("retrieving context: %w", err)
	}
	reply, err := s.synthesizer.Synthesize(ctx, query, docs, nil)
	if err != nil {
		return "", fmt.Errorf("synthesizing answer: %w", err)
	}
	return reply, nil
}

// Search returns the top matching recipes without invoking the model. A
// non-positive k falls back to the configured top-k.
func (s *Service) Search(ctx context.Context, query string, k int) ([]retrieval.ScoredDocument, error) {
	if k <= 0 {
		k = s.topK
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.retriever.Retrieve(ctx, query, k)
}
