// Package synthesis turns retrieval results and conversation history into a
// grounded completion request and returns the model's answer.
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/depie/maicookbook/internal/conversation"
	"github.com/depie/maicookbook/internal/corpus"
	"github.com/depie/maicookbook/internal/llm"
	"github.com/depie/maicookbook/internal/retrieval"
)

// systemPrompt anchors every exchange; the retrieved recipes are appended
// below it under the [Συνταγές] header.
const systemPrompt = `Είσαι ένας φιλικός βοηθός μαγειρικής και απαντάς πάντα στα ελληνικά.
Απαντάς μόνο με βάση τις συνταγές που ακολουθούν. Αν οι συνταγές δεν επαρκούν
για την ερώτηση, πες το καθαρά αντί να μαντέψεις και ζήτησε από τον χρήστη να
διατυπώσει την ερώτηση αλλιώς. Όταν δίνεις οδηγίες εκτέλεσης, κράτα τη σειρά
των βημάτων της συνταγής.`

const (
	defaultHistoryTurns     = 6
	defaultMaxContextTokens = 2048
	recipesHeader           = "[Συνταγές]"
)

// Completer is the completion side of the model client.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Synthesizer builds grounded prompts and asks the model for an answer.
type Synthesizer struct {
	completer        Completer
	historyTurns     int
	maxContextTokens int
}

// New returns a Synthesizer that carries the last historyTurns history
// messages and fits retrieved recipes into maxContextTokens estimated
// tokens. A negative historyTurns or non-positive budget falls back to the
// defaults; historyTurns zero disables history.
func New(completer Completer, historyTurns, maxContextTokens int) *Synthesizer {
	if historyTurns < 0 {
		historyTurns = defaultHistoryTurns
	}
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Synthesizer{
		completer:        completer,
		historyTurns:     historyTurns,
		maxContextTokens: maxContextTokens,
	}
}

// Synthesize answers query using docs for grounding and history for
// continuity. history holds the earlier turns only, not the query itself.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, docs []retrieval.ScoredDocument, history []conversation.Message) (string, error) {
	reply, err := s.completer.Complete(ctx, s.buildMessages(query, docs, history))
	if err != nil {
		return "", fmt.Errorf("completing grounded prompt: %w", err)
	}
	return reply, nil
}

func (s *Synthesizer) buildMessages(query string, docs []retrieval.ScoredDocument, history []conversation.Message) []llm.Message {
	if s.historyTurns < len(history) {
		history = history[len(history)-s.historyTurns:]
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: s.systemContent(docs)})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Text})
	}
	return append(msgs, llm.Message{Role: "user", Content: query})
}

// systemContent appends as many retrieved recipes as fit the token budget
// under the system prompt. docs arrive ranked best first; an entry that does
// not fit is skipped so smaller lower-ranked ones can still ground the
// answer.
func (s *Synthesizer) systemContent(docs []retrieval.ScoredDocument) string {
	var b strings.Builder
	b.WriteString(systemPrompt)

	budget := s.maxContextTokens - EstimateTokens(systemPrompt) - EstimateTokens(recipesHeader)
	first := true
	for _, doc := range docs {
		entry := formatDoc(doc.Document)
		cost := EstimateTokens(entry)
		if cost > budget {
			continue
		}
		if first {
			b.WriteString("\n\n" + recipesHeader + "\n")
			first = false
		}
		b.WriteString(entry)
		budget -= cost
	}
	return b.String()
}

// formatDoc renders one recipe as a titled block.
func formatDoc(doc corpus.Document) string {
	title := doc.Meta.Title
	if title == "" {
		title = doc.ID
	}
	return fmt.Sprintf("### %s\n%s\n\n", title, doc.Text)
}

// EstimateTokens approximates the token cost of text. The hosted models
// average a bit under four bytes per token on mixed Greek and English text.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
