// Package conversation keeps per-session chat state: ordered messages with
// strict role alternation, bounded in memory and optionally archived.
package conversation

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

var (
	// ErrInvalidTurn rejects an append that would break the user/assistant
	// alternation.
	ErrInvalidTurn = errors.New("conversation roles must alternate starting with user")
	// ErrNotFound is returned for unknown conversation ids.
	ErrNotFound = errors.New("conversation not found")
)

// Conversation is one chat session. Methods that touch messages must be
// called while holding the session lock handed out by Store.Acquire or
// Store.Get; the struct itself carries no lock.
type Conversation struct {
	id        string
	startedAt time.Time
	messages  []Message
	archive   Archiver
}

func (c *Conversation) ID() string           { return c.id }
func (c *Conversation) StartedAt() time.Time { return c.startedAt }
func (c *Conversation) Len() int             { return len(c.messages) }

// Append adds msg after validating alternation: the first message comes
// from the user and no two consecutive messages share a role. Successful
// appends are written through to the archive; archive failures are logged,
// not surfaced, since memory stays the source of truth for a live session.
func (c *Conversation) Append(msg Message) error {
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, msg.Role)
	}
	if len(c.messages) == 0 {
		if msg.Role != RoleUser {
			return fmt.Errorf("%w: conversation must open with a user message", ErrInvalidTurn)
		}
	} else if c.messages[len(c.messages)-1].Role == msg.Role {
		return fmt.Errorf("%w: consecutive %q messages", ErrInvalidTurn, msg.Role)
	}

	c.messages = append(c.messages, msg)

	if c.archive != nil {
		if err := c.archive.SaveMessage(c.id, msg); err != nil {
			slog.Warn("archiving message failed", "conversation", c.id, "error", err)
		}
	}
	return nil
}

// Messages returns a copy of the most recent limit messages in
// chronological order. A negative limit returns everything.
func (c *Conversation) Messages(limit int) []Message {
	msgs := c.tail(limit)
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// History yields the most recent limit messages in chronological order.
// The sequence is built over a snapshot, so it can be ranged any number of
// times and stays valid after the session lock is released.
func (c *Conversation) History(limit int) iter.Seq[Message] {
	msgs := c.Messages(limit)
	return func(yield func(Message) bool) {
		for _, m := range msgs {
			if !yield(m) {
				return
			}
		}
	}
}

func (c *Conversation) tail(limit int) []Message {
	if limit < 0 || limit >= len(c.messages) {
		return c.messages
	}
	return c.messages[len(c.messages)-limit:]
}
