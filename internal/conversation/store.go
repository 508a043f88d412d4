package conversation

import (
	"container/list"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxActive caps live sessions when no explicit bound is configured.
const DefaultMaxActive = 256

// Archiver records conversations and messages outside process memory so
// sessions survive a restart. A nil Archiver disables persistence.
type Archiver interface {
	SaveConversation(id string, startedAt time.Time) error
	SaveMessage(conversationID string, msg Message) error
}

// Summary names a conversation without its messages.
type Summary struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
}

// Snapshot is an archived conversation used to warm the store at startup.
type Snapshot struct {
	ID        string
	StartedAt time.Time
	Messages  []Message
}

type entry struct {
	conv *Conversation
	mu   sync.Mutex
	elem *list.Element
}

// Store owns the live conversations. Every session has its own lock, so
// requests against one conversation serialize without stalling the rest.
// When the store grows past maxActive the least recently used idle session
// is dropped from memory; archived copies are unaffected.
type Store struct {
	mu        sync.Mutex
	entries   map[string]*entry
	lru       *list.List // conversation ids, most recently used in front
	maxActive int
	archive   Archiver
	now       func() time.Time
}

// NewStore returns a store bounded to maxActive live sessions. Values of
// maxActive below one fall back to DefaultMaxActive. archive may be nil.
func NewStore(maxActive int, archive Archiver) *Store {
	if maxActive <= 0 {
		maxActive = DefaultMaxActive
	}
	return &Store{
		entries:   make(map[string]*entry),
		lru:       list.New(),
		maxActive: maxActive,
		archive:   archive,
		now:       time.Now,
	}
}

// Create mints a new empty conversation and returns its summary.
func (s *Store) Create() Summary {
	id := uuid.New().String()

	s.mu.Lock()
	e := s.createLocked(id)
	summ := Summary{ID: id, StartedAt: e.conv.startedAt}
	s.mu.Unlock()

	s.archiveCreate(summ)
	return summ
}

// Acquire returns the conversation for id with its session lock held,
// creating the conversation when the id is unknown. The caller must call
// release exactly once, after the whole exchange for this session is done.
func (s *Store) Acquire(id string) (*Conversation, func()) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		s.lru.MoveToFront(e.elem)
		s.mu.Unlock()
	} else {
		e = s.createLocked(id)
		summ := Summary{ID: id, StartedAt: e.conv.startedAt}
		s.mu.Unlock()
		s.archiveCreate(summ)
	}

	e.mu.Lock()
	return e.conv, e.mu.Unlock
}

// Get returns the conversation for id with its session lock held, or
// ErrNotFound when the id is unknown. The caller must call release exactly
// once.
func (s *Store) Get(id string) (*Conversation, func(), error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	s.lru.MoveToFront(e.elem)
	s.mu.Unlock()

	e.mu.Lock()
	return e.conv, e.mu.Unlock, nil
}

// List returns summaries of the live conversations, newest first.
func (s *Store) List() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Summary{ID: e.conv.id, StartedAt: e.conv.startedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Len reports the number of live conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Restore installs archived conversations without writing them back to the
// archive. Snapshots are ordered oldest first so that, when they exceed the
// store bound, the newest ones survive eviction.
func (s *Store) Restore(snaps []Snapshot) {
	ordered := make([]Snapshot, len(snaps))
	copy(ordered, snaps)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].StartedAt.Before(ordered[j].StartedAt) })

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range ordered {
		if _, exists := s.entries[snap.ID]; exists {
			continue
		}
		conv := &Conversation{id: snap.ID, startedAt: snap.StartedAt, archive: s.archive}
		conv.messages = append(conv.messages, snap.Messages...)
		e := &entry{conv: conv}
		e.elem = s.lru.PushFront(snap.ID)
		s.entries[snap.ID] = e
	}
	s.evictLocked()
}

func (s *Store) createLocked(id string) *entry {
	e := &entry{conv: &Conversation{id: id, startedAt: s.now().UTC(), archive: s.archive}}
	e.elem = s.lru.PushFront(id)
	s.entries[id] = e
	s.evictLocked()
	return e
}

// evictLocked drops least recently used sessions while the store is over
// its bound. Sessions with a held lock are skipped, and the most recently
// used one is never a candidate, so the bound is soft under load.
func (s *Store) evictLocked() {
	for s.lru.Len() > s.maxActive {
		evicted := false
		for elem := s.lru.Back(); elem != nil && elem != s.lru.Front(); elem = elem.Prev() {
			id := elem.Value.(string)
			e := s.entries[id]
			if !e.mu.TryLock() {
				continue
			}
			e.mu.Unlock()
			s.lru.Remove(elem)
			delete(s.entries, id)
			evicted = true
			slog.Debug("evicted idle conversation", "conversation", id)
			break
		}
		if !evicted {
			return
		}
	}
}

func (s *Store) archiveCreate(summ Summary) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveConversation(summ.ID, summ.StartedAt); err != nil {
		slog.Warn("archiving conversation failed", "conversation", summ.ID, "error", err)
	}
}
