package storage

import (
	"testing"
	"time"

	"github.com/depie/maicookbook/internal/conversation"
	"github.com/depie/maicookbook/internal/ingest"
)

var (
	_ conversation.Archiver = (*Store)(nil)
	_ ingest.Cache          = (*Store)(nil)
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) == 0 {
		t.Fatal("expected at least one applied migration")
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestTablesExist verifies the migration creates the archive and cache tables.
func TestTablesExist(t *testing.T) {
	s := openTestStore(t)

	for _, table := range []string{"conversations", "messages", "embedding_cache"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %q not found in sqlite_master", table)
		}
	}
}

// TestArchiveRoundTrip appends turns through the archive and reloads them,
// checking order, roles, texts and timestamps.
func TestArchiveRoundTrip(t *testing.T) {
	s := openTestStore(t)

	started := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	if err := s.SaveConversation("conv-1", started); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	turns := []conversation.Message{
		{Role: conversation.RoleUser, Text: "Πώς φτιάχνω μουσακά;", Timestamp: started.Add(time.Second)},
		{Role: conversation.RoleAssistant, Text: "Με κιμά και μελιτζάνες.", Timestamp: started.Add(2 * time.Second)},
		{Role: conversation.RoleUser, Text: "Και χωρίς κιμά;", Timestamp: started.Add(3 * time.Second)},
	}
	for _, msg := range turns {
		if err := s.SaveMessage("conv-1", msg); err != nil {
			t.Fatalf("SaveMessage(%q): %v", msg.Text, err)
		}
	}

	snaps, err := s.LoadConversations()
	if err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("loaded %d conversations, want 1", len(snaps))
	}

	snap := snaps[0]
	if snap.ID != "conv-1" {
		t.Errorf("snapshot ID = %q, want conv-1", snap.ID)
	}
	if !snap.StartedAt.Equal(started) {
		t.Errorf("snapshot StartedAt = %v, want %v", snap.StartedAt, started)
	}
	if len(snap.Messages) != len(turns) {
		t.Fatalf("loaded %d messages, want %d", len(snap.Messages), len(turns))
	}
	for i, want := range turns {
		got := snap.Messages[i]
		if got.Role != want.Role || got.Text != want.Text {
			t.Errorf("message %d = {%s %q}, want {%s %q}", i, got.Role, got.Text, want.Role, want.Text)
		}
		if !got.Timestamp.Equal(want.Timestamp) {
			t.Errorf("message %d timestamp = %v, want %v", i, got.Timestamp, want.Timestamp)
		}
	}
}

// TestSaveConversationIdempotent verifies re-saving an id does not duplicate
// the conversation or error out.
func TestSaveConversationIdempotent(t *testing.T) {
	s := openTestStore(t)

	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for range 2 {
		if err := s.SaveConversation("conv-1", started); err != nil {
			t.Fatalf("SaveConversation: %v", err)
		}
	}

	snaps, err := s.LoadConversations()
	if err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("loaded %d conversations, want 1", len(snaps))
	}
}

// TestLoadConversationsOrderedByStart verifies snapshots come back oldest first.
func TestLoadConversationsOrderedByStart(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SaveConversation("newer", base.Add(time.Hour)); err != nil {
		t.Fatalf("SaveConversation(newer): %v", err)
	}
	if err := s.SaveConversation("older", base); err != nil {
		t.Fatalf("SaveConversation(older): %v", err)
	}

	snaps, err := s.LoadConversations()
	if err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	if len(snaps) != 2 || snaps[0].ID != "older" || snaps[1].ID != "newer" {
		t.Fatalf("LoadConversations order = %+v, want older then newer", snaps)
	}
}

// TestEmbeddingCacheRoundTrip checks miss, hit and value fidelity.
func TestEmbeddingCacheRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.Embedding("bge-m3", "hash-1"); err != nil || ok {
		t.Fatalf("Embedding on empty cache = (ok=%v, err=%v), want miss", ok, err)
	}

	want := []float32{0.25, -1.5, 3.0, 0}
	if err := s.SaveEmbedding("bge-m3", "hash-1", want); err != nil {
		t.Fatalf("SaveEmbedding: %v", err)
	}

	got, ok, err := s.Embedding("bge-m3", "hash-1")
	if err != nil {
		t.Fatalf("Embedding: %v", err)
	}
	if !ok {
		t.Fatal("Embedding reported a miss after SaveEmbedding")
	}
	if len(got) != len(want) {
		t.Fatalf("vector length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vector[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// Same hash under a different model is still a miss.
	if _, ok, err := s.Embedding("other-model", "hash-1"); err != nil || ok {
		t.Fatalf("Embedding under other model = (ok=%v, err=%v), want miss", ok, err)
	}
}

// TestSaveEmbeddingOverwrites verifies the latest vector wins for a pair.
func TestSaveEmbeddingOverwrites(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveEmbedding("bge-m3", "hash-1", []float32{1}); err != nil {
		t.Fatalf("first SaveEmbedding: %v", err)
	}
	if err := s.SaveEmbedding("bge-m3", "hash-1", []float32{2, 3}); err != nil {
		t.Fatalf("second SaveEmbedding: %v", err)
	}

	got, ok, err := s.Embedding("bge-m3", "hash-1")
	if err != nil || !ok {
		t.Fatalf("Embedding = (ok=%v, err=%v), want hit", ok, err)
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("vector = %v, want [2 3]", got)
	}
}

// TestOpenCreatesDataDir verifies Open creates missing directories.
func TestOpenCreatesDataDir(t *testing.T) {
	dir := t.TempDir() + "/nested/data"

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", dir, err)
	}
	s.Close()
}

func TestDecodeRejectsTruncatedBlob(t *testing.T) {
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for a blob that is not a multiple of 4 bytes")
	}
}
