// Package storage archives conversations and caches document embeddings in
// SQLite so both survive restarts.
package storage

import (
	"database/sql"
	"embed"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/depie/maicookbook/internal/conversation"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the conversation archive and the
// embedding cache.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "cookbook.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Conversation archive ---

// SaveConversation records a conversation shell. Saving the same id again is
// a no-op, so restored sessions can be re-acquired without tripping the
// primary key.
func (s *Store) SaveConversation(id string, startedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, started_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, startedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// SaveMessage appends one turn to the archive. The rowid is the replay
// ordering key, not the timestamp.
func (s *Store) SaveMessage(conversationID string, msg conversation.Message) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (conversation_id, role, text, created_at)
		VALUES (?, ?, ?, ?)`,
		conversationID, string(msg.Role), msg.Text, msg.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// LoadConversations returns every archived conversation with its messages in
// append order, oldest conversation first. Used to warm the in-memory store
// at startup.
func (s *Store) LoadConversations() ([]conversation.Snapshot, error) {
	snaps, index, err := s.loadConversationRows()
	if err != nil {
		return nil, err
	}
	if err := s.attachMessages(snaps, index); err != nil {
		return nil, err
	}
	return snaps, nil
}

// loadConversationRows must fully drain its result set before
// attachMessages runs another query: the pool is capped at one connection.
func (s *Store) loadConversationRows() ([]conversation.Snapshot, map[string]int, error) {
	rows, err := s.db.Query("SELECT id, started_at FROM conversations ORDER BY started_at ASC, id ASC")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var snaps []conversation.Snapshot
	index := make(map[string]int)
	for rows.Next() {
		var id, startedAt string
		if err := rows.Scan(&id, &startedAt); err != nil {
			return nil, nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing started_at for conversation %s: %w", id, err)
		}
		index[id] = len(snaps)
		snaps = append(snaps, conversation.Snapshot{ID: id, StartedAt: t})
	}
	return snaps, index, rows.Err()
}

func (s *Store) attachMessages(snaps []conversation.Snapshot, index map[string]int) error {
	rows, err := s.db.Query("SELECT conversation_id, role, text, created_at FROM messages ORDER BY id ASC")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var convID, role, text, createdAt string
		if err := rows.Scan(&convID, &role, &text, &createdAt); err != nil {
			return err
		}
		i, ok := index[convID]
		if !ok {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return fmt.Errorf("parsing created_at for conversation %s: %w", convID, err)
		}
		snaps[i].Messages = append(snaps[i].Messages, conversation.Message{
			Role:      conversation.Role(role),
			Text:      text,
			Timestamp: t,
		})
	}
	return rows.Err()
}

// --- Embedding cache ---

// Embedding returns the cached vector for (model, textHash) and whether it
// was present.
func (s *Store) Embedding(model, textHash string) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRow(
		"SELECT embedding FROM embedding_cache WHERE model = ? AND text_hash = ?",
		model, textHash,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	vec, err := decodeFloat32s(blob)
	if err != nil {
		return nil, false, fmt.Errorf("decoding cached embedding: %w", err)
	}
	return vec, true, nil
}

// SaveEmbedding stores vec under (model, textHash), replacing any previous
// value for the pair.
func (s *Store) SaveEmbedding(model, textHash string, vec []float32) error {
	_, err := s.db.Exec(`
		INSERT INTO embedding_cache (model, text_hash, embedding, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(model, text_hash) DO UPDATE SET embedding = excluded.embedding, created_at = excluded.created_at`,
		model, textHash, encodeFloat32s(vec), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func encodeFloat32s(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeFloat32s(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return vec, nil
}
