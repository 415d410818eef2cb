package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/protolens-project/protolens/internal/schema"
	"github.com/protolens-project/protolens/internal/session"
	"github.com/protolens-project/protolens/internal/util"
)

// Store is the persistence layer for learned schemas and session
// recordings.
type Store struct {
	db     *Database
	logger zerolog.Logger
}

// RecordingSummary is the listing row for a persisted recording.
type RecordingSummary struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Calls     int       `json:"calls"`
}

// Open creates or opens the store at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:     db,
		logger: util.ComponentLogger("store"),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	ddl := `
		CREATE TABLE IF NOT EXISTS schema_documents (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			document TEXT NOT NULL,
			saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL,
			call_count INTEGER NOT NULL,
			document TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_recordings_started_at ON recordings(started_at);
	`

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	s.logger.Debug().Msg("store schema migrated")
	return nil
}

// SaveSchemaDocument replaces the persisted schema document.
func (s *Store) SaveSchemaDocument(doc *schema.Document) error {
	data, err := schema.MarshalDocument(doc)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO schema_documents (id, document, saved_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET document = excluded.document, saved_at = excluded.saved_at
	`, string(data))
	if err != nil {
		return fmt.Errorf("failed to save schema document: %w", err)
	}

	s.logger.Debug().Int("entries", len(doc.Schemas)).Msg("schema document saved")
	return nil
}

// LoadSchemaDocument loads the persisted schema document. A missing row
// returns nil, and a corrupt document degrades to nil with a warning so the
// engine starts with an empty registry instead of failing.
func (s *Store) LoadSchemaDocument() *schema.Document {
	var raw string
	err := s.db.QueryRow("SELECT document FROM schema_documents WHERE id = 1").Scan(&raw)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load schema document, starting empty")
		return nil
	}

	doc, err := schema.UnmarshalDocument([]byte(raw))
	if err != nil {
		s.logger.Warn().Err(err).Msg("schema document corrupt, starting empty")
		return nil
	}
	return doc
}

// SaveRecording persists a frozen recording.
func (s *Store) SaveRecording(rec *session.Recording) error {
	data, err := session.MarshalRecording(rec)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO recordings (id, started_at, ended_at, call_count, document) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			call_count = excluded.call_count,
			document = excluded.document
	`, rec.ID, rec.StartedAt, rec.EndedAt, len(rec.Calls), string(data))
	if err != nil {
		return fmt.Errorf("failed to save recording %s: %w", rec.ID, err)
	}

	s.logger.Info().Str("recording_id", rec.ID).Int("calls", len(rec.Calls)).Msg("recording saved")
	return nil
}

// LoadRecording loads a recording by id. A corrupt document degrades to an
// empty recording with a warning.
func (s *Store) LoadRecording(id string) (*session.Recording, error) {
	var raw string
	err := s.db.QueryRow("SELECT document FROM recordings WHERE id = ?", id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recording %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recording %s: %w", id, err)
	}

	rec, err := session.UnmarshalRecording([]byte(raw))
	if err != nil {
		s.logger.Warn().Err(err).Str("recording_id", id).Msg("recording corrupt, returning empty")
		return &session.Recording{ID: id}, nil
	}
	return rec, nil
}

// ListRecordings returns summaries of all persisted recordings, newest
// first.
func (s *Store) ListRecordings() ([]RecordingSummary, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, ended_at, call_count
		FROM recordings ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var out []RecordingSummary
	for rows.Next() {
		var r RecordingSummary
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.EndedAt, &r.Calls); err != nil {
			return nil, fmt.Errorf("failed to scan recording row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRecording removes a persisted recording.
func (s *Store) DeleteRecording(id string) error {
	res, err := s.db.Exec("DELETE FROM recordings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete recording %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recording %s not found", id)
	}
	return nil
}
