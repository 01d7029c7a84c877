// Package store persists memory records in SQLite and renders the
// derived context and summary resources served to clients.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sincerelyyyash/memory-mind/internal/memory"
)

// ErrNotFound marks lookups that matched no record for the owner.
var ErrNotFound = errors.New("record not found")

// Store manages record persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a record store using the given database path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// NewStoreWithDB creates a record store using an existing database connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(owner_id, subject, predicate)
		);

		CREATE INDEX IF NOT EXISTS idx_records_owner ON records(owner_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create stores a record. A record with the same owner, subject, and
// predicate already present is rewritten in place rather than duplicated,
// so redelivered create calls converge on one row.
func (s *Store) Create(rec memory.Record) (memory.Record, error) {
	now := time.Now().UTC()

	// Check if exists
	var existingID string
	err := s.db.QueryRow(`
		SELECT id FROM records WHERE owner_id = ? AND subject = ? AND predicate = ?
	`, rec.OwnerID, rec.Subject, rec.Predicate).Scan(&existingID)

	if err == sql.ErrNoRows {
		id, _ := uuid.NewV7()
		_, err = s.db.Exec(`
			INSERT INTO records (id, owner_id, subject, predicate, object, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id.String(), rec.OwnerID, rec.Subject, rec.Predicate, rec.Object,
			now.Format(time.RFC3339), now.Format(time.RFC3339))
		if err != nil {
			return memory.Record{}, fmt.Errorf("insert: %w", err)
		}

		rec.ID = id.String()
		rec.Timestamp = now
		return rec, nil
	} else if err != nil {
		return memory.Record{}, fmt.Errorf("check existing: %w", err)
	}

	// Rewrite existing
	_, err = s.db.Exec(`
		UPDATE records SET object = ?, updated_at = ?
		WHERE id = ?
	`, rec.Object, now.Format(time.RFC3339), existingID)
	if err != nil {
		return memory.Record{}, fmt.Errorf("update: %w", err)
	}

	rec.ID = existingID
	rec.Timestamp = now
	return rec, nil
}

// Get retrieves a record by ID and owner.
func (s *Store) Get(id, ownerID string) (memory.Record, error) {
	row := s.db.QueryRow(`
		SELECT id, owner_id, subject, predicate, object, updated_at
		FROM records WHERE id = ? AND owner_id = ?
	`, id, ownerID)

	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return memory.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return memory.Record{}, fmt.Errorf("query: %w", err)
	}
	return rec, nil
}

// ByOwner retrieves all records for an owner, grouped by subject.
func (s *Store) ByOwner(ownerID string) ([]memory.Record, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, subject, predicate, object, updated_at
		FROM records WHERE owner_id = ? ORDER BY subject, predicate
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var records []memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Update rewrites a record matched by ID and owner.
func (s *Store) Update(rec memory.Record) (memory.Record, error) {
	now := time.Now().UTC()

	result, err := s.db.Exec(`
		UPDATE records SET subject = ?, predicate = ?, object = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`, rec.Subject, rec.Predicate, rec.Object, now.Format(time.RFC3339), rec.ID, rec.OwnerID)
	if err != nil {
		return memory.Record{}, fmt.Errorf("update: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return memory.Record{}, fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}

	rec.Timestamp = now
	return rec, nil
}

// Delete removes a record by ID and owner.
func (s *Store) Delete(id, ownerID string) error {
	result, err := s.db.Exec(`DELETE FROM records WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Stats returns record statistics.
func (s *Store) Stats() map[string]any {
	var total int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&total)

	// Count by owner
	owners := make(map[string]int)
	rows, _ := s.db.Query(`SELECT owner_id, COUNT(*) FROM records GROUP BY owner_id`)
	if rows != nil {
		defer rows.Close()
		for rows.Next() {
			var owner string
			var count int
			if err := rows.Scan(&owner, &count); err != nil {
				continue
			}
			owners[owner] = count
		}
	}

	return map[string]any{
		"total":  total,
		"owners": owners,
	}
}

// scanRecord reads one row into a record. The updated_at column becomes
// the record's timestamp; that is the moment the fact was last asserted.
func scanRecord(scan func(...any) error) (memory.Record, error) {
	var rec memory.Record
	var updatedStr string

	err := scan(&rec.ID, &rec.OwnerID, &rec.Subject, &rec.Predicate, &rec.Object, &updatedStr)
	if err != nil {
		return memory.Record{}, err
	}

	rec.Timestamp, _ = time.Parse(time.RFC3339, updatedStr)
	return rec, nil
}
