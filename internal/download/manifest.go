package download

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ManifestName is the manifest database file kept inside the download
// directory.
const ManifestName = ".icefetch-manifest.db"

// Manifest durably records which orders have been fully retrieved and
// unpacked, so an interrupted download set can be resumed across process
// restarts. SQLite in WAL mode provides the file-level locking.
type Manifest struct {
	db *sql.DB
}

// OpenManifest opens (or creates) the manifest database inside dir.
func OpenManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestName)
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	db.SetMaxOpenConns(4)

	m := &Manifest{db: db}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate manifest: %w", err)
	}
	return m, nil
}

func (m *Manifest) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS retrieved (
		order_id     TEXT PRIMARY KEY,
		files        INTEGER NOT NULL,
		completed_at TEXT NOT NULL
	);`
	_, err := m.db.Exec(schema)
	return err
}

// Close closes the manifest database.
func (m *Manifest) Close() error { return m.db.Close() }

// IsRetrieved reports whether an order is marked fully retrieved.
// Partially downloaded orders never appear here; they are re-fetched
// from scratch on resume.
func (m *Manifest) IsRetrieved(orderID string) (bool, error) {
	var count int
	err := m.db.QueryRow(`SELECT COUNT(*) FROM retrieved WHERE order_id = ?`, orderID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query manifest: %w", err)
	}
	return count > 0, nil
}

// MarkRetrieved records an order as fully retrieved and unpacked.
func (m *Manifest) MarkRetrieved(orderID string, files int) error {
	_, err := m.db.Exec(
		`INSERT OR REPLACE INTO retrieved (order_id, files, completed_at) VALUES (?, ?, ?)`,
		orderID, files, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("update manifest: %w", err)
	}
	return nil
}

// Retrieved lists all fully retrieved order IDs.
func (m *Manifest) Retrieved() ([]string, error) {
	rows, err := m.db.Query(`SELECT order_id FROM retrieved ORDER BY order_id`)
	if err != nil {
		return nil, fmt.Errorf("query manifest: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan manifest row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
