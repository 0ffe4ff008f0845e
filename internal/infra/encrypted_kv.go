package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	stateDBName = "state.db"
)

// EncryptedKV implements domain.KVStore using a SQLCipher encrypted SQLite
// database with a single flat key/value table.
type EncryptedKV struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedKV opens (or creates) the encrypted state database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedKV(dataDir string, key []byte) (*EncryptedKV, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, stateDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only surfaces on first access.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	kv := &EncryptedKV{db: db, dbPath: dbPath}
	if err := kv.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return kv, nil
}

func (s *EncryptedKV) createTables() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS entries (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`)
	return err
}

// Load returns every stored entry.
func (s *EncryptedKV) Load() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Commit applies set and del in a single transaction.
func (s *EncryptedKV) Commit(set map[string]string, del []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for k, v := range set {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO entries (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("failed to write %s: %w", k, err)
		}
	}
	for _, k := range del {
		if _, err := tx.Exec(`DELETE FROM entries WHERE key = ?`, k); err != nil {
			return fmt.Errorf("failed to delete %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// Location returns the database file path.
func (s *EncryptedKV) Location() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *EncryptedKV) Close() error {
	return s.db.Close()
}

// Ensure EncryptedKV implements domain.KVStore.
var _ domain.KVStore = (*EncryptedKV)(nil)
