package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/wesm/tempmail/internal/fileutil"
)

//go:embed schema.sql
var schemaSQL string

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000"

// SQLite stores the account in a key/value table.
type SQLite struct {
	db     *sql.DB
	dbPath string
}

// isSQLiteError reports whether err is a sqlite3.Error whose message
// contains substr. Handles both value and pointer forms.
func isSQLiteError(err error, substr string) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strings.Contains(sqliteErr.Error(), substr)
	}
	var sqliteErrPtr *sqlite3.Error
	if errors.As(err, &sqliteErrPtr) && sqliteErrPtr != nil {
		return strings.Contains(sqliteErrPtr.Error(), substr)
	}
	return false
}

// OpenSQLite opens or creates the database at dbPath and ensures the
// schema exists.
func OpenSQLite(dbPath string) (*SQLite, error) {
	if strings.HasPrefix(dbPath, "postgresql://") || strings.HasPrefix(dbPath, "postgres://") {
		return nil, fmt.Errorf("PostgreSQL is not supported; use a SQLite path instead")
	}

	if err := fileutil.SecureMkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+defaultSQLiteParams)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		if isSQLiteError(err, "not a database") {
			return nil, fmt.Errorf("%s is not a SQLite database", dbPath)
		}
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLite{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.dbPath }

func (s *SQLite) Load() (*Account, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, AccountKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoAccount
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return decodeAccount([]byte(value))
}

func (s *SQLite) Save(a *Account) error {
	data, err := encodeAccount(a)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, AccountKey, string(data))
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (s *SQLite) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, AccountKey); err != nil {
		return fmt.Errorf("clear account: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ AccountStore = (*SQLite)(nil)
