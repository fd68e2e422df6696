package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/kwheeler/mailstash/pkg/types"
)

// Store is the local metadata store for accounts, folders, and cached
// emails. It is safe for one writer and any number of readers; write
// serialization comes from SQLite's transaction isolation, not from
// locking in this layer. Operations are single local-disk calls and are
// never retried internally.
type Store struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// Open opens the database at dbPath, creating it and any parent
// directories if absent, and applies pending schema migrations in order.
// A migration failure is reported wrapped in ErrMigration and leaves the
// schema at the last fully applied version.
func Open(dbPath string, logger *logrus.Logger) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	// Pragmas go in the DSN so the driver applies them to every pooled
	// connection: foreign_keys is per-connection in SQLite, and the pool
	// opens and retires connections behind our back. WAL also lets the
	// UI read while a sync write is in flight.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithField("path", dbPath).Info("Store opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies all pending migrations in ascending version order.
// Each migration runs in its own transaction together with its ledger
// row, so a failure cannot leave a step half-applied.
func (s *Store) migrate() error {
	const ledger = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`
	if _, err := s.db.Exec(ledger); err != nil {
		return fmt.Errorf("%w: creating ledger: %v", ErrMigration, err)
	}

	var current int
	err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("%w: reading ledger: %v", ErrMigration, err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("%w: v%d (%s): %v", ErrMigration, m.version, m.name, err)
		}
		s.logger.WithFields(logrus.Fields{
			"version": m.version,
			"name":    m.name,
		}).Info("Applied migration")
	}

	return nil
}

func (s *Store) applyMigration(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		return err
	}

	return tx.Commit()
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// AddAccount inserts a new account and returns its id. The email address
// is unique across all accounts; adding a duplicate fails with
// ErrConflict and does not touch the existing row, so callers decide
// whether re-adding should become an update.
func (s *Store) AddAccount(ctx context.Context, email, provider string) (int64, error) {
	if email == "" {
		return 0, fmt.Errorf("account email must not be empty")
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (email, provider) VALUES (?, ?)", email, provider)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("account %q: %w", email, ErrConflict)
		}
		return 0, fmt.Errorf("inserting account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading account id: %w", err)
	}
	return id, nil
}

// GetAccountByEmail returns the account with the given address.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*types.Account, error) {
	var acc types.Account
	err := s.db.GetContext(ctx, &acc,
		"SELECT id, email, provider, created_at FROM accounts WHERE email = ?", email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %q: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return &acc, nil
}

// ListAccounts returns all configured accounts ordered by address.
func (s *Store) ListAccounts(ctx context.Context) ([]types.Account, error) {
	var accounts []types.Account
	err := s.db.SelectContext(ctx, &accounts,
		"SELECT id, email, provider, created_at FROM accounts ORDER BY email")
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	return accounts, nil
}

// DeleteAccount removes an account along with all of its folders and
// emails (referential cascade). Deleting an unknown id fails with
// ErrNotFound.
func (s *Store) DeleteAccount(ctx context.Context, accountID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", accountID)
	if err != nil {
		return fmt.Errorf("deleting account %d: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting account %d: %w", accountID, err)
	}
	if n == 0 {
		return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}
	return nil
}

// UpsertFolder creates a folder or returns the existing folder's id when
// (account, name) is already present. The create is idempotent: calling
// it twice with identical arguments yields the same id.
func (s *Store) UpsertFolder(ctx context.Context, accountID int64, name string, kind types.FolderKind) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("folder name must not be empty")
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("unknown folder kind %q", kind)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO folders (account_id, name, kind) VALUES (?, ?, ?)",
		accountID, name, string(kind))
	if err == nil {
		return res.LastInsertId()
	}
	if !isUniqueViolation(err) {
		return 0, fmt.Errorf("inserting folder: %w", err)
	}

	var id int64
	err = s.db.GetContext(ctx, &id,
		"SELECT id FROM folders WHERE account_id = ? AND name = ?", accountID, name)
	if err != nil {
		return 0, fmt.Errorf("querying existing folder: %w", err)
	}
	return id, nil
}

// GetFolder returns a single folder by id.
func (s *Store) GetFolder(ctx context.Context, folderID int64) (*types.Folder, error) {
	var f types.Folder
	err := s.db.GetContext(ctx, &f,
		"SELECT id, account_id, name, kind, unread_count FROM folders WHERE id = ?", folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("folder %d: %w", folderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying folder: %w", err)
	}
	return &f, nil
}

// ListFolders returns the folders of an account ordered by name. An
// account with no folders (or an unknown account) yields an empty slice,
// not an error.
func (s *Store) ListFolders(ctx context.Context, accountID int64) ([]types.Folder, error) {
	var folders []types.Folder
	err := s.db.SelectContext(ctx, &folders,
		"SELECT id, account_id, name, kind, unread_count FROM folders WHERE account_id = ? ORDER BY name",
		accountID)
	if err != nil {
		return nil, fmt.Errorf("querying folders: %w", err)
	}
	return folders, nil
}

// DeleteFolder removes a user folder. Emails assigned to it keep their
// rows; the structured reference is nulled by the schema (the legacy
// label is untouched), unlike the account-level cascade.
func (s *Store) DeleteFolder(ctx context.Context, folderID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM folders WHERE id = ?", folderID)
	if err != nil {
		return fmt.Errorf("deleting folder %d: %w", folderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting folder %d: %w", folderID, err)
	}
	if n == 0 {
		return fmt.Errorf("folder %d: %w", folderID, ErrNotFound)
	}
	return nil
}

// RecountUnread recomputes every folder's unread_count for an account
// from the emails actually assigned to it. The count is a denormalized
// cache maintained on each write; this repairs it after a crash or an
// out-of-band edit.
func (s *Store) RecountUnread(ctx context.Context, accountID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE folders SET unread_count = (
			SELECT COUNT(*) FROM emails
			WHERE emails.folder_id = folders.id AND emails.is_read = 0
		)
		WHERE account_id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("recounting unread for account %d: %w", accountID, err)
	}
	return nil
}
