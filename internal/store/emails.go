package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kwheeler/mailstash/pkg/types"
)

// ListOptions controls email listing. Exactly one of FolderID or Label
// may be set to narrow the listing to a structured folder or a legacy
// free-text label; with neither set all of the account's emails are
// returned. Default order is received time descending (newest first).
type ListOptions struct {
	FolderID  *int64
	Label     string
	Ascending bool
	Limit     int
}

// InsertEmail caches a fetched message and returns its id. A message
// already cached for the same account fails with ErrConflict without
// modifying the existing row; sync callers treat that as the signal to
// update flags instead of re-inserting. An unread message assigned to a
// folder bumps that folder's unread_count in the same transaction.
func (s *Store) InsertEmail(ctx context.Context, rec types.EmailRecord) (int64, error) {
	if rec.MessageID == "" {
		return 0, fmt.Errorf("message id must not be empty")
	}
	if rec.Sender == "" {
		return 0, fmt.Errorf("sender must not be empty")
	}

	recipients, err := json.Marshal(rec.Recipients)
	if err != nil {
		return 0, fmt.Errorf("marshaling recipients: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	label := rec.Label
	if rec.FolderID != nil {
		var f types.Folder
		err := tx.GetContext(ctx, &f,
			"SELECT id, account_id, name, kind, unread_count FROM folders WHERE id = ?",
			*rec.FolderID)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("folder %d: %w", *rec.FolderID, ErrNotFound)
		}
		if err != nil {
			return 0, fmt.Errorf("querying folder: %w", err)
		}
		if f.AccountID != rec.AccountID {
			return 0, fmt.Errorf("folder %d belongs to account %d, not %d", f.ID, f.AccountID, rec.AccountID)
		}
		if label == "" {
			label = f.Name
		}
	}
	if label == "" {
		label = "INBOX"
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO emails (
			account_id, message_id, subject, sender, recipients,
			body_text, body_html, received_at, is_read, is_starred,
			folder, folder_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AccountID, rec.MessageID, nullString(rec.Subject), rec.Sender, string(recipients),
		nullString(rec.BodyText), nullString(rec.BodyHTML), nullTime(rec.ReceivedAt),
		rec.IsRead, rec.IsStarred, label, rec.FolderID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("message %q: %w", rec.MessageID, ErrConflict)
		}
		// The folder reference was verified above, so a foreign-key
		// failure here means the account is gone.
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("account %d: %w", rec.AccountID, ErrNotFound)
		}
		return 0, fmt.Errorf("inserting email: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading email id: %w", err)
	}

	if rec.FolderID != nil && !rec.IsRead {
		if err := adjustUnread(ctx, tx, *rec.FolderID, +1); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing email insert: %w", err)
	}
	return id, nil
}

// UpdateFlags sets the read and starred flags of a cached message. When
// the read flag changes and the message is assigned to a folder, the
// folder's unread_count moves with it, in the same transaction.
func (s *Store) UpdateFlags(ctx context.Context, emailID int64, isRead, isStarred bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var cur struct {
		IsRead   bool          `db:"is_read"`
		FolderID sql.NullInt64 `db:"folder_id"`
	}
	err = tx.GetContext(ctx, &cur, "SELECT is_read, folder_id FROM emails WHERE id = ?", emailID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("email %d: %w", emailID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("querying email: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE emails SET is_read = ?, is_starred = ? WHERE id = ?",
		isRead, isStarred, emailID)
	if err != nil {
		return fmt.Errorf("updating flags: %w", err)
	}

	if cur.FolderID.Valid && cur.IsRead != isRead {
		delta := -1
		if !isRead {
			delta = +1
		}
		if err := adjustUnread(ctx, tx, cur.FolderID.Int64, delta); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing flag update: %w", err)
	}
	return nil
}

// MoveEmail reassigns a cached message to another folder, or detaches it
// when folderID is nil. The legacy label follows the target folder's
// name. Unread counts on both sides are adjusted in the same transaction.
func (s *Store) MoveEmail(ctx context.Context, emailID int64, folderID *int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var cur struct {
		AccountID int64         `db:"account_id"`
		IsRead    bool          `db:"is_read"`
		FolderID  sql.NullInt64 `db:"folder_id"`
	}
	err = tx.GetContext(ctx, &cur,
		"SELECT account_id, is_read, folder_id FROM emails WHERE id = ?", emailID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("email %d: %w", emailID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("querying email: %w", err)
	}

	if folderID == nil {
		if _, err := tx.ExecContext(ctx,
			"UPDATE emails SET folder_id = NULL WHERE id = ?", emailID); err != nil {
			return fmt.Errorf("detaching email: %w", err)
		}
	} else {
		var target types.Folder
		err := tx.GetContext(ctx, &target,
			"SELECT id, account_id, name, kind, unread_count FROM folders WHERE id = ?", *folderID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("folder %d: %w", *folderID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("querying folder: %w", err)
		}
		if target.AccountID != cur.AccountID {
			return fmt.Errorf("folder %d belongs to account %d, not %d", target.ID, target.AccountID, cur.AccountID)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE emails SET folder_id = ?, folder = ? WHERE id = ?",
			*folderID, target.Name, emailID)
		if err != nil {
			return fmt.Errorf("moving email: %w", err)
		}
	}

	if !cur.IsRead {
		if cur.FolderID.Valid {
			if err := adjustUnread(ctx, tx, cur.FolderID.Int64, -1); err != nil {
				return err
			}
		}
		if folderID != nil {
			if err := adjustUnread(ctx, tx, *folderID, +1); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing email move: %w", err)
	}
	return nil
}

// DeleteEmail removes a cached message, releasing its unread_count slot
// if it was counted.
func (s *Store) DeleteEmail(ctx context.Context, emailID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var cur struct {
		IsRead   bool          `db:"is_read"`
		FolderID sql.NullInt64 `db:"folder_id"`
	}
	err = tx.GetContext(ctx, &cur, "SELECT is_read, folder_id FROM emails WHERE id = ?", emailID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("email %d: %w", emailID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("querying email: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM emails WHERE id = ?", emailID); err != nil {
		return fmt.Errorf("deleting email: %w", err)
	}

	if cur.FolderID.Valid && !cur.IsRead {
		if err := adjustUnread(ctx, tx, cur.FolderID.Int64, -1); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing email delete: %w", err)
	}
	return nil
}

// ListEmails returns summaries (no bodies) of an account's cached
// messages, newest first unless opts.Ascending is set. Messages with no
// received timestamp sort last either way.
func (s *Store) ListEmails(ctx context.Context, accountID int64, opts ListOptions) ([]types.EmailSummary, error) {
	conditions := []string{"account_id = ?"}
	args := []interface{}{accountID}

	if opts.FolderID != nil {
		conditions = append(conditions, "folder_id = ?")
		args = append(args, *opts.FolderID)
	} else if opts.Label != "" {
		conditions = append(conditions, "folder = ?")
		args = append(args, opts.Label)
	}

	direction := "DESC"
	if opts.Ascending {
		direction = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT id, account_id, message_id, subject, sender,
		       received_at, is_read, is_starred, folder_id, folder
		FROM emails
		WHERE %s
		ORDER BY received_at IS NULL, received_at %s, id %s`,
		strings.Join(conditions, " AND "), direction, direction)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying emails: %w", err)
	}
	defer rows.Close()

	var summaries []types.EmailSummary
	for rows.Next() {
		var (
			sum        types.EmailSummary
			subject    sql.NullString
			receivedAt sql.NullTime
			folderID   sql.NullInt64
		)
		err := rows.Scan(
			&sum.ID, &sum.AccountID, &sum.MessageID, &subject, &sum.Sender,
			&receivedAt, &sum.IsRead, &sum.IsStarred, &folderID, &sum.Label,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning email row: %w", err)
		}
		sum.Subject = subject.String
		if receivedAt.Valid {
			t := receivedAt.Time
			sum.ReceivedAt = &t
		}
		if folderID.Valid {
			id := folderID.Int64
			sum.FolderID = &id
		}
		summaries = append(summaries, sum)
	}

	return summaries, rows.Err()
}

// EmailBody fetches the message content, which listing deliberately
// leaves out.
func (s *Store) EmailBody(ctx context.Context, emailID int64) (types.EmailBody, error) {
	var text, html sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT body_text, body_html FROM emails WHERE id = ?", emailID,
	).Scan(&text, &html)
	if errors.Is(err, sql.ErrNoRows) {
		return types.EmailBody{}, fmt.Errorf("email %d: %w", emailID, ErrNotFound)
	}
	if err != nil {
		return types.EmailBody{}, fmt.Errorf("querying email body: %w", err)
	}
	return types.EmailBody{Text: text.String, HTML: html.String}, nil
}

// adjustUnread moves a folder's unread_count by delta, clamped at zero.
func adjustUnread(ctx context.Context, tx execer, folderID int64, delta int) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE folders SET unread_count = MAX(unread_count + ?, 0) WHERE id = ?",
		delta, folderID)
	if err != nil {
		return fmt.Errorf("adjusting unread count for folder %d: %w", folderID, err)
	}
	return nil
}

// execer is the subset of sqlx.Tx used by adjustUnread.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
