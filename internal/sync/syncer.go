package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kwheeler/mailstash/internal/store"
	"github.com/kwheeler/mailstash/pkg/types"
)

// Fetcher abstracts the remote mailbox a sync pass reads from. The IMAP
// implementation lives in internal/email; tests substitute their own.
type Fetcher interface {
	// Folders lists the remote folders. Only Name and Kind are set.
	Folders(ctx context.Context) ([]types.Folder, error)
	// Fetch retrieves up to limit recent messages from one folder.
	// Returned records carry no account or folder references.
	Fetch(ctx context.Context, folder string, limit int) ([]types.EmailRecord, error)
}

// Result summarizes one sync pass over an account.
type Result struct {
	Folders  int
	Inserted int
	Updated  int
	Skipped  int
}

// Syncer drains a Fetcher into the store one message at a time. Inserts
// are checkpointed: the context is checked between rows, never mid-row,
// so a cancelled batch leaves only whole messages behind. The store is
// not retried here either; a failed row is logged and skipped so one bad
// message cannot stall the account.
type Syncer struct {
	store  *store.Store
	logger *logrus.Logger
	limit  int
}

// NewSyncer creates a syncer writing to s. limit caps the messages
// fetched per folder on each pass.
func NewSyncer(s *store.Store, limit int, logger *logrus.Logger) *Syncer {
	if limit <= 0 {
		limit = 100
	}
	return &Syncer{store: s, logger: logger, limit: limit}
}

// SyncAccount runs a full pass for one account: upsert the remote
// folders, then fetch and cache each folder's recent messages.
func (s *Syncer) SyncAccount(ctx context.Context, accountID int64, fetcher Fetcher) (Result, error) {
	var res Result

	folders, err := fetcher.Folders(ctx)
	if err != nil {
		return res, fmt.Errorf("listing remote folders: %w", err)
	}

	for _, remote := range folders {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		folderID, err := s.store.UpsertFolder(ctx, accountID, remote.Name, remote.Kind)
		if err != nil {
			return res, fmt.Errorf("upserting folder %q: %w", remote.Name, err)
		}
		res.Folders++

		if err := s.syncFolder(ctx, accountID, folderID, remote.Name, fetcher, &res); err != nil {
			return res, err
		}
	}

	return res, nil
}

// syncFolder fetches one folder and inserts its messages row by row.
func (s *Syncer) syncFolder(ctx context.Context, accountID, folderID int64, name string, fetcher Fetcher, res *Result) error {
	records, err := fetcher.Fetch(ctx, name, s.limit)
	if err != nil {
		return fmt.Errorf("fetching folder %q: %w", name, err)
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec.AccountID = accountID
		rec.FolderID = &folderID
		rec.Label = name

		_, err := s.store.InsertEmail(ctx, rec)
		switch {
		case err == nil:
			res.Inserted++
		case errors.Is(err, store.ErrConflict):
			// Already cached: refresh the flags the server reports
			// instead of re-inserting.
			if err := s.refreshFlags(ctx, accountID, rec); err != nil {
				s.logger.WithError(err).WithField("message_id", rec.MessageID).
					Warn("Failed to refresh flags for cached message")
				res.Skipped++
				continue
			}
			res.Updated++
		default:
			s.logger.WithError(err).WithFields(logrus.Fields{
				"message_id": rec.MessageID,
				"folder":     name,
			}).Warn("Failed to cache message")
			res.Skipped++
			continue
		}
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"folder":     name,
		"count":      len(records),
	}).Debug("Synced folder")
	return nil
}

// refreshFlags finds the cached copy of rec and applies the flags the
// server currently reports.
func (s *Syncer) refreshFlags(ctx context.Context, accountID int64, rec types.EmailRecord) error {
	summaries, err := s.store.ListEmails(ctx, accountID, store.ListOptions{Label: rec.Label})
	if err != nil {
		return err
	}
	for _, sum := range summaries {
		if sum.MessageID != rec.MessageID {
			continue
		}
		if sum.IsRead == rec.IsRead && sum.IsStarred == rec.IsStarred {
			return nil
		}
		return s.store.UpdateFlags(ctx, sum.ID, rec.IsRead, rec.IsStarred)
	}
	// The cached copy lives under another label; leave it alone.
	return nil
}
