package sync

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/kwheeler/mailstash/internal/store"
	"github.com/kwheeler/mailstash/pkg/types"
)

// fakeFetcher serves canned folders and messages and can cancel the
// context from inside Fetch to exercise checkpointing.
type fakeFetcher struct {
	folders      []types.Folder
	messages     map[string][]types.EmailRecord
	cancelOnFeed context.CancelFunc
}

func (f *fakeFetcher) Folders(ctx context.Context) ([]types.Folder, error) {
	return f.folders, nil
}

func (f *fakeFetcher) Fetch(ctx context.Context, folder string, limit int) ([]types.EmailRecord, error) {
	if f.cancelOnFeed != nil {
		f.cancelOnFeed()
	}
	return f.messages[folder], nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSyncer(s *store.Store) *Syncer {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewSyncer(s, 100, logger)
}

func TestSyncAccountInsertsThenRefreshesFlags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	accID, err := s.AddAccount(ctx, "a@example.com", "gmail")
	if err != nil {
		t.Fatalf("adding account: %v", err)
	}

	fetcher := &fakeFetcher{
		folders: []types.Folder{{Name: "INBOX", Kind: types.KindInbox}},
		messages: map[string][]types.EmailRecord{
			"INBOX": {
				{MessageID: "m1", Sender: "x@y.com", Subject: "one"},
				{MessageID: "m2", Sender: "x@y.com", Subject: "two"},
			},
		},
	}

	res, err := newTestSyncer(s).SyncAccount(ctx, accID, fetcher)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if res.Inserted != 2 || res.Updated != 0 {
		t.Errorf("first sync result = %+v, want 2 inserted", res)
	}

	folders, err := s.ListFolders(ctx, accID)
	if err != nil {
		t.Fatalf("listing folders: %v", err)
	}
	if len(folders) != 1 || folders[0].UnreadCount != 2 {
		t.Fatalf("folders after sync = %+v, want one INBOX with 2 unread", folders)
	}

	// Second pass: same messages, m1 now read on the server.
	fetcher.messages["INBOX"][0].IsRead = true

	res, err = newTestSyncer(s).SyncAccount(ctx, accID, fetcher)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Inserted != 0 || res.Updated < 1 {
		t.Errorf("second sync result = %+v, want 0 inserted and m1 updated", res)
	}

	folders, _ = s.ListFolders(ctx, accID)
	if folders[0].UnreadCount != 1 {
		t.Errorf("unread_count after flag refresh = %d, want 1", folders[0].UnreadCount)
	}

	emails, err := s.ListEmails(ctx, accID, listOptionsForFolder(folders[0].ID))
	if err != nil {
		t.Fatalf("listing emails: %v", err)
	}
	if len(emails) != 2 {
		t.Fatalf("got %d emails after two passes, want 2", len(emails))
	}
}

func TestSyncCheckpointsBetweenRows(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accID, _ := s.AddAccount(ctx, "a@example.com", "gmail")

	fetcher := &fakeFetcher{
		folders: []types.Folder{{Name: "INBOX", Kind: types.KindInbox}},
		messages: map[string][]types.EmailRecord{
			"INBOX": {
				{MessageID: "m1", Sender: "x@y.com"},
				{MessageID: "m2", Sender: "x@y.com"},
			},
		},
		cancelOnFeed: cancel,
	}

	_, err := newTestSyncer(s).SyncAccount(ctx, accID, fetcher)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("sync error = %v, want context.Canceled", err)
	}

	// Cancellation lands between rows: nothing half-written.
	emails, listErr := s.ListEmails(context.Background(), accID, store.ListOptions{})
	if listErr != nil {
		t.Fatalf("listing emails: %v", listErr)
	}
	if len(emails) != 0 {
		t.Errorf("got %d emails after cancelled sync, want 0", len(emails))
	}
}

func TestSyncSkipsInvalidMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	accID, _ := s.AddAccount(ctx, "a@example.com", "gmail")

	fetcher := &fakeFetcher{
		folders: []types.Folder{{Name: "INBOX", Kind: types.KindInbox}},
		messages: map[string][]types.EmailRecord{
			"INBOX": {
				{MessageID: "good", Sender: "x@y.com"},
				{MessageID: "", Sender: "x@y.com"}, // rejected by the store
			},
		},
	}

	res, err := newTestSyncer(s).SyncAccount(ctx, accID, fetcher)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Inserted != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 1 inserted and 1 skipped", res)
	}
}

// listOptionsForFolder narrows a listing to one structured folder.
func listOptionsForFolder(id int64) store.ListOptions {
	return store.ListOptions{FolderID: &id}
}
