package types

import "time"

// FolderKind classifies a folder as one of the well-known mailbox roles
// or a user-created folder.
type FolderKind string

const (
	KindInbox  FolderKind = "INBOX"
	KindSent   FolderKind = "SENT"
	KindDrafts FolderKind = "DRAFTS"
	KindTrash  FolderKind = "TRASH"
	KindCustom FolderKind = "CUSTOM"
)

// Valid reports whether k is one of the known folder kinds.
func (k FolderKind) Valid() bool {
	switch k {
	case KindInbox, KindSent, KindDrafts, KindTrash, KindCustom:
		return true
	}
	return false
}

// Account represents a configured mailbox identity.
type Account struct {
	ID        int64     `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Provider  string    `json:"provider" db:"provider"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Folder represents a named mail container belonging to one account.
// UnreadCount is a denormalized cache maintained by the store.
type Folder struct {
	ID          int64      `json:"id" db:"id"`
	AccountID   int64      `json:"account_id" db:"account_id"`
	Name        string     `json:"name" db:"name"`
	Kind        FolderKind `json:"kind" db:"kind"`
	UnreadCount int        `json:"unread_count" db:"unread_count"`
}

// EmailRecord is the input for caching a message fetched from a server.
// Label is the legacy free-text folder name kept alongside the structured
// FolderID reference.
type EmailRecord struct {
	AccountID  int64
	MessageID  string
	Subject    string
	Sender     string
	Recipients []string
	BodyText   string
	BodyHTML   string
	ReceivedAt *time.Time
	IsRead     bool
	IsStarred  bool
	FolderID   *int64
	Label      string
}

// EmailSummary carries the listing fields of a cached message. Bodies are
// excluded; fetch them separately with Store.EmailBody.
type EmailSummary struct {
	ID         int64      `json:"id"`
	AccountID  int64      `json:"account_id"`
	MessageID  string     `json:"message_id"`
	Subject    string     `json:"subject"`
	Sender     string     `json:"sender"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	IsRead     bool       `json:"is_read"`
	IsStarred  bool       `json:"is_starred"`
	FolderID   *int64     `json:"folder_id,omitempty"`
	Label      string     `json:"label"`
}

// EmailBody holds the message content variants.
type EmailBody struct {
	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`
}
