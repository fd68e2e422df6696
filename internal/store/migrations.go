package store

// migration is a single schema-evolution step. Versions are sequential
// starting from 1 and each step runs exactly once, inside its own
// transaction, recorded in the schema_migrations ledger.
type migration struct {
	version int
	name    string
	sql     string
}

// migrations is the ordered list of schema migrations. Creation
// statements use IF NOT EXISTS and later steps are additive-only: no
// existing rows are altered or dropped, and new columns default to unset
// for pre-existing rows. The ledger guarantees each step runs once.
var migrations = []migration{
	{
		version: 1,
		name:    "initial accounts and emails",
		sql: `
CREATE TABLE IF NOT EXISTS accounts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	email      TEXT NOT NULL UNIQUE,
	provider   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS emails (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id  INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	message_id  TEXT NOT NULL,
	subject     TEXT,
	sender      TEXT NOT NULL,
	recipients  TEXT NOT NULL DEFAULT '[]',
	body_text   TEXT,
	body_html   TEXT,
	received_at DATETIME,
	is_read     INTEGER NOT NULL DEFAULT 0 CHECK(is_read IN (0, 1)),
	is_starred  INTEGER NOT NULL DEFAULT 0 CHECK(is_starred IN (0, 1)),
	folder      TEXT NOT NULL DEFAULT 'INBOX',
	UNIQUE(account_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_emails_account ON emails(account_id);
CREATE INDEX IF NOT EXISTS idx_emails_account_folder ON emails(account_id, folder);
CREATE INDEX IF NOT EXISTS idx_emails_received_at ON emails(received_at DESC);
`,
	},
	{
		version: 2,
		name:    "structured folders",
		sql: `
CREATE TABLE IF NOT EXISTS folders (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id   INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	name         TEXT NOT NULL,
	kind         TEXT NOT NULL DEFAULT 'CUSTOM'
		CHECK(kind IN ('INBOX', 'SENT', 'DRAFTS', 'TRASH', 'CUSTOM')),
	unread_count INTEGER NOT NULL DEFAULT 0 CHECK(unread_count >= 0),
	UNIQUE(account_id, name)
);

CREATE INDEX IF NOT EXISTS idx_folders_account ON folders(account_id);

ALTER TABLE emails ADD COLUMN folder_id INTEGER REFERENCES folders(id) ON DELETE SET NULL;

CREATE INDEX IF NOT EXISTS idx_emails_folder_id ON emails(folder_id);
`,
	},
}
