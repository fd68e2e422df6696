package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/kwheeler/mailstash/internal/config"
	"github.com/kwheeler/mailstash/pkg/types"
)

// IMAPClient fetches folders and messages from a remote mailbox. It
// connects lazily on first use and keeps the connection for subsequent
// calls.
type IMAPClient struct {
	config    *config.AccountConfig
	client    *client.Client
	logger    *logrus.Logger
	connected bool
}

// NewIMAPClient creates a client for one account. No connection is made
// until the first fetch.
func NewIMAPClient(cfg *config.AccountConfig, logger *logrus.Logger) *IMAPClient {
	return &IMAPClient{
		config: cfg,
		logger: logger,
	}
}

// Connect establishes the TLS connection and logs in.
func (c *IMAPClient) Connect() error {
	if c.connected && c.client != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.config.IMAPHost, c.config.IMAPPort)
	cl, err := client.DialTLS(addr, &tls.Config{
		ServerName: c.config.IMAPHost,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("connecting to IMAP server: %w", err)
	}

	if err := cl.Login(c.config.IMAPUsername, c.config.IMAPPassword); err != nil {
		cl.Logout() //nolint:errcheck
		return fmt.Errorf("logging in to IMAP server: %w", err)
	}

	c.client = cl
	c.connected = true
	c.logger.WithField("account", c.config.Email).Info("Connected to IMAP server")
	return nil
}

// Close logs out and drops the connection.
func (c *IMAPClient) Close() error {
	if c.client != nil {
		err := c.client.Logout()
		c.client = nil
		c.connected = false
		return err
	}
	return nil
}

// Folders lists the remote mailboxes with their kinds derived from the
// server's special-use attributes (name match for INBOX).
func (c *IMAPClient) Folders(ctx context.Context) ([]types.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Connect(); err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.client.List("", "*", mailboxes)
	}()

	var folders []types.Folder
	for m := range mailboxes {
		folders = append(folders, types.Folder{
			Name: m.Name,
			Kind: folderKind(m),
		})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	return folders, nil
}

// Fetch retrieves up to limit of the most recent messages in a folder.
func (c *IMAPClient) Fetch(ctx context.Context, folder string, limit int) ([]types.EmailRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Connect(); err != nil {
		return nil, err
	}

	mbox, err := c.client.Select(folder, true)
	if err != nil {
		return nil, fmt.Errorf("selecting folder %q: %w", folder, err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	if limit <= 0 {
		limit = 100
	}
	start := uint32(1)
	if mbox.Messages > uint32(limit) {
		start = mbox.Messages - uint32(limit) + 1
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(start, mbox.Messages)

	items := []imap.FetchItem{
		imap.FetchEnvelope, imap.FetchFlags, imap.FetchInternalDate,
		imap.FetchUid, imap.FetchRFC822,
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.client.Fetch(seqSet, items, messages)
	}()

	var records []types.EmailRecord
	for msg := range messages {
		records = append(records, c.parseMessage(msg, folder))
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	return records, nil
}

// parseMessage converts an IMAP message into a store record. Account and
// folder references are filled in by the syncer.
func (c *IMAPClient) parseMessage(msg *imap.Message, folder string) types.EmailRecord {
	rec := types.EmailRecord{
		MessageID: msg.Envelope.MessageId,
		Subject:   msg.Envelope.Subject,
		Label:     folder,
	}

	if !msg.Envelope.Date.IsZero() {
		d := msg.Envelope.Date
		rec.ReceivedAt = &d
	} else if !msg.InternalDate.IsZero() {
		d := msg.InternalDate
		rec.ReceivedAt = &d
	}

	if len(msg.Envelope.From) > 0 {
		rec.Sender = msg.Envelope.From[0].Address()
	}
	for _, to := range msg.Envelope.To {
		rec.Recipients = append(rec.Recipients, to.Address())
	}
	for _, cc := range msg.Envelope.Cc {
		rec.Recipients = append(rec.Recipients, cc.Address())
	}

	for _, flag := range msg.Flags {
		switch flag {
		case imap.SeenFlag:
			rec.IsRead = true
		case imap.FlaggedFlag:
			rec.IsStarred = true
		}
	}

	if body := c.readBody(msg); len(body) > 0 {
		env, err := enmime.ReadEnvelope(bytes.NewReader(body))
		if err == nil {
			rec.BodyText = env.Text
			rec.BodyHTML = env.HTML
		} else {
			// Unparseable MIME: keep the raw bytes as text rather
			// than dropping the message.
			rec.BodyText = string(body)
			c.logger.WithError(err).WithField("message_id", rec.MessageID).
				Debug("Failed to parse MIME envelope, caching raw body")
		}
	}

	return rec
}

// readBody extracts the RFC822 literal from a fetched message. A read
// failure mid-literal would leave a truncated body, so nothing is
// cached in that case.
func (c *IMAPClient) readBody(msg *imap.Message) []byte {
	if msg.Body == nil {
		return nil
	}

	var literal imap.Literal
	if l, ok := msg.Body[nil]; ok {
		literal = l
	} else {
		for _, l := range msg.Body {
			literal = l
			break
		}
	}
	if literal == nil {
		return nil
	}

	data, err := io.ReadAll(literal)
	if err != nil {
		c.logger.WithError(err).WithField("message_id", msg.Envelope.MessageId).
			Warn("Failed to read message body")
		return nil
	}
	return data
}

// folderKind maps IMAP special-use attributes to folder kinds.
func folderKind(m *imap.MailboxInfo) types.FolderKind {
	if m.Name == "INBOX" {
		return types.KindInbox
	}
	for _, attr := range m.Attributes {
		switch attr {
		case imap.SentAttr:
			return types.KindSent
		case imap.DraftsAttr:
			return types.KindDrafts
		case imap.TrashAttr:
			return types.KindTrash
		}
	}
	return types.KindCustom
}
