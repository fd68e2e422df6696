package email

import (
	"github.com/sirupsen/logrus"

	"github.com/kwheeler/mailstash/internal/config"
)

// AccountManager holds one IMAP client per configured account, keyed by
// email address.
type AccountManager struct {
	clients map[string]*IMAPClient
}

// NewAccountManager builds clients for every configured account.
func NewAccountManager(cfg *config.Config, logger *logrus.Logger) *AccountManager {
	m := &AccountManager{
		clients: make(map[string]*IMAPClient, len(cfg.Accounts)),
	}
	for i := range cfg.Accounts {
		acc := &cfg.Accounts[i]
		m.clients[acc.Email] = NewIMAPClient(acc, logger)
	}
	return m
}

// Client returns the IMAP client for an account, or nil if the address
// is not configured.
func (m *AccountManager) Client(email string) *IMAPClient {
	return m.clients[email]
}

// Emails returns the configured account addresses.
func (m *AccountManager) Emails() []string {
	emails := make([]string, 0, len(m.clients))
	for email := range m.clients {
		emails = append(emails, email)
	}
	return emails
}

// Close logs out every client. The first error wins; remaining clients
// are still closed.
func (m *AccountManager) Close() error {
	var first error
	for _, c := range m.clients {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
