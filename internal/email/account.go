package email

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/backend"
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/idmapper"
	"github.com/brandon/mailcore/internal/maildir"
	"github.com/brandon/mailcore/internal/notmuch"
)

// AccountManager manages multiple email accounts
type AccountManager struct {
	accounts map[string]*Account
}

// Account is one configured account: its backend and, when an SMTP host
// is configured, its sender.
type Account struct {
	Config  *config.AccountConfig
	Kind    backend.Kind
	Backend backend.Backend
	SMTP    *SMTPClient

	imap *IMAPClient
	ids  *idmapper.Store
}

// NewAccount builds the backend of an account according to its kind.
func NewAccount(cfg *config.AccountConfig, logger *logrus.Logger) (*Account, error) {
	kind, err := backend.ParseKind(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", cfg.Name, err)
	}
	acc := &Account{Config: cfg, Kind: kind}

	switch kind {
	case backend.KindIMAP:
		client, err := NewIMAPClient(cfg)
		if err != nil {
			return nil, err
		}
		client.SetLogger(logger)
		acc.imap = client
		acc.Backend = client
	case backend.KindMaildir:
		ids, err := idmapper.Open(cfg.IDMapperPath, logger)
		if err != nil {
			return nil, err
		}
		md, err := maildir.New(cfg, cfg.MaildirRoot, ids.Registry(cfg.Name))
		if err != nil {
			ids.Close()
			return nil, err
		}
		md.SetLogger(logger)
		acc.ids = ids
		acc.Backend = md
	case backend.KindNotmuch:
		ids, err := idmapper.Open(cfg.IDMapperPath, logger)
		if err != nil {
			return nil, err
		}
		storage, err := maildir.New(cfg, cfg.MaildirRoot, idmapper.DummyRegistry{})
		if err != nil {
			ids.Close()
			return nil, err
		}
		storage.SetLogger(logger)
		nm := notmuch.New(cfg, notmuch.NewCLI(cfg.Notmuch.Bin, cfg.Notmuch.Config, logger), storage, ids.Registry(cfg.Name))
		nm.SetLogger(logger)
		acc.ids = ids
		acc.Backend = nm
	}

	if cfg.SMTP.Host != "" {
		smtpClient, err := NewSMTPClient(cfg)
		if err != nil {
			acc.Close()
			return nil, err
		}
		smtpClient.SetLogger(logger)
		acc.SMTP = smtpClient
	}
	return acc, nil
}

// Close disconnects the backend and closes the id mapper store.
func (a *Account) Close() error {
	var errs []error
	if a.Backend != nil {
		if err := a.Backend.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.ids != nil {
		if err := a.ids.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewAccountManager creates a new account manager
func NewAccountManager(cfg *config.Config, logger *logrus.Logger) (*AccountManager, error) {
	manager := &AccountManager{
		accounts: make(map[string]*Account),
	}

	for i := range cfg.Accounts {
		acc, err := NewAccount(&cfg.Accounts[i], logger)
		if err != nil {
			manager.Close()
			return nil, err
		}
		manager.accounts[acc.Config.Name] = acc
	}

	return manager, nil
}

// GetAccount returns an account by name
func (m *AccountManager) GetAccount(name string) (*Account, error) {
	account, exists := m.accounts[name]
	if !exists {
		return nil, &backend.NotFoundError{Kind: "account", Name: name}
	}
	return account, nil
}

// ListAccounts returns all account names, sorted
func (m *AccountManager) ListAccounts() []string {
	names := make([]string, 0, len(m.accounts))
	for name := range m.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes all account connections
func (m *AccountManager) Close() error {
	var errs []error
	for name, account := range m.accounts {
		if err := account.Close(); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
