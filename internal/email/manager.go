package email

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/backend"
	"github.com/brandon/mailcore/internal/cache"
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/idmapper"
	"github.com/brandon/mailcore/internal/maildir"
	mailsync "github.com/brandon/mailcore/internal/sync"
	"github.com/brandon/mailcore/pkg/types"
)

// Manager manages email operations
type Manager struct {
	accountManager *AccountManager
	store          *cache.Store
	config         *config.Config
	logger         *logrus.Logger
}

// NewManager creates a new email manager
func NewManager(cfg *config.Config, cacheStore *cache.Store, logger *logrus.Logger) (*Manager, error) {
	accountManager, err := NewAccountManager(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create account manager: %w", err)
	}

	return &Manager{
		accountManager: accountManager,
		store:          cacheStore,
		config:         cfg,
		logger:         logger,
	}, nil
}

// GetAccount returns an account by name. An empty name selects the
// default account.
func (m *Manager) GetAccount(name string) (*Account, error) {
	if name == "" {
		def := m.config.GetDefaultAccount()
		if def == nil {
			return nil, &backend.NotFoundError{Kind: "account", Name: "default"}
		}
		name = def.Name
	}
	return m.accountManager.GetAccount(name)
}

// ListAccounts returns all account names
func (m *Manager) ListAccounts() []string {
	return m.accountManager.ListAccounts()
}

// Backend returns the backend of an account.
func (m *Manager) Backend(name string) (backend.Backend, error) {
	account, err := m.GetAccount(name)
	if err != nil {
		return nil, err
	}
	return account.Backend, nil
}

// Sync synchronizes the account's local Maildir replica with its backend.
// The folder filter of the account applies unless opts carries one.
func (m *Manager) Sync(ctx context.Context, name string, opts mailsync.Options) (*mailsync.Report, error) {
	account, err := m.GetAccount(name)
	if err != nil {
		return nil, err
	}
	if !account.Config.Sync.Enabled {
		return nil, fmt.Errorf("sync is not enabled for account %s", account.Config.Name)
	}

	// The replica stores real folder names; aliases only apply to the
	// remote side.
	replicaCfg := *account.Config
	replicaCfg.FolderAliases = nil
	local, err := maildir.New(&replicaCfg, account.Config.Sync.Dir, idmapper.DummyRegistry{})
	if err != nil {
		return nil, fmt.Errorf("failed to open sync replica: %w", err)
	}
	local.SetLogger(m.logger)

	if opts.Filter.Mode == mailsync.FilterAll {
		opts.Filter = mailsync.FilterFromConfig(account.Config.Sync)
	}

	engine := mailsync.New(account.Config.Name, local, account.Backend, m.store)
	engine.SetLogger(m.logger)
	return engine.Run(ctx, opts)
}

// Notify runs the new-message notifier of an IMAP account until ctx is
// done. A nil notify runs the configured command, or logs when there is
// none.
func (m *Manager) Notify(ctx context.Context, name string, notify NotifyFunc) error {
	account, err := m.GetAccount(name)
	if err != nil {
		return err
	}
	if account.imap == nil {
		return &backend.UnsupportedError{Backend: account.Kind, Op: "notify"}
	}

	cfg := account.Config.Notify
	if notify == nil {
		notify = m.defaultNotifier(cfg.Command)
	}
	return account.imap.Notify(ctx, cfg.Folder, cfg.Keepalive, notify)
}

// Watch runs the configured commands of an IMAP account on every change
// of its watched folder until ctx is done.
func (m *Manager) Watch(ctx context.Context, name string) error {
	account, err := m.GetAccount(name)
	if err != nil {
		return err
	}
	if account.imap == nil {
		return &backend.UnsupportedError{Backend: account.Kind, Op: "watch"}
	}

	cfg := account.Config.Watch
	return account.imap.Watch(ctx, cfg.Folder, cfg.Keepalive, cfg.Commands)
}

func (m *Manager) defaultNotifier(command string) NotifyFunc {
	if command != "" {
		return CommandNotifier(command)
	}
	return func(ctx context.Context, subject, sender string) error {
		m.logger.WithFields(logrus.Fields{
			"subject": subject,
			"sender":  sender,
		}).Info("New message")
		return nil
	}
}

// SendEmail sends an email and files a copy, marked Seen, in the
// account's Sent folder.
func (m *Manager) SendEmail(ctx context.Context, accountName string, msg *EmailMessage) error {
	account, err := m.GetAccount(accountName)
	if err != nil {
		return err
	}
	if account.SMTP == nil {
		return fmt.Errorf("account %s has no smtp server configured", account.Config.Name)
	}

	raw, err := account.SMTP.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	sent := account.Config.SentFolder
	if _, err := account.Backend.AddMessage(ctx, sent, raw, types.NewFlags(types.FlagSeen)); err != nil {
		return fmt.Errorf("message sent but failed to save a copy to %s: %w", sent, err)
	}
	return nil
}

// Close closes all connections
func (m *Manager) Close() error {
	return m.accountManager.Close()
}
