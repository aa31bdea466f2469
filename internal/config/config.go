package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	// Cache settings
	CachePath string `mapstructure:"cache_path"`
	LogLevel  string `mapstructure:"log_level"`

	// Accounts
	Accounts []AccountConfig `mapstructure:"accounts"`
}

// AccountConfig holds configuration for a single email account
type AccountConfig struct {
	Name    string `mapstructure:"name"`
	Default bool   `mapstructure:"default"`

	// Backend is one of "imap", "maildir" or "notmuch".
	Backend string `mapstructure:"backend"`

	// IMAP settings
	IMAP IMAPConfig `mapstructure:"imap"`

	// SMTP settings
	SMTP SMTPConfig `mapstructure:"smtp"`

	// Maildir root, also the storage root of a notmuch database.
	MaildirRoot string `mapstructure:"maildir_root"`

	Notmuch NotmuchConfig `mapstructure:"notmuch"`

	// InboxFolder is the display name mapped to the Maildir root.
	InboxFolder string `mapstructure:"inbox_folder"`
	SentFolder  string `mapstructure:"sent_folder"`

	// FolderAliases maps a display name to a backend-specific target: a
	// path for Maildir, a query for Notmuch, a mailbox for IMAP.
	FolderAliases map[string]string `mapstructure:"folder_aliases"`

	DefaultPageSize int `mapstructure:"default_page_size"`

	// IDMapperPath locates the alias store. Empty means
	// <maildir root>/.mailcore-ids.sqlite.
	IDMapperPath string `mapstructure:"id_mapper_path"`

	Sync   SyncConfig   `mapstructure:"sync"`
	Notify NotifyConfig `mapstructure:"notify"`
	Watch  WatchConfig  `mapstructure:"watch"`
}

// IMAPConfig holds the IMAP connection settings of an account.
type IMAPConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Encryption string `mapstructure:"encryption"`
	Insecure   bool   `mapstructure:"insecure"`
	Login      string `mapstructure:"login"`
	// Auth is "password" (LOGIN) or "oauth2" (SASL OAUTHBEARER).
	Auth string `mapstructure:"auth"`
	// Secret is a credential source, see the credential package.
	Secret string `mapstructure:"secret"`
}

// SMTPConfig holds the SMTP settings used to send messages.
type SMTPConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Encryption string `mapstructure:"encryption"`
	Login      string `mapstructure:"login"`
	Secret     string `mapstructure:"secret"`
}

// NotmuchConfig holds the notmuch settings of an account.
type NotmuchConfig struct {
	Bin    string `mapstructure:"bin"`
	Config string `mapstructure:"config"`
}

// SyncConfig holds the synchronization settings of an account.
type SyncConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Dir is the local Maildir replica of the account.
	Dir     string   `mapstructure:"dir"`
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`
}

// NotifyConfig configures the IDLE new-message notifier.
type NotifyConfig struct {
	Folder    string        `mapstructure:"folder"`
	Keepalive time.Duration `mapstructure:"keepalive"`
	// Command is run through the shell with the subject and sender in the
	// MAILCORE_SUBJECT and MAILCORE_SENDER environment variables.
	Command string `mapstructure:"command"`
}

// WatchConfig configures the IDLE watcher.
type WatchConfig struct {
	Folder    string        `mapstructure:"folder"`
	Keepalive time.Duration `mapstructure:"keepalive"`
	Commands  []string      `mapstructure:"commands"`
}

// DefaultConfigPath returns ~/.config/mailcore/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailcore", "config.yaml")
}

// DefaultCachePath returns ~/.cache/mailcore/sync.db.
func DefaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".", "mailcore-sync.db")
	}
	return filepath.Join(dir, "mailcore", "sync.db")
}

// LoadConfig loads configuration from the given file, with MAILCORE_*
// environment variables overriding top-level settings.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("mailcore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("cache_path", DefaultCachePath())
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	for i := range cfg.Accounts {
		cfg.Accounts[i].applyDefaults()
	}

	return &cfg, nil
}

func (a *AccountConfig) applyDefaults() {
	if a.Backend == "" {
		a.Backend = "imap"
	}
	if a.InboxFolder == "" {
		a.InboxFolder = "INBOX"
	}
	if a.SentFolder == "" {
		a.SentFolder = "Sent"
	}
	if a.DefaultPageSize == 0 {
		a.DefaultPageSize = 10
	}
	if a.IMAP.Encryption == "" {
		a.IMAP.Encryption = "tls"
	}
	if a.IMAP.Port == 0 {
		switch a.IMAP.Encryption {
		case "tls":
			a.IMAP.Port = 993
		default:
			a.IMAP.Port = 143
		}
	}
	if a.IMAP.Auth == "" {
		a.IMAP.Auth = "password"
	}
	if a.SMTP.Encryption == "" {
		a.SMTP.Encryption = "starttls"
	}
	if a.SMTP.Port == 0 {
		if a.SMTP.Encryption == "tls" {
			a.SMTP.Port = 465
		} else {
			a.SMTP.Port = 587
		}
	}
	if a.SMTP.Login == "" {
		a.SMTP.Login = a.IMAP.Login
	}
	if a.SMTP.Secret == "" {
		a.SMTP.Secret = a.IMAP.Secret
	}
	if a.Notmuch.Bin == "" {
		a.Notmuch.Bin = "notmuch"
	}
	if a.IDMapperPath == "" && a.MaildirRoot != "" {
		a.IDMapperPath = filepath.Join(a.MaildirRoot, ".mailcore-ids.sqlite")
	}
	if a.Notify.Folder == "" {
		a.Notify.Folder = a.InboxFolder
	}
	if a.Notify.Keepalive == 0 {
		a.Notify.Keepalive = 500 * time.Second
	}
	if a.Watch.Folder == "" {
		a.Watch.Folder = a.InboxFolder
	}
	if a.Watch.Keepalive == 0 {
		a.Watch.Keepalive = 500 * time.Second
	}
}

// GetAccountByName finds an account by name
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// GetDefaultAccount returns the account marked default, or the first one
func (c *Config) GetDefaultAccount() *AccountConfig {
	if len(c.Accounts) == 0 {
		return nil
	}

	for i := range c.Accounts {
		if c.Accounts[i].Default {
			return &c.Accounts[i]
		}
	}

	return &c.Accounts[0]
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("cache_path is required")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	seen := make(map[string]bool)
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.Name == "" {
			return fmt.Errorf("account %d: name is required", i+1)
		}
		if seen[acc.Name] {
			return fmt.Errorf("account %s: duplicate name", acc.Name)
		}
		seen[acc.Name] = true

		switch acc.Backend {
		case "imap":
			if acc.IMAP.Host == "" {
				return fmt.Errorf("account %s: imap.host is required", acc.Name)
			}
			if acc.IMAP.Login == "" {
				return fmt.Errorf("account %s: imap.login is required", acc.Name)
			}
		case "maildir", "notmuch":
			if acc.MaildirRoot == "" {
				return fmt.Errorf("account %s: maildir_root is required", acc.Name)
			}
		default:
			return fmt.Errorf("account %s: unknown backend %q", acc.Name, acc.Backend)
		}

		if acc.IMAP.Port < 1 || acc.IMAP.Port > 65535 {
			return fmt.Errorf("account %s: invalid imap.port", acc.Name)
		}
		switch acc.IMAP.Encryption {
		case "tls", "starttls", "none":
		default:
			return fmt.Errorf("account %s: invalid imap.encryption %q", acc.Name, acc.IMAP.Encryption)
		}
		switch acc.IMAP.Auth {
		case "password", "oauth2":
		default:
			return fmt.Errorf("account %s: invalid imap.auth %q", acc.Name, acc.IMAP.Auth)
		}
		if acc.DefaultPageSize < 0 {
			return fmt.Errorf("account %s: default_page_size must not be negative", acc.Name)
		}
		if len(acc.Sync.Include) > 0 && len(acc.Sync.Exclude) > 0 {
			return fmt.Errorf("account %s: sync.include and sync.exclude are exclusive", acc.Name)
		}
		if acc.Sync.Enabled && acc.Sync.Dir == "" {
			return fmt.Errorf("account %s: sync.dir is required when sync is enabled", acc.Name)
		}
	}

	return nil
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}

// IsInbox reports whether folder names the account's inbox.
func (a *AccountConfig) IsInbox(folder string) bool {
	return strings.EqualFold(folder, a.InboxFolder) || strings.EqualFold(folder, "inbox")
}

// FolderAlias resolves a display name through the alias table. The second
// result is false when no alias is configured.
func (a *AccountConfig) FolderAlias(folder string) (string, bool) {
	for name, target := range a.FolderAliases {
		if strings.EqualFold(name, folder) {
			return target, true
		}
	}
	return "", false
}
