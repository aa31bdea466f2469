package email

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailcore/internal/backend"
	"github.com/brandon/mailcore/internal/cache"
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/maildir"
	mailsync "github.com/brandon/mailcore/internal/sync"
	"github.com/brandon/mailcore/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *config.Config) {
	t.Helper()
	root := t.TempDir()
	logger := quietLogger()

	cfg := &config.Config{
		CachePath: filepath.Join(root, "sync.db"),
		Accounts: []config.AccountConfig{{
			Name:         "home",
			Default:      true,
			Backend:      "maildir",
			MaildirRoot:  filepath.Join(root, "mail"),
			InboxFolder:  "INBOX",
			SentFolder:   "Sent",
			IDMapperPath: filepath.Join(root, "ids.sqlite"),
			Sync: config.SyncConfig{
				Enabled: true,
				Dir:     filepath.Join(root, "replica"),
			},
		}},
	}

	c, err := cache.NewCache(cfg.CachePath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	m, err := NewManager(cfg, cache.NewStore(c, logger), logger)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, cfg
}

func TestManagerAccounts(t *testing.T) {
	m, _ := newTestManager(t)

	assert.Equal(t, []string{"home"}, m.ListAccounts())

	acc, err := m.GetAccount("")
	require.NoError(t, err)
	assert.Equal(t, "home", acc.Config.Name)
	assert.Equal(t, backend.KindMaildir, acc.Kind)
	assert.Nil(t, acc.SMTP)

	_, err = m.GetAccount("nope")
	assert.True(t, backend.IsNotFound(err))

	ctx := context.Background()
	assert.True(t, errors.Is(m.Notify(ctx, "home", nil), backend.ErrUnsupported))
	assert.True(t, errors.Is(m.Watch(ctx, "home"), backend.ErrUnsupported))
	assert.Error(t, m.SendEmail(ctx, "home", &EmailMessage{To: []string{"bob@example.org"}}))
}

func TestManagerSyncToReplica(t *testing.T) {
	m, cfg := newTestManager(t)
	ctx := context.Background()

	b, err := m.Backend("home")
	require.NoError(t, err)
	_, err = b.AddMessage(ctx, "INBOX", []byte(testMessage), types.NewFlags(types.FlagSeen))
	require.NoError(t, err)
	require.NoError(t, b.AddFolder(ctx, "Archive"))

	report, err := m.Sync(ctx, "home", mailsync.Options{})
	require.NoError(t, err)
	assert.Empty(t, report.Errors())

	replica, err := maildir.New(&config.AccountConfig{Name: "home", InboxFolder: "INBOX"}, cfg.Accounts[0].Sync.Dir, nil)
	require.NoError(t, err)

	envs, err := replica.ListEnvelopes(ctx, "INBOX", 0, 0)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "q1@example.org", envs[0].MessageID)
	assert.True(t, envs[0].Flags.Contains(types.FlagSeen))

	folders, err := replica.ListFolders(ctx)
	require.NoError(t, err)
	var names []string
	for _, f := range folders {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"INBOX", "Archive"}, names)

	dry, err := m.Sync(ctx, "home", mailsync.Options{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, dry.Folders)
	assert.Empty(t, dry.Envelopes)
}
