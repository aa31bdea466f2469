package cache

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailcore/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c, err := NewCache(filepath.Join(t.TempDir(), "cache", "sync.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("closing cache: %v", err)
		}
	})
	return NewStore(c, logger)
}

func TestStoreFolders(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	names, err := s.FolderNames(ctx, "work", "local")
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.ReplaceFolders(ctx, "work", "local", []string{"INBOX", "Archive"}))
	require.NoError(t, s.ReplaceFolders(ctx, "work", "remote", []string{"INBOX"}))

	names, err = s.FolderNames(ctx, "work", "local")
	require.NoError(t, err)
	assert.Equal(t, []string{"Archive", "INBOX"}, names)

	require.NoError(t, s.ReplaceFolders(ctx, "work", "local", []string{"Sent"}))
	names, err = s.FolderNames(ctx, "work", "local")
	require.NoError(t, err)
	assert.Equal(t, []string{"Sent"}, names)

	names, err = s.FolderNames(ctx, "work", "remote")
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX"}, names, "sides are independent")
}

func TestStoreEnvelopes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	in := []types.Envelope{
		{ID: "1", MessageID: "a@x", Flags: types.NewFlags(types.FlagSeen), Subject: "A", From: "alice", Date: date},
		{ID: "2", MessageID: "b@x", Subject: "B"},
	}
	require.NoError(t, s.ReplaceEnvelopes(ctx, "work", "remote", "INBOX", in))

	out, err := s.Envelopes(ctx, "work", "remote", "INBOX")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a@x", out[0].MessageID)
	assert.True(t, out[0].Flags.Contains(types.FlagSeen))
	assert.Equal(t, date, out[0].Date)
	assert.Empty(t, out[1].Flags)

	require.NoError(t, s.DeleteFolder(ctx, "work", "remote", "INBOX"))
	out, err = s.Envelopes(ctx, "work", "remote", "INBOX")
	require.NoError(t, err)
	assert.Empty(t, out)
}
