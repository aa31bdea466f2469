package idmapper

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailcore/internal/backend"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	path := filepath.Join(t.TempDir(), "ids.sqlite")
	s, err := Open(path, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestAliasIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	m, err := s.Mapper("work", "INBOX")
	require.NoError(t, err)

	first, err := m.Alias("msg-123")
	require.NoError(t, err)
	second, err := m.Alias("msg-123")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := m.Alias("msg-456")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	id, err := m.ID(other)
	require.NoError(t, err)
	assert.Equal(t, "msg-456", id)
}

func TestAliasesBatch(t *testing.T) {
	s, _ := newTestStore(t)
	m, err := s.Mapper("work", "INBOX")
	require.NoError(t, err)

	single, err := m.Alias("b")
	require.NoError(t, err)

	aliases, err := m.Aliases([]string{"a", "b", "c", "a"})
	require.NoError(t, err)
	require.Len(t, aliases, 3)
	assert.Equal(t, single, aliases["b"])
	assert.NotEqual(t, aliases["a"], aliases["c"])
}

func TestUnknownAlias(t *testing.T) {
	s, _ := newTestStore(t)
	m, err := s.Mapper("work", "INBOX")
	require.NoError(t, err)

	_, err = m.ID("999")
	require.Error(t, err)
	assert.True(t, backend.IsNotFound(err))

	_, err = m.ID("not-a-number")
	assert.True(t, backend.IsNotFound(err))
}

func TestScopesAreIsolated(t *testing.T) {
	s, _ := newTestStore(t)
	inbox, err := s.Registry("work").Mapper("INBOX")
	require.NoError(t, err)
	sent, err := s.Registry("work").Mapper("Sent")
	require.NoError(t, err)

	alias, err := inbox.Alias("only-in-inbox")
	require.NoError(t, err)
	_, err = sent.ID(alias)
	assert.Error(t, err)

	assert.NotEqual(t, TableName("work", "INBOX"), TableName("home", "INBOX"))
}

func TestAliasesSurviveReopen(t *testing.T) {
	s, path := newTestStore(t)
	m, err := s.Mapper("work", "INBOX")
	require.NoError(t, err)
	alias, err := m.Alias("persisted")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	reopened, err := Open(path, logger)
	require.NoError(t, err)
	defer reopened.Close()

	m, err = reopened.Mapper("work", "INBOX")
	require.NoError(t, err)
	id, err := m.ID(alias)
	require.NoError(t, err)
	assert.Equal(t, "persisted", id)

	again, err := m.Alias("persisted")
	require.NoError(t, err)
	assert.Equal(t, alias, again)
}

func TestDummyIsIdentity(t *testing.T) {
	m, err := DummyRegistry{}.Mapper("INBOX")
	require.NoError(t, err)

	alias, err := m.Alias("1700000000.M1P2.host")
	require.NoError(t, err)
	assert.Equal(t, "1700000000.M1P2.host", alias)

	id, err := m.ID(alias)
	require.NoError(t, err)
	assert.Equal(t, alias, id)
}
