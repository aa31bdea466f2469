package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailcore/internal/backend"
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/pkg/types"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		page   int
		lo, hi uint32
		ok     bool
	}{
		{page: 0, lo: 16, hi: 25, ok: true},
		{page: 1, lo: 6, hi: 15, ok: true},
		{page: 2, lo: 1, hi: 5, ok: true},
		{page: 3, ok: false},
		{page: -1, ok: false},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.page), func(t *testing.T) {
			lo, hi, ok := pageBounds(25, 10, tt.page)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.lo, lo)
				assert.Equal(t, tt.hi, hi)
			}
		})
	}

	_, _, ok := pageBounds(0, 10, 0)
	assert.False(t, ok, "empty mailbox")

	_, _, ok = pageBounds(20, 10, 2)
	assert.False(t, ok, "cursor on the last message")

	lo, hi, ok := pageBounds(21, 10, 2)
	assert.True(t, ok)
	assert.Equal(t, uint32(1), lo)
	assert.Equal(t, uint32(1), hi)

	lo, hi, ok = pageBounds(7, 0, 0)
	assert.True(t, ok)
	assert.Equal(t, uint32(1), lo)
	assert.Equal(t, uint32(7), hi)
}

func TestSlicePage(t *testing.T) {
	ids := []uint32{9, 8, 7, 6, 5}

	assert.Equal(t, []uint32{9, 8}, slicePage(ids, 2, 0))
	assert.Equal(t, []uint32{5}, slicePage(ids, 2, 2))
	assert.Nil(t, slicePage(ids, 2, 3))
	assert.Equal(t, ids, slicePage(ids, 0, 4))
}

func TestSortResponse(t *testing.T) {
	res := &sortResponse{}
	err := res.Handle(&imap.DataResp{Fields: []interface{}{"SORT", "2", "5"}})
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 5}, res.ids)

	err = res.Handle(&imap.DataResp{Fields: []interface{}{"SEARCH", "1"}})
	assert.Error(t, err)
}

func TestSortCommand(t *testing.T) {
	cmd := (&sortCommand{criteria: "reverse date", query: ""}).Command()
	assert.Equal(t, "SORT", cmd.Name)
	assert.Equal(t, []interface{}{
		imap.RawString("(REVERSE DATE)"),
		imap.RawString("UTF-8"),
		imap.RawString("ALL"),
	}, cmd.Arguments)
}

func TestEncodeFlags(t *testing.T) {
	flags := types.NewFlags(types.FlagSeen, types.FlagFlagged, types.FlagRecent, "$label1")
	assert.Equal(t, `$label1 \Flagged \Seen`, EncodeFlags(flags))
	assert.Empty(t, EncodeFlags(types.NewFlags()))
}

func TestNewUIDs(t *testing.T) {
	seen := map[uint32]bool{3: true, 5: true}
	assert.Equal(t, []uint32{4, 6}, newUIDs([]uint32{3, 4, 5, 6}, seen))
	assert.Nil(t, newUIDs([]uint32{3}, seen))
}

func TestSupervisorReportsResults(t *testing.T) {
	tasks := newSupervisor(quietLogger())
	ctx := context.Background()

	first := tasks.spawn(ctx, []string{"true"})
	second := tasks.spawn(ctx, []string{"true", "exit 3"})

	results := tasks.wait()
	require.Len(t, results, 2)

	byID := make(map[int]TaskResult, len(results))
	for _, res := range results {
		byID[res.ID] = res
	}
	assert.NoError(t, byID[first].Err)
	assert.Error(t, byID[second].Err)
}

func TestSupervisorDrainDoesNotBlock(t *testing.T) {
	tasks := newSupervisor(quietLogger())
	assert.Empty(t, tasks.drain())

	tasks.spawn(context.Background(), []string{"sleep 0.2"})
	assert.Empty(t, tasks.drain())
	assert.Len(t, tasks.wait(), 1)
}

// startServer runs an in-memory IMAP server holding the user
// "username"/"password" with one message in INBOX.
func startServer(t *testing.T) *config.AccountConfig {
	t.Helper()

	srv := server.New(memory.New())
	srv.AllowInsecureAuth = true
	srv.ErrorLog = discardLog{}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(l) //nolint:errcheck
	t.Cleanup(func() { srv.Close() })

	addr := l.Addr().(*net.TCPAddr)
	return &config.AccountConfig{
		Name:        "test",
		Backend:     "imap",
		InboxFolder: "INBOX",
		IMAP: config.IMAPConfig{
			Host:       "127.0.0.1",
			Port:       addr.Port,
			Encryption: "none",
			Auth:       "password",
			Login:      "username",
			Secret:     "raw:password",
		},
		FolderAliases: map[string]string{"inbox": "INBOX"},
	}
}

type discardLog struct{}

func (discardLog) Printf(string, ...interface{}) {}
func (discardLog) Println(...interface{})        {}

const testMessage = "From: Alice <alice@example.org>\r\n" +
	"To: bob@example.org\r\n" +
	"Subject: quarterly numbers\r\n" +
	"Message-ID: <q1@example.org>\r\n" +
	"Date: Mon, 02 Jan 2023 15:04:05 +0000\r\n" +
	"\r\n" +
	"See attached.\r\n"

func TestIMAPClientAgainstServer(t *testing.T) {
	account := startServer(t)
	c, err := NewIMAPClient(account)
	require.NoError(t, err)
	c.SetLogger(quietLogger())
	defer c.Disconnect() //nolint:errcheck

	ctx := context.Background()

	folders, err := c.ListFolders(ctx)
	require.NoError(t, err)
	var names []string
	for _, f := range folders {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "INBOX")

	before, err := c.ListEnvelopes(ctx, "inbox", 0, 0)
	require.NoError(t, err)

	id, err := c.AddMessage(ctx, "INBOX", []byte(testMessage), types.NewFlags(types.FlagSeen))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(len(before)+1), id)

	newest, err := c.ListEnvelopes(ctx, "INBOX", 1, 0)
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, id, newest[0].ID)
	assert.Equal(t, "quarterly numbers", newest[0].Subject)
	assert.Equal(t, "q1@example.org", newest[0].MessageID)
	assert.True(t, newest[0].Flags.Contains(types.FlagSeen))

	msg, err := c.GetMessage(ctx, "INBOX", id)
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", msg.Subject)
	assert.Contains(t, msg.BodyText, "See attached.")

	require.NoError(t, c.AddFlags(ctx, "INBOX", id, types.NewFlags(types.FlagFlagged)))
	newest, err = c.ListEnvelopes(ctx, "INBOX", 1, 0)
	require.NoError(t, err)
	assert.True(t, newest[0].Flags.Contains(types.FlagFlagged))

	require.NoError(t, c.RemoveFlags(ctx, "INBOX", id, types.NewFlags(types.FlagFlagged)))
	newest, err = c.ListEnvelopes(ctx, "INBOX", 1, 0)
	require.NoError(t, err)
	assert.False(t, newest[0].Flags.Contains(types.FlagFlagged))

	found, err := c.SearchEnvelopes(ctx, "INBOX", `SUBJECT "quarterly"`, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, id, found[0].ID)

	empty, err := c.ListEnvelopes(ctx, "INBOX", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, c.DeleteMessage(ctx, "INBOX", id))
	after, err := c.ListEnvelopes(ctx, "INBOX", 0, 0)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestIMAPClientFolders(t *testing.T) {
	account := startServer(t)
	c, err := NewIMAPClient(account)
	require.NoError(t, err)
	c.SetLogger(quietLogger())
	defer c.Disconnect() //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, c.AddFolder(ctx, "Archive"))

	id, err := c.AddMessage(ctx, "INBOX", []byte(testMessage), types.NewFlags())
	require.NoError(t, err)
	copied, err := c.CopyMessage(ctx, "INBOX", "Archive", id)
	require.NoError(t, err)
	assert.Equal(t, "1", copied)

	archived, err := c.ListEnvelopes(ctx, "Archive", 0, 0)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.True(t, archived[0].Flags.Contains(types.FlagSeen))

	source, err := c.ListEnvelopes(ctx, "INBOX", 1, 0)
	require.NoError(t, err)
	require.Len(t, source, 1)
	assert.Equal(t, id, source[0].ID)
	assert.False(t, source[0].Flags.Contains(types.FlagSeen), "copying must not mark the source read")

	require.NoError(t, c.DeleteFolder(ctx, "Archive"))
	err = c.DeleteFolder(ctx, "Archive")
	var perr *backend.ProtocolError
	assert.True(t, errors.As(err, &perr))
}

func TestRawSectionPeeks(t *testing.T) {
	assert.True(t, rawSection.Peek)
	assert.Equal(t, imap.FetchItem("BODY.PEEK[]"), rawSection.FetchItem())
}

func TestGetMessageKeepsUnread(t *testing.T) {
	account := startServer(t)
	c, err := NewIMAPClient(account)
	require.NoError(t, err)
	c.SetLogger(quietLogger())
	defer c.Disconnect() //nolint:errcheck

	ctx := context.Background()
	id, err := c.AddMessage(ctx, "INBOX", []byte(testMessage), types.NewFlags())
	require.NoError(t, err)

	msg, err := c.GetMessage(ctx, "INBOX", id)
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", msg.Subject)

	newest, err := c.ListEnvelopes(ctx, "INBOX", 1, 0)
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.False(t, newest[0].Flags.Contains(types.FlagSeen))
}

func TestDeleteMessageSparesOtherDeleted(t *testing.T) {
	account := startServer(t)
	c, err := NewIMAPClient(account)
	require.NoError(t, err)
	c.SetLogger(quietLogger())
	defer c.Disconnect() //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, c.AddFolder(ctx, "Box"))
	for i := 1; i <= 5; i++ {
		raw := fmt.Sprintf("From: alice@example.org\r\nSubject: m%d\r\nMessage-ID: <m%d@example.org>\r\n\r\nbody\r\n", i, i)
		_, err := c.AddMessage(ctx, "Box", []byte(raw), types.NewFlags())
		require.NoError(t, err)
	}

	require.NoError(t, c.SetFlags(ctx, "Box", "1", types.NewFlags(types.FlagDeleted)))
	require.NoError(t, c.DeleteMessage(ctx, "Box", "5"))
	require.NoError(t, c.DeleteMessage(ctx, "Box", "3"))

	left, err := c.ListEnvelopes(ctx, "Box", 0, 0)
	require.NoError(t, err)
	ids := make(map[string]types.Envelope, len(left))
	for _, env := range left {
		ids[env.MessageID] = env
	}
	assert.Len(t, ids, 3)
	for _, want := range []string{"m1@example.org", "m2@example.org", "m4@example.org"} {
		assert.Contains(t, ids, want)
	}
	assert.True(t, ids["m1@example.org"].Flags.Contains(types.FlagDeleted), "pending deletions stay flagged")

	err = c.DeleteMessage(ctx, "Box", "9")
	assert.True(t, backend.IsNotFound(err))
}

func TestConnectBadPassword(t *testing.T) {
	account := startServer(t)
	account.IMAP.Secret = "raw:wrong"

	c, err := NewIMAPClient(account)
	require.NoError(t, err)
	c.SetLogger(quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.ListFolders(ctx)
	assert.True(t, backend.IsAuthError(err))
}

func TestConnectRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	account := &config.AccountConfig{
		Name: "down",
		IMAP: config.IMAPConfig{Host: "127.0.0.1", Port: port, Encryption: "none", Login: "x", Secret: "raw:y"},
	}
	_, err = Connect(context.Background(), account, nil, quietLogger())
	var cerr *backend.ConnectionError
	assert.True(t, errors.As(err, &cerr))
}
