package email

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	imapbackend "github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailcore/internal/config"
)

// pushBackend is the memory backend plus a channel of unilateral updates,
// which the server broadcasts to selected connections, IDLE included.
type pushBackend struct {
	*memory.Backend
	updates chan imapbackend.Update
}

func (b *pushBackend) Updates() <-chan imapbackend.Update {
	return b.updates
}

type pushServer struct {
	account *config.AccountConfig
	addr    string
	updates chan imapbackend.Update
}

func startPushServer(t *testing.T) *pushServer {
	t.Helper()

	be := &pushBackend{Backend: memory.New(), updates: make(chan imapbackend.Update, 8)}
	srv := server.New(be)
	srv.AllowInsecureAuth = true
	srv.ErrorLog = discardLog{}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(l) //nolint:errcheck
	t.Cleanup(func() { srv.Close() })

	port := l.Addr().(*net.TCPAddr).Port
	return &pushServer{
		addr:    l.Addr().String(),
		updates: be.updates,
		account: &config.AccountConfig{
			Name:        "test",
			Backend:     "imap",
			InboxFolder: "INBOX",
			IMAP: config.IMAPConfig{
				Host:       "127.0.0.1",
				Port:       port,
				Encryption: "none",
				Auth:       "password",
				Login:      "username",
				Secret:     "raw:password",
			},
		},
	}
}

// deliver appends a Recent message from a second connection, then pushes
// the new message count to everyone with INBOX selected.
func (p *pushServer) deliver(t *testing.T, subject string, count uint32) {
	t.Helper()

	c, err := client.Dial(p.addr)
	require.NoError(t, err)
	require.NoError(t, c.Login("username", "password"))
	msg := fmt.Sprintf("From: Carol <carol@example.org>\r\nSubject: %s\r\nMessage-ID: <%s@example.org>\r\n\r\nhello\r\n",
		subject, strings.ReplaceAll(subject, " ", "-"))
	require.NoError(t, c.Append("INBOX", []string{imap.RecentFlag}, time.Now(), bytes.NewBufferString(msg)))
	require.NoError(t, c.Logout())

	p.push(t, count)
}

func (p *pushServer) push(t *testing.T, count uint32) {
	t.Helper()

	status := imap.NewMailboxStatus("INBOX", []imap.StatusItem{imap.StatusMessages})
	status.Messages = count
	update := &imapbackend.MailboxUpdate{
		Update:        imapbackend.NewUpdate("username", "INBOX"),
		MailboxStatus: status,
	}
	p.updates <- update

	select {
	case <-update.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("update was not broadcast")
	}
}

func idleEntries(hook *test.Hook) int {
	n := 0
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Entering IDLE" {
			n++
		}
	}
	return n
}

func debugLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func TestNotifyOncePerNewMessage(t *testing.T) {
	srv := startPushServer(t)
	logger, hook := debugLogger()

	c, err := NewIMAPClient(srv.account)
	require.NoError(t, err)
	c.SetLogger(logger)
	defer c.Disconnect() //nolint:errcheck

	var (
		mu       sync.Mutex
		subjects []string
	)
	notify := func(ctx context.Context, subject, sender string) error {
		mu.Lock()
		defer mu.Unlock()
		subjects = append(subjects, subject+" / "+sender)
		return nil
	}
	notified := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), subjects...)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Notify(ctx, "INBOX", 30*time.Second, notify) }()

	require.Eventually(t, func() bool { return idleEntries(hook) >= 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, idleEntries(hook), "IDLE must hold until an update or the keepalive")
	assert.Empty(t, notified())

	srv.deliver(t, "lunch plans", 2)
	require.Eventually(t, func() bool { return len(notified()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"lunch plans / Carol"}, notified())

	time.Sleep(200 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Len(t, notified(), 1)
	assert.LessOrEqual(t, idleEntries(hook), 4)
}

func TestWatchRunsCommandsOnUpdatesOnly(t *testing.T) {
	srv := startPushServer(t)
	logger, hook := debugLogger()

	c, err := NewIMAPClient(srv.account)
	require.NoError(t, err)
	c.SetLogger(logger)
	defer c.Disconnect() //nolint:errcheck

	marker := filepath.Join(t.TempDir(), "runs")
	runs := func() int {
		data, err := os.ReadFile(marker)
		if err != nil {
			return 0
		}
		return strings.Count(string(data), "x")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	keepalive := 50 * time.Millisecond
	go func() { done <- c.Watch(ctx, "INBOX", keepalive, []string{"printf x >> " + marker}) }()

	require.Eventually(t, func() bool { return idleEntries(hook) >= 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, runs(), "an elapsed keepalive is not a change")

	srv.push(t, 1)
	require.Eventually(t, func() bool { return runs() == 1 }, 5*time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, runs())
}
