package email

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/backend"
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/credential"
)

const dialTimeout = 30 * time.Second

// Session is one authenticated IMAP connection. Commands run strictly one
// after the other; every operation selects its folder first.
type Session struct {
	client *client.Client
	login  string
	logger *logrus.Logger

	// wake holds at most one pending unilateral update.
	wake  chan struct{}
	flush chan chan struct{}
	quit  chan struct{}
}

// Connect dials the account's IMAP server, negotiates TLS as configured
// and authenticates. Any failure closes the connection.
func Connect(ctx context.Context, account *config.AccountConfig, secret credential.Provider, logger *logrus.Logger) (*Session, error) {
	cfg := account.IMAP
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	tlsConfig := &tls.Config{
		ServerName:         cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.Insecure,
	}
	dialer := &net.Dialer{Timeout: dialTimeout}

	var (
		c   *client.Client
		err error
	)
	switch cfg.Encryption {
	case "tls":
		c, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
	case "starttls":
		c, err = client.DialWithDialer(dialer, addr)
		if err == nil {
			if err = c.StartTLS(tlsConfig); err != nil {
				c.Logout() //nolint:errcheck
			}
		}
	default:
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, &backend.ConnectionError{Addr: addr, Err: err}
	}

	password, err := secret.Secret(ctx)
	if err != nil {
		c.Logout() //nolint:errcheck
		return nil, &backend.AuthError{Login: cfg.Login, Err: err}
	}

	switch cfg.Auth {
	case "oauth2":
		err = c.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: cfg.Login,
			Token:    password,
			Host:     cfg.Host,
			Port:     cfg.Port,
		}))
	default:
		err = c.Login(cfg.Login, password)
	}
	if err != nil {
		logger.WithError(err).Error("Failed to login to IMAP server")
		c.Logout() //nolint:errcheck
		return nil, &backend.AuthError{Login: cfg.Login, Err: err}
	}

	logger.WithFields(logrus.Fields{
		"account": account.Name,
		"addr":    addr,
	}).Info("Connected to IMAP server")

	return newSession(c, cfg.Login, logger), nil
}

// newSession routes the unilateral updates of c to the session's wake
// channel. Updates stays set for the lifetime of the connection so the
// reader goroutine never blocks on it.
func newSession(c *client.Client, login string, logger *logrus.Logger) *Session {
	s := &Session{
		client: c,
		login:  login,
		logger: logger,
		wake:   make(chan struct{}, 1),
		flush:  make(chan chan struct{}),
		quit:   make(chan struct{}),
	}
	updates := make(chan client.Update, 16)
	c.Updates = updates
	go s.pump(updates)
	return s
}

func (s *Session) pump(updates <-chan client.Update) {
	for {
		select {
		case <-updates:
			select {
			case s.wake <- struct{}{}:
			default:
			}
		case ack := <-s.flush:
			drainUpdates(updates)
			select {
			case <-s.wake:
			default:
			}
			close(ack)
		case <-s.quit:
			return
		}
	}
}

// Logout ends the session.
func (s *Session) Logout() error {
	defer close(s.quit)
	if err := s.client.Logout(); err != nil {
		return &backend.ProtocolError{Op: "logout", Target: s.login, Err: err}
	}
	return nil
}

// Select opens a folder, read-only when examine is set.
func (s *Session) Select(folder string, examine bool) (*imap.MailboxStatus, error) {
	status, err := s.client.Select(folder, examine)
	if err != nil {
		op := "select"
		if examine {
			op = "examine"
		}
		return nil, &backend.ProtocolError{Op: op, Target: folder, Err: err}
	}
	return status, nil
}

// fetch runs one FETCH and collects the messages in arrival order.
func (s *Session) fetch(seqSet *imap.SeqSet, items []imap.FetchItem, uid bool) ([]*imap.Message, error) {
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		if uid {
			done <- s.client.UidFetch(seqSet, items, messages)
		} else {
			done <- s.client.Fetch(seqSet, items, messages)
		}
	}()

	var out []*imap.Message
	for msg := range messages {
		out = append(out, msg)
	}

	if err := <-done; err != nil {
		return nil, &backend.ProtocolError{Op: "fetch", Target: seqSet.String(), Err: err}
	}
	return out, nil
}

// clearWake drops the updates left over from earlier commands, such as
// the EXISTS and RECENT replies to SELECT. The client queues those before
// the command returns, so once the pump acknowledges nothing stale remains.
func (s *Session) clearWake() {
	ack := make(chan struct{})
	select {
	case s.flush <- ack:
		<-ack
	case <-s.quit:
	}
}

func drainUpdates(updates <-chan client.Update) {
	for {
		select {
		case <-updates:
		default:
			return
		}
	}
}

// idle holds an IDLE command until the server pushes an update,
// keepalive elapses or ctx is done. woken reports a server push.
func (s *Session) idle(ctx context.Context, keepalive time.Duration) (woken bool, err error) {
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.client.Idle(stop, nil)
	}()

	timer := time.NewTimer(keepalive)
	defer timer.Stop()

	select {
	case <-s.wake:
		woken = true
	case <-timer.C:
	case <-ctx.Done():
	case err := <-done:
		if err != nil {
			return false, &backend.ProtocolError{Op: "idle", Err: err}
		}
		return false, nil
	}

	close(stop)
	if err := <-done; err != nil {
		return woken, &backend.ProtocolError{Op: "idle", Err: err}
	}
	return woken, nil
}
