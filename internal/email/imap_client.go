package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/responses"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/backend"
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/credential"
	"github.com/brandon/mailcore/pkg/types"
)

// IMAPClient is the IMAP backend of an account. It connects lazily on
// first use and keeps that single session until Disconnect.
type IMAPClient struct {
	config  *config.AccountConfig
	secret  credential.Provider
	mu      sync.Mutex
	session *Session
	logger  *logrus.Logger
}

var _ backend.Backend = (*IMAPClient)(nil)

// NewIMAPClient creates a new IMAP client (does not connect immediately)
func NewIMAPClient(cfg *config.AccountConfig) (*IMAPClient, error) {
	secret, err := credential.Parse(cfg.IMAP.Secret)
	if err != nil {
		return nil, fmt.Errorf("invalid imap secret of %s: %w", cfg.Name, err)
	}
	return &IMAPClient{
		config: cfg,
		secret: secret,
		logger: logrus.New(),
	}, nil
}

// SetLogger sets the logger for the client
func (c *IMAPClient) SetLogger(logger *logrus.Logger) {
	c.logger = logger
}

// connect returns the open session, connecting first when needed.
func (c *IMAPClient) connect(ctx context.Context) (*Session, error) {
	if c.session != nil {
		return c.session, nil
	}
	s, err := Connect(ctx, c.config, c.secret, c.logger)
	if err != nil {
		return nil, err
	}
	c.session = s
	return s, nil
}

// withSession runs fn on the session, one command sequence at a time.
func (c *IMAPClient) withSession(ctx context.Context, fn func(*Session) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.connect(ctx)
	if err != nil {
		return err
	}
	return fn(s)
}

// Disconnect logs out if a session is open.
func (c *IMAPClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	err := c.session.Logout()
	c.session = nil
	return err
}

// mailbox maps a display name through the account's folder aliases.
func (c *IMAPClient) mailbox(folder string) string {
	if target, ok := c.config.FolderAlias(folder); ok {
		return target
	}
	return folder
}

func (c *IMAPClient) AddFolder(ctx context.Context, name string) error {
	return c.withSession(ctx, func(s *Session) error {
		if err := s.client.Create(c.mailbox(name)); err != nil {
			return &backend.ProtocolError{Op: "create", Target: name, Err: err}
		}
		return nil
	})
}

func (c *IMAPClient) DeleteFolder(ctx context.Context, name string) error {
	return c.withSession(ctx, func(s *Session) error {
		if err := s.client.Delete(c.mailbox(name)); err != nil {
			return &backend.ProtocolError{Op: "delete", Target: name, Err: err}
		}
		return nil
	})
}

// ListFolders lists all selectable mailboxes
func (c *IMAPClient) ListFolders(ctx context.Context) ([]types.Folder, error) {
	var folders []types.Folder
	err := c.withSession(ctx, func(s *Session) error {
		mailboxes := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)

		go func() {
			done <- s.client.List("", "*", mailboxes)
		}()

		for m := range mailboxes {
			if hasAttribute(m.Attributes, imap.NoSelectAttr) {
				continue
			}
			folders = append(folders, types.Folder{
				Name:        m.Name,
				Delimiter:   m.Delimiter,
				Description: strings.Join(m.Attributes, ", "),
			})
		}

		if err := <-done; err != nil {
			return &backend.ProtocolError{Op: "list", Err: err}
		}
		return nil
	})
	return folders, err
}

// ListEnvelopes fetches the envelopes of one page without reading the
// rest of the mailbox.
func (c *IMAPClient) ListEnvelopes(ctx context.Context, folder string, pageSize, page int) ([]types.Envelope, error) {
	var envelopes []types.Envelope
	err := c.withSession(ctx, func(s *Session) error {
		status, err := s.Select(c.mailbox(folder), true)
		if err != nil {
			return err
		}

		// A cursor at or past the oldest message yields an empty page,
		// never a clamped 1:1 window.
		lo, hi, ok := pageBounds(status.Messages, pageSize, page)
		if !ok {
			envelopes = []types.Envelope{}
			return nil
		}
		seqSet := new(imap.SeqSet)
		if pageSize <= 0 {
			seqSet.AddRange(1, 0)
		} else {
			seqSet.AddRange(lo, hi)
		}

		msgs, err := s.fetch(seqSet, envelopeItems, false)
		if err != nil {
			return err
		}
		sort.Slice(msgs, func(i, j int) bool { return msgs[i].SeqNum > msgs[j].SeqNum })

		envelopes = make([]types.Envelope, 0, len(msgs))
		for _, msg := range msgs {
			envelopes = append(envelopes, toEnvelope(msg))
		}
		return nil
	})
	return envelopes, err
}

// SearchEnvelopes runs SEARCH, or SORT when a sort criteria is given, and
// fetches only the requested page of the result.
func (c *IMAPClient) SearchEnvelopes(ctx context.Context, folder, query, sortCriteria string, pageSize, page int) ([]types.Envelope, error) {
	var envelopes []types.Envelope
	err := c.withSession(ctx, func(s *Session) error {
		if _, err := s.Select(c.mailbox(folder), true); err != nil {
			return err
		}

		var ids []uint32
		if strings.TrimSpace(sortCriteria) == "" {
			res := &responses.Search{}
			if err := execute(s, &searchCommand{query: query}, res, "search", folder); err != nil {
				return err
			}
			ids = res.Ids
			reverse(ids)
		} else {
			res := &sortResponse{}
			if err := execute(s, &sortCommand{criteria: sortCriteria, query: query}, res, "sort", folder); err != nil {
				return err
			}
			ids = res.ids
		}

		ids = slicePage(ids, pageSize, page)
		envelopes = make([]types.Envelope, 0, len(ids))
		if len(ids) == 0 {
			return nil
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(ids...)
		msgs, err := s.fetch(seqSet, envelopeItems, false)
		if err != nil {
			return err
		}

		bySeq := make(map[uint32]*imap.Message, len(msgs))
		for _, msg := range msgs {
			bySeq[msg.SeqNum] = msg
		}
		for _, id := range ids {
			if msg, ok := bySeq[id]; ok {
				envelopes = append(envelopes, toEnvelope(msg))
			}
		}
		return nil
	})
	return envelopes, err
}

// AddMessage appends raw to folder and returns its new highest sequence
// number.
func (c *IMAPClient) AddMessage(ctx context.Context, folder string, raw []byte, flags types.Flags) (string, error) {
	var id string
	err := c.withSession(ctx, func(s *Session) error {
		mbox := c.mailbox(folder)
		if err := s.client.Append(mbox, flagTokens(flags), time.Now(), bytes.NewBuffer(raw)); err != nil {
			return &backend.ProtocolError{Op: "append", Target: folder, Err: err}
		}
		status, err := s.Select(mbox, true)
		if err != nil {
			return err
		}
		id = strconv.FormatUint(uint64(status.Messages), 10)
		return nil
	})
	return id, err
}

// GetMessage fetches the full body of one message
func (c *IMAPClient) GetMessage(ctx context.Context, folder, id string) (*types.Message, error) {
	raw, err := c.fetchRaw(ctx, folder, id)
	if err != nil {
		return nil, err
	}
	return backend.ParseMessage(id, raw), nil
}

// CopyMessage fetches the raw bytes of a message and appends them to
// another folder with Seen set.
func (c *IMAPClient) CopyMessage(ctx context.Context, from, to, id string) (string, error) {
	raw, err := c.fetchRaw(ctx, from, id)
	if err != nil {
		return "", err
	}
	return c.AddMessage(ctx, to, raw, types.NewFlags(types.FlagSeen))
}

// MoveMessage copies a message, then flags the source Deleted and Seen and
// expunges it.
func (c *IMAPClient) MoveMessage(ctx context.Context, from, to, id string) (string, error) {
	newID, err := c.CopyMessage(ctx, from, to, id)
	if err != nil {
		return "", err
	}
	if err := c.store(ctx, from, id, imap.AddFlags, types.NewFlags(types.FlagDeleted, types.FlagSeen), true); err != nil {
		return "", err
	}
	return newID, nil
}

// DeleteMessage flags a message Deleted and expunges it. Other messages
// of the folder that are already flagged Deleted survive the expunge.
func (c *IMAPClient) DeleteMessage(ctx context.Context, folder, id string) error {
	return c.store(ctx, folder, id, imap.AddFlags, types.NewFlags(types.FlagDeleted), true)
}

func (c *IMAPClient) AddFlags(ctx context.Context, folder, id string, flags types.Flags) error {
	return c.store(ctx, folder, id, imap.AddFlags, flags, false)
}

func (c *IMAPClient) SetFlags(ctx context.Context, folder, id string, flags types.Flags) error {
	return c.store(ctx, folder, id, imap.SetFlags, flags, false)
}

func (c *IMAPClient) RemoveFlags(ctx context.Context, folder, id string, flags types.Flags) error {
	return c.store(ctx, folder, id, imap.RemoveFlags, flags, false)
}

// store reselects folder and issues a silent STORE. With expunge set the
// target message is expunged afterwards, see expungeOnly.
func (c *IMAPClient) store(ctx context.Context, folder, id string, op imap.FlagsOp, flags types.Flags, expunge bool) error {
	seqSet, err := imap.ParseSeqSet(id)
	if err != nil {
		return &backend.NotFoundError{Kind: "message", Name: id}
	}

	return c.withSession(ctx, func(s *Session) error {
		if _, err := s.Select(c.mailbox(folder), false); err != nil {
			return err
		}

		var uids []uint32
		if expunge {
			msgs, err := s.fetch(seqSet, []imap.FetchItem{imap.FetchUid}, false)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				return &backend.NotFoundError{Kind: "message", Name: id}
			}
			for _, msg := range msgs {
				uids = append(uids, msg.Uid)
			}
		}

		if err := storeFlags(s, seqSet, op, flagTokens(flags), false); err != nil {
			return &backend.ProtocolError{Op: "store", Target: folder + " " + id, Err: err}
		}

		if expunge {
			return expungeOnly(s, folder, uids)
		}
		return nil
	})
}

// expungeOnly expunges the messages with the given uids. EXPUNGE removes
// every Deleted message of the folder, so the Deleted flag of the others
// is lifted for its duration and restored by uid afterwards, as their
// sequence numbers shift.
func expungeOnly(s *Session, folder string, uids []uint32) error {
	criteria := imap.NewSearchCriteria()
	criteria.WithFlags = []string{imap.DeletedFlag}
	deleted, err := s.client.UidSearch(criteria)
	if err != nil {
		return &backend.ProtocolError{Op: "uid search", Target: folder, Err: err}
	}

	keep := make(map[uint32]bool, len(uids))
	for _, uid := range uids {
		keep[uid] = true
	}
	others := new(imap.SeqSet)
	for _, uid := range deleted {
		if !keep[uid] {
			others.AddNum(uid)
		}
	}

	if !others.Empty() {
		if err := storeFlags(s, others, imap.RemoveFlags, []string{imap.DeletedFlag}, true); err != nil {
			return &backend.ProtocolError{Op: "uid store", Target: folder, Err: err}
		}
	}
	expungeErr := s.client.Expunge(nil)
	if !others.Empty() {
		if err := storeFlags(s, others, imap.AddFlags, []string{imap.DeletedFlag}, true); err != nil {
			return &backend.ProtocolError{Op: "uid store", Target: folder, Err: err}
		}
	}
	if expungeErr != nil {
		return &backend.ProtocolError{Op: "expunge", Target: folder, Err: expungeErr}
	}
	return nil
}

func storeFlags(s *Session, set *imap.SeqSet, op imap.FlagsOp, tokens []string, uid bool) error {
	value := make([]interface{}, len(tokens))
	for i, token := range tokens {
		value[i] = token
	}
	item := imap.FormatFlagsOp(op, true)
	if uid {
		return s.client.UidStore(set, item, value, nil)
	}
	return s.client.Store(set, item, value, nil)
}

// rawSection fetches the whole message without setting Seen.
var rawSection = &imap.BodySectionName{Peek: true}

// fetchRaw reads a message through EXAMINE and BODY.PEEK[], so reading,
// copying and syncing leave its flags untouched.
func (c *IMAPClient) fetchRaw(ctx context.Context, folder, id string) ([]byte, error) {
	seq, err := strconv.ParseUint(id, 10, 32)
	if err != nil || seq == 0 {
		return nil, &backend.NotFoundError{Kind: "message", Name: id}
	}

	var raw []byte
	err = c.withSession(ctx, func(s *Session) error {
		if _, err := s.Select(c.mailbox(folder), true); err != nil {
			return err
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uint32(seq))
		msgs, err := s.fetch(seqSet, []imap.FetchItem{rawSection.FetchItem()}, false)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return &backend.NotFoundError{Kind: "message", Name: id}
		}

		literal := msgs[0].GetBody(rawSection)
		if literal == nil {
			return &backend.NotFoundError{Kind: "message body", Name: id}
		}
		if raw, err = io.ReadAll(literal); err != nil {
			return fmt.Errorf("failed to read message %s: %w", id, err)
		}
		return nil
	})
	return raw, err
}

var envelopeItems = []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchInternalDate, imap.FetchUid}

// execute runs a custom command and turns a non-OK status into an error.
func execute(s *Session, cmd imap.Commander, h responses.Handler, op, target string) error {
	status, err := s.client.Execute(cmd, h)
	if err == nil {
		err = status.Err()
	}
	if err != nil {
		return &backend.ProtocolError{Op: op, Target: target, Err: err}
	}
	return nil
}

// toEnvelope converts a fetched message into an envelope
func toEnvelope(msg *imap.Message) types.Envelope {
	env := types.Envelope{
		ID:    strconv.FormatUint(uint64(msg.SeqNum), 10),
		Flags: types.ParseFlags(msg.Flags),
		Date:  msg.InternalDate,
	}
	if msg.Envelope != nil {
		env.MessageID = types.NormalizeMessageID(msg.Envelope.MessageId)
		env.Subject = msg.Envelope.Subject
		if !msg.Envelope.Date.IsZero() {
			env.Date = msg.Envelope.Date
		}
		if len(msg.Envelope.From) > 0 {
			addr := msg.Envelope.From[0]
			env.From = addr.PersonalName
			if env.From == "" {
				env.From = addr.Address()
			}
		}
	}
	return env
}

func hasAttribute(attrs []string, attr string) bool {
	for _, a := range attrs {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}
