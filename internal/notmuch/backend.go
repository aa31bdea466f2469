// Package notmuch implements the Backend interface over a notmuch index.
//
// Folders are virtual: a display name maps to a notmuch query through the
// account's folder aliases. Message bytes live in the Maildir tree under
// the database root, written through a Maildir backend.
package notmuch

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/backend"
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/idmapper"
	"github.com/brandon/mailcore/internal/maildir"
	"github.com/brandon/mailcore/pkg/types"
)

// DefaultQuery is the query of a folder without an alias.
const DefaultQuery = "all"

// Backend is a notmuch-backed mail store
type Backend struct {
	account *config.AccountConfig
	index   Index
	storage *maildir.Backend
	ids     idmapper.Registry
	logger  *logrus.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New creates a notmuch backend. storage writes new messages into the
// database root; ids hands out the aliases of each virtual folder.
func New(account *config.AccountConfig, index Index, storage *maildir.Backend, ids idmapper.Registry) *Backend {
	if ids == nil {
		ids = idmapper.DummyRegistry{}
	}
	return &Backend{
		account: account,
		index:   index,
		storage: storage,
		ids:     ids,
		logger:  logrus.New(),
	}
}

// SetLogger sets the logger for the backend
func (b *Backend) SetLogger(logger *logrus.Logger) {
	b.logger = logger
}

func (b *Backend) AddFolder(ctx context.Context, name string) error {
	return &backend.UnsupportedError{Backend: backend.KindNotmuch, Op: "add folder"}
}

// ListFolders returns the configured virtual folders.
func (b *Backend) ListFolders(ctx context.Context) ([]types.Folder, error) {
	names := make([]string, 0, len(b.account.FolderAliases))
	for name := range b.account.FolderAliases {
		names = append(names, name)
	}
	sort.Strings(names)

	folders := make([]types.Folder, 0, len(names))
	for _, name := range names {
		folders = append(folders, types.Folder{
			Name:        name,
			Description: b.account.FolderAliases[name],
		})
	}
	return folders, nil
}

func (b *Backend) DeleteFolder(ctx context.Context, name string) error {
	return &backend.UnsupportedError{Backend: backend.KindNotmuch, Op: "delete folder"}
}

// ListEnvelopes lists one page of a virtual folder, newest first.
func (b *Backend) ListEnvelopes(ctx context.Context, folder string, pageSize, page int) ([]types.Envelope, error) {
	envelopes, err := b.envelopes(ctx, folder, b.folderQuery(folder))
	if err != nil {
		return nil, err
	}
	return backend.Paginate(envelopes, pageSize, page)
}

// SearchEnvelopes runs a notmuch query restricted to the folder's query.
func (b *Backend) SearchEnvelopes(ctx context.Context, folder, query, sort string, pageSize, page int) ([]types.Envelope, error) {
	envelopes, err := b.envelopes(ctx, folder, combineQueries(b.folderQuery(folder), query))
	if err != nil {
		return nil, err
	}
	if err := backend.SortEnvelopes(envelopes, sort); err != nil {
		return nil, err
	}
	return backend.Slice(envelopes, pageSize, page)
}

// AddMessage writes raw into the database root, indexes it, tags it and
// returns its alias in folder.
func (b *Backend) AddMessage(ctx context.Context, folder string, raw []byte, flags types.Flags) (string, error) {
	if _, err := b.storage.AddMessage(ctx, b.storage.Root(), raw, flags); err != nil {
		return "", fmt.Errorf("failed to store message: %w", err)
	}
	if err := b.index.New(ctx); err != nil {
		return "", fmt.Errorf("failed to index message: %w", err)
	}

	id := messageID(raw)
	add, remove := replaceTags(nil, flags)
	if tag, ok := queryTag(b.folderQuery(folder)); ok {
		add = append(add, tag)
	}
	// notmuch new applies its own initial tags, unread among them.
	if flags.Contains(types.FlagSeen) {
		remove = append(remove, tagUnread)
	}
	if err := b.index.Tag(ctx, id, add, remove); err != nil {
		return "", fmt.Errorf("failed to tag message %s: %w", id, err)
	}

	mapper, err := b.ids.Mapper(folder)
	if err != nil {
		return "", err
	}
	alias, err := mapper.Alias(id)
	if err != nil {
		return "", err
	}

	b.logger.WithFields(logrus.Fields{
		"folder": folder,
		"id":     id,
		"alias":  alias,
	}).Debug("Indexed message")
	return alias, nil
}

// GetMessage reads the first file of the message behind alias.
func (b *Backend) GetMessage(ctx context.Context, folder, alias string) (*types.Message, error) {
	msg, err := b.lookup(ctx, folder, alias)
	if err != nil {
		return nil, err
	}
	if len(msg.Filenames) == 0 {
		return nil, &backend.NotFoundError{Kind: "message file", Name: msg.ID}
	}

	raw, err := os.ReadFile(msg.Filenames[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", msg.Filenames[0], err)
	}
	return backend.ParseMessage(alias, raw), nil
}

func (b *Backend) CopyMessage(ctx context.Context, from, to, id string) (string, error) {
	return "", &backend.UnsupportedError{Backend: backend.KindNotmuch, Op: "copy message"}
}

func (b *Backend) MoveMessage(ctx context.Context, from, to, id string) (string, error) {
	return "", &backend.UnsupportedError{Backend: backend.KindNotmuch, Op: "move message"}
}

// DeleteMessage tags a message deleted.
func (b *Backend) DeleteMessage(ctx context.Context, folder, id string) error {
	return b.AddFlags(ctx, folder, id, types.NewFlags(types.FlagDeleted))
}

func (b *Backend) AddFlags(ctx context.Context, folder, alias string, flags types.Flags) error {
	msg, err := b.lookup(ctx, folder, alias)
	if err != nil {
		return err
	}
	add, remove := tagChanges(flags)
	return b.index.Tag(ctx, msg.ID, add, remove)
}

func (b *Backend) SetFlags(ctx context.Context, folder, alias string, flags types.Flags) error {
	msg, err := b.lookup(ctx, folder, alias)
	if err != nil {
		return err
	}
	add, remove := replaceTags(msg.Tags, flags)
	return b.index.Tag(ctx, msg.ID, add, remove)
}

func (b *Backend) RemoveFlags(ctx context.Context, folder, alias string, flags types.Flags) error {
	msg, err := b.lookup(ctx, folder, alias)
	if err != nil {
		return err
	}
	add, remove := tagChanges(flags)
	return b.index.Tag(ctx, msg.ID, remove, add)
}

// Disconnect is a no-op, the index is queried per call.
func (b *Backend) Disconnect() error {
	return nil
}

func (b *Backend) envelopes(ctx context.Context, folder, query string) ([]types.Envelope, error) {
	msgs, err := b.index.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search %q: %w", query, err)
	}
	mapper, err := b.ids.Mapper(folder)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(msgs))
	for i, msg := range msgs {
		ids[i] = msg.ID
	}
	aliases, err := mapper.Aliases(ids)
	if err != nil {
		return nil, err
	}

	envelopes := make([]types.Envelope, 0, len(msgs))
	for _, msg := range msgs {
		envelopes = append(envelopes, types.Envelope{
			ID:        aliases[msg.ID],
			MessageID: msg.ID,
			Flags:     tagsToFlags(msg.Tags),
			Subject:   msg.Subject,
			From:      senderName(msg.From),
			Date:      msg.Date,
		})
	}
	return envelopes, nil
}

func (b *Backend) lookup(ctx context.Context, folder, alias string) (Indexed, error) {
	mapper, err := b.ids.Mapper(folder)
	if err != nil {
		return Indexed{}, err
	}
	id, err := mapper.ID(alias)
	if err != nil {
		return Indexed{}, err
	}

	msgs, err := b.index.Search(ctx, IDQuery(id))
	if err != nil {
		return Indexed{}, fmt.Errorf("failed to look up %s: %w", id, err)
	}
	if len(msgs) == 0 {
		return Indexed{}, &backend.NotFoundError{Kind: "message", Name: alias}
	}
	return msgs[0], nil
}

// folderQuery maps a virtual folder to its query. The default query
// matches every message.
func (b *Backend) folderQuery(folder string) string {
	query, ok := b.account.FolderAlias(folder)
	if !ok || query == "" || query == DefaultQuery {
		return "*"
	}
	return query
}

func combineQueries(folderQuery, query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return folderQuery
	}
	return "(" + folderQuery + ") and (" + query + ")"
}

// queryTag extracts the tag of a single-term "tag:<name>" query.
func queryTag(query string) (string, bool) {
	query = strings.TrimSpace(query)
	if !strings.HasPrefix(query, "tag:") || strings.ContainsAny(query, " ()") {
		return "", false
	}
	tag := strings.TrimPrefix(query, "tag:")
	return tag, tag != ""
}

// messageID derives the id notmuch assigns to raw: its Message-ID, or a
// digest of the content when the header is missing.
func messageID(raw []byte) string {
	if env, err := backend.ReadEnvelope(bytes.NewReader(raw)); err == nil && env.MessageID != "" {
		return env.MessageID
	}
	sum := sha1.Sum(raw)
	return "notmuch-sha1-" + hex.EncodeToString(sum[:])
}

func senderName(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return from
	}
	if addr.Name != "" {
		return addr.Name
	}
	return addr.Address
}
