// Package maildir implements the Backend interface over a Maildir++ tree.
//
// Messages are addressed by the alias the folder's id mapper assigns to
// their Maildir key, so references survive flag changes (which rename the
// underlying file).
package maildir

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/emersion/go-maildir"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/backend"
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/idmapper"
	"github.com/brandon/mailcore/pkg/types"
)

// Backend is a Maildir-backed mail store
type Backend struct {
	account *config.AccountConfig
	root    string
	ids     idmapper.Registry
	logger  *logrus.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New opens the Maildir rooted at root, creating its tmp/new/cur layout
// when missing. An empty root falls back to the account's Maildir root.
func New(account *config.AccountConfig, root string, ids idmapper.Registry) (*Backend, error) {
	if root == "" {
		root = account.MaildirRoot
	}
	abs, err := filepath.Abs(expandHome(root))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve maildir root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create maildir root: %w", err)
	}
	if err := maildir.Dir(abs).Init(); err != nil {
		return nil, fmt.Errorf("failed to init maildir root: %w", err)
	}
	if ids == nil {
		ids = idmapper.DummyRegistry{}
	}

	return &Backend{
		account: account,
		root:    abs,
		ids:     ids,
		logger:  logrus.New(),
	}, nil
}

// SetLogger sets the logger for the backend
func (b *Backend) SetLogger(logger *logrus.Logger) {
	b.logger = logger
}

// Root returns the absolute path of the Maildir root.
func (b *Backend) Root() string {
	return b.root
}

// AddFolder creates a dotted Maildir++ subfolder under the root.
func (b *Backend) AddFolder(ctx context.Context, name string) error {
	path := filepath.Join(b.root, subfolderDir(name))
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", name, err)
	}
	if err := maildir.Dir(path).Init(); err != nil {
		return fmt.Errorf("failed to init folder %s: %w", name, err)
	}
	b.logger.WithField("folder", name).Debug("Created maildir folder")
	return nil
}

// ListFolders returns the inbox, every dotted subfolder and the configured
// aliases.
func (b *Backend) ListFolders(ctx context.Context) ([]types.Folder, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read maildir root: %w", err)
	}

	folders := []types.Folder{{
		Name:        b.inboxName(),
		Delimiter:   "/",
		Description: b.root,
	}}
	seen := map[string]bool{strings.ToLower(b.inboxName()): true}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, ".") || name == "." || name == ".." {
			continue
		}
		if !isDir(filepath.Join(b.root, name, "cur")) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, dir := range names {
		name := folderName(dir)
		seen[strings.ToLower(name)] = true
		folders = append(folders, types.Folder{
			Name:        name,
			Delimiter:   "/",
			Description: filepath.Join(b.root, dir),
		})
	}

	aliases := make([]string, 0, len(b.account.FolderAliases))
	for name := range b.account.FolderAliases {
		aliases = append(aliases, name)
	}
	sort.Strings(aliases)
	for _, name := range aliases {
		if seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		folders = append(folders, types.Folder{
			Name:        name,
			Delimiter:   "/",
			Description: b.account.FolderAliases[name],
		})
	}

	return folders, nil
}

// DeleteFolder removes a subfolder and every message in it. The root
// cannot be deleted.
func (b *Backend) DeleteFolder(ctx context.Context, name string) error {
	dir, err := b.resolve(name)
	if err != nil {
		return err
	}
	if string(dir) == b.root {
		return fmt.Errorf("refusing to delete the maildir root")
	}
	if err := os.RemoveAll(string(dir)); err != nil {
		return fmt.Errorf("failed to delete folder %s: %w", name, err)
	}
	b.logger.WithField("folder", name).Debug("Deleted maildir folder")
	return nil
}

// ListEnvelopes lists one page of a folder, newest first.
func (b *Backend) ListEnvelopes(ctx context.Context, folder string, pageSize, page int) ([]types.Envelope, error) {
	envelopes, err := b.envelopes(ctx, folder)
	if err != nil {
		return nil, err
	}
	return backend.Paginate(envelopes, pageSize, page)
}

// SearchEnvelopes keeps the envelopes whose subject or sender contain
// every whitespace-separated term of query, ordered by sort.
func (b *Backend) SearchEnvelopes(ctx context.Context, folder, query, sort string, pageSize, page int) ([]types.Envelope, error) {
	envelopes, err := b.envelopes(ctx, folder)
	if err != nil {
		return nil, err
	}

	terms := strings.Fields(strings.ToLower(query))
	matched := envelopes[:0]
	for _, env := range envelopes {
		if matchesAll(env, terms) {
			matched = append(matched, env)
		}
	}

	if err := backend.SortEnvelopes(matched, sort); err != nil {
		return nil, err
	}
	return backend.Slice(matched, pageSize, page)
}

// AddMessage stores raw in folder with the given flags and returns the
// alias of the new message.
func (b *Backend) AddMessage(ctx context.Context, folder string, raw []byte, flags types.Flags) (string, error) {
	dir, err := b.resolve(folder)
	if err != nil {
		return "", err
	}
	mapper, err := b.mapper(dir)
	if err != nil {
		return "", err
	}

	msg, w, err := dir.Create(toMaildirFlags(flags))
	if err != nil {
		return "", fmt.Errorf("failed to create message in %s: %w", folder, err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to deliver message: %w", err)
	}

	alias, err := mapper.Alias(msg.Key())
	if err != nil {
		return "", err
	}

	b.logger.WithFields(logrus.Fields{
		"folder": folder,
		"key":    msg.Key(),
		"id":     alias,
	}).Debug("Stored message")
	return alias, nil
}

// GetMessage reads and parses one message.
func (b *Backend) GetMessage(ctx context.Context, folder, id string) (*types.Message, error) {
	msg, err := b.lookup(folder, id)
	if err != nil {
		return nil, err
	}
	raw, err := readAll(msg)
	if err != nil {
		return nil, err
	}
	return backend.ParseMessage(id, raw), nil
}

// CopyMessage adds the raw bytes of a message to another folder with Seen
// set, keeping its other flags.
func (b *Backend) CopyMessage(ctx context.Context, from, to, id string) (string, error) {
	msg, err := b.lookup(from, id)
	if err != nil {
		return "", err
	}
	raw, err := readAll(msg)
	if err != nil {
		return "", err
	}
	flags := fromMaildirFlags(msg.Flags())
	flags.Insert(types.FlagSeen)
	return b.AddMessage(ctx, to, raw, flags)
}

// MoveMessage copies a message then marks the source Deleted and Seen.
func (b *Backend) MoveMessage(ctx context.Context, from, to, id string) (string, error) {
	newID, err := b.CopyMessage(ctx, from, to, id)
	if err != nil {
		return "", err
	}
	if err := b.AddFlags(ctx, from, id, types.NewFlags(types.FlagDeleted, types.FlagSeen)); err != nil {
		return "", err
	}
	return newID, nil
}

// DeleteMessage marks a message Deleted.
func (b *Backend) DeleteMessage(ctx context.Context, folder, id string) error {
	return b.AddFlags(ctx, folder, id, types.NewFlags(types.FlagDeleted))
}

func (b *Backend) AddFlags(ctx context.Context, folder, id string, flags types.Flags) error {
	return b.updateFlags(folder, id, func(current types.Flags) types.Flags {
		return current.Union(flags)
	})
}

func (b *Backend) SetFlags(ctx context.Context, folder, id string, flags types.Flags) error {
	return b.updateFlags(folder, id, func(types.Flags) types.Flags {
		return flags
	})
}

func (b *Backend) RemoveFlags(ctx context.Context, folder, id string, flags types.Flags) error {
	return b.updateFlags(folder, id, func(current types.Flags) types.Flags {
		return current.Difference(flags)
	})
}

// Disconnect is a no-op, there is no session to tear down.
func (b *Backend) Disconnect() error {
	return nil
}

func (b *Backend) updateFlags(folder, id string, update func(types.Flags) types.Flags) error {
	msg, err := b.lookup(folder, id)
	if err != nil {
		return err
	}
	next := update(fromMaildirFlags(msg.Flags()))
	if err := msg.SetFlags(toMaildirFlags(next)); err != nil {
		return fmt.Errorf("failed to set flags of %s: %w", id, err)
	}
	return nil
}

// envelopes materializes every envelope of folder. Messages still in new/
// are moved to cur/ and reported Recent.
func (b *Backend) envelopes(ctx context.Context, folder string) ([]types.Envelope, error) {
	dir, err := b.resolve(folder)
	if err != nil {
		return nil, err
	}
	mapper, err := b.mapper(dir)
	if err != nil {
		return nil, err
	}

	unseen, err := dir.Unseen()
	if err != nil {
		return nil, fmt.Errorf("failed to scan new messages of %s: %w", folder, err)
	}
	recent := make(map[string]bool, len(unseen))
	for _, msg := range unseen {
		recent[msg.Key()] = true
	}

	msgs, err := dir.Messages()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", folder, err)
	}

	keys := make([]string, len(msgs))
	for i, msg := range msgs {
		keys[i] = msg.Key()
	}
	aliases, err := mapper.Aliases(keys)
	if err != nil {
		return nil, err
	}

	envelopes := make([]types.Envelope, 0, len(msgs))
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		env := b.readEnvelope(msg)
		env.ID = aliases[msg.Key()]
		env.Flags = fromMaildirFlags(msg.Flags())
		if recent[msg.Key()] {
			env.Flags.Insert(types.FlagRecent)
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

func (b *Backend) readEnvelope(msg *maildir.Message) types.Envelope {
	f, err := msg.Open()
	if err != nil {
		b.logger.WithError(err).WithField("key", msg.Key()).Warn("Failed to open message")
		return types.Envelope{}
	}
	defer f.Close()

	env, err := backend.ReadEnvelope(f)
	if err != nil {
		b.logger.WithError(err).WithField("key", msg.Key()).Warn("Failed to parse message header")
	}
	if env.Date.IsZero() {
		if info, err := os.Stat(msg.Filename()); err == nil {
			env.Date = info.ModTime()
		}
	}
	return env
}

// lookup resolves folder and alias to the Maildir message.
func (b *Backend) lookup(folder, id string) (*maildir.Message, error) {
	dir, err := b.resolve(folder)
	if err != nil {
		return nil, err
	}
	mapper, err := b.mapper(dir)
	if err != nil {
		return nil, err
	}
	key, err := mapper.ID(id)
	if err != nil {
		return nil, err
	}
	msg, err := dir.MessageByKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", &backend.NotFoundError{Kind: "message", Name: id}, err)
	}
	return msg, nil
}

// resolve maps a folder name to its directory. Candidates are tried in
// order: alias table, inbox, absolute path, root-relative path,
// cwd-relative path, dotted subfolder. The first existing directory wins.
func (b *Backend) resolve(folder string) (maildir.Dir, error) {
	name := folder
	if target, ok := b.account.FolderAlias(folder); ok {
		name = expandHome(target)
	}

	var candidates []string
	if b.account.IsInbox(name) {
		candidates = append(candidates, b.root)
	}
	if filepath.IsAbs(name) {
		candidates = append(candidates, name)
	} else {
		candidates = append(candidates, filepath.Join(b.root, name))
		if cwd, err := os.Getwd(); err == nil {
			candidates = append(candidates, filepath.Join(cwd, name))
		}
		candidates = append(candidates, filepath.Join(b.root, subfolderDir(name)))
	}

	for _, candidate := range candidates {
		if isDir(candidate) {
			return maildir.Dir(filepath.Clean(candidate)), nil
		}
	}
	return "", &backend.NotFoundError{Kind: "folder", Name: folder}
}

// mapper returns the id mapper of a resolved directory. Scopes are keyed
// by the canonical folder name so every spelling of a folder shares its
// aliases.
func (b *Backend) mapper(dir maildir.Dir) (idmapper.Mapper, error) {
	return b.ids.Mapper(b.canonicalName(dir))
}

func (b *Backend) canonicalName(dir maildir.Dir) string {
	path := string(dir)
	if path == b.root {
		return b.inboxName()
	}
	if filepath.Dir(path) == b.root && strings.HasPrefix(filepath.Base(path), ".") {
		return folderName(filepath.Base(path))
	}
	return path
}

func (b *Backend) inboxName() string {
	if b.account.InboxFolder == "" {
		return "INBOX"
	}
	return b.account.InboxFolder
}

// subfolderDir encodes a folder name as a Maildir++ directory: "a/b"
// becomes ".a.b".
func subfolderDir(name string) string {
	return "." + strings.ReplaceAll(strings.Trim(name, "/"), "/", ".")
}

// folderName decodes a Maildir++ directory name, see subfolderDir.
func folderName(dir string) string {
	return strings.ReplaceAll(strings.TrimPrefix(dir, "."), ".", "/")
}

func matchesAll(env types.Envelope, terms []string) bool {
	haystack := strings.ToLower(env.Subject + "\x00" + env.From)
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

func readAll(msg *maildir.Message) ([]byte, error) {
	f, err := msg.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open message %s: %w", msg.Key(), err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read message %s: %w", msg.Key(), err)
	}
	return raw, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
