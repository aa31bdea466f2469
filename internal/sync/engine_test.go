package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailcore/internal/backend"
	"github.com/brandon/mailcore/internal/cache"
	"github.com/brandon/mailcore/pkg/types"
)

type memMessage struct {
	raw []byte
	env types.Envelope
}

// memBackend is an in-memory Backend with sequence-like ids.
type memBackend struct {
	folders   map[string][]*memMessage
	next      int
	failAdd   map[string]bool
	mutations int
}

var _ backend.Backend = (*memBackend)(nil)

func newMemBackend(folders ...string) *memBackend {
	b := &memBackend{folders: make(map[string][]*memMessage), failAdd: make(map[string]bool)}
	for _, f := range folders {
		b.folders[f] = nil
	}
	return b
}

func rawMessage(mid, subject string) []byte {
	return []byte(fmt.Sprintf("From: a@example.org\r\nSubject: %s\r\nMessage-ID: <%s>\r\nDate: Mon, 02 Jan 2023 15:04:05 +0000\r\n\r\nbody\r\n", subject, mid))
}

// seed adds a message without counting it as a mutation.
func (b *memBackend) seed(t *testing.T, folder, mid string, flags ...types.Flag) {
	t.Helper()
	_, err := b.AddMessage(context.Background(), folder, rawMessage(mid, mid), types.NewFlags(flags...))
	require.NoError(t, err)
	b.mutations--
}

func (b *memBackend) find(folder, id string) (int, error) {
	msgs, ok := b.folders[folder]
	if !ok {
		return 0, &backend.NotFoundError{Kind: "folder", Name: folder}
	}
	for i, m := range msgs {
		if m.env.ID == id {
			return i, nil
		}
	}
	return 0, &backend.NotFoundError{Kind: "message", Name: id}
}

func (b *memBackend) byMessageID(folder, mid string) *memMessage {
	for _, m := range b.folders[folder] {
		if m.env.MessageID == mid {
			return m
		}
	}
	return nil
}

func (b *memBackend) messageIDs(folder string) []string {
	var out []string
	for _, m := range b.folders[folder] {
		out = append(out, m.env.MessageID)
	}
	sort.Strings(out)
	return out
}

func (b *memBackend) AddFolder(ctx context.Context, name string) error {
	b.mutations++
	b.folders[name] = nil
	return nil
}

func (b *memBackend) ListFolders(ctx context.Context) ([]types.Folder, error) {
	var out []types.Folder
	for name := range b.folders {
		out = append(out, types.Folder{Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *memBackend) DeleteFolder(ctx context.Context, name string) error {
	b.mutations++
	delete(b.folders, name)
	return nil
}

func (b *memBackend) ListEnvelopes(ctx context.Context, folder string, pageSize, page int) ([]types.Envelope, error) {
	msgs, ok := b.folders[folder]
	if !ok {
		return nil, &backend.NotFoundError{Kind: "folder", Name: folder}
	}
	out := make([]types.Envelope, 0, len(msgs))
	for _, m := range msgs {
		env := m.env
		env.Flags = m.env.Flags.Clone()
		out = append(out, env)
	}
	return out, nil
}

func (b *memBackend) SearchEnvelopes(ctx context.Context, folder, query, sort string, pageSize, page int) ([]types.Envelope, error) {
	return b.ListEnvelopes(ctx, folder, pageSize, page)
}

func (b *memBackend) AddMessage(ctx context.Context, folder string, raw []byte, flags types.Flags) (string, error) {
	b.mutations++
	env, err := backend.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	if b.failAdd[env.MessageID] {
		return "", errors.New("quota exceeded")
	}
	if _, ok := b.folders[folder]; !ok {
		return "", &backend.NotFoundError{Kind: "folder", Name: folder}
	}
	b.next++
	env.ID = strconv.Itoa(b.next)
	env.Flags = flags.Clone()
	b.folders[folder] = append(b.folders[folder], &memMessage{raw: raw, env: env})
	return env.ID, nil
}

func (b *memBackend) GetMessage(ctx context.Context, folder, id string) (*types.Message, error) {
	i, err := b.find(folder, id)
	if err != nil {
		return nil, err
	}
	return backend.ParseMessage(id, b.folders[folder][i].raw), nil
}

func (b *memBackend) CopyMessage(ctx context.Context, from, to, id string) (string, error) {
	msg, err := b.GetMessage(ctx, from, id)
	if err != nil {
		return "", err
	}
	return b.AddMessage(ctx, to, msg.Raw, types.NewFlags(types.FlagSeen))
}

func (b *memBackend) MoveMessage(ctx context.Context, from, to, id string) (string, error) {
	newID, err := b.CopyMessage(ctx, from, to, id)
	if err != nil {
		return "", err
	}
	return newID, b.DeleteMessage(ctx, from, id)
}

func (b *memBackend) DeleteMessage(ctx context.Context, folder, id string) error {
	b.mutations++
	i, err := b.find(folder, id)
	if err != nil {
		return err
	}
	msgs := b.folders[folder]
	b.folders[folder] = append(msgs[:i:i], msgs[i+1:]...)
	return nil
}

func (b *memBackend) updateFlags(folder, id string, update func(types.Flags) types.Flags) error {
	b.mutations++
	i, err := b.find(folder, id)
	if err != nil {
		return err
	}
	m := b.folders[folder][i]
	m.env.Flags = update(m.env.Flags)
	return nil
}

func (b *memBackend) AddFlags(ctx context.Context, folder, id string, flags types.Flags) error {
	return b.updateFlags(folder, id, func(f types.Flags) types.Flags { return f.Union(flags) })
}

func (b *memBackend) SetFlags(ctx context.Context, folder, id string, flags types.Flags) error {
	return b.updateFlags(folder, id, func(types.Flags) types.Flags { return flags.Clone() })
}

func (b *memBackend) RemoveFlags(ctx context.Context, folder, id string, flags types.Flags) error {
	return b.updateFlags(folder, id, func(f types.Flags) types.Flags { return f.Difference(flags) })
}

func (b *memBackend) Disconnect() error { return nil }

func newTestCache(t *testing.T) *cache.Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c, err := cache.NewCache(filepath.Join(t.TempDir(), "sync.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return cache.NewStore(c, logger)
}

func newTestEngine(t *testing.T, local, remote *memBackend) (*Engine[*memBackend, *memBackend], *cache.Store) {
	t.Helper()
	store := newTestCache(t)
	e := New("work", local, remote, store)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	e.SetLogger(logger)
	return e, store
}

func TestFirstSyncCopiesBothWays(t *testing.T) {
	ctx := context.Background()
	local := newMemBackend("INBOX")
	remote := newMemBackend("INBOX", "Archive")
	local.seed(t, "INBOX", "m1@x", types.FlagSeen)
	remote.seed(t, "INBOX", "m2@x", types.FlagFlagged)
	remote.seed(t, "Archive", "m3@x")

	e, store := newTestEngine(t, local, remote)
	report, err := e.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Empty(t, report.Errors())
	assert.NotEmpty(t, report.RunID)

	assert.Equal(t, []string{"m1@x", "m2@x"}, local.messageIDs("INBOX"))
	assert.Equal(t, []string{"m1@x", "m2@x"}, remote.messageIDs("INBOX"))
	assert.Equal(t, []string{"m3@x"}, local.messageIDs("Archive"))
	assert.True(t, local.byMessageID("INBOX", "m2@x").env.Flags.Contains(types.FlagFlagged))
	assert.True(t, remote.byMessageID("INBOX", "m1@x").env.Flags.Contains(types.FlagSeen))

	names, err := store.FolderNames(ctx, "work", string(Local))
	require.NoError(t, err)
	assert.Equal(t, []string{"Archive", "INBOX"}, names)

	cached, err := store.Envelopes(ctx, "work", string(Remote), "INBOX")
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	again, err := e.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Empty(t, again.Folders, "nothing left to do")
	assert.Empty(t, again.Envelopes)
}

func TestDryRunIsDeterministicAndReadOnly(t *testing.T) {
	ctx := context.Background()
	local := newMemBackend("INBOX", "Drafts")
	remote := newMemBackend("INBOX", "Spam")
	local.seed(t, "INBOX", "b@x")
	local.seed(t, "INBOX", "a@x")
	remote.seed(t, "INBOX", "c@x", types.FlagSeen)

	e, store := newTestEngine(t, local, remote)
	first, err := e.Run(ctx, Options{DryRun: true})
	require.NoError(t, err)
	second, err := e.Run(ctx, Options{DryRun: true})
	require.NoError(t, err)

	assert.True(t, first.DryRun)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Folders, second.Folders)
	assert.Equal(t, first.Envelopes, second.Envelopes)

	assert.Equal(t, []FolderHunk{
		{Kind: FolderCreate, Side: Remote, Folder: "Drafts"},
		{Kind: FolderCacheCreate, Side: Local, Folder: "INBOX"},
		{Kind: FolderCacheCreate, Side: Remote, Folder: "INBOX"},
		{Kind: FolderCreate, Side: Local, Folder: "Spam"},
	}, first.Folders)

	var mids []string
	for _, h := range first.Envelopes {
		mids = append(mids, h.MessageID)
	}
	assert.Equal(t, []string{"a@x", "b@x", "c@x"}, mids)

	assert.Zero(t, local.mutations)
	assert.Zero(t, remote.mutations)
	names, err := store.FolderNames(ctx, "work", string(Local))
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFailedHunkDoesNotStopTheRest(t *testing.T) {
	ctx := context.Background()
	local := newMemBackend("INBOX")
	remote := newMemBackend("INBOX")
	local.seed(t, "INBOX", "big@x")
	local.seed(t, "INBOX", "small@x")
	remote.failAdd["big@x"] = true

	e, _ := newTestEngine(t, local, remote)
	report, err := e.Run(ctx, Options{})
	require.NoError(t, err)

	errs := report.Errors()
	require.Len(t, errs, 1)
	var herr *HunkError
	require.True(t, errors.As(errs[0], &herr))
	assert.Contains(t, herr.Error(), "big@x")
	assert.Equal(t, []string{"small@x"}, remote.messageIDs("INBOX"))

	delete(remote.failAdd, "big@x")
	retry, err := e.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Empty(t, retry.Errors())
	require.Len(t, retry.Envelopes, 1)
	assert.Equal(t, CopyToRemote, retry.Envelopes[0].Kind)
	assert.Equal(t, []string{"big@x", "small@x"}, remote.messageIDs("INBOX"))
}

func TestReportJSONCarriesHunkErrors(t *testing.T) {
	ctx := context.Background()
	local := newMemBackend("INBOX")
	remote := newMemBackend("INBOX")
	local.seed(t, "INBOX", "big@x")
	local.seed(t, "INBOX", "small@x")
	remote.failAdd["big@x"] = true

	e, _ := newTestEngine(t, local, remote)
	report, err := e.Run(ctx, Options{})
	require.NoError(t, err)

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded struct {
		Envelopes []struct {
			Kind      string `json:"kind"`
			MessageID string `json:"message_id"`
			Error     string `json:"error"`
		} `json:"envelopes"`
		FolderCacheError string `json:"folder_cache_error"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	failed := make(map[string]string)
	for _, h := range decoded.Envelopes {
		if h.Kind == string(CopyToRemote) {
			failed[h.MessageID] = h.Error
		}
	}
	require.Len(t, failed, 2)
	assert.Contains(t, failed["big@x"], "big@x")
	assert.Empty(t, failed["small@x"])
	assert.Empty(t, decoded.FolderCacheError)

	data, err = json.Marshal(&Report{
		RunID:            "r1",
		Folders:          []FolderHunk{{Kind: FolderCreate, Side: Remote, Folder: "Old", Err: errors.New("quota")}},
		EnvelopeCacheErr: errors.New("disk full"),
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"error":"quota"`)
	assert.Contains(t, string(data), `"envelope_cache_error":"disk full"`)
	assert.Contains(t, string(data), `"run_id":"r1"`)
	assert.NotContains(t, string(data), "folder_cache_error")
}

func TestDeletionsAndFlagChangesPropagate(t *testing.T) {
	ctx := context.Background()
	local := newMemBackend("INBOX", "Old")
	remote := newMemBackend("INBOX", "Old")
	local.seed(t, "INBOX", "keep@x")
	local.seed(t, "INBOX", "drop@x")

	e, _ := newTestEngine(t, local, remote)
	_, err := e.Run(ctx, Options{})
	require.NoError(t, err)

	drop := remote.byMessageID("INBOX", "drop@x")
	require.NotNil(t, drop)
	require.NoError(t, remote.DeleteMessage(ctx, "INBOX", drop.env.ID))
	keep := local.byMessageID("INBOX", "keep@x")
	require.NoError(t, local.AddFlags(ctx, "INBOX", keep.env.ID, types.NewFlags(types.FlagFlagged)))
	require.NoError(t, remote.DeleteFolder(ctx, "Old"))

	report, err := e.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Empty(t, report.Errors())

	assert.Equal(t, []string{"keep@x"}, local.messageIDs("INBOX"))
	assert.True(t, remote.byMessageID("INBOX", "keep@x").env.Flags.Contains(types.FlagFlagged))
	_, stillThere := local.folders["Old"]
	assert.False(t, stillThere)
}

func TestFolderFilter(t *testing.T) {
	ctx := context.Background()
	local := newMemBackend("INBOX")
	remote := newMemBackend("INBOX", "Spam")
	remote.seed(t, "Spam", "junk@x")

	e, _ := newTestEngine(t, local, remote)
	report, err := e.Run(ctx, Options{Filter: Exclude("spam")})
	require.NoError(t, err)
	assert.Empty(t, report.Errors())

	_, created := local.folders["Spam"]
	assert.False(t, created)

	assert.True(t, Include("INBOX").Match("inbox"))
	assert.False(t, Include("INBOX").Match("Sent"))
	assert.True(t, FolderFilter{}.Match("anything"))
}

func TestProgressEvents(t *testing.T) {
	ctx := context.Background()
	local := newMemBackend("INBOX")
	remote := newMemBackend("INBOX")
	remote.seed(t, "INBOX", "m@x")

	var stages []Stage
	e, _ := newTestEngine(t, local, remote)
	_, err := e.Run(ctx, Options{Progress: func(ev Event) { stages = append(stages, ev.Stage) }})
	require.NoError(t, err)

	assert.Equal(t, []Stage{
		GetLocalCachedFolders,
		GetLocalFolders,
		GetRemoteCachedFolders,
		GetRemoteFolders,
		BuildFolderPatch,
		ProcessFolderHunk,
		ProcessFolderHunk,
		WriteFolderCache,
		StartEnvelopeSync,
		GetLocalCachedEnvelopes,
		GetLocalEnvelopes,
		GetRemoteCachedEnvelopes,
		GetRemoteEnvelopes,
		BuildEnvelopePatch,
		ProcessEnvelopeHunk,
		WriteEnvelopeCache,
	}, stages)
}

func TestEnvelopePatchOrdersDeletionsLast(t *testing.T) {
	env := func(id, mid string) types.Envelope {
		return types.Envelope{ID: id, MessageID: mid, Flags: types.NewFlags()}
	}
	local := newEnvelopeSet([]types.Envelope{env("1", "a"), env("2", "b"), env("10", "c"), env("3", "new")})
	remoteCache := newEnvelopeSet([]types.Envelope{env("7", "a"), env("8", "b"), env("9", "c")})

	patch := buildEnvelopePatch("INBOX", envelopeSet{}, local, remoteCache, envelopeSet{})
	require.Len(t, patch, 4)
	assert.Equal(t, CopyToRemote, patch[0].Kind)
	assert.Equal(t, "new", patch[0].MessageID)

	var ids []string
	for _, h := range patch[1:] {
		assert.Equal(t, EnvelopeDelete, h.Kind)
		assert.Equal(t, Local, h.Side)
		ids = append(ids, h.ID)
	}
	assert.Equal(t, []string{"10", "2", "1"}, ids)
}

func TestReconcileFlags(t *testing.T) {
	seen := types.NewFlags(types.FlagSeen)
	flagged := types.NewFlags(types.FlagFlagged)
	both := types.NewFlags(types.FlagSeen, types.FlagFlagged)
	env := func(flags types.Flags) types.Envelope { return types.Envelope{Flags: flags} }
	ptr := func(flags types.Flags) *types.Envelope { e := env(flags); return &e }

	tests := map[string]struct {
		local, remote             types.Flags
		localCached, remoteCached *types.Envelope
		want                      types.Flags
	}{
		"equal":                {seen, seen, nil, nil, seen},
		"local changed":        {both, seen, ptr(seen), ptr(seen), both},
		"remote changed":       {seen, types.NewFlags(), ptr(seen), ptr(seen), types.NewFlags()},
		"both changed":         {seen, flagged, ptr(types.NewFlags()), ptr(types.NewFlags()), both},
		"never cached":         {seen, flagged, nil, nil, both},
		"recent is ignored":    {types.NewFlags(types.FlagRecent), types.NewFlags(), nil, nil, types.NewFlags()},
		"custom flags ignored": {types.NewFlags("$work"), types.NewFlags(), nil, nil, types.NewFlags()},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := reconcileFlags(env(tt.local), env(tt.remote), tt.localCached, tt.remoteCached)
			assert.True(t, tt.want.Equal(got), "got %v", got.Strings())
		})
	}
}

func TestFolderPatch(t *testing.T) {
	set := func(names ...string) folderSet { return newFolderSet(names) }

	patch := buildFolderPatch(
		set("Gone", "Kept", "Stale"),
		set("Kept", "Fresh"),
		set("Gone", "Kept"),
		set("Kept", "Gone", "Added"),
		FolderFilter{},
	)
	assert.Equal(t, []FolderHunk{
		{Kind: FolderCreate, Side: Local, Folder: "Added"},
		{Kind: FolderCreate, Side: Remote, Folder: "Fresh"},
		{Kind: FolderDelete, Side: Remote, Folder: "Gone"},
		{Kind: FolderCacheDelete, Side: Local, Folder: "Stale"},
	}, patch)
}
