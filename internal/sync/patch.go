package sync

import (
	"sort"
	"strconv"

	"github.com/brandon/mailcore/pkg/types"
)

type folderSet map[string]bool

func newFolderSet(names []string) folderSet {
	set := make(folderSet, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

func (s folderSet) sorted() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func unionNames(sets ...folderSet) []string {
	all := make(folderSet)
	for _, set := range sets {
		for name := range set {
			all[name] = true
		}
	}
	return all.sorted()
}

// buildFolderPatch diffs the four folder views. A folder missing on one
// live side is created there unless the cache shows that side had it,
// in which case it was deleted there and the deletion is propagated.
func buildFolderPatch(localCache, local, remoteCache, remote folderSet, filter FolderFilter) []FolderHunk {
	var patch []FolderHunk
	for _, name := range unionNames(localCache, local, remoteCache, remote) {
		if !filter.Match(name) {
			continue
		}
		hunk := func(kind FolderHunkKind, side Side) {
			patch = append(patch, FolderHunk{Kind: kind, Side: side, Folder: name})
		}

		switch {
		case local[name] && remote[name]:
			if !localCache[name] {
				hunk(FolderCacheCreate, Local)
			}
			if !remoteCache[name] {
				hunk(FolderCacheCreate, Remote)
			}
		case local[name]:
			if remoteCache[name] {
				hunk(FolderDelete, Local)
			} else {
				hunk(FolderCreate, Remote)
			}
		case remote[name]:
			if localCache[name] {
				hunk(FolderDelete, Remote)
			} else {
				hunk(FolderCreate, Local)
			}
		default:
			if localCache[name] {
				hunk(FolderCacheDelete, Local)
			}
			if remoteCache[name] {
				hunk(FolderCacheDelete, Remote)
			}
		}
	}
	return patch
}

type envelopeSet map[string]types.Envelope

// newEnvelopeSet indexes envelopes by Message-ID. Envelopes without one
// cannot be matched across sides and are left out.
func newEnvelopeSet(envelopes []types.Envelope) envelopeSet {
	set := make(envelopeSet, len(envelopes))
	for _, env := range envelopes {
		if env.MessageID == "" {
			continue
		}
		set[env.MessageID] = env
	}
	return set
}

func (s envelopeSet) sorted() []types.Envelope {
	out := make([]types.Envelope, 0, len(s))
	for _, env := range s {
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out
}

func messageIDs(sets ...envelopeSet) []string {
	all := make(map[string]bool)
	for _, set := range sets {
		for id := range set {
			all[id] = true
		}
	}
	out := make([]string, 0, len(all))
	for id := range all {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// buildEnvelopePatch diffs the four envelope views of one folder.
func buildEnvelopePatch(folder string, localCache, local, remoteCache, remote envelopeSet) []EnvelopeHunk {
	var patch []EnvelopeHunk
	add := func(kind EnvelopeHunkKind, side Side, mid string, env types.Envelope) *EnvelopeHunk {
		patch = append(patch, EnvelopeHunk{
			Kind:      kind,
			Side:      side,
			Folder:    folder,
			MessageID: mid,
			ID:        env.ID,
			Envelope:  env,
		})
		return &patch[len(patch)-1]
	}

	for _, mid := range messageIDs(localCache, local, remoteCache, remote) {
		l, inLocal := local[mid]
		r, inRemote := remote[mid]
		lc, inLocalCache := localCache[mid]
		rc, inRemoteCache := remoteCache[mid]

		switch {
		case inLocal && inRemote:
			target := reconcileFlags(l, r, lookup(lc, inLocalCache), lookup(rc, inRemoteCache))
			for _, side := range []struct {
				side    Side
				live    types.Envelope
				cached  types.Envelope
				inCache bool
			}{
				{Local, l, lc, inLocalCache},
				{Remote, r, rc, inRemoteCache},
			} {
				switch {
				case !side.live.Flags.Synced().Equal(target):
					h := add(EnvelopeSetFlags, side.side, mid, side.live)
					h.Flags = withSyncedFlags(side.live.Flags, target)
				case !side.inCache || cacheDiffers(side.cached, side.live):
					add(EnvelopeCacheUpsert, side.side, mid, side.live)
				}
			}
		case inLocal:
			if inRemoteCache {
				add(EnvelopeDelete, Local, mid, l)
			} else {
				add(CopyToRemote, Remote, mid, l)
			}
		case inRemote:
			if inLocalCache {
				add(EnvelopeDelete, Remote, mid, r)
			} else {
				add(CopyToLocal, Local, mid, r)
			}
		default:
			if inLocalCache {
				add(EnvelopeCacheDelete, Local, mid, lc)
			}
			if inRemoteCache {
				add(EnvelopeCacheDelete, Remote, mid, rc)
			}
		}
	}

	orderEnvelopePatch(patch)
	return patch
}

var hunkRank = map[EnvelopeHunkKind]int{
	CopyToRemote:        0,
	CopyToLocal:         0,
	EnvelopeSetFlags:    1,
	EnvelopeCacheUpsert: 2,
	EnvelopeCacheDelete: 2,
	EnvelopeDelete:      3,
}

// orderEnvelopePatch puts deletions last, highest id first per side, so
// that sequence-numbered backends keep the ids of the earlier hunks.
func orderEnvelopePatch(patch []EnvelopeHunk) {
	sort.SliceStable(patch, func(i, j int) bool {
		a, b := patch[i], patch[j]
		if hunkRank[a.Kind] != hunkRank[b.Kind] {
			return hunkRank[a.Kind] < hunkRank[b.Kind]
		}
		if a.Kind == EnvelopeDelete && b.Kind == EnvelopeDelete {
			if a.Side != b.Side {
				return a.Side < b.Side
			}
			return greaterID(a.ID, b.ID)
		}
		return false
	})
}

func greaterID(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return na > nb
	}
	return a > b
}

func lookup(env types.Envelope, ok bool) *types.Envelope {
	if !ok {
		return nil
	}
	return &env
}

// reconcileFlags picks the flags both sides should end up with. When only
// one side changed since the last run its flags win, otherwise the union
// is kept.
func reconcileFlags(local, remote types.Envelope, localCached, remoteCached *types.Envelope) types.Flags {
	lf, rf := local.Flags.Synced(), remote.Flags.Synced()
	if lf.Equal(rf) {
		return lf
	}

	localChanged := localCached == nil || !localCached.Flags.Synced().Equal(lf)
	remoteChanged := remoteCached == nil || !remoteCached.Flags.Synced().Equal(rf)
	switch {
	case localChanged && !remoteChanged:
		return lf
	case remoteChanged && !localChanged:
		return rf
	}
	return lf.Union(rf)
}

// withSyncedFlags replaces the synced part of current with target and
// keeps the rest (custom flags, Recent).
func withSyncedFlags(current, target types.Flags) types.Flags {
	return current.Difference(current.Synced()).Union(target)
}

// cacheDiffers ignores Recent, which a listing may clear by itself.
func cacheDiffers(cached, live types.Envelope) bool {
	recent := types.NewFlags(types.FlagRecent)
	return cached.ID != live.ID || !cached.Flags.Difference(recent).Equal(live.Flags.Difference(recent))
}
