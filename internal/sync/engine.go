// Package sync keeps a local replica of an account in line with the
// remote one. A run diffs four views (what each side looked like at the
// end of the last run, and what it looks like now) into a patch of hunks
// and applies them one by one; a failed hunk is reported and retried on
// the next run.
package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/backend"
	"github.com/brandon/mailcore/pkg/types"
)

// Cache persists the views of the last run.
type Cache interface {
	FolderNames(ctx context.Context, account, side string) ([]string, error)
	ReplaceFolders(ctx context.Context, account, side string, names []string) error
	Envelopes(ctx context.Context, account, side, folder string) ([]types.Envelope, error)
	ReplaceEnvelopes(ctx context.Context, account, side, folder string, envelopes []types.Envelope) error
	DeleteFolder(ctx context.Context, account, side, folder string) error
}

// Options tune one run.
type Options struct {
	// DryRun computes the patches without applying them or writing the
	// cache.
	DryRun   bool
	Filter   FolderFilter
	Progress func(Event)
}

// Engine synchronizes a local backend with a remote one.
type Engine[L, R backend.Backend] struct {
	account string
	local   L
	remote  R
	cache   Cache
	logger  *logrus.Logger
}

// New creates an engine for account.
func New[L, R backend.Backend](account string, local L, remote R, cache Cache) *Engine[L, R] {
	return &Engine[L, R]{
		account: account,
		local:   local,
		remote:  remote,
		cache:   cache,
		logger:  logrus.New(),
	}
}

// SetLogger sets the logger for the engine
func (e *Engine[L, R]) SetLogger(logger *logrus.Logger) {
	e.logger = logger
}

func (e *Engine[L, R]) replica(side Side) backend.Backend {
	if side == Local {
		return e.local
	}
	return e.remote
}

// Run performs one sync. The returned error is set only when one of the
// views could not be read; hunk failures are recorded in the report.
func (e *Engine[L, R]) Run(ctx context.Context, opts Options) (*Report, error) {
	progress := opts.Progress
	if progress == nil {
		progress = func(Event) {}
	}
	report := &Report{RunID: uuid.NewString(), DryRun: opts.DryRun}
	log := e.logger.WithFields(logrus.Fields{
		"account": e.account,
		"run":     report.RunID,
		"dry_run": opts.DryRun,
	})

	progress(Event{Stage: GetLocalCachedFolders})
	localCache, err := e.cachedFolders(ctx, Local)
	if err != nil {
		return report, err
	}
	progress(Event{Stage: GetLocalFolders})
	local, err := e.liveFolders(ctx, Local)
	if err != nil {
		return report, err
	}
	progress(Event{Stage: GetRemoteCachedFolders})
	remoteCache, err := e.cachedFolders(ctx, Remote)
	if err != nil {
		return report, err
	}
	progress(Event{Stage: GetRemoteFolders})
	remote, err := e.liveFolders(ctx, Remote)
	if err != nil {
		return report, err
	}

	progress(Event{Stage: BuildFolderPatch})
	patch := buildFolderPatch(localCache, local, remoteCache, remote, opts.Filter)

	var folders []string
	if opts.DryRun {
		report.Folders = patch
		for _, name := range unionNames(local, remote) {
			if local[name] && remote[name] && opts.Filter.Match(name) {
				folders = append(folders, name)
			}
		}
	} else {
		views := map[Side]folderSet{
			Local:  copySet(localCache),
			Remote: copySet(remoteCache),
		}
		for i := range patch {
			progress(Event{Stage: ProcessFolderHunk, Folder: patch[i].Folder, N: i + 1, Total: len(patch)})
			if err := e.applyFolderHunk(ctx, patch[i], views); err != nil {
				patch[i].Err = &HunkError{Hunk: patch[i].String(), Err: err}
				log.WithError(err).WithField("hunk", patch[i].String()).Warn("Failed to apply folder hunk")
			}
		}
		report.Folders = patch

		progress(Event{Stage: WriteFolderCache})
		report.FolderCacheErr = e.writeFolderCache(ctx, map[Side]folderSet{Local: localCache, Remote: remoteCache}, views)
		if report.FolderCacheErr != nil {
			log.WithError(report.FolderCacheErr).Warn("Failed to write folder cache")
		}

		for _, name := range views[Local].sorted() {
			if views[Remote][name] && opts.Filter.Match(name) {
				folders = append(folders, name)
			}
		}
	}

	var cacheErrs []error
	for k, folder := range folders {
		progress(Event{Stage: StartEnvelopeSync, Folder: folder, N: k + 1, Total: len(folders)})
		hunks, cacheErr, err := e.syncFolder(ctx, folder, opts.DryRun, progress)
		report.Envelopes = append(report.Envelopes, hunks...)
		if err != nil {
			return report, err
		}
		if cacheErr != nil {
			log.WithError(cacheErr).WithField("folder", folder).Warn("Failed to write envelope cache")
			cacheErrs = append(cacheErrs, cacheErr)
		}
	}
	report.EnvelopeCacheErr = errors.Join(cacheErrs...)

	log.WithFields(logrus.Fields{
		"folder_hunks":   len(report.Folders),
		"envelope_hunks": len(report.Envelopes),
		"errors":         len(report.Errors()),
	}).Info("Sync finished")
	return report, nil
}

func (e *Engine[L, R]) cachedFolders(ctx context.Context, side Side) (folderSet, error) {
	names, err := e.cache.FolderNames(ctx, e.account, string(side))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s cached folders: %w", side, err)
	}
	return newFolderSet(names), nil
}

func (e *Engine[L, R]) liveFolders(ctx context.Context, side Side) (folderSet, error) {
	folders, err := e.replica(side).ListFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s folders: %w", side, err)
	}
	set := make(folderSet, len(folders))
	for _, f := range folders {
		set[f.Name] = true
	}
	return set, nil
}

// applyFolderHunk runs one hunk. A live hunk updates the cache views of
// both sides only when it succeeds.
func (e *Engine[L, R]) applyFolderHunk(ctx context.Context, h FolderHunk, views map[Side]folderSet) error {
	switch h.Kind {
	case FolderCreate:
		if err := e.replica(h.Side).AddFolder(ctx, h.Folder); err != nil {
			return err
		}
		views[Local][h.Folder] = true
		views[Remote][h.Folder] = true
	case FolderDelete:
		if err := e.replica(h.Side).DeleteFolder(ctx, h.Folder); err != nil {
			return err
		}
		delete(views[Local], h.Folder)
		delete(views[Remote], h.Folder)
	case FolderCacheCreate:
		views[h.Side][h.Folder] = true
	case FolderCacheDelete:
		delete(views[h.Side], h.Folder)
	default:
		return fmt.Errorf("unknown folder hunk kind %q", h.Kind)
	}
	return nil
}

func (e *Engine[L, R]) writeFolderCache(ctx context.Context, before, after map[Side]folderSet) error {
	var errs []error
	for _, side := range []Side{Local, Remote} {
		if err := e.cache.ReplaceFolders(ctx, e.account, string(side), after[side].sorted()); err != nil {
			errs = append(errs, err)
			continue
		}
		for name := range before[side] {
			if after[side][name] {
				continue
			}
			if err := e.cache.DeleteFolder(ctx, e.account, string(side), name); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// syncFolder diffs and applies the envelopes of one folder. The error is
// set when a view could not be read; cacheErr when the envelope cache
// could not be written.
func (e *Engine[L, R]) syncFolder(ctx context.Context, folder string, dryRun bool, progress func(Event)) (hunks []EnvelopeHunk, cacheErr, err error) {
	step := func(stage Stage) { progress(Event{Stage: stage, Folder: folder}) }

	step(GetLocalCachedEnvelopes)
	localCache, err := e.cachedEnvelopes(ctx, Local, folder)
	if err != nil {
		return nil, nil, err
	}
	step(GetLocalEnvelopes)
	local, err := e.liveEnvelopes(ctx, Local, folder)
	if err != nil {
		return nil, nil, err
	}
	step(GetRemoteCachedEnvelopes)
	remoteCache, err := e.cachedEnvelopes(ctx, Remote, folder)
	if err != nil {
		return nil, nil, err
	}
	step(GetRemoteEnvelopes)
	remote, err := e.liveEnvelopes(ctx, Remote, folder)
	if err != nil {
		return nil, nil, err
	}

	step(BuildEnvelopePatch)
	patch := buildEnvelopePatch(folder, localCache, local, remoteCache, remote)
	if dryRun {
		return patch, nil, nil
	}

	views := map[Side]envelopeSet{
		Local:  copyEnvelopes(localCache),
		Remote: copyEnvelopes(remoteCache),
	}
	for i := range patch {
		progress(Event{Stage: ProcessEnvelopeHunk, Folder: folder, N: i + 1, Total: len(patch)})
		if err := e.applyEnvelopeHunk(ctx, patch[i], views); err != nil {
			patch[i].Err = &HunkError{Hunk: patch[i].String(), Err: err}
			e.logger.WithError(err).WithField("hunk", patch[i].String()).Warn("Failed to apply envelope hunk")
		}
	}

	step(WriteEnvelopeCache)
	var errs []error
	for _, side := range []Side{Local, Remote} {
		if err := e.cache.ReplaceEnvelopes(ctx, e.account, string(side), folder, views[side].sorted()); err != nil {
			errs = append(errs, err)
		}
	}
	return patch, errors.Join(errs...), nil
}

func (e *Engine[L, R]) cachedEnvelopes(ctx context.Context, side Side, folder string) (envelopeSet, error) {
	envs, err := e.cache.Envelopes(ctx, e.account, string(side), folder)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s cached envelopes of %s: %w", side, folder, err)
	}
	return newEnvelopeSet(envs), nil
}

func (e *Engine[L, R]) liveEnvelopes(ctx context.Context, side Side, folder string) (envelopeSet, error) {
	envs, err := e.replica(side).ListEnvelopes(ctx, folder, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s envelopes of %s: %w", side, folder, err)
	}
	return newEnvelopeSet(envs), nil
}

func (e *Engine[L, R]) applyEnvelopeHunk(ctx context.Context, h EnvelopeHunk, views map[Side]envelopeSet) error {
	switch h.Kind {
	case CopyToRemote, CopyToLocal:
		src := h.Side.other()
		msg, err := e.replica(src).GetMessage(ctx, h.Folder, h.ID)
		if err != nil {
			return err
		}
		flags := h.Envelope.Flags.Synced()
		newID, err := e.replica(h.Side).AddMessage(ctx, h.Folder, msg.Raw, flags)
		if err != nil {
			return err
		}
		copied := h.Envelope
		copied.ID = newID
		copied.Flags = flags
		views[src][h.MessageID] = h.Envelope
		views[h.Side][h.MessageID] = copied
	case EnvelopeDelete:
		if err := e.replica(h.Side).DeleteMessage(ctx, h.Folder, h.ID); err != nil {
			return err
		}
		delete(views[Local], h.MessageID)
		delete(views[Remote], h.MessageID)
	case EnvelopeSetFlags:
		if err := e.replica(h.Side).SetFlags(ctx, h.Folder, h.ID, h.Flags); err != nil {
			return err
		}
		env := h.Envelope
		env.Flags = h.Flags.Clone()
		views[h.Side][h.MessageID] = env
	case EnvelopeCacheUpsert:
		views[h.Side][h.MessageID] = h.Envelope
	case EnvelopeCacheDelete:
		delete(views[h.Side], h.MessageID)
	default:
		return fmt.Errorf("unknown envelope hunk kind %q", h.Kind)
	}
	return nil
}

func copySet(s folderSet) folderSet {
	out := make(folderSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func copyEnvelopes(s envelopeSet) envelopeSet {
	out := make(envelopeSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
