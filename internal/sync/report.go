package sync

import (
	"encoding/json"
	"fmt"

	"github.com/brandon/mailcore/pkg/types"
)

// Side names one of the two replicas taking part in a sync.
type Side string

const (
	Local  Side = "local"
	Remote Side = "remote"
)

func (s Side) other() Side {
	if s == Local {
		return Remote
	}
	return Local
}

// FolderHunkKind is the action of a folder hunk.
type FolderHunkKind string

const (
	FolderCreate      FolderHunkKind = "create"
	FolderDelete      FolderHunkKind = "delete"
	FolderCacheCreate FolderHunkKind = "cache-create"
	FolderCacheDelete FolderHunkKind = "cache-delete"
)

// FolderHunk is one step of a folder patch. Err is set once the hunk has
// been applied and failed.
type FolderHunk struct {
	Kind   FolderHunkKind `json:"kind"`
	Side   Side           `json:"side"`
	Folder string         `json:"folder"`
	Err    error          `json:"-"`
}

func (h FolderHunk) String() string {
	return fmt.Sprintf("%s folder %q on %s", h.Kind, h.Folder, h.Side)
}

// MarshalJSON adds the failure of the hunk as an "error" string.
func (h FolderHunk) MarshalJSON() ([]byte, error) {
	type plain FolderHunk
	return json.Marshal(struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain(h), errString(h.Err)})
}

// EnvelopeHunkKind is the action of an envelope hunk.
type EnvelopeHunkKind string

const (
	CopyToRemote        EnvelopeHunkKind = "copy-to-remote"
	CopyToLocal         EnvelopeHunkKind = "copy-to-local"
	EnvelopeDelete      EnvelopeHunkKind = "delete"
	EnvelopeSetFlags    EnvelopeHunkKind = "set-flags"
	EnvelopeCacheUpsert EnvelopeHunkKind = "cache-upsert"
	EnvelopeCacheDelete EnvelopeHunkKind = "cache-delete"
)

// EnvelopeHunk is one step of an envelope patch.
//
// For copies Side is the destination and ID the source message id; for
// every other kind ID is the id on Side. Envelope is the live envelope
// the hunk was derived from.
type EnvelopeHunk struct {
	Kind      EnvelopeHunkKind `json:"kind"`
	Side      Side             `json:"side"`
	Folder    string           `json:"folder"`
	MessageID string           `json:"message_id"`
	ID        string           `json:"id,omitempty"`
	Flags     types.Flags      `json:"flags,omitempty"`
	Envelope  types.Envelope   `json:"-"`
	Err       error            `json:"-"`
}

func (h EnvelopeHunk) String() string {
	return fmt.Sprintf("%s <%s> in %q on %s", h.Kind, h.MessageID, h.Folder, h.Side)
}

// MarshalJSON adds the failure of the hunk as an "error" string.
func (h EnvelopeHunk) MarshalJSON() ([]byte, error) {
	type plain EnvelopeHunk
	return json.Marshal(struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain(h), errString(h.Err)})
}

// HunkError is the failure of one applied hunk.
type HunkError struct {
	Hunk string
	Err  error
}

func (e *HunkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Hunk, e.Err)
}

func (e *HunkError) Unwrap() error { return e.Err }

// Report is the outcome of one sync run.
type Report struct {
	RunID            string         `json:"run_id"`
	DryRun           bool           `json:"dry_run"`
	Folders          []FolderHunk   `json:"folders"`
	Envelopes        []EnvelopeHunk `json:"envelopes"`
	FolderCacheErr   error          `json:"-"`
	EnvelopeCacheErr error          `json:"-"`
}

// MarshalJSON reports the cache write failures as strings.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	return json.Marshal(struct {
		plain
		FolderCacheError   string `json:"folder_cache_error,omitempty"`
		EnvelopeCacheError string `json:"envelope_cache_error,omitempty"`
	}{plain(r), errString(r.FolderCacheErr), errString(r.EnvelopeCacheErr)})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Errors returns every hunk and cache error of the run.
func (r *Report) Errors() []error {
	var errs []error
	for _, h := range r.Folders {
		if h.Err != nil {
			errs = append(errs, h.Err)
		}
	}
	for _, h := range r.Envelopes {
		if h.Err != nil {
			errs = append(errs, h.Err)
		}
	}
	if r.FolderCacheErr != nil {
		errs = append(errs, r.FolderCacheErr)
	}
	if r.EnvelopeCacheErr != nil {
		errs = append(errs, r.EnvelopeCacheErr)
	}
	return errs
}

// Stage is a named progress checkpoint.
type Stage string

const (
	GetLocalCachedFolders    Stage = "GetLocalCachedFolders"
	GetLocalFolders          Stage = "GetLocalFolders"
	GetRemoteCachedFolders   Stage = "GetRemoteCachedFolders"
	GetRemoteFolders         Stage = "GetRemoteFolders"
	BuildFolderPatch         Stage = "BuildFolderPatch"
	ProcessFolderHunk        Stage = "ProcessFolderHunk"
	WriteFolderCache         Stage = "WriteFolderCache"
	StartEnvelopeSync        Stage = "StartEnvelopeSync"
	GetLocalCachedEnvelopes  Stage = "GetLocalCachedEnvelopes"
	GetLocalEnvelopes        Stage = "GetLocalEnvelopes"
	GetRemoteCachedEnvelopes Stage = "GetRemoteCachedEnvelopes"
	GetRemoteEnvelopes       Stage = "GetRemoteEnvelopes"
	BuildEnvelopePatch       Stage = "BuildEnvelopePatch"
	ProcessEnvelopeHunk      Stage = "ProcessEnvelopeHunk"
	WriteEnvelopeCache       Stage = "WriteEnvelopeCache"
)

// Event is reported at every stage. N and Total count hunks or folders
// for the stages that iterate.
type Event struct {
	Stage  Stage
	Folder string
	N      int
	Total  int
}

func (e Event) String() string {
	s := string(e.Stage)
	if e.Total > 0 {
		s = fmt.Sprintf("%s (%d/%d)", s, e.N, e.Total)
	}
	if e.Folder != "" {
		s += " " + e.Folder
	}
	return s
}
