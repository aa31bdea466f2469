// Package backend defines the capability surface shared by every mail store
// (IMAP, Maildir, Notmuch) and the helpers they have in common.
package backend

import (
	"context"
	"fmt"

	"github.com/brandon/mailcore/pkg/types"
)

// Kind identifies one of the supported backend implementations.
type Kind string

const (
	KindIMAP    Kind = "imap"
	KindMaildir Kind = "maildir"
	KindNotmuch Kind = "notmuch"
)

// ParseKind validates a configured backend kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindIMAP, KindMaildir, KindNotmuch:
		return k, nil
	}
	return "", fmt.Errorf("unknown backend kind %q", s)
}

// Backend is the uniform capability surface over a mail store.
//
// Envelope listings are ordered newest first. page is 0-based and a
// pageSize of 0 returns every envelope. Message ids are sequence numbers
// for IMAP and aliases for the filesystem backends.
type Backend interface {
	// Folder lifecycle
	AddFolder(ctx context.Context, name string) error
	ListFolders(ctx context.Context) ([]types.Folder, error)
	DeleteFolder(ctx context.Context, name string) error

	// Envelope listing
	ListEnvelopes(ctx context.Context, folder string, pageSize, page int) ([]types.Envelope, error)
	SearchEnvelopes(ctx context.Context, folder, query, sort string, pageSize, page int) ([]types.Envelope, error)

	// Message lifecycle
	AddMessage(ctx context.Context, folder string, raw []byte, flags types.Flags) (string, error)
	GetMessage(ctx context.Context, folder, id string) (*types.Message, error)
	CopyMessage(ctx context.Context, from, to, id string) (string, error)
	MoveMessage(ctx context.Context, from, to, id string) (string, error)
	DeleteMessage(ctx context.Context, folder, id string) error

	// Flag lifecycle
	AddFlags(ctx context.Context, folder, id string, flags types.Flags) error
	SetFlags(ctx context.Context, folder, id string, flags types.Flags) error
	RemoveFlags(ctx context.Context, folder, id string, flags types.Flags) error

	// Disconnect tears down any open session. It is a no-op when nothing
	// was ever opened.
	Disconnect() error
}
