package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/pkg/types"
)

// Store provides methods for storing and retrieving data from the cache
type Store struct {
	cache  *Cache
	logger *logrus.Logger
}

// NewStore creates a new store instance
func NewStore(cache *Cache, logger *logrus.Logger) *Store {
	return &Store{
		cache:  cache,
		logger: logger,
	}
}

type envelopeRow struct {
	MessageID  string `db:"message_id"`
	InternalID string `db:"internal_id"`
	Flags      string `db:"flags"`
	Subject    string `db:"subject"`
	Sender     string `db:"sender"`
	DateUnix   int64  `db:"date_unix"`
}

// FolderNames returns the cached folder names of one side of an account.
func (s *Store) FolderNames(ctx context.Context, account, side string) ([]string, error) {
	var names []string
	err := s.cache.DB().SelectContext(ctx, &names,
		"SELECT name FROM folders WHERE account = ? AND side = ? ORDER BY name",
		account, side,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query folders: %w", err)
	}
	return names, nil
}

// ReplaceFolders overwrites the cached folder names of one side.
func (s *Store) ReplaceFolders(ctx context.Context, account, side string, names []string) error {
	tx, err := s.cache.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM folders WHERE account = ? AND side = ?", account, side,
	); err != nil {
		return fmt.Errorf("failed to clear folders: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx,
		"INSERT OR REPLACE INTO folders (account, side, name, synced_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)",
	)
	if err != nil {
		return fmt.Errorf("failed to prepare folder insert: %w", err)
	}
	defer stmt.Close()

	for _, name := range names {
		if _, err := stmt.ExecContext(ctx, account, side, name); err != nil {
			return fmt.Errorf("failed to insert folder %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit folders: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"account": account,
		"side":    side,
		"count":   len(names),
	}).Debug("Cached folders")
	return nil
}

// Envelopes returns the cached envelopes of one folder on one side.
func (s *Store) Envelopes(ctx context.Context, account, side, folder string) ([]types.Envelope, error) {
	var rows []envelopeRow
	err := s.cache.DB().SelectContext(ctx, &rows, `
		SELECT message_id, internal_id, flags, subject, sender, date_unix
		FROM envelopes
		WHERE account = ? AND side = ? AND folder = ?
		ORDER BY message_id`,
		account, side, folder,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query envelopes: %w", err)
	}

	envelopes := make([]types.Envelope, 0, len(rows))
	for _, row := range rows {
		var flags types.Flags
		if err := json.Unmarshal([]byte(row.Flags), &flags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flags of %s: %w", row.MessageID, err)
		}
		env := types.Envelope{
			ID:        row.InternalID,
			MessageID: row.MessageID,
			Flags:     flags,
			Subject:   row.Subject,
			From:      row.Sender,
		}
		if row.DateUnix != 0 {
			env.Date = time.Unix(row.DateUnix, 0).UTC()
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// ReplaceEnvelopes overwrites the cached envelopes of one folder on one side.
func (s *Store) ReplaceEnvelopes(ctx context.Context, account, side, folder string, envelopes []types.Envelope) error {
	tx, err := s.cache.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM envelopes WHERE account = ? AND side = ? AND folder = ?", account, side, folder,
	); err != nil {
		return fmt.Errorf("failed to clear envelopes: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT OR REPLACE INTO envelopes (account, side, folder, message_id, internal_id, flags, subject, sender, date_unix, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare envelope insert: %w", err)
	}
	defer stmt.Close()

	for _, env := range envelopes {
		flagsJSON, err := json.Marshal(env.Flags)
		if err != nil {
			return fmt.Errorf("failed to marshal flags: %w", err)
		}
		var dateUnix int64
		if !env.Date.IsZero() {
			dateUnix = env.Date.Unix()
		}
		_, err = stmt.ExecContext(ctx,
			account, side, folder,
			env.MessageID, env.ID, string(flagsJSON),
			env.Subject, env.From, dateUnix,
		)
		if err != nil {
			return fmt.Errorf("failed to insert envelope %s: %w", env.MessageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit envelopes: %w", err)
	}
	return nil
}

// DeleteFolder drops every cached envelope of a folder on one side.
func (s *Store) DeleteFolder(ctx context.Context, account, side, folder string) error {
	_, err := s.cache.DB().ExecContext(ctx,
		"DELETE FROM envelopes WHERE account = ? AND side = ? AND folder = ?", account, side, folder,
	)
	if err != nil {
		return fmt.Errorf("failed to delete cached folder %s: %w", folder, err)
	}
	return nil
}
