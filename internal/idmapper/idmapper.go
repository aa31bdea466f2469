// Package idmapper gives filesystem-backed messages short, stable aliases.
//
// Each (account, folder) scope owns one append-only table mapping an
// autoincremented integer alias to the backend's internal identifier (a
// Maildir key or a notmuch message id). Rows are never updated nor
// deleted, so an alias printed by an earlier listing keeps resolving.
package idmapper

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/backend"
	"github.com/brandon/mailcore/internal/cache"
)

// Mapper translates between aliases and internal ids within one scope.
type Mapper interface {
	// Alias returns the alias of id, assigning a new one on first sight.
	Alias(id string) (string, error)
	// Aliases is the batch form of Alias.
	Aliases(ids []string) (map[string]string, error)
	// ID resolves an alias back to the internal id.
	ID(alias string) (string, error)
}

// Registry hands out the Mapper of a folder.
type Registry interface {
	Mapper(folder string) (Mapper, error)
}

// Store is the persisted mapping database shared by every scope of a
// process. All access goes through a single connection guarded by mu.
type Store struct {
	db     *sqlx.DB
	mu     sync.Mutex
	tables map[string]bool
	logger *logrus.Logger
}

// Open opens the mapping store at path, creating it if needed.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	db, err := cache.OpenDB(path)
	if err != nil {
		return nil, &backend.MappingError{Key: path, Err: err}
	}
	logger.WithField("path", path).Debug("Opened id mapper store")
	return &Store{
		db:     db,
		tables: make(map[string]bool),
		logger: logger,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Registry returns the per-folder mappers of account.
func (s *Store) Registry(account string) Registry {
	return &accountRegistry{store: s, account: account}
}

// Mapper returns the mapper of the (account, folder) scope.
func (s *Store) Mapper(account, folder string) (Mapper, error) {
	table := TableName(account, folder)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tables[table] {
		query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			alias INTEGER PRIMARY KEY AUTOINCREMENT,
			internal_id TEXT NOT NULL UNIQUE
		)`, table)
		if _, err := s.db.Exec(query); err != nil {
			return nil, &backend.MappingError{Key: table, Err: err}
		}
		s.tables[table] = true
	}
	return &scopedMapper{store: s, table: table}, nil
}

// TableName derives the table of an (account, folder) scope.
func TableName(account, folder string) string {
	sum := sha256.Sum256([]byte(account + "\x00" + folder))
	return "id_mapper_" + hex.EncodeToString(sum[:8])
}

type accountRegistry struct {
	store   *Store
	account string
}

func (r *accountRegistry) Mapper(folder string) (Mapper, error) {
	return r.store.Mapper(r.account, folder)
}

type scopedMapper struct {
	store *Store
	table string
}

func (m *scopedMapper) Alias(id string) (string, error) {
	aliases, err := m.Aliases([]string{id})
	if err != nil {
		return "", err
	}
	return aliases[id], nil
}

func (m *scopedMapper) Aliases(ids []string) (map[string]string, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	tx, err := m.store.db.Beginx()
	if err != nil {
		return nil, &backend.MappingError{Key: m.table, Err: err}
	}
	defer tx.Rollback()

	selectQuery := fmt.Sprintf("SELECT alias FROM %q WHERE internal_id = ?", m.table)
	insertQuery := fmt.Sprintf("INSERT INTO %q (internal_id) VALUES (?)", m.table)

	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}

		var alias int64
		err := tx.Get(&alias, selectQuery, id)
		switch {
		case err == nil:
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.Exec(insertQuery, id)
			if err != nil {
				return nil, &backend.MappingError{Key: id, Err: err}
			}
			if alias, err = res.LastInsertId(); err != nil {
				return nil, &backend.MappingError{Key: id, Err: err}
			}
			m.store.logger.WithFields(logrus.Fields{
				"id":    id,
				"alias": alias,
			}).Debug("Assigned alias")
		default:
			return nil, &backend.MappingError{Key: id, Err: err}
		}
		out[id] = strconv.FormatInt(alias, 10)
	}

	if err := tx.Commit(); err != nil {
		return nil, &backend.MappingError{Key: m.table, Err: err}
	}
	return out, nil
}

func (m *scopedMapper) ID(alias string) (string, error) {
	n, err := strconv.ParseInt(alias, 10, 64)
	if err != nil {
		return "", &backend.MappingError{Key: alias, Err: &backend.NotFoundError{Kind: "alias", Name: alias}}
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	var id string
	err = m.store.db.Get(&id, fmt.Sprintf("SELECT internal_id FROM %q WHERE alias = ?", m.table), n)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &backend.MappingError{Key: alias, Err: &backend.NotFoundError{Kind: "alias", Name: alias}}
	}
	if err != nil {
		return "", &backend.MappingError{Key: alias, Err: err}
	}
	return id, nil
}

// Dummy is the identity mapper, for callers that do not need stable
// aliases: every alias is the internal id itself.
type Dummy struct{}

func (Dummy) Alias(id string) (string, error) { return id, nil }

func (Dummy) Aliases(ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		out[id] = id
	}
	return out, nil
}

func (Dummy) ID(alias string) (string, error) { return alias, nil }

// DummyRegistry hands out Dummy mappers for every folder.
type DummyRegistry struct{}

func (DummyRegistry) Mapper(string) (Mapper, error) { return Dummy{}, nil }
