package sync

import (
	"strings"

	"github.com/brandon/mailcore/internal/config"
)

// FilterMode selects how a FolderFilter matches.
type FilterMode int

const (
	FilterAll FilterMode = iota
	FilterInclude
	FilterExclude
)

// FolderFilter restricts a sync run to a subset of folders. Names match
// case-insensitively.
type FolderFilter struct {
	Mode  FilterMode
	Names []string
}

// Include syncs only the named folders.
func Include(names ...string) FolderFilter {
	return FolderFilter{Mode: FilterInclude, Names: names}
}

// Exclude syncs every folder but the named ones.
func Exclude(names ...string) FolderFilter {
	return FolderFilter{Mode: FilterExclude, Names: names}
}

// FilterFromConfig builds the filter of an account's sync settings.
func FilterFromConfig(cfg config.SyncConfig) FolderFilter {
	switch {
	case len(cfg.Include) > 0:
		return Include(cfg.Include...)
	case len(cfg.Exclude) > 0:
		return Exclude(cfg.Exclude...)
	}
	return FolderFilter{}
}

// Match reports whether folder takes part in the run.
func (f FolderFilter) Match(folder string) bool {
	switch f.Mode {
	case FilterInclude:
		return f.contains(folder)
	case FilterExclude:
		return !f.contains(folder)
	}
	return true
}

func (f FolderFilter) contains(folder string) bool {
	for _, name := range f.Names {
		if strings.EqualFold(name, folder) {
			return true
		}
	}
	return false
}
