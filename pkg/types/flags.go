package types

import (
	"encoding/json"
	"sort"
	"strings"
)

// Flag is a message flag. The standard flags are the constants below;
// any other value is a custom flag (an IMAP keyword or a notmuch tag).
type Flag string

const (
	FlagSeen     Flag = "seen"
	FlagAnswered Flag = "answered"
	FlagFlagged  Flag = "flagged"
	FlagDeleted  Flag = "deleted"
	FlagDraft    Flag = "draft"
	FlagRecent   Flag = "recent"
)

var standardFlags = []Flag{FlagSeen, FlagAnswered, FlagFlagged, FlagDeleted, FlagDraft, FlagRecent}

// ParseFlag maps a textual flag to a Flag. Standard flags are matched
// case-insensitively with or without the IMAP backslash prefix.
func ParseFlag(s string) Flag {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "\\"))
	for _, f := range standardFlags {
		if name == string(f) {
			return f
		}
	}
	return Flag(strings.TrimSpace(s))
}

// IsCustom reports whether f is not one of the standard flags.
func (f Flag) IsCustom() bool {
	for _, std := range standardFlags {
		if f == std {
			return false
		}
	}
	return true
}

// Flags is an unordered, deduplicated set of flags.
type Flags map[Flag]struct{}

// NewFlags builds a set from the given flags.
func NewFlags(flags ...Flag) Flags {
	set := make(Flags, len(flags))
	for _, f := range flags {
		if f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

// ParseFlags builds a set from textual flags, see ParseFlag.
func ParseFlags(raw []string) Flags {
	set := make(Flags, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		set[ParseFlag(s)] = struct{}{}
	}
	return set
}

// Contains reports whether f is in the set.
func (fs Flags) Contains(f Flag) bool {
	_, ok := fs[f]
	return ok
}

// Insert adds f to the set in place.
func (fs Flags) Insert(f Flag) {
	fs[f] = struct{}{}
}

// Clone returns a copy of the set.
func (fs Flags) Clone() Flags {
	out := make(Flags, len(fs))
	for f := range fs {
		out[f] = struct{}{}
	}
	return out
}

// Union returns a new set holding the flags of both sets.
func (fs Flags) Union(other Flags) Flags {
	out := fs.Clone()
	for f := range other {
		out[f] = struct{}{}
	}
	return out
}

// Difference returns a new set holding the flags of fs not in other.
func (fs Flags) Difference(other Flags) Flags {
	out := make(Flags, len(fs))
	for f := range fs {
		if !other.Contains(f) {
			out[f] = struct{}{}
		}
	}
	return out
}

// Equal reports whether both sets hold the same flags.
func (fs Flags) Equal(other Flags) bool {
	if len(fs) != len(other) {
		return false
	}
	for f := range fs {
		if !other.Contains(f) {
			return false
		}
	}
	return true
}

// Synced returns the subset that is meaningful on every backend: the
// standard flags without Recent.
func (fs Flags) Synced() Flags {
	out := make(Flags, len(fs))
	for f := range fs {
		if !f.IsCustom() && f != FlagRecent {
			out[f] = struct{}{}
		}
	}
	return out
}

// Slice returns the flags sorted by name.
func (fs Flags) Slice() []Flag {
	out := make([]Flag, 0, len(fs))
	for f := range fs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted flag names.
func (fs Flags) Strings() []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs.Slice() {
		out = append(out, string(f))
	}
	return out
}

// Symbols renders the fixed-order status column used in listings:
// unseen, answered, flagged.
func (fs Flags) Symbols() string {
	var b strings.Builder
	if fs.Contains(FlagSeen) {
		b.WriteByte(' ')
	} else {
		b.WriteByte('N')
	}
	if fs.Contains(FlagAnswered) {
		b.WriteByte('R')
	} else {
		b.WriteByte(' ')
	}
	if fs.Contains(FlagFlagged) {
		b.WriteByte('!')
	} else {
		b.WriteByte(' ')
	}
	return b.String()
}

func (fs Flags) MarshalJSON() ([]byte, error) {
	return json.Marshal(fs.Strings())
}

func (fs *Flags) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*fs = ParseFlags(raw)
	return nil
}
