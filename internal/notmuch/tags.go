package notmuch

import (
	"sort"

	"github.com/brandon/mailcore/pkg/types"
)

const tagUnread = "unread"

var flagTags = map[types.Flag]string{
	types.FlagAnswered: "replied",
	types.FlagFlagged:  "flagged",
	types.FlagDeleted:  "deleted",
	types.FlagDraft:    "draft",
}

// tagsToFlags maps notmuch tags to flags. Seen is the absence of unread;
// tags without a standard meaning become custom flags.
func tagsToFlags(tags []string) types.Flags {
	flags := types.NewFlags()
	seen := true
	for _, tag := range tags {
		if tag == tagUnread {
			seen = false
			continue
		}
		flag := types.Flag(tag)
		for f, t := range flagTags {
			if t == tag {
				flag = f
			}
		}
		flags.Insert(flag)
	}
	if seen {
		flags.Insert(types.FlagSeen)
	}
	return flags
}

// tagChanges returns the tags to add and remove so that a message ends up
// carrying flags. Recent has no tag.
func tagChanges(flags types.Flags) (add, remove []string) {
	for _, f := range flags.Slice() {
		switch {
		case f == types.FlagSeen:
			remove = append(remove, tagUnread)
		case f == types.FlagRecent:
		case flagTags[f] != "":
			add = append(add, flagTags[f])
		default:
			add = append(add, string(f))
		}
	}
	return add, remove
}

// desiredTags is the complete tag set representing flags.
func desiredTags(flags types.Flags) map[string]bool {
	add, _ := tagChanges(flags)
	out := make(map[string]bool, len(add)+1)
	for _, tag := range add {
		out[tag] = true
	}
	if !flags.Contains(types.FlagSeen) {
		out[tagUnread] = true
	}
	return out
}

// replaceTags diffs the current tags against the tags representing flags.
func replaceTags(current []string, flags types.Flags) (add, remove []string) {
	want := desiredTags(flags)
	have := make(map[string]bool, len(current))
	for _, tag := range current {
		have[tag] = true
		if !want[tag] {
			remove = append(remove, tag)
		}
	}
	for tag := range want {
		if !have[tag] {
			add = append(add, tag)
		}
	}
	sort.Strings(add)
	sort.Strings(remove)
	return add, remove
}
