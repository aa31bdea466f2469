package maildir

import (
	"sort"

	"github.com/emersion/go-maildir"

	"github.com/brandon/mailcore/pkg/types"
)

// Maildir info letters of the standard flags. Recent has no letter, it is
// derived from the new/ directory instead.
var letters = map[types.Flag]maildir.Flag{
	types.FlagSeen:     maildir.FlagSeen,
	types.FlagAnswered: maildir.FlagReplied,
	types.FlagFlagged:  maildir.FlagFlagged,
	types.FlagDeleted:  maildir.FlagTrashed,
	types.FlagDraft:    maildir.FlagDraft,
}

func toMaildirFlags(flags types.Flags) []maildir.Flag {
	out := make([]maildir.Flag, 0, len(flags))
	for f := range flags {
		if letter, ok := letters[f]; ok {
			out = append(out, letter)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func fromMaildirFlags(flags []maildir.Flag) types.Flags {
	out := types.NewFlags()
	for _, letter := range flags {
		for f, l := range letters {
			if l == letter {
				out.Insert(f)
			}
		}
	}
	return out
}
