package email

import (
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/responses"

	"github.com/brandon/mailcore/pkg/types"
)

// searchCommand is a SEARCH with a caller-written criteria string.
type searchCommand struct {
	query string
}

func (c *searchCommand) Command() *imap.Command {
	return &imap.Command{
		Name:      "SEARCH",
		Arguments: []interface{}{imap.RawString(criteriaOrAll(c.query))},
	}
}

// sortCommand is a SORT (RFC 5256) with UTF-8 charset.
type sortCommand struct {
	criteria string
	query    string
}

func (c *sortCommand) Command() *imap.Command {
	return &imap.Command{
		Name: "SORT",
		Arguments: []interface{}{
			imap.RawString("(" + strings.ToUpper(strings.TrimSpace(c.criteria)) + ")"),
			imap.RawString("UTF-8"),
			imap.RawString(criteriaOrAll(c.query)),
		},
	}
}

// sortResponse collects the sequence numbers of a SORT response.
type sortResponse struct {
	ids []uint32
}

func (r *sortResponse) Handle(resp imap.Resp) error {
	name, fields, ok := imap.ParseNamedResp(resp)
	if !ok || name != "SORT" {
		return responses.ErrUnhandled
	}

	for _, f := range fields {
		id, err := imap.ParseNumber(f)
		if err != nil {
			return err
		}
		r.ids = append(r.ids, id)
	}
	return nil
}

func criteriaOrAll(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return "ALL"
	}
	return query
}

// pageBounds computes the sequence window of a listing page. The window
// holds the pageSize messages before the cursor, counted from the newest.
// ok is false when the page starts past the first message.
func pageBounds(last uint32, pageSize, page int) (lo, hi uint32, ok bool) {
	if last == 0 || page < 0 {
		return 0, 0, false
	}
	if pageSize <= 0 {
		return 1, last, true
	}

	cursor := uint64(page) * uint64(pageSize)
	if cursor >= uint64(last) {
		return 0, 0, false
	}
	begin := uint64(last) - cursor
	if begin < 1 {
		begin = 1
	}
	end := begin - min(begin, uint64(pageSize)) + 1
	return uint32(end), uint32(begin), true
}

// slicePage cuts one page out of a SEARCH or SORT result.
func slicePage(ids []uint32, pageSize, page int) []uint32 {
	if pageSize <= 0 {
		return ids
	}
	begin := page * pageSize
	if page < 0 || begin >= len(ids) {
		return nil
	}
	end := begin + pageSize - 1
	if end > len(ids)-1 {
		end = len(ids) - 1
	}
	return ids[begin : end+1]
}

func reverse(ids []uint32) {
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
}

var imapFlagNames = map[types.Flag]string{
	types.FlagSeen:     imap.SeenFlag,
	types.FlagAnswered: imap.AnsweredFlag,
	types.FlagFlagged:  imap.FlaggedFlag,
	types.FlagDeleted:  imap.DeletedFlag,
	types.FlagDraft:    imap.DraftFlag,
}

// flagTokens encodes flags for STORE and APPEND: backslash tokens for the
// standard flags, the raw keyword for custom ones. Recent is set by the
// server only and is never sent.
func flagTokens(flags types.Flags) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags.Slice() {
		if f == types.FlagRecent {
			continue
		}
		if name, ok := imapFlagNames[f]; ok {
			out = append(out, name)
			continue
		}
		out = append(out, string(f))
	}
	return out
}

// EncodeFlags renders flags as the space-separated list sent on the wire.
func EncodeFlags(flags types.Flags) string {
	return strings.Join(flagTokens(flags), " ")
}
