package backend

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/brandon/mailcore/pkg/types"
)

// SortNewestFirst orders envelopes by date descending. Ties keep a stable
// order on the id so listings are deterministic.
func SortNewestFirst(envelopes []types.Envelope) {
	sort.SliceStable(envelopes, func(i, j int) bool {
		if !envelopes[i].Date.Equal(envelopes[j].Date) {
			return envelopes[i].Date.After(envelopes[j].Date)
		}
		return lessID(envelopes[j].ID, envelopes[i].ID)
	})
}

// SortEnvelopes orders envelopes by an IMAP SORT-style criteria list such
// as "REVERSE DATE SUBJECT". An empty list sorts newest first.
func SortEnvelopes(envelopes []types.Envelope, criteria string) error {
	keys, err := parseSortCriteria(criteria)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		SortNewestFirst(envelopes)
		return nil
	}

	sort.SliceStable(envelopes, func(i, j int) bool {
		for _, k := range keys {
			c := k.compare(envelopes[i], envelopes[j])
			if c == 0 {
				continue
			}
			if k.reverse {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return nil
}

// Paginate sorts a fully materialized listing newest first and slices the
// requested page out of it.
func Paginate(envelopes []types.Envelope, pageSize, page int) ([]types.Envelope, error) {
	SortNewestFirst(envelopes)
	return Slice(envelopes, pageSize, page)
}

// Slice cuts one page out of an already ordered listing. A start index
// past the end is an error, not an empty page.
func Slice(envelopes []types.Envelope, pageSize, page int) ([]types.Envelope, error) {
	if pageSize <= 0 {
		return envelopes, nil
	}

	begin := page * pageSize
	if begin > len(envelopes) || page < 0 {
		return nil, &OutOfBoundsError{Begin: begin, Total: len(envelopes)}
	}
	end := begin + pageSize
	if end > len(envelopes) {
		end = len(envelopes)
	}
	return envelopes[begin:end], nil
}

type sortKey struct {
	field   string
	reverse bool
}

func (k sortKey) compare(a, b types.Envelope) int {
	switch k.field {
	case "DATE", "ARRIVAL":
		switch {
		case a.Date.Before(b.Date):
			return -1
		case a.Date.After(b.Date):
			return 1
		}
		return 0
	case "SUBJECT":
		return strings.Compare(strings.ToLower(a.Subject), strings.ToLower(b.Subject))
	default: // FROM
		return strings.Compare(strings.ToLower(a.From), strings.ToLower(b.From))
	}
}

func parseSortCriteria(criteria string) ([]sortKey, error) {
	var keys []sortKey
	reverse := false
	for _, tok := range strings.Fields(strings.ToUpper(criteria)) {
		switch tok {
		case "REVERSE":
			reverse = true
			continue
		case "DATE", "ARRIVAL", "SUBJECT", "FROM":
			keys = append(keys, sortKey{field: tok, reverse: reverse})
		default:
			return nil, fmt.Errorf("unsupported sort criterion %q", tok)
		}
		reverse = false
	}
	if reverse {
		return nil, fmt.Errorf("dangling REVERSE in sort criteria %q", criteria)
	}
	return keys, nil
}

// lessID compares numeric ids numerically and everything else lexically.
func lessID(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
