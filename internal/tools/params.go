package tools

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/brandon/mailcore/internal/backend"
	"github.com/brandon/mailcore/internal/email"
	"github.com/brandon/mailcore/pkg/types"
)

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return strings.TrimSpace(s)
}

func requiredString(params map[string]interface{}, key string) (string, error) {
	s := stringParam(params, key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

// intParam accepts JSON numbers and numeric strings.
func intParam(params map[string]interface{}, key string, def int) (int, error) {
	switch v := params[key].(type) {
	case nil:
		return def, nil
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("invalid %s: %v", key, params[key])
}

func boolParam(params map[string]interface{}, key string) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// listParam accepts a JSON array of strings or a comma-separated string.
func listParam(params map[string]interface{}, key string) []string {
	var raw []string
	switch v := params[key].(type) {
	case string:
		raw = strings.Split(v, ",")
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = v
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func flagsParam(params map[string]interface{}, key string) (types.Flags, error) {
	raw := listParam(params, key)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s is required", key)
	}
	return types.ParseFlags(raw), nil
}

func envelopeList(envelopes []types.Envelope) []map[string]interface{} {
	out := make([]map[string]interface{}, len(envelopes))
	for i, env := range envelopes {
		out[i] = map[string]interface{}{
			"id":         env.ID,
			"message_id": env.MessageID,
			"flags":      env.Flags.Strings(),
			"symbols":    env.Flags.Symbols(),
			"subject":    env.Subject,
			"from":       env.From,
			"date":       env.Date.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	return out
}

var accountProperty = map[string]interface{}{
	"type":        "string",
	"description": "Optional: Account name, the default account if omitted",
}

func folderTarget(m *email.Manager, params map[string]interface{}) (backend.Backend, string, error) {
	folder, err := requiredString(params, "folder")
	if err != nil {
		return nil, "", err
	}
	b, err := m.Backend(stringParam(params, "account_name"))
	if err != nil {
		return nil, "", err
	}
	return b, folder, nil
}

// listing resolves the account, folder and page of an envelope listing.
// The folder defaults to the account's inbox and the page size to its
// configured default.
type listing struct {
	backend  backend.Backend
	folder   string
	pageSize int
	page     int
}

func listingParams(m *email.Manager, params map[string]interface{}) (*listing, error) {
	account, err := m.GetAccount(stringParam(params, "account_name"))
	if err != nil {
		return nil, err
	}
	l := &listing{backend: account.Backend, folder: stringParam(params, "folder")}
	if l.folder == "" {
		l.folder = account.Config.InboxFolder
	}
	if l.pageSize, err = intParam(params, "page_size", account.Config.DefaultPageSize); err != nil {
		return nil, err
	}
	if l.page, err = intParam(params, "page", 0); err != nil {
		return nil, err
	}
	if l.pageSize < 0 || l.page < 0 {
		return nil, fmt.Errorf("page and page_size must not be negative")
	}
	return l, nil
}
