package tools

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/email"
)

var pagingProperties = map[string]interface{}{
	"account_name": accountProperty,
	"folder": map[string]interface{}{
		"type":        "string",
		"description": "Optional: Folder name, the inbox if omitted",
	},
	"page_size": map[string]interface{}{
		"type":        "integer",
		"description": "Optional: Envelopes per page (0 lists everything)",
		"minimum":     0,
	},
	"page": map[string]interface{}{
		"type":        "integer",
		"description": "Optional: 0-based page, newest envelopes first",
		"minimum":     0,
	},
}

// ListEnvelopesTool lists a page of envelopes of a folder
type ListEnvelopesTool struct {
	emailManager *email.Manager
	logger       *logrus.Logger
}

// NewListEnvelopesTool creates a new list envelopes tool
func NewListEnvelopesTool(emailManager *email.Manager, logger *logrus.Logger) *ListEnvelopesTool {
	return &ListEnvelopesTool{
		emailManager: emailManager,
		logger:       logger,
	}
}

// Name returns the tool name
func (t *ListEnvelopesTool) Name() string {
	return "list_envelopes"
}

// Description returns the tool description
func (t *ListEnvelopesTool) Description() string {
	return "List envelopes (id, subject, sender, date, flags) of a folder, newest first"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListEnvelopesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": pagingProperties,
	}
}

// Execute executes the tool
func (t *ListEnvelopesTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	l, err := listingParams(t.emailManager, params)
	if err != nil {
		return nil, err
	}

	envelopes, err := l.backend.ListEnvelopes(ctx, l.folder, l.pageSize, l.page)
	if err != nil {
		return nil, fmt.Errorf("failed to list envelopes: %w", err)
	}
	return envelopeList(envelopes), nil
}

// SearchEnvelopesTool searches the envelopes of a folder
type SearchEnvelopesTool struct {
	emailManager *email.Manager
	logger       *logrus.Logger
}

// NewSearchEnvelopesTool creates a new search envelopes tool
func NewSearchEnvelopesTool(emailManager *email.Manager, logger *logrus.Logger) *SearchEnvelopesTool {
	return &SearchEnvelopesTool{
		emailManager: emailManager,
		logger:       logger,
	}
}

// Name returns the tool name
func (t *SearchEnvelopesTool) Name() string {
	return "search_envelopes"
}

// Description returns the tool description
func (t *SearchEnvelopesTool) Description() string {
	return "Search envelopes of a folder with a backend query: IMAP SEARCH criteria, a notmuch query, or words matched against subject and sender for Maildir"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SearchEnvelopesTool) InputSchema() map[string]interface{} {
	props := map[string]interface{}{
		"query": map[string]interface{}{
			"type":        "string",
			"description": "Backend query, e.g. SUBJECT \"report\" for IMAP or from:alice for notmuch",
		},
		"sort": map[string]interface{}{
			"type":        "string",
			"description": "Optional: Sort criteria, e.g. REVERSE DATE",
		},
	}
	for k, v := range pagingProperties {
		props[k] = v
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   []string{"query"},
	}
}

// Execute executes the tool
func (t *SearchEnvelopesTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	query, err := requiredString(params, "query")
	if err != nil {
		return nil, err
	}
	l, err := listingParams(t.emailManager, params)
	if err != nil {
		return nil, err
	}

	envelopes, err := l.backend.SearchEnvelopes(ctx, l.folder, query, stringParam(params, "sort"), l.pageSize, l.page)
	if err != nil {
		return nil, fmt.Errorf("failed to search envelopes: %w", err)
	}
	return envelopeList(envelopes), nil
}
