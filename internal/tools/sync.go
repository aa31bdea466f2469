package tools

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/email"
	mailsync "github.com/brandon/mailcore/internal/sync"
)

// SyncTool synchronizes an account with its local Maildir replica
type SyncTool struct {
	emailManager *email.Manager
	logger       *logrus.Logger
}

// NewSyncTool creates a new sync tool
func NewSyncTool(emailManager *email.Manager, logger *logrus.Logger) *SyncTool {
	return &SyncTool{
		emailManager: emailManager,
		logger:       logger,
	}
}

// Name returns the tool name
func (t *SyncTool) Name() string {
	return "sync"
}

// Description returns the tool description
func (t *SyncTool) Description() string {
	return "Synchronize an account with its local replica, or preview the changes with dry_run"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SyncTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty,
			"dry_run": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Only compute and return the patch",
			},
			"include": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Optional: Only sync these folders",
			},
			"exclude": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Optional: Sync every folder but these",
			},
		},
	}
}

// Execute executes the tool
func (t *SyncTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	opts := mailsync.Options{DryRun: boolParam(params, "dry_run")}

	include, exclude := listParam(params, "include"), listParam(params, "exclude")
	switch {
	case len(include) > 0 && len(exclude) > 0:
		return nil, fmt.Errorf("include and exclude are mutually exclusive")
	case len(include) > 0:
		opts.Filter = mailsync.Include(include...)
	case len(exclude) > 0:
		opts.Filter = mailsync.Exclude(exclude...)
	}

	report, err := t.emailManager.Sync(ctx, stringParam(params, "account_name"), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to sync: %w", err)
	}
	return reportResult(report), nil
}

func reportResult(report *mailsync.Report) map[string]interface{} {
	folders := make([]string, len(report.Folders))
	for i, h := range report.Folders {
		folders[i] = h.String()
	}
	envelopes := make([]string, len(report.Envelopes))
	for i, h := range report.Envelopes {
		envelopes[i] = h.String()
	}
	errs := make([]string, 0)
	for _, err := range report.Errors() {
		errs = append(errs, err.Error())
	}

	return map[string]interface{}{
		"run_id":    report.RunID,
		"dry_run":   report.DryRun,
		"folders":   folders,
		"envelopes": envelopes,
		"errors":    errs,
	}
}
