package tools

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/email"
)

// FlagsOp selects what a FlagsTool does with the given flags.
type FlagsOp string

const (
	FlagsAdd    FlagsOp = "add"
	FlagsSet    FlagsOp = "set"
	FlagsRemove FlagsOp = "remove"
)

// FlagsTool adds, replaces or removes flags of a message
type FlagsTool struct {
	op           FlagsOp
	emailManager *email.Manager
	logger       *logrus.Logger
}

// NewFlagsTool creates a new flags tool for op
func NewFlagsTool(op FlagsOp, emailManager *email.Manager, logger *logrus.Logger) *FlagsTool {
	return &FlagsTool{
		op:           op,
		emailManager: emailManager,
		logger:       logger,
	}
}

// Name returns the tool name
func (t *FlagsTool) Name() string {
	return string(t.op) + "_flags"
}

// Description returns the tool description
func (t *FlagsTool) Description() string {
	switch t.op {
	case FlagsSet:
		return "Replace the flags of a message"
	case FlagsRemove:
		return "Remove flags from a message"
	}
	return "Add flags to a message"
}

// InputSchema returns the JSON schema for tool inputs
func (t *FlagsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty,
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Folder holding the message",
			},
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Envelope id",
			},
			"flags": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Flags: seen, answered, flagged, deleted, draft, or any custom keyword",
			},
		},
		"required": []string{"folder", "id", "flags"},
	}
}

// Execute executes the tool
func (t *FlagsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	b, folder, err := folderTarget(t.emailManager, params)
	if err != nil {
		return nil, err
	}
	id, err := requiredString(params, "id")
	if err != nil {
		return nil, err
	}
	flags, err := flagsParam(params, "flags")
	if err != nil {
		return nil, err
	}

	switch t.op {
	case FlagsSet:
		err = b.SetFlags(ctx, folder, id, flags)
	case FlagsRemove:
		err = b.RemoveFlags(ctx, folder, id, flags)
	default:
		err = b.AddFlags(ctx, folder, id, flags)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s flags: %w", t.op, err)
	}

	return map[string]interface{}{
		"success": true,
		"id":      id,
		"flags":   flags.Strings(),
	}, nil
}
