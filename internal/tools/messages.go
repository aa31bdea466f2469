package tools

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/email"
)

// MessageOp selects what a MessageTool does.
type MessageOp string

const (
	MessageCopy   MessageOp = "copy"
	MessageMove   MessageOp = "move"
	MessageDelete MessageOp = "delete"
)

// MessageTool copies, moves or deletes a message
type MessageTool struct {
	op           MessageOp
	emailManager *email.Manager
	logger       *logrus.Logger
}

// NewMessageTool creates a new message tool for op
func NewMessageTool(op MessageOp, emailManager *email.Manager, logger *logrus.Logger) *MessageTool {
	return &MessageTool{
		op:           op,
		emailManager: emailManager,
		logger:       logger,
	}
}

// Name returns the tool name
func (t *MessageTool) Name() string {
	return string(t.op) + "_message"
}

// Description returns the tool description
func (t *MessageTool) Description() string {
	switch t.op {
	case MessageCopy:
		return "Copy a message to another folder"
	case MessageMove:
		return "Move a message to another folder"
	}
	return "Delete a message"
}

// InputSchema returns the JSON schema for tool inputs
func (t *MessageTool) InputSchema() map[string]interface{} {
	props := map[string]interface{}{
		"account_name": accountProperty,
		"folder": map[string]interface{}{
			"type":        "string",
			"description": "Folder holding the message",
		},
		"id": map[string]interface{}{
			"type":        "string",
			"description": "Envelope id",
		},
	}
	required := []string{"folder", "id"}
	if t.op != MessageDelete {
		props["target"] = map[string]interface{}{
			"type":        "string",
			"description": "Destination folder",
		}
		required = append(required, "target")
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Execute executes the tool
func (t *MessageTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	b, folder, err := folderTarget(t.emailManager, params)
	if err != nil {
		return nil, err
	}
	id, err := requiredString(params, "id")
	if err != nil {
		return nil, err
	}

	log := t.logger.WithFields(logrus.Fields{"folder": folder, "id": id})
	if t.op == MessageDelete {
		if err := b.DeleteMessage(ctx, folder, id); err != nil {
			return nil, fmt.Errorf("failed to delete message: %w", err)
		}
		log.Info("Message deleted")
		return map[string]interface{}{"success": true, "id": id}, nil
	}

	target, err := requiredString(params, "target")
	if err != nil {
		return nil, err
	}
	var newID string
	if t.op == MessageMove {
		newID, err = b.MoveMessage(ctx, folder, target, id)
	} else {
		newID, err = b.CopyMessage(ctx, folder, target, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s message: %w", t.op, err)
	}
	log.WithFields(logrus.Fields{"op": t.op, "target": target, "new_id": newID}).Info("Message transferred")

	return map[string]interface{}{
		"success": true,
		"id":      newID,
		"folder":  target,
	}, nil
}
