package tools

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/email"
)

// GetMessageTool retrieves a full message by id
type GetMessageTool struct {
	emailManager *email.Manager
	logger       *logrus.Logger
}

// NewGetMessageTool creates a new get message tool
func NewGetMessageTool(emailManager *email.Manager, logger *logrus.Logger) *GetMessageTool {
	return &GetMessageTool{
		emailManager: emailManager,
		logger:       logger,
	}
}

// Name returns the tool name
func (t *GetMessageTool) Name() string {
	return "get_message"
}

// Description returns the tool description
func (t *GetMessageTool) Description() string {
	return "Retrieve a full message (headers, text and HTML bodies, attachment list) by envelope id"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetMessageTool) InputSchema() map[string]interface{} {
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
				"description": "Envelope id as returned by list_envelopes",
			},
			"include_raw": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Also return the raw RFC 5322 source",
			},
		},
		"required": []string{"folder", "id"},
	}
}

// Execute executes the tool
func (t *GetMessageTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	b, folder, err := folderTarget(t.emailManager, params)
	if err != nil {
		return nil, err
	}
	id, err := requiredString(params, "id")
	if err != nil {
		return nil, err
	}

	msg, err := b.GetMessage(ctx, folder, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	result := map[string]interface{}{
		"id":          msg.ID,
		"message_id":  msg.MessageID,
		"subject":     msg.Subject,
		"from":        msg.From,
		"to":          msg.To,
		"cc":          msg.Cc,
		"date":        msg.Date.Format("2006-01-02T15:04:05Z07:00"),
		"body_text":   msg.BodyText,
		"body_html":   msg.BodyHTML,
		"attachments": msg.Attachments,
	}
	if boolParam(params, "include_raw") {
		result["raw"] = string(msg.Raw)
	}
	return result, nil
}
