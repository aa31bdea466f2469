package tools

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/email"
)

// SendEmailTool sends a new email
type SendEmailTool struct {
	emailManager *email.Manager
	logger       *logrus.Logger
}

// NewSendEmailTool creates a new send email tool
func NewSendEmailTool(emailManager *email.Manager, logger *logrus.Logger) *SendEmailTool {
	return &SendEmailTool{
		emailManager: emailManager,
		logger:       logger,
	}
}

// Name returns the tool name
func (t *SendEmailTool) Name() string {
	return "send_email"
}

// Description returns the tool description
func (t *SendEmailTool) Description() string {
	return "Send a new email with support for text, HTML, attachments, CC, BCC; a copy is filed in the Sent folder"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SendEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Account to send from, the default account if omitted",
			},
			"to": map[string]interface{}{
				"type":        "string",
				"description": "Recipient email address(es) (comma-separated)",
			},
			"cc": map[string]interface{}{
				"type":        "string",
				"description": "Optional: CC recipients (comma-separated)",
			},
			"bcc": map[string]interface{}{
				"type":        "string",
				"description": "Optional: BCC recipients (comma-separated)",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Email subject",
			},
			"body_text": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Plain text body",
			},
			"body_html": map[string]interface{}{
				"type":        "string",
				"description": "Optional: HTML body",
			},
			"attachments": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Optional: Array of attachment file paths",
			},
			"reply_to": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Reply-To header",
			},
			"in_reply_to": map[string]interface{}{
				"type":        "string",
				"description": "Optional: In-Reply-To header (for replies)",
			},
		},
		"required": []string{"to", "subject"},
	}
}

// Execute executes the tool
func (t *SendEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	msg, err := buildMessage(params)
	if err != nil {
		return nil, err
	}

	if err := t.emailManager.SendEmail(ctx, stringParam(params, "account_name"), msg); err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	return map[string]interface{}{
		"success": true,
		"message": "Email sent successfully",
	}, nil
}

func buildMessage(params map[string]interface{}) (*email.EmailMessage, error) {
	to := listParam(params, "to")
	if len(to) == 0 {
		return nil, fmt.Errorf("to is required")
	}
	subject, err := requiredString(params, "subject")
	if err != nil {
		return nil, err
	}

	msg := &email.EmailMessage{
		To:        to,
		Cc:        listParam(params, "cc"),
		Bcc:       listParam(params, "bcc"),
		Subject:   subject,
		BodyText:  stringParam(params, "body_text"),
		BodyHTML:  stringParam(params, "body_html"),
		ReplyTo:   stringParam(params, "reply_to"),
		InReplyTo: stringParam(params, "in_reply_to"),
	}
	if msg.BodyText == "" && msg.BodyHTML == "" {
		return nil, fmt.Errorf("either body_text or body_html is required")
	}

	for _, path := range listParam(params, "attachments") {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		msg.Attachments = append(msg.Attachments, email.Attachment{
			Filename: filepath.Base(path),
			Content:  content,
			MimeType: mimeType,
		})
	}
	return msg, nil
}
