package tools

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/email"
)

// ListFoldersTool lists the folders of one or all accounts
type ListFoldersTool struct {
	emailManager *email.Manager
	logger       *logrus.Logger
}

// NewListFoldersTool creates a new list folders tool
func NewListFoldersTool(emailManager *email.Manager, logger *logrus.Logger) *ListFoldersTool {
	return &ListFoldersTool{
		emailManager: emailManager,
		logger:       logger,
	}
}

// Name returns the tool name
func (t *ListFoldersTool) Name() string {
	return "list_folders"
}

// Description returns the tool description
func (t *ListFoldersTool) Description() string {
	return "List folders/mailboxes of an account, or of all accounts"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListFoldersTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Specific account name, or all accounts if omitted",
			},
		},
	}
}

// Execute executes the tool
func (t *ListFoldersTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	accounts := t.emailManager.ListAccounts()
	if name := stringParam(params, "account_name"); name != "" {
		accounts = []string{name}
	}

	result := make([]map[string]interface{}, 0)
	for _, name := range accounts {
		b, err := t.emailManager.Backend(name)
		if err != nil {
			return nil, err
		}
		folders, err := b.ListFolders(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list folders of %s: %w", name, err)
		}
		for _, folder := range folders {
			entry := map[string]interface{}{
				"account_name": name,
				"name":         folder.Name,
			}
			if folder.Delimiter != "" {
				entry["delimiter"] = folder.Delimiter
			}
			if folder.Description != "" {
				entry["description"] = folder.Description
			}
			result = append(result, entry)
		}
	}

	return result, nil
}

// AddFolderTool creates a folder
type AddFolderTool struct {
	emailManager *email.Manager
	logger       *logrus.Logger
}

// NewAddFolderTool creates a new add folder tool
func NewAddFolderTool(emailManager *email.Manager, logger *logrus.Logger) *AddFolderTool {
	return &AddFolderTool{emailManager: emailManager, logger: logger}
}

func (t *AddFolderTool) Name() string { return "add_folder" }

func (t *AddFolderTool) Description() string { return "Create a folder" }

func (t *AddFolderTool) InputSchema() map[string]interface{} {
	return folderSchema()
}

func (t *AddFolderTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	b, folder, err := folderTarget(t.emailManager, params)
	if err != nil {
		return nil, err
	}
	if err := b.AddFolder(ctx, folder); err != nil {
		return nil, fmt.Errorf("failed to create folder: %w", err)
	}
	t.logger.WithField("folder", folder).Info("Folder created")
	return map[string]interface{}{"success": true, "folder": folder}, nil
}

// DeleteFolderTool deletes a folder and everything in it
type DeleteFolderTool struct {
	emailManager *email.Manager
	logger       *logrus.Logger
}

// NewDeleteFolderTool creates a new delete folder tool
func NewDeleteFolderTool(emailManager *email.Manager, logger *logrus.Logger) *DeleteFolderTool {
	return &DeleteFolderTool{emailManager: emailManager, logger: logger}
}

func (t *DeleteFolderTool) Name() string { return "delete_folder" }

func (t *DeleteFolderTool) Description() string { return "Delete a folder and its messages" }

func (t *DeleteFolderTool) InputSchema() map[string]interface{} {
	return folderSchema()
}

func (t *DeleteFolderTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	b, folder, err := folderTarget(t.emailManager, params)
	if err != nil {
		return nil, err
	}
	if err := b.DeleteFolder(ctx, folder); err != nil {
		return nil, fmt.Errorf("failed to delete folder: %w", err)
	}
	t.logger.WithField("folder", folder).Info("Folder deleted")
	return map[string]interface{}{"success": true, "folder": folder}, nil
}

func folderSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty,
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Folder name",
			},
		},
		"required": []string{"folder"},
	}
}
