package tools

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/email"
)

// Registry manages the exposed tools
type Registry struct {
	config       *config.Config
	logger       *logrus.Logger
	emailManager *email.Manager
	tools        map[string]Tool
}

// Tool represents a callable tool
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// NewRegistry creates a new tool registry
func NewRegistry(cfg *config.Config, emailManager *email.Manager, logger *logrus.Logger) (*Registry, error) {
	reg := &Registry{
		config:       cfg,
		logger:       logger,
		emailManager: emailManager,
		tools:        make(map[string]Tool),
	}

	reg.registerTools()

	return reg, nil
}

// registerTools registers all available tools
func (r *Registry) registerTools() {
	toolList := []Tool{
		NewListFoldersTool(r.emailManager, r.logger),
		NewAddFolderTool(r.emailManager, r.logger),
		NewDeleteFolderTool(r.emailManager, r.logger),
		NewListEnvelopesTool(r.emailManager, r.logger),
		NewSearchEnvelopesTool(r.emailManager, r.logger),
		NewGetMessageTool(r.emailManager, r.logger),
		NewFlagsTool(FlagsAdd, r.emailManager, r.logger),
		NewFlagsTool(FlagsSet, r.emailManager, r.logger),
		NewFlagsTool(FlagsRemove, r.emailManager, r.logger),
		NewMessageTool(MessageCopy, r.emailManager, r.logger),
		NewMessageTool(MessageMove, r.emailManager, r.logger),
		NewMessageTool(MessageDelete, r.emailManager, r.logger),
		NewSyncTool(r.emailManager, r.logger),
		NewSendEmailTool(r.emailManager, r.logger),
	}

	for _, tool := range toolList {
		if tool != nil {
			r.tools[tool.Name()] = tool
			r.logger.WithField("tool", tool.Name()).Debug("Registered tool")
		}
	}

	r.logger.WithField("count", len(r.tools)).Info("Registered tools")
}

// GetTool returns a tool by name
func (r *Registry) GetTool(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// ListTools returns all registered tools, sorted by name
func (r *Registry) ListTools() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// GetToolDefinitions returns the tool definitions advertised by tools/list
func (r *Registry) GetToolDefinitions() []map[string]interface{} {
	tools := r.ListTools()
	definitions := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		definitions = append(definitions, map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"inputSchema": tool.InputSchema(),
		})
	}
	return definitions
}
