package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/email"
	"github.com/brandon/mailcore/internal/tools"
)

const protocolVersion = "2024-11-05"

// JSON-RPC error codes
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Server represents the tool server
type Server struct {
	config       *config.Config
	logger       *logrus.Logger
	tools        *tools.Registry
	emailManager *email.Manager
	version      string
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, emailManager *email.Manager, logger *logrus.Logger) (*Server, error) {
	toolRegistry, err := tools.NewRegistry(cfg, emailManager, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool registry: %w", err)
	}

	return &Server{
		config:       cfg,
		logger:       logger,
		tools:        toolRegistry,
		emailManager: emailManager,
		version:      "dev",
	}, nil
}

// SetVersion sets the version advertised in serverInfo.
func (s *Server) SetVersion(version string) {
	s.version = version
}

// Run starts the server with stdio transport
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server with stdio transport")
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve answers newline-delimited JSON-RPC requests read from r until r
// is exhausted or ctx is done. Notifications get no response.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	requests := make(chan map[string]interface{})
	decodeErr := make(chan error, 1)
	go func() {
		defer close(requests)
		decoder := json.NewDecoder(r)
		for {
			var req map[string]interface{}
			if err := decoder.Decode(&req); err != nil {
				decodeErr <- err
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	encoder := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-requests:
			if !ok {
				var err error
				select {
				case err = <-decodeErr:
				default:
					return nil
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				s.logger.WithError(err).Error("Failed to decode request")
				if encErr := encoder.Encode(errorResponse(nil, codeParseError, err.Error())); encErr != nil {
					return fmt.Errorf("failed to encode response: %w", encErr)
				}
				return fmt.Errorf("failed to decode request: %w", err)
			}

			resp := s.handleRequest(ctx, req)
			if resp == nil {
				continue
			}
			if err := encoder.Encode(resp); err != nil {
				s.logger.WithError(err).Error("Failed to encode response")
				continue
			}
		}
	}
}

// handleRequest processes one request. It returns nil for notifications.
func (s *Server) handleRequest(ctx context.Context, req map[string]interface{}) map[string]interface{} {
	method, _ := req["method"].(string)
	id, hasID := req["id"]
	if !hasID || strings.HasPrefix(method, "notifications/") {
		s.logger.WithField("method", method).Debug("Notification received")
		return nil
	}

	log := s.logger.WithFields(logrus.Fields{
		"request_id": uuid.NewString(),
		"method":     method,
	})
	start := time.Now()
	defer func() { log.WithField("duration", time.Since(start)).Debug("Request handled") }()

	switch method {
	case "initialize":
		return resultResponse(id, map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "mailcore",
				"version": s.version,
			},
		})
	case "ping":
		return resultResponse(id, map[string]interface{}{})
	case "tools/list":
		return resultResponse(id, map[string]interface{}{
			"tools": s.tools.GetToolDefinitions(),
		})
	case "tools/call":
		return s.callTool(ctx, log, id, req)
	}

	return errorResponse(id, codeMethodNotFound, fmt.Sprintf("Method not found: %s", method))
}

func (s *Server) callTool(ctx context.Context, log *logrus.Entry, id interface{}, req map[string]interface{}) map[string]interface{} {
	params, _ := req["params"].(map[string]interface{})
	toolName, _ := params["name"].(string)
	if toolName == "" {
		return errorResponse(id, codeInvalidParams, "Missing tool name")
	}
	arguments, _ := params["arguments"].(map[string]interface{})
	if arguments == nil {
		arguments = map[string]interface{}{}
	}

	tool, exists := s.tools.GetTool(toolName)
	if !exists {
		return errorResponse(id, codeMethodNotFound, fmt.Sprintf("Tool not found: %s", toolName))
	}

	log = log.WithField("tool", toolName)
	result, err := tool.Execute(ctx, arguments)
	if err != nil {
		log.WithError(err).Warn("Tool failed")
		return errorResponse(id, codeInternalError, err.Error())
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		resultJSON = []byte(fmt.Sprintf("%v", result))
	}

	return resultResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": string(resultJSON),
			},
		},
	})
}

func resultResponse(id interface{}, result map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
}

func errorResponse(id interface{}, code int, message string) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	}
}
