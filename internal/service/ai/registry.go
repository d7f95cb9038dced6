package ai

import (
	"context"
	"log/slog"

	"nudgebot/internal/config"
)

// WorkspaceReader is everything the builtin tools read from the workspace.
type WorkspaceReader interface {
	TaskReader
	AttachmentStore
}

// InitTools builds the builtin tool registry. Tools whose backends cannot be
// initialised are left out.
func InitTools(ctx context.Context, cfg *config.Config, ws WorkspaceReader) []Tool {
	tools := []Tool{
		NewTaskOverviewTool(ws),
		NewDueSoonTool(ws),
		NewEncouragementTool(ws),
	}
	if search, err := NewWebSearchTool(ctx, cfg.Search); err != nil {
		slog.Warn("web search tool disabled", "err", err)
	} else if search != nil {
		tools = append(tools, search)
	}
	if reader, err := NewAttachmentReader(ctx, ws, cfg.BasicConfig.AttachmentBaseDir); err != nil {
		slog.Warn("attachment reader disabled", "err", err)
	} else {
		tools = append(tools, reader)
	}
	return tools
}
