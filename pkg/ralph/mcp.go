package ralph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// readOnlyTools is the subset of the Toolkit catalog exposed over MCP.
// write_file/edit_file/run_command/git_commit/delete_file are deliberately
// excluded: an MCP client sits outside a task's lifecycle and is not
// subject to the same backpressure gating the loop itself goes through.
var readOnlyTools = map[string]bool{
	"read_file":    true,
	"list_files":   true,
	"search_files": true,
	"git_status":   true,
	"git_diff":     true,
}

// MCPServer exposes a Toolkit's read-only tools over the Model Context
// Protocol, so an external MCP-speaking client can inspect a task's working
// directory directly, independent of the LLM facade driving the loop.
type MCPServer struct {
	toolkit *Toolkit
	server  *server.MCPServer
}

// NewMCPServer builds an MCP server bound to toolkit's working directory.
// The toolkit's shell-based tools (git_status, git_diff) only respond if
// the toolkit itself was constructed with allowShell.
func NewMCPServer(toolkit *Toolkit) *MCPServer {
	s := &MCPServer{toolkit: toolkit}

	mcpServer := server.NewMCPServer(
		"ralph-toolkit",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	s.registerTools(mcpServer)
	s.server = mcpServer
	return s
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("read_file",
			mcp.WithDescription("Read a file's contents from the task's working directory, optionally a line range."),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the working directory")),
			mcp.WithNumber("start_line", mcp.Description("First line to include, 1-indexed")),
			mcp.WithNumber("end_line", mcp.Description("Last line to include, 1-indexed")),
		),
		s.execute("read_file", func(r mcp.CallToolRequest) map[string]any {
			args := map[string]any{"path": r.GetString("path", "")}
			if v := r.GetInt("start_line", 0); v > 0 {
				args["start_line"] = v
			}
			if v := r.GetInt("end_line", 0); v > 0 {
				args["end_line"] = v
			}
			return args
		}),
	)

	mcpServer.AddTool(
		mcp.NewTool("list_files",
			mcp.WithDescription("List files under a directory in the working directory."),
			mcp.WithString("path", mcp.Description("Directory to list, defaults to the working directory root")),
			mcp.WithString("pattern", mcp.Description("Glob pattern filenames must match")),
			mcp.WithBoolean("recursive", mcp.Description("Walk subdirectories")),
		),
		s.execute("list_files", func(r mcp.CallToolRequest) map[string]any {
			return map[string]any{
				"path":      r.GetString("path", "."),
				"pattern":   r.GetString("pattern", ""),
				"recursive": r.GetBool("recursive", false),
			}
		}),
	)

	mcpServer.AddTool(
		mcp.NewTool("search_files",
			mcp.WithDescription("Search file contents for a substring or regex pattern."),
			mcp.WithString("pattern", mcp.Required(), mcp.Description("Substring or regular expression to search for")),
			mcp.WithString("path", mcp.Description("Directory to search, defaults to the working directory root")),
			mcp.WithString("file_pattern", mcp.Description("Glob pattern restricting which files are searched")),
			mcp.WithNumber("context_lines", mcp.Description("Lines of context to include around each match")),
		),
		s.execute("search_files", func(r mcp.CallToolRequest) map[string]any {
			return map[string]any{
				"pattern":       r.GetString("pattern", ""),
				"path":          r.GetString("path", "."),
				"file_pattern":  r.GetString("file_pattern", ""),
				"context_lines": r.GetInt("context_lines", 0),
			}
		}),
	)

	mcpServer.AddTool(
		mcp.NewTool("git_status",
			mcp.WithDescription("Show the working directory's git status."),
		),
		s.execute("git_status", func(r mcp.CallToolRequest) map[string]any { return map[string]any{} }),
	)

	mcpServer.AddTool(
		mcp.NewTool("git_diff",
			mcp.WithDescription("Show a git diff, optionally staged or scoped to a path."),
			mcp.WithString("path", mcp.Description("Restrict the diff to this path")),
			mcp.WithBoolean("staged", mcp.Description("Show staged changes instead of the working tree")),
		),
		s.execute("git_diff", func(r mcp.CallToolRequest) map[string]any {
			return map[string]any{
				"path":   r.GetString("path", ""),
				"staged": r.GetBool("staged", false),
			}
		}),
	)
}

// execute adapts one read-only Toolkit tool to mcp-go's CallToolRequest
// shape, reusing the same Execute dispatch the LoopAgent drives tool calls
// through. toArgs translates the typed MCP request fields into the opaque
// argument map Toolkit.Execute expects.
func (s *MCPServer) execute(toolName string, toArgs func(mcp.CallToolRequest) map[string]any) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !readOnlyTools[toolName] {
			return mcp.NewToolResultError(fmt.Sprintf("%s is not exposed over MCP", toolName)), nil
		}
		call := s.toolkit.Execute(ctx, toolName, toArgs(request))
		if call.Error != "" {
			return mcp.NewToolResultError(call.Error), nil
		}
		data, err := json.MarshalIndent(call.Result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

// ServeStdio runs the MCP server on stdio until the process exits.
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.server)
}
