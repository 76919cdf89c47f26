package tools

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/adriankopytko/chatloop/internal/llm"
)

const defaultReadLimit = 256 * 1024

type ReadTool struct{}

func (ReadTool) Name() string {
	return "read_file"
}

func (tool ReadTool) Definition() llm.ToolDefinition {
	return llm.NewFunctionTool(tool.Name(), "Read and return the contents of a file inside the workspace",
		map[string]llm.Property{
			"file_path": {Type: "string", Description: "Path to the file, relative to the workspace root"},
			"max_bytes": {Type: "integer", Description: "Maximum number of bytes to return. Defaults to 262144."},
		},
		"file_path",
	)
}

func (tool ReadTool) Execute(ctx ToolContext, arguments map[string]any) (any, error) {
	filePath := strings.TrimSpace(StringArgument(arguments, "file_path", ""))
	if filePath == "" {
		return nil, fmt.Errorf("file_path must be a non-empty string")
	}
	limit := IntArgument(arguments, "max_bytes", defaultReadLimit)
	if limit <= 0 {
		return nil, fmt.Errorf("max_bytes must be positive, got %d", limit)
	}

	resolvedPath, err := ctx.WorkspacePath(filePath)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(resolvedPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filePath, err)
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filePath, err)
	}
	ctx.debugf("event=read_file path=%s bytes=%d", filePath, len(content))
	return string(content), nil
}
