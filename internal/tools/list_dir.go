package tools

import (
	"fmt"
	"os"
	"strings"

	"github.com/adriankopytko/chatloop/internal/llm"
)

type ListDirTool struct{}

type DirEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size,omitempty"`
}

type DirListing struct {
	Path    string     `json:"path"`
	Entries []DirEntry `json:"entries"`
}

func (ListDirTool) Name() string {
	return "list_dir"
}

func (tool ListDirTool) Definition() llm.ToolDefinition {
	return llm.NewFunctionTool(tool.Name(), "List entries in a workspace directory",
		map[string]llm.Property{
			"path": {Type: "string", Description: "Directory to list. Defaults to the workspace root."},
			"kind": {Type: "string", Description: "Only return entries of this kind", Enum: []any{"file", "dir"}},
		},
	)
}

func (ListDirTool) Execute(ctx ToolContext, arguments map[string]any) (any, error) {
	pathValue := strings.TrimSpace(StringArgument(arguments, "path", "."))
	if pathValue == "" {
		pathValue = "."
	}
	kind := StringArgument(arguments, "kind", "")

	resolvedPath, err := ctx.WorkspacePath(pathValue)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolvedPath)
	if err != nil {
		return nil, fmt.Errorf("read directory %q: %w", pathValue, err)
	}

	listing := DirListing{Path: pathValue, Entries: make([]DirEntry, 0, len(entries))}
	for _, item := range entries {
		entry := DirEntry{Name: item.Name(), Type: "file"}
		if item.IsDir() {
			entry.Type = "dir"
		} else if info, err := item.Info(); err == nil {
			entry.Size = info.Size()
		}
		if kind != "" && entry.Type != kind {
			continue
		}
		listing.Entries = append(listing.Entries, entry)
	}
	return listing, nil
}
