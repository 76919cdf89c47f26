package tools

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// ErrOutsideWorkspace is returned for paths that leave the workspace root.
var ErrOutsideWorkspace = errors.New("path outside workspace")

type Logger interface {
	Debugf(format string, args ...interface{})
}

// ToolContext carries per-call state into a tool. Path tools resolve
// relative paths against CWD and refuse anything outside AllowedRoot.
type ToolContext struct {
	Context       context.Context
	CWD           string
	AllowedRoot   string
	Timeout       time.Duration
	CorrelationID string
	ToolCallID    string
	Logger        Logger
}

func (ctx ToolContext) debugf(format string, args ...interface{}) {
	if ctx.Logger != nil {
		ctx.Logger.Debugf(format, args...)
	}
}

// Parent returns the call's context, or Background when none was set.
func (ctx ToolContext) Parent() context.Context {
	if ctx.Context != nil {
		return ctx.Context
	}
	return context.Background()
}

func (ctx ToolContext) TimeoutOr(fallback time.Duration) time.Duration {
	if ctx.Timeout > 0 {
		return ctx.Timeout
	}
	return fallback
}

// WorkspacePath joins a relative pathValue onto CWD (or AllowedRoot) and
// returns the symlink-resolved path inside AllowedRoot. Paths that leave
// the root lexically are rejected; symlinks are resolved as if AllowedRoot
// were the filesystem root, so a link can never point outside it and an
// absolute link target is read relative to AllowedRoot. The path itself
// need not exist.
func (ctx ToolContext) WorkspacePath(pathValue string) (string, error) {
	root := strings.TrimSpace(ctx.AllowedRoot)
	if root == "" {
		return "", fmt.Errorf("%w: no workspace root configured", ErrOutsideWorkspace)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("workspace root %s: %w", root, err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", fmt.Errorf("workspace root %s: %w", root, err)
	}

	target := strings.TrimSpace(pathValue)
	if target == "" {
		target = "."
	}
	if !filepath.IsAbs(target) {
		base := strings.TrimSpace(ctx.CWD)
		if base == "" {
			base = absRoot
		}
		target = filepath.Join(base, target)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", pathValue, err)
	}

	rel, ok := relativeTo(absRoot, absTarget)
	if !ok {
		if rel, ok = relativeTo(realRoot, absTarget); !ok {
			return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, pathValue)
		}
	}

	resolved, err := securejoin.SecureJoin(realRoot, rel)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", pathValue, err)
	}
	return resolved, nil
}

// relativeTo returns path relative to root when it does not climb out.
func relativeTo(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
