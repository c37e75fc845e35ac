package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opal-agent/opal/pkg/tools"
)

// WriteFileTool writes (or overwrites) a file, creating parent directories.
type WriteFileTool struct {
	cwd string
}

func NewWriteFileTool(cwd string) *WriteFileTool { return &WriteFileTool{cwd: cwd} }

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file. Creates the file if it doesn't exist, overwrites if it does. Parent directories are created automatically."
}

func (t *WriteFileTool) Parameters() json.RawMessage {
	return tools.MustSchema(tools.SimpleSchema{
		Properties: map[string]tools.Property{
			"path":    {Type: "string", Description: "Path to the file to write (relative or absolute)"},
			"content": {Type: "string", Description: "Content to write to the file"},
		},
		Required: []string{"path", "content"},
	})
}

func (t *WriteFileTool) Meta(args map[string]any) string {
	return "write " + filepath.Base(pathArg(args))
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]any, tc tools.Context) (tools.Result, error) {
	pathParam := pathArg(args)
	content, _ := args["content"].(string)
	if pathParam == "" {
		return tools.ErrorResult(fmt.Errorf("path is required")), nil
	}

	absPath := resolvePath(pathParam, workDir(tc, t.cwd))

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot create directories for %s: %w", pathParam, err)), nil
	}
	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot write %s: %w", pathParam, err)), nil
	}

	return tools.TextResult(fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), pathParam)), nil
}
