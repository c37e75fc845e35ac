package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/opal-agent/opal/pkg/tools"
)

// BashTool executes shell commands. Output is tail-truncated to
// DefaultMaxLines / DefaultMaxBytes; when it exceeds the limit the full
// output is spilled to a temp file named in the result.
type BashTool struct {
	cwd      string
	executor Executor
}

// NewBashTool creates a BashTool that runs commands locally.
func NewBashTool(cwd string) *BashTool {
	return &BashTool{cwd: cwd, executor: &LocalExecutor{}}
}

// NewBashToolWithExecutor delegates execution to exec. Use this to run
// commands in a container, over SSH, or in a sandbox.
func NewBashToolWithExecutor(cwd string, exec Executor) *BashTool {
	if exec == nil {
		exec = &LocalExecutor{}
	}
	return &BashTool{cwd: cwd, executor: exec}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Description() string {
	return fmt.Sprintf(
		"Execute a bash command in the working directory. Returns stdout and stderr. "+
			"Output is truncated to the last %d lines or %s (whichever is hit first); "+
			"truncated output is saved in full to a temp file. "+
			"Optionally provide a timeout in seconds.",
		DefaultMaxLines, FormatSize(DefaultMaxBytes),
	)
}

func (t *BashTool) Parameters() json.RawMessage {
	return tools.MustSchema(tools.SimpleSchema{
		Properties: map[string]tools.Property{
			"command": {Type: "string", Description: "Bash command to execute"},
			"timeout": {Type: "number", Description: "Timeout in seconds (optional, no default timeout)"},
		},
		Required: []string{"command"},
	})
}

func (t *BashTool) Meta(args map[string]any) string {
	cmd, _ := args["command"].(string)
	if len(cmd) > 60 {
		cmd = cmd[:60] + "…"
	}
	return cmd
}

func (t *BashTool) Execute(ctx context.Context, args map[string]any, tc tools.Context) (tools.Result, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return tools.ErrorResult(fmt.Errorf("command is required")), nil
	}

	var timeoutSecs float64
	switch n := args["timeout"].(type) {
	case float64:
		timeoutSecs = n
	case int:
		timeoutSecs = float64(n)
	}
	if timeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSecs*float64(time.Second)))
		defer cancel()
	}

	return t.run(ctx, command, workDir(tc, t.cwd), timeoutSecs)
}

func (t *BashTool) run(ctx context.Context, command, cwd string, timeoutSecs float64) (tools.Result, error) {
	// Rolling window of recent output, shared with the executor's onData
	// callback.
	var mu sync.Mutex
	var chunks [][]byte
	var chunksBytes int
	var totalBytes int
	var tempFile *os.File
	var tempPath string

	const maxChunksBytes = DefaultMaxBytes * 2

	onData := func(chunk string) {
		data := []byte(chunk)
		mu.Lock()
		defer mu.Unlock()
		totalBytes += len(data)

		// Once over the limit, spill everything seen so far to a temp file.
		if totalBytes > DefaultMaxBytes && tempFile == nil {
			if tf, terr := os.CreateTemp("", "opal-bash-*.log"); terr == nil {
				tempFile = tf
				tempPath = tf.Name()
				for _, c := range chunks {
					tf.Write(c)
				}
			}
		}
		if tempFile != nil {
			tempFile.Write(data)
		}

		chunks = append(chunks, data)
		chunksBytes += len(data)
		for chunksBytes > maxChunksBytes && len(chunks) > 1 {
			chunksBytes -= len(chunks[0])
			chunks = chunks[1:]
		}
	}

	_, execErr := t.executor.Exec(ctx, command, cwd, onData)

	if tempFile != nil {
		tempFile.Close()
	}

	mu.Lock()
	combined := combineChunks(chunks)
	tp := tempPath
	tb := totalBytes
	mu.Unlock()

	fullOutput := string(combined)
	tr := TruncateTail(fullOutput, DefaultMaxLines, DefaultMaxBytes)

	timedOut := ctx.Err() == context.DeadlineExceeded
	aborted := ctx.Err() == context.Canceled

	out := tr.Content
	if out == "" {
		out = "(no output)"
	}

	if tr.Truncated {
		startLine := tr.TotalLines - tr.OutputLines + 1
		endLine := tr.TotalLines
		switch {
		case tr.LastLinePartial:
			out += fmt.Sprintf(
				"\n\n[Showing last %s of line %d. Full output: %s]",
				FormatSize(tr.OutputBytes), endLine, tp,
			)
		case tr.TruncatedBy == "lines":
			out += fmt.Sprintf(
				"\n\n[Showing lines %d-%d of %d. Full output: %s]",
				startLine, endLine, tr.TotalLines, tp,
			)
		default:
			out += fmt.Sprintf(
				"\n\n[Showing lines %d-%d of %d (%s limit). Full output: %s]",
				startLine, endLine, tr.TotalLines, FormatSize(DefaultMaxBytes), tp,
			)
		}
	} else if tb > DefaultMaxBytes && tp != "" {
		out += fmt.Sprintf("\n\n[Full output: %s]", tp)
	}

	switch {
	case aborted:
		if out == "(no output)" {
			out = ""
		} else {
			out += "\n\n"
		}
		return tools.Result{OK: false, Text: out + "Command aborted"}, nil

	case timedOut:
		if out == "(no output)" {
			out = ""
		} else {
			out += "\n\n"
		}
		return tools.Result{OK: false, Text: out + fmt.Sprintf("Command timed out after %.0f seconds", timeoutSecs)}, nil

	case execErr != nil:
		out += fmt.Sprintf("\n\nCommand failed: %v", execErr)
		return tools.Result{OK: false, Text: out}, nil
	}

	return tools.TextResult(out), nil
}

func combineChunks(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
