// Package mcp bridges external tool server processes into the tool registry.
//
// A server is a standalone executable speaking JSON lines over stdin/stdout:
//
//  1. On startup the runtime sends:
//     {"type":"list_tools"}
//     and the server answers with its tool definitions:
//     {"tools":[{"name":"...","description":"...","parameters":{...}}]}
//
//  2. For each tool call the runtime sends:
//     {"type":"call","tool":"...","call_id":"...","params":{...}}
//     and the server answers:
//     {"text":"...","error":false}
//
// Servers are launched once per session and kept alive. Calls to one server
// are serialised; a server that dies is relaunched on the next call.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/opal-agent/opal/pkg/tools"
)

// ServerSpec describes one external tool server process.
type ServerSpec struct {
	Name string
	Path string
	Args []string
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type toolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type listToolsResponse struct {
	Tools []toolDef `json:"tools"`
}

type callRequest struct {
	Type   string         `json:"type"`
	Tool   string         `json:"tool"`
	CallID string         `json:"call_id"`
	Params map[string]any `json:"params"`
}

type callResponse struct {
	Text  string `json:"text"`
	Error bool   `json:"error"`
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client owns one server process. The zero value is unusable; use NewClient.
type Client struct {
	spec   ServerSpec
	logger *slog.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *json.Encoder
	dec   *json.Decoder
	defs  []toolDef
}

// NewClient launches the server, lists its tools, and returns the client.
// The process stays alive until Close.
func NewClient(spec ServerSpec, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Client{spec: spec, logger: logger}
	if err := c.start(); err != nil {
		return nil, err
	}
	return c, nil
}

// start launches the process and performs the list_tools handshake.
// Caller holds mu (or is the constructor).
func (c *Client) start() error {
	cmd := exec.Command(c.spec.Path, c.spec.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("mcp %s: stdin pipe: %w", c.spec.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("mcp %s: stdout pipe: %w", c.spec.Name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mcp %s: start: %w", c.spec.Name, err)
	}

	enc := json.NewEncoder(stdin)
	dec := json.NewDecoder(bufio.NewReader(stdout))

	if err := enc.Encode(map[string]string{"type": "list_tools"}); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("mcp %s: list_tools request: %w", c.spec.Name, err)
	}
	var resp listToolsResponse
	if err := dec.Decode(&resp); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("mcp %s: list_tools response: %w", c.spec.Name, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.enc = enc
	c.dec = dec
	c.defs = resp.Tools
	return nil
}

// stop kills the process. Caller holds mu.
func (c *Client) stop() {
	if c.cmd == nil {
		return
	}
	_ = c.cmd.Process.Kill()
	_ = c.cmd.Wait()
	c.cmd = nil
}

// Call invokes one tool on the server. Calls are serialised; a dead process
// is relaunched before the call. Cancelling ctx kills the process, which is
// restarted on the next call.
func (c *Client) Call(ctx context.Context, tool, callID string, params map[string]any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil {
		c.logger.Info("relaunching tool server", "server", c.spec.Name)
		if err := c.start(); err != nil {
			return "", err
		}
	}

	req := callRequest{Type: "call", Tool: tool, CallID: callID, Params: params}
	if err := c.enc.Encode(req); err != nil {
		c.stop()
		return "", fmt.Errorf("mcp %s: send call: %w", c.spec.Name, err)
	}

	type outcome struct {
		resp callResponse
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		var resp callResponse
		err := c.dec.Decode(&resp)
		ch <- outcome{resp, err}
	}()

	select {
	case <-ctx.Done():
		c.stop()
		<-ch
		return "", ctx.Err()
	case o := <-ch:
		if o.err != nil {
			c.stop()
			return "", fmt.Errorf("mcp %s: read response: %w", c.spec.Name, o.err)
		}
		if o.resp.Error {
			return "", fmt.Errorf("%s", o.resp.Text)
		}
		return o.resp.Text, nil
	}
}

// Close terminates the server process.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop()
}

// Tools returns one tools.Tool per definition the server advertised. Tool
// names are prefixed "mcp_<server>_" to keep registries collision-free.
func (c *Client) Tools() []tools.Tool {
	out := make([]tools.Tool, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, &bridgedTool{client: c, def: d})
	}
	return out
}

// ---------------------------------------------------------------------------
// Bridged tool
// ---------------------------------------------------------------------------

type bridgedTool struct {
	client *Client
	def    toolDef
}

func (t *bridgedTool) Name() string {
	return "mcp_" + t.client.spec.Name + "_" + t.def.Name
}

func (t *bridgedTool) Description() string { return t.def.Description }

func (t *bridgedTool) Parameters() json.RawMessage {
	if len(t.def.Parameters) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.def.Parameters
}

func (t *bridgedTool) Meta(args map[string]any) string {
	return t.client.spec.Name + ":" + t.def.Name
}

func (t *bridgedTool) Execute(ctx context.Context, args map[string]any, tc tools.Context) (tools.Result, error) {
	text, err := t.client.Call(ctx, t.def.Name, tc.CallID, args)
	if err != nil {
		return tools.ErrorResult(err), nil
	}
	return tools.TextResult(text), nil
}

// ---------------------------------------------------------------------------
// Set
// ---------------------------------------------------------------------------

// Set owns the clients for one session. Servers that fail to launch are
// skipped with a log line rather than failing the whole session.
type Set struct {
	clients []*Client
	logger  *slog.Logger
}

// NewSet launches every server and returns the set.
func NewSet(specs []ServerSpec, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Set{logger: logger}
	for _, spec := range specs {
		c, err := NewClient(spec, logger)
		if err != nil {
			logger.Error("tool server failed to start", "server", spec.Name, "error", err)
			continue
		}
		s.clients = append(s.clients, c)
	}
	return s
}

// Register adds every bridged tool to reg, replacing on name collision.
func (s *Set) Register(reg *tools.Registry) {
	for _, c := range s.clients {
		for _, t := range c.Tools() {
			reg.RegisterOrReplace(t)
		}
	}
}

// Close terminates all server processes.
func (s *Set) Close() {
	for _, c := range s.clients {
		c.Close()
	}
}
