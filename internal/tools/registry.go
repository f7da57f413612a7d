// Package tools manages the tool surface an NPC can call during a turn.
//
// Tools come from two sources: built-in Go functions registered in-process,
// and external MCP servers connected via stdio or streamable-HTTP transports
// using the official MCP Go SDK. Both are held in a project-scoped registry;
// a tool registered under a project ID is visible only to NPCs of that
// project, while tools registered under the empty project ID are global.
//
// Every NPC additionally carries [ExitDefinition], the built-in
// conversation-control tool handled by the turn controller itself rather
// than this registry.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hollowmere/parley/pkg/provider/llm"
)

// ErrNoHandler is returned by [Registry.Execute] for a tool registered via
// [Registry.RegisterClientTool]: the call is valid but must be resolved by
// the external game client rather than the server.
var ErrNoHandler = errors.New("tools: no handler registered")

// Transport selects how the registry connects to an external MCP server.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable-http"
)

// ServerConfig describes an external MCP server to connect to.
type ServerConfig struct {
	// Name identifies the server within the registry.
	Name string `yaml:"name"`

	// ProjectID scopes the server's tools. Empty means global.
	ProjectID string `yaml:"project_id"`

	// Transport selects stdio or streamable-http.
	Transport Transport `yaml:"transport"`

	// Command is the executable plus arguments for stdio transport,
	// split on spaces.
	Command string `yaml:"command"`

	// Env holds additional environment variables for stdio transport.
	Env map[string]string `yaml:"env"`

	// URL is the endpoint for streamable-http transport.
	URL string `yaml:"url"`
}

// Builtin is a tool implemented as a Go function that runs in-process,
// bypassing MCP protocol overhead.
type Builtin struct {
	// Definition is the tool's public descriptor presented to the LLM.
	Definition llm.ToolDefinition

	// Handler is invoked when Execute is called for this tool. args is a
	// JSON object string (e.g. "{}" or `{"key":"value"}`). Returning a
	// non-nil error marks the result as an error.
	Handler func(ctx context.Context, args string) (string, error)
}

// Result is the outcome of one tool execution.
type Result struct {
	// Content is the tool output, fed back to the LLM as a tool message.
	Content string

	// IsError marks an application-level failure. The content then holds
	// the error description.
	IsError bool

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// toolEntry holds the metadata for one registered tool.
type toolEntry struct {
	def        llm.ToolDefinition
	projectID  string
	serverName string
	builtinFn  func(ctx context.Context, args string) (string, error)
}

// serverConn holds a live connection to an external MCP server.
type serverConn struct {
	session *mcpsdk.ClientSession
}

// Registry is the project-scoped tool catalogue.
// All methods are safe for concurrent use. Create instances with [NewRegistry].
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry  // key: projectID + "/" + tool name
	servers map[string]serverConn // key: server name

	// client is reused across all server connections. The SDK allows a
	// single Client to manage multiple sessions concurrently.
	client *mcpsdk.Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "parley-tools", Version: "1.0.0"},
		nil,
	)
	return &Registry{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client:  client,
	}
}

func toolKey(projectID, name string) string { return projectID + "/" + name }

// RegisterBuiltin registers an in-process tool under projectID. An empty
// projectID makes the tool global. A tool with the same name in the same
// scope is replaced.
func (r *Registry) RegisterBuiltin(projectID string, tool Builtin) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("tools: builtin must have a non-empty name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tools: builtin %q must have a non-nil handler", tool.Definition.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[toolKey(projectID, tool.Definition.Name)] = toolEntry{
		def:       tool.Definition,
		projectID: projectID,
		builtinFn: tool.Handler,
	}
	return nil
}

// RegisterClientTool registers a definition-only tool under projectID. The
// tool is offered to the LLM and validated like any other, but Execute
// returns [ErrNoHandler]: the game client observing the tool_call event is
// responsible for carrying it out.
func (r *Registry) RegisterClientTool(projectID string, def llm.ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tools: client tool must have a non-empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[toolKey(projectID, def.Name)] = toolEntry{
		def:       def,
		projectID: projectID,
	}
	return nil
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue under cfg.ProjectID. If a server with the same Name is
// already registered, the old connection is closed and replaced.
func (r *Registry) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tools: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("tools: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}

	default:
		return fmt.Errorf("tools: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := r.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tools: list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.servers[cfg.Name]; ok {
		_ = old.session.Close()
		for key, t := range r.tools {
			if t.serverName == cfg.Name {
				delete(r.tools, key)
			}
		}
	}
	r.servers[cfg.Name] = serverConn{session: session}

	for _, t := range discovered {
		r.tools[toolKey(cfg.ProjectID, t.Name)] = toolEntry{
			def: llm.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToMap(t.InputSchema),
			},
			projectID:  cfg.ProjectID,
			serverName: cfg.Name,
		}
	}
	return nil
}

// ProjectTools returns the definitions of all tools visible to projectID:
// global tools plus the project's own, sorted by name. The exit tool is not
// included; callers append [ExitDefinition] themselves.
func (r *Registry) ProjectTools(projectID string) []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var defs []llm.ToolDefinition
	for _, e := range r.tools {
		if e.projectID == "" || e.projectID == projectID {
			defs = append(defs, e.def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Lookup returns the definition of the named tool visible to projectID, or
// false if no such tool exists. Project-scoped tools shadow global ones.
func (r *Registry) Lookup(projectID, name string) (llm.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.tools[toolKey(projectID, name)]; ok {
		return e.def, true
	}
	if e, ok := r.tools[toolKey("", name)]; ok {
		return e.def, true
	}
	return llm.ToolDefinition{}, false
}

// Execute calls the named tool with JSON-encoded args on behalf of projectID.
// args must be a valid JSON object string; "{}" is valid for parameter-less
// tools. A non-nil *Result is returned even when Result.IsError is true; a Go
// error is returned only on transport or protocol failure, or when the tool
// is unknown.
func (r *Registry) Execute(ctx context.Context, projectID, name, args string) (*Result, error) {
	r.mu.RLock()
	entry, ok := r.tools[toolKey(projectID, name)]
	if !ok {
		entry, ok = r.tools[toolKey("", name)]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tools: tool %q not found for project %q", name, projectID)
	}

	start := time.Now()
	var res *Result
	var err error
	switch {
	case entry.builtinFn != nil:
		res, err = r.executeBuiltin(ctx, entry, args)
	case entry.serverName != "":
		res, err = r.executeMCP(ctx, entry, args)
	default:
		return nil, ErrNoHandler
	}
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (r *Registry) executeBuiltin(ctx context.Context, entry toolEntry, args string) (*Result, error) {
	output, err := entry.builtinFn(ctx, args)
	if err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	return &Result{Content: output}, nil
}

func (r *Registry) executeMCP(ctx context.Context, entry toolEntry, args string) (*Result, error) {
	r.mu.RLock()
	conn, ok := r.servers[entry.serverName]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tools: server %q not found for tool %q", entry.serverName, entry.def.Name)
	}

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return nil, fmt.Errorf("tools: invalid args JSON for tool %q: %w", entry.def.Name, err)
		}
	}

	callResult, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      entry.def.Name,
		Arguments: argsMap,
	})
	if err != nil {
		return nil, fmt.Errorf("tools: call to tool %q failed: %w", entry.def.Name, err)
	}

	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return &Result{Content: sb.String(), IsError: callResult.IsError}, nil
}

// Close shuts down all server connections and clears the registry.
// After Close returns the Registry must not be used again.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, conn := range r.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tools: close server %q: %w", name, err)
		}
		delete(r.servers, name)
	}
	r.tools = make(map[string]toolEntry)
	return firstErr
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
