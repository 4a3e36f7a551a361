package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	mcpgolang "github.com/metoro-io/mcp-golang"
	"github.com/metoro-io/mcp-golang/transport/stdio"

	"lumina/internal/luminaerr"
)

// processProxy runs a plugin in a child process and presents it as a
// Plugin to the rest of the runtime. Commands (load, start, stop,
// update_config, status) are issued as MCP tool calls
// over a stdio transport to the host harness running in the child;
// each call is request/response-correlated by id and, on timeout,
// fails the call without killing the child.
//
// Grounded on internal/mcp/servers.go's StartClientsFromConfig: the
// same exec.Command + Stdin/StdoutPipe + stdio.NewStdioServerTransportWithIO
// setup, reused here for plugin IPC instead of MCP tool servers.
type processProxy struct {
	manifest Manifest
	cmd      *exec.Cmd
	client   *mcpgolang.Client
}

func newProcessProxy(ctx context.Context, m Manifest, command string, args []string) (*processProxy, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = m.Dir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, luminaerr.NewTransient("plugin.process", m.ID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, luminaerr.NewTransient("plugin.process", m.ID, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, luminaerr.NewTransient("plugin.process", m.ID, err)
	}

	transport := stdio.NewStdioServerTransportWithIO(stdout, stdin)
	client := mcpgolang.NewClient(transport)
	if _, err := client.Initialize(ctx); err != nil {
		_ = cmd.Process.Kill()
		return nil, luminaerr.NewTransient("plugin.process", m.ID, fmt.Errorf("initializing host harness: %w", err))
	}

	return &processProxy{manifest: m, cmd: cmd, client: client}, nil
}

// call invokes one IPC verb (load, start, stop, update_config, status)
// and decodes its structured result.
func (p *processProxy) call(ctx context.Context, verb string, args, result any) error {
	resp, err := p.client.CallTool(ctx, verb, args)
	if err != nil {
		return luminaerr.NewTransient("plugin.process_call", p.manifest.ID+"/"+verb, err)
	}
	if result == nil || len(resp.Content) == 0 {
		return nil
	}
	// The host harness returns its structured payload as the first
	// content block's text, JSON-encoded.
	text := resp.Content[0].TextContent
	if text == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(text.Text), result); err != nil {
		return luminaerr.NewTransient("plugin.process_call", p.manifest.ID+"/"+verb, err)
	}
	return nil
}

func (p *processProxy) Initialize(ctx context.Context, _ Context) error {
	if err := p.call(ctx, "load", map[string]any{"manifest": p.manifest}, nil); err != nil {
		return err
	}
	return p.call(ctx, "start", nil, nil)
}

func (p *processProxy) Shutdown(ctx context.Context) error {
	if err := p.call(ctx, "stop", nil, nil); err != nil {
		_ = p.cmd.Process.Kill()
		return err
	}
	return p.cmd.Process.Kill()
}

// UpdateConfig forwards a config change to the running child.
func (p *processProxy) UpdateConfig(ctx context.Context, config map[string]any) error {
	return p.call(ctx, "update_config", config, nil)
}

func (p *processProxy) GetStatus() Status {
	var status Status
	if err := p.call(context.Background(), "status", nil, &status); err != nil {
		return Status{ID: p.manifest.ID, Healthy: false, Detail: map[string]any{"error": err.Error()}}
	}
	status.ID = p.manifest.ID
	return status
}
