// Package mcp speaks just enough of the Model Context Protocol to inspect
// a server: it launches stdio servers, performs the initialize handshake,
// and lists the tools they expose.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const protocolVersion = "2024-11-05"

var (
	ErrUnsupportedTransport = errors.New("unsupported mcp transport")
	ErrMissingCommand       = errors.New("stdio transport requires a command")
)

// Tool describes one tool an MCP server exposes.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ServerSpec describes how to reach an MCP server.
type ServerSpec struct {
	Transport string
	Command   string
	Args      []string
	URL       string
	Env       map[string]string
	Timeout   time.Duration
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ListTools connects to the server, performs the initialize handshake,
// and returns its tool list. Only the stdio transport is supported; SSE
// servers return ErrUnsupportedTransport.
func ListTools(ctx context.Context, spec ServerSpec) ([]Tool, error) {
	switch strings.ToLower(strings.TrimSpace(spec.Transport)) {
	case "stdio", "":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransport, spec.Transport)
	}
	if strings.TrimSpace(spec.Command) == "" {
		return nil, ErrMissingCommand
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Command, spec.Args...)
	cmd.Env = os.Environ()
	for key, value := range spec.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open mcp stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open mcp stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start mcp server: %w", err)
	}
	defer func() {
		_ = stdin.Close()
		_ = cmd.Wait()
	}()

	out := bufio.NewScanner(stdout)
	out.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	send := func(req rpcRequest) error {
		payload, err := json.Marshal(req)
		if err != nil {
			return err
		}
		payload = append(payload, '\n')
		if _, err := stdin.Write(payload); err != nil {
			return fmt.Errorf("write mcp request: %w", err)
		}
		return nil
	}

	receive := func(id int) (json.RawMessage, error) {
		for out.Scan() {
			if err := runCtx.Err(); err != nil {
				return nil, err
			}
			line := strings.TrimSpace(out.Text())
			if line == "" {
				continue
			}
			var resp rpcResponse
			if err := json.Unmarshal([]byte(line), &resp); err != nil {
				// Servers may interleave log lines with protocol output.
				continue
			}
			if resp.ID != id {
				continue
			}
			if resp.Error != nil {
				return nil, fmt.Errorf("mcp server error %d: %s", resp.Error.Code, resp.Error.Message)
			}
			return resp.Result, nil
		}
		if err := out.Err(); err != nil {
			return nil, fmt.Errorf("read mcp response: %w", err)
		}
		if err := runCtx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("mcp server closed the stream")
	}

	if err := send(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "scholar-backend", "version": "1.0"},
		},
	}); err != nil {
		return nil, err
	}
	if _, err := receive(1); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if err := send(rpcRequest{JSONRPC: "2.0", Method: "notifications/initialized"}); err != nil {
		return nil, err
	}

	if err := send(rpcRequest{JSONRPC: "2.0", ID: 2, Method: "tools/list"}); err != nil {
		return nil, err
	}
	result, err := receive(2)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var parsed struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("decode tools list: %w", err)
	}
	return parsed.Tools, nil
}
