package mcp

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"
)

func TestListToolsRejectsSSETransport(t *testing.T) {
	_, err := ListTools(context.Background(), ServerSpec{Transport: "sse", URL: "https://example.com/sse"})
	if !errors.Is(err, ErrUnsupportedTransport) {
		t.Fatalf("expected ErrUnsupportedTransport, got %v", err)
	}
}

func TestListToolsRequiresCommand(t *testing.T) {
	_, err := ListTools(context.Background(), ServerSpec{Transport: "stdio"})
	if !errors.Is(err, ErrMissingCommand) {
		t.Fatalf("expected ErrMissingCommand, got %v", err)
	}
}

func TestListToolsSpeaksStdio(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}

	// A canned server: answers the handshake and the tool list, then
	// drains stdin until the client hangs up.
	script := `printf '%s\n' \
'{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","capabilities":{}}}' \
'{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"search","description":"Web search"},{"name":"fetch"}]}}'
cat > /dev/null`

	tools, err := ListTools(context.Background(), ServerSpec{
		Transport: "stdio",
		Command:   "sh",
		Args:      []string{"-c", script},
		Timeout:   10 * time.Second,
	})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].Name != "search" || tools[0].Description != "Web search" {
		t.Fatalf("unexpected first tool %+v", tools[0])
	}
}

func TestListToolsSurfacesServerErrors(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}

	script := `printf '%s\n' '{"jsonrpc":"2.0","id":1,"error":{"code":-32600,"message":"bad handshake"}}'
cat > /dev/null`

	_, err := ListTools(context.Background(), ServerSpec{
		Command: "sh",
		Args:    []string{"-c", script},
		Timeout: 10 * time.Second,
	})
	if err == nil {
		t.Fatal("expected handshake error")
	}
}

func TestListToolsTimesOut(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}

	_, err := ListTools(context.Background(), ServerSpec{
		Command: "sh",
		Args:    []string{"-c", "sleep 30"},
		Timeout: 200 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
