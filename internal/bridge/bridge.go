// Package bridge manages an optional locally-launched instance of the server
// under test. The harness itself only ever talks to the bridge over the
// transport; this package just gets a process running and tears it down.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"time"

	shellwords "github.com/mattn/go-shellwords"
)

const readyPollInterval = 100 * time.Millisecond

// Process is a running bridge instance.
type Process struct {
	cmd *exec.Cmd
}

// Start parses command with shell-style word splitting and launches it. The
// child inherits stderr so bridge diagnostics land in the harness output.
func Start(ctx context.Context, command string) (*Process, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse server command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("server command is empty")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start server: %w", err)
	}
	return &Process{cmd: cmd}, nil
}

// WaitReady blocks until the bridge accepts TCP connections on the address
// named by wsURL, or ctx expires.
func (p *Process) WaitReady(ctx context.Context, wsURL string) error {
	u, err := url.Parse(wsURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "80")
	}
	for {
		conn, err := net.DialTimeout("tcp", addr, readyPollInterval)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("server not ready at %s: %w", addr, ctx.Err())
		case <-time.After(readyPollInterval):
		}
	}
}

// Stop kills the bridge and reaps it. The exit status is ignored; a killed
// server is the expected shutdown path.
func (p *Process) Stop() {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	p.cmd.Wait()
}
