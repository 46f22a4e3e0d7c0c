// Package envinfo gathers best-effort host, toolchain and git annotations for
// the env event. Nothing here affects the run verdict; failures degrade to
// "unknown" rather than erroring.
package envinfo

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const probeTimeout = 5 * time.Second

// CommandVersion returns the first line of `command --version`, or "unknown".
func CommandVersion(command string) string {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, command, "--version").Output()
	if err != nil {
		return "unknown"
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return "unknown"
	}
	return lines[0]
}

// GitSHA returns the short SHA of the working tree, or "unknown".
func GitSHA() string {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	sha := strings.TrimSpace(string(out))
	if sha == "" {
		return "unknown"
	}
	return sha
}

// GitDirty reports whether the working tree has uncommitted changes.
// Best-effort: any git failure reads as clean.
func GitDirty() bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "git", "status", "--porcelain").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) != ""
}

// Host returns the machine's hostname, falling back to the platform name.
func Host() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return runtime.GOOS + "/" + runtime.GOARCH
}

// Platform returns the OS name for browser_env annotations.
func Platform() string {
	return runtime.GOOS
}
