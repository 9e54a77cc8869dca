package guestagent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Installer provisions a dependency list inside the guest, invoked by the
// in-band "install" command.
type Installer interface {
	Install(ctx context.Context, dependencies []string) error
}

const installDeadline = 300 * time.Second
const tailLimit = 500

// ShellInstaller shells out to the preferred package installer, falling
// back to the system installer with equivalent flags when the preferred
// one is unavailable on PATH.
type ShellInstaller struct{}

func (ShellInstaller) Install(ctx context.Context, dependencies []string) error {
	if len(dependencies) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, installDeadline)
	defer cancel()

	args := append([]string{"pip", "install", "--system", "--no-progress"}, dependencies...)
	cmd := exec.CommandContext(ctx, "uv", args...)
	if out, err := runCapturing(cmd); err != nil {
		if _, lookErr := exec.LookPath("uv"); lookErr != nil {
			fallback := append([]string{"install", "--progress-bar", "off"}, dependencies...)
			cmd = exec.CommandContext(ctx, "pip", fallback...)
			if out2, err2 := runCapturing(cmd); err2 != nil {
				return fmt.Errorf("install failed: %s", tail(out2))
			}
			return nil
		}
		return fmt.Errorf("install failed: %s", tail(out))
	}
	return nil
}

func runCapturing(cmd *exec.Cmd) (string, error) {
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}

func tail(s string) string {
	if len(s) <= tailLimit {
		return s
	}
	return s[len(s)-tailLimit:]
}

// NoopInstaller reports every install as immediately successful, used by
// the in-process hypervisor stub where there is no real guest filesystem
// to install into.
type NoopInstaller struct{}

func (NoopInstaller) Install(ctx context.Context, dependencies []string) error { return nil }
