// Package channel implements HostChannel: the abstract command-execution
// endpoint for one host, with local and SSH backends. A Channel is not
// safe for concurrent use — all steps of a job share one Channel and run
// in strict sequence (spec.md §5).
package channel

import (
	"context"
	"strings"
	"unicode"

	"github.com/convergeops/converge/pkg/connection"
)

// Result is the outcome of a single run() call.
type Result struct {
	ExitCode int
	Stdout   string
}

// Channel is the abstract remote-or-local shell endpoint for one host.
type Channel interface {
	// Init performs whatever handshake the backend needs (SSH dial +
	// auth; a no-op for local). Called once per job before any run/probe.
	Init(ctx context.Context) error

	// Probe reports whether cmd is available on PATH.
	Probe(ctx context.Context, cmd string) (bool, error)

	// Run executes cmd under the given privilege and returns its exit
	// code and combined stdout+stderr, sanitized to valid UTF-8 with
	// control characters stripped.
	Run(ctx context.Context, cmd string, priv connection.Privilege) (Result, error)

	// Close releases any held resources (SSH client). A no-op for local.
	Close() error
}

// New builds the Channel backend appropriate for info.Mode. host is
// only meaningful for SSH modes (the local backend ignores it).
func New(info connection.Info, host string) (Channel, error) {
	switch info.Mode {
	case connection.ModeLocalCurrentUser, connection.ModeLocalNamedUser:
		return NewLocal(info), nil
	case connection.ModeSSHPassword, connection.ModeSSHKeyFile, connection.ModeSSHKeyMemory, connection.ModeSSHAgent:
		return NewSSH(info).WithHost(host), nil
	default:
		return nil, &unsupportedModeError{mode: info.Mode}
	}
}

type unsupportedModeError struct{ mode connection.Mode }

func (e *unsupportedModeError) Error() string {
	return "channel: unsupported connection mode " + string(e.mode)
}

// wrapCommand builds the shell invocation for cmd under priv, folding
// stderr into stdout, per spec.md §4.1.
func wrapCommand(cmd string, priv connection.Privilege) string {
	switch priv.Mode {
	case connection.PrivilegeSudoRoot:
		return "sudo -u root " + cmd + " 2>&1"
	case connection.PrivilegeSudoNamedUser:
		return "sudo -u " + priv.RunAs + " " + cmd + " 2>&1"
	default:
		return "sh -c \"" + shEscape(cmd) + " 2>&1\""
	}
}

// shEscape escapes backslashes, double quotes, $ and backticks for
// embedding cmd inside a double-quoted sh -c "..." wrapper.
func shEscape(cmd string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", "\\$", "`", "\\`")
	return r.Replace(cmd)
}

// probeCommand builds the `command -v` probe invocation.
func probeCommand(cmd string) string {
	return "command -v " + cmd
}

// sanitize strips non-UTF-8 bytes and control characters (C0, DEL and
// C1) other than \n and \t, per the invariant in spec.md §4.1.
func sanitize(s string) string {
	s = strings.ToValidUTF8(s, "")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
