package channel

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"github.com/convergeops/converge/pkg/cerr"
	"github.com/convergeops/converge/pkg/connection"
)

// LocalChannel runs commands on the machine converge itself is running
// on, optionally as a different local user. It is a direct generalization
// of the teacher's RealExecutor (os/exec based, buffered stdout/stderr,
// exit code extracted via *exec.ExitError).
type LocalChannel struct {
	info connection.Info
}

// NewLocal builds a LocalChannel for the given connection info.
func NewLocal(info connection.Info) *LocalChannel {
	return &LocalChannel{info: info}
}

// Init is a no-op for the local backend.
func (c *LocalChannel) Init(ctx context.Context) error { return nil }

// Close is a no-op for the local backend.
func (c *LocalChannel) Close() error { return nil }

func (c *LocalChannel) Probe(ctx context.Context, cmd string) (bool, error) {
	res, err := c.exec(ctx, probeCommand(cmd))
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func (c *LocalChannel) Run(ctx context.Context, cmd string, priv connection.Privilege) (Result, error) {
	return c.exec(ctx, wrapCommand(cmd, priv))
}

// exec runs wrapped (already privilege/shell-wrapped) through /bin/sh.
func (c *LocalChannel) exec(ctx context.Context, wrapped string) (Result, error) {
	if c.info.Mode == connection.ModeLocalNamedUser && c.info.User != "" {
		return c.execSu(ctx, wrapped)
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", wrapped)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, cerr.Wrap(cerr.KindSpawnFailed, err, "spawn local command")
		}
	}
	return Result{ExitCode: exitCode, Stdout: sanitize(out.String())}, nil
}

func (c *LocalChannel) execSu(ctx context.Context, wrapped string) (Result, error) {
	cmd := exec.CommandContext(ctx, "su", "-", c.info.User, "-c", wrapped)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, cerr.Wrap(cerr.KindSpawnFailed, err, "spawn local command as %s", c.info.User)
		}
	}
	return Result{ExitCode: exitCode, Stdout: sanitize(out.String())}, nil
}
