package channel

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/convergeops/converge/pkg/cerr"
	"github.com/convergeops/converge/pkg/connection"
)

// SSHChannel runs commands on a remote host over SSH. A fresh session is
// opened per Probe/Run call and closed once its exit status is
// collected, per spec.md §4.1; the underlying *ssh.Client is dialed once
// in Init and reused for the lifetime of the job.
type SSHChannel struct {
	host string
	info connection.Info

	client *ssh.Client
}

// NewSSH builds an SSHChannel. host is the target address (hostname or
// IP); it is supplied separately from info because connection.Info
// carries only auth material, not the address (see pkg/tasklist.Host).
func NewSSH(info connection.Info) *SSHChannel {
	return &SSHChannel{info: info}
}

// WithHost sets the target address. Job wires this in before Init.
func (c *SSHChannel) WithHost(host string) *SSHChannel {
	c.host = host
	return c
}

func (c *SSHChannel) Init(ctx context.Context) error {
	auth, user, err := c.authMethod()
	if err != nil {
		return cerr.Wrap(cerr.KindFailedInit, err, "resolve ssh auth")
	}

	port := c.info.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(c.host, strconv.Itoa(port))

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec -- target host keys are not pre-provisioned in this engine's trust model
		Timeout:         10 * time.Second,
	}

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return cerr.Wrap(cerr.KindFailedTCPBind, err, "dial %s", addr)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return cerr.Wrap(cerr.KindAuthRejected, err, "ssh auth rejected for %s@%s", user, addr)
		}
		return cerr.Wrap(cerr.KindFailedInit, err, "ssh handshake with %s", addr)
	}
	c.client = ssh.NewClient(sshConn, chans, reqs)
	return nil
}

func (c *SSHChannel) authMethod() (ssh.AuthMethod, string, error) {
	switch c.info.Mode {
	case connection.ModeSSHPassword:
		return ssh.Password(c.info.Password), c.info.User, nil

	case connection.ModeSSHKeyFile:
		pem, err := os.ReadFile(c.info.KeyPath)
		if err != nil {
			return nil, "", fmt.Errorf("read key file %s: %w", c.info.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, "", fmt.Errorf("parse key file %s: %w", c.info.KeyPath, err)
		}
		return ssh.PublicKeys(signer), c.info.User, nil

	case connection.ModeSSHKeyMemory:
		signer, err := ssh.ParsePrivateKey(c.info.KeyPEM)
		if err != nil {
			return nil, "", fmt.Errorf("parse in-memory key: %w", err)
		}
		return ssh.PublicKeys(signer), c.info.User, nil

	case connection.ModeSSHAgent:
		sockEnv := c.info.AgentSocket
		if sockEnv == "" {
			sockEnv = "SSH_AUTH_SOCK"
		}
		sockPath := os.Getenv(sockEnv)
		if sockPath == "" {
			return nil, "", fmt.Errorf("agent socket env var %s is not set", sockEnv)
		}
		conn, err := net.Dial("unix", sockPath)
		if err != nil {
			return nil, "", fmt.Errorf("dial ssh agent socket %s: %w", sockPath, err)
		}
		ag := agent.NewClient(conn)
		return ssh.PublicKeysCallback(ag.Signers), c.info.User, nil

	default:
		return nil, "", fmt.Errorf("unsupported ssh connection mode %s", c.info.Mode)
	}
}

func (c *SSHChannel) Probe(ctx context.Context, cmd string) (bool, error) {
	res, err := c.exec(ctx, probeCommand(cmd))
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func (c *SSHChannel) Run(ctx context.Context, cmd string, priv connection.Privilege) (Result, error) {
	return c.exec(ctx, wrapCommand(cmd, priv))
}

func (c *SSHChannel) exec(ctx context.Context, wrapped string) (Result, error) {
	if c.client == nil {
		return Result{}, cerr.New(cerr.KindFailureToEstablishConn, "ssh channel not initialized")
	}

	session, err := c.client.NewSession()
	if err != nil {
		return Result{}, cerr.Wrap(cerr.KindConnectionLost, err, "open ssh session")
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)
	go func() { done <- session.Run(wrapped) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return Result{}, ctx.Err()
	case err := <-done:
		exitCode := 0
		if err != nil {
			var exitErr *ssh.ExitError
			if ok := asExitError(err, &exitErr); ok {
				exitCode = exitErr.ExitStatus()
			} else {
				return Result{}, cerr.Wrap(cerr.KindSpawnFailed, err, "run ssh command")
			}
		}
		return Result{ExitCode: exitCode, Stdout: sanitize(out.String())}, nil
	}
}

func asExitError(err error, target **ssh.ExitError) bool {
	if ee, ok := err.(*ssh.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func (c *SSHChannel) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
