// Package connection describes how to reach a target host: the tagged
// variant of connection modes, and the privilege a command should run
// under on that host.
package connection

import (
	"encoding/json"
	"fmt"
)

// Mode is the tagged variant of connection info described in spec.md §3.
type Mode string

const (
	ModeLocalCurrentUser Mode = "local-current-user"
	ModeLocalNamedUser   Mode = "local-named-user"
	ModeSSHPassword      Mode = "ssh-password"
	ModeSSHKeyFile       Mode = "ssh-key-file"
	ModeSSHKeyMemory     Mode = "ssh-key-memory"
	ModeSSHAgent         Mode = "ssh-agent"
)

// Info is the connection info for one host. Only the fields relevant to
// Mode are populated; the rest are zero. Use Redacted() before logging,
// printing, or serializing an Info — it never exposes Password or key
// material.
type Info struct {
	Mode Mode

	// local-named-user
	User     string
	Password string // local-named-user (optional) and ssh-password

	// ssh-*
	Port        int    // defaults to 22 when 0
	KeyPath     string // ssh-key-file
	KeyPEM      []byte // ssh-key-memory
	AgentSocket string // ssh-agent: name of the agent socket env var, or "" for SSH_AUTH_SOCK
}

const redactedPlaceholder = "<redacted>"

// Redacted returns a copy of Info with Password and KeyPEM replaced by a
// fixed placeholder. Every debug/printable/serializable projection of an
// Info must go through this.
func (i Info) Redacted() Info {
	r := i
	if r.Password != "" {
		r.Password = redactedPlaceholder
	}
	if len(r.KeyPEM) != 0 {
		r.KeyPEM = []byte(redactedPlaceholder)
	}
	return r
}

// String implements fmt.Stringer via the redacted projection so that
// %v/%+v formatting of an Info can never leak a secret.
func (i Info) String() string {
	r := i.Redacted()
	switch r.Mode {
	case ModeLocalCurrentUser:
		return "local-current-user"
	case ModeLocalNamedUser:
		return fmt.Sprintf("local-named-user(user=%s, password=%s)", r.User, passwordMarker(i.Password))
	case ModeSSHPassword:
		return fmt.Sprintf("ssh-password(user=%s, password=%s, port=%d)", r.User, passwordMarker(i.Password), effectivePort(r.Port))
	case ModeSSHKeyFile:
		return fmt.Sprintf("ssh-key-file(user=%s, path=%s, port=%d)", r.User, r.KeyPath, effectivePort(r.Port))
	case ModeSSHKeyMemory:
		return fmt.Sprintf("ssh-key-memory(user=%s, key=%s, port=%d)", r.User, redactedPlaceholder, effectivePort(r.Port))
	case ModeSSHAgent:
		return fmt.Sprintf("ssh-agent(name=%s, port=%d)", r.AgentSocket, effectivePort(r.Port))
	default:
		return "unknown-connection-mode"
	}
}

// MarshalJSON routes through the redacted projection.
func (i Info) MarshalJSON() ([]byte, error) {
	r := i.Redacted()
	type alias struct {
		Mode        Mode   `json:"mode"`
		User        string `json:"user,omitempty"`
		Password    string `json:"password,omitempty"`
		Port        int    `json:"port,omitempty"`
		KeyPath     string `json:"key_path,omitempty"`
		KeyPEM      string `json:"key_pem,omitempty"`
		AgentSocket string `json:"agent_socket,omitempty"`
	}
	a := alias{Mode: r.Mode, User: r.User, Password: r.Password, Port: r.Port, KeyPath: r.KeyPath, AgentSocket: r.AgentSocket}
	if len(r.KeyPEM) != 0 {
		a.KeyPEM = string(r.KeyPEM)
	}
	return json.Marshal(a)
}

func passwordMarker(pw string) string {
	if pw == "" {
		return ""
	}
	return redactedPlaceholder
}

func effectivePort(p int) int {
	if p == 0 {
		return 22
	}
	return p
}

// Privilege is the elevation mode a command runs under on the target.
type Privilege struct {
	Mode   PrivilegeMode
	RunAs  string // name, when Mode == PrivilegeSudoNamedUser
}

// PrivilegeMode enumerates the three privilege modes of spec.md §3.
type PrivilegeMode string

const (
	PrivilegeNormal         PrivilegeMode = "normal"
	PrivilegeSudoRoot       PrivilegeMode = "as-root-via-sudo"
	PrivilegeSudoNamedUser  PrivilegeMode = "as-named-user-via-sudo"
)

// Resolve computes the effective Privilege for a step from its with_sudo
// and run_as fields, following the precedence spec.md §3/§9 chooses:
// with_sudo=true always wins; otherwise run_as wins when set; otherwise
// normal.
func Resolve(withSudo *bool, runAs string) Privilege {
	if withSudo != nil && *withSudo {
		return Privilege{Mode: PrivilegeSudoRoot}
	}
	if runAs != "" {
		return Privilege{Mode: PrivilegeSudoNamedUser, RunAs: runAs}
	}
	return Privilege{Mode: PrivilegeNormal}
}
