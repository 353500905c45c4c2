package config

import "github.com/abgutierrez/buntime/internal/policy"

// Config is the flag-shaped security configuration that the Claude Code
// importer (internal/importer) builds and writes out, and that ToDocument
// lowers into a policy.Document. `init-policy` and `run` do not use it:
// their --allow-*/--deny-* flags go through cmd/buntime's own flagSet. It
// covers network, filesystem and command domains plus an ssh sub-domain
// carried over from the importer's richer rule vocabulary; ssh command
// lists map onto exec rules the same way bash commands do, while the ssh
// host lists are not lowered.
type Config struct {
	Extends    string           `json:"extends,omitempty"`
	AllowPty   bool             `json:"allowPty,omitempty"`
	Network    NetworkConfig    `json:"network,omitempty"`
	Filesystem FilesystemConfig `json:"filesystem,omitempty"`
	Command    CommandConfig    `json:"command,omitempty"`
	SSH        SSHConfig        `json:"ssh,omitempty"`
}

// NetworkConfig is the flag-derived shape of the net domain.
type NetworkConfig struct {
	AllowedDomains      []string `json:"allowedDomains,omitempty"`
	DeniedDomains       []string `json:"deniedDomains,omitempty"`
	AllowUnixSockets    []string `json:"allowUnixSockets,omitempty"`
	AllowAllUnixSockets bool     `json:"allowAllUnixSockets,omitempty"`
	AllowLocalBinding   bool     `json:"allowLocalBinding,omitempty"`
	AllowLocalOutbound  *bool    `json:"allowLocalOutbound,omitempty"`
	HTTPProxyPort       int      `json:"httpProxyPort,omitempty"`
	SOCKSProxyPort      int      `json:"socksProxyPort,omitempty"`
}

// FilesystemConfig is the flag-derived shape of the fs domain.
type FilesystemConfig struct {
	DefaultDenyRead bool     `json:"defaultDenyRead,omitempty"`
	WSLInterop      *bool    `json:"wslInterop,omitempty"`
	AllowRead       []string `json:"allowRead,omitempty"`
	AllowExecute    []string `json:"allowExecute,omitempty"`
	DenyRead        []string `json:"denyRead,omitempty"`
	AllowWrite      []string `json:"allowWrite,omitempty"`
	DenyWrite       []string `json:"denyWrite,omitempty"`
	AllowGitConfig  bool     `json:"allowGitConfig,omitempty"`
}

// CommandConfig is the flag-derived shape of the exec domain.
type CommandConfig struct {
	Deny        []string `json:"deny,omitempty"`
	Allow       []string `json:"allow,omitempty"`
	UseDefaults *bool    `json:"useDefaults,omitempty"`
}

// SSHConfig narrows the exec domain for remote command execution over ssh;
// AllowedCommands/DeniedCommands are lowered the same way Command.Allow/Deny
// are, keyed on the synthesized "ssh <command>" exec path.
type SSHConfig struct {
	AllowedHosts     []string `json:"allowedHosts,omitempty"`
	DeniedHosts      []string `json:"deniedHosts,omitempty"`
	AllowedCommands  []string `json:"allowedCommands,omitempty"`
	DeniedCommands   []string `json:"deniedCommands,omitempty"`
	AllowAllCommands bool     `json:"allowAllCommands,omitempty"`
	InheritDeny      bool     `json:"inheritDeny,omitempty"`
}

// Default returns the zero-value Config: no extends, defaults deferred to
// whatever template or bare policy the caller composes on top.
func Default() *Config {
	return &Config{}
}

// ToDocument lowers a flag-derived Config into a policy.Document: command
// rules become exec rules keyed on exact paths resolved by the caller's
// PATH lookup (the config layer itself only knows command names).
// AllowWrite/DenyWrite become fs rules over write and make permissions,
// DenyRead over read permissions, and AllowExecute over execute; AllowRead
// is not lowered. The net domain only sets Defaults.Net (deny when
// AllowedDomains names anything other than a lone "*"); no net rules are
// produced from the domain lists. Config itself does no path or DNS
// resolution.
func (c *Config) ToDocument() policy.Document {
	doc := policy.Document{
		Version: 1,
		Extends: c.Extends,
	}

	for _, p := range c.Filesystem.AllowWrite {
		doc.FSRules = append(doc.FSRules, policy.FSRule{
			Action: policy.Allow,
			Path:   p,
			Perms: map[policy.FSPerm]bool{
				policy.PermWriteFile: true,
				policy.PermWriteDir:  true,
				policy.PermMakeFile:  true,
				policy.PermMakeDir:   true,
			},
		})
	}
	for _, p := range c.Filesystem.DenyWrite {
		doc.FSRules = append(doc.FSRules, policy.FSRule{
			Action: policy.Deny,
			Path:   p,
			Perms: map[policy.FSPerm]bool{
				policy.PermWriteFile: true,
				policy.PermWriteDir:  true,
				policy.PermMakeFile:  true,
				policy.PermMakeDir:   true,
			},
		})
	}
	for _, p := range c.Filesystem.DenyRead {
		doc.FSRules = append(doc.FSRules, policy.FSRule{
			Action: policy.Deny,
			Path:   p,
			Perms: map[policy.FSPerm]bool{
				policy.PermReadFile: true,
				policy.PermReadDir:  true,
			},
		})
	}
	for _, p := range c.Filesystem.AllowExecute {
		doc.FSRules = append(doc.FSRules, policy.FSRule{
			Action: policy.Allow,
			Path:   p,
			Perms:  map[policy.FSPerm]bool{policy.PermExecute: true},
		})
	}
	if c.Filesystem.DefaultDenyRead {
		doc.Defaults.FS = policy.Deny
	} else {
		doc.Defaults.FS = policy.Allow
	}

	for _, cmd := range c.Command.Allow {
		doc.ExecRules = append(doc.ExecRules, policy.ExecRule{Action: policy.Allow, Path: cmd})
	}
	for _, cmd := range c.Command.Deny {
		doc.ExecRules = append(doc.ExecRules, policy.ExecRule{Action: policy.Deny, Path: cmd})
	}
	if c.Command.UseDefaults != nil && !*c.Command.UseDefaults {
		doc.Defaults.Exec = policy.Deny
	} else {
		doc.Defaults.Exec = policy.Allow
	}

	for _, cmd := range c.SSH.AllowedCommands {
		doc.ExecRules = append(doc.ExecRules, policy.ExecRule{Action: policy.Allow, Path: "ssh " + cmd})
	}
	for _, cmd := range c.SSH.DeniedCommands {
		doc.ExecRules = append(doc.ExecRules, policy.ExecRule{Action: policy.Deny, Path: "ssh " + cmd})
	}

	switch {
	case len(c.Network.AllowedDomains) == 1 && c.Network.AllowedDomains[0] == "*":
		doc.Defaults.Net = policy.Allow
	case len(c.Network.AllowedDomains) > 0:
		doc.Defaults.Net = policy.Deny
	default:
		doc.Defaults.Net = policy.Allow
	}

	return doc
}
