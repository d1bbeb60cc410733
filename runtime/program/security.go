package program

import (
	"regexp"
	"time"
)

// DefaultSandboxTimeout bounds a sandboxed tool invocation when the sandbox
// configuration does not set its own timeout.
const DefaultSandboxTimeout = 30 * time.Second

type (
	// SecurityConfig gathers the per-tool protections: input validation rules,
	// the sandbox configuration and the output size budget. Any field may be
	// zero; a nil SecurityConfig on a Tool disables all three.
	SecurityConfig struct {
		// Validation maps input field names to their rules. Fields without an
		// entry are never checked.
		Validation map[string]FieldRule

		// Sandbox configures timeout and I/O guards. Nil runs the handler
		// directly with no timeout and no guards.
		Sandbox *SandboxConfig

		// MaxOutputBytes caps the JSON-encoded size of the tool result. Zero
		// means unlimited.
		MaxOutputBytes int
	}

	// FieldRule is the validation rule set for one input field. Patterns are
	// compiled by the loader once; execution never compiles regexps.
	FieldRule struct {
		// MinLength and MaxLength bound string length when set.
		MinLength *int
		MaxLength *int

		// Pattern must match the whole value when set.
		Pattern *regexp.Regexp

		// DenyPatterns reject the value when any of them matches.
		DenyPatterns []*regexp.Regexp

		// Min and Max bound numeric values when set.
		Min *float64
		Max *float64
	}

	// SandboxConfig bounds a tool handler invocation.
	SandboxConfig struct {
		// Timeout caps handler wall-clock time. Zero means
		// DefaultSandboxTimeout.
		Timeout time.Duration

		// Network gates outbound network access. Nil denies it.
		Network *NetworkAccess

		// Filesystem gates filesystem access. Nil denies it.
		Filesystem *FilesystemAccess
	}

	// NetworkAccess configures the network pre-flight guard.
	NetworkAccess struct {
		// Enabled permits network access at all.
		Enabled bool

		// AllowedHosts restricts reachable hosts when non-empty. A host matches
		// by exact name or as a subdomain of an entry.
		AllowedHosts []string
	}

	// FilesystemAccess configures the filesystem pre-flight guard.
	FilesystemAccess struct {
		// Enabled permits filesystem access at all.
		Enabled bool

		// ReadOnly rejects writes when set.
		ReadOnly bool

		// AllowedPaths restricts reachable paths when non-empty, by prefix
		// match.
		AllowedPaths []string
	}
)
