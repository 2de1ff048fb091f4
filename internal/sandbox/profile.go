// Package sandbox implements C3: building a platform confinement spec
// from a SandboxPolicy before a shell tool call is allowed to run
// (spec §4.3).
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/cortex/internal/proto"
)

// SensitivePaths is the unconditional read-deny list from spec §4.3/§6.
// It is part of the contract: every Builder must deny these regardless
// of writable_roots or any other configuration.
var SensitivePaths = []string{
	"~/.ssh", "~/.aws", "~/.gnupg", "~/.kube", "~/.docker/config.json",
	"/etc/passwd", "/etc/shadow", "/etc/sudoers",
	"~/.env", "~/.netrc", "~/.npmrc",
}

// systemDirs must never overlap a writable root.
var systemDirs = []string{"/System", "/usr", "/bin", "/sbin", "/Library", "/etc"}

// Rule is one allow/deny line in a built Profile, already path-escaped.
type Rule struct {
	Verb string // "deny-read" | "allow-read" | "allow-write" | "allow-network"
	Path string
	Host string
}

// Profile is the resolved, validated confinement spec a shell tool is
// executed under.
type Profile struct {
	Rules          []Rule
	Network        bool
	AllowedHosts   []proto.Host
	AllowLocalhost bool
}

// Builder produces a Profile from a SandboxPolicy. Concrete
// implementations are platform-specific (spec §9); the interface itself
// is the only thing the core depends on.
type Builder interface {
	// Name identifies the backend, e.g. "native" or "firecracker".
	Name() string
	Build(policy proto.SandboxPolicy) (*Profile, error)
}

// ErrValidation is returned when a policy cannot be turned into a safe
// profile; the caller must reject the tool call before execution.
type ErrValidation struct{ Reason string }

func (e *ErrValidation) Error() string { return "sandbox: " + e.Reason }

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// escapePath makes a path safe to interpolate into a generated profile
// string: resolves it to a clean absolute form and rejects embedded
// profile-breaking characters (spec §4.3 "Escapes every path
// interpolated into the profile to prevent injection").
func escapePath(p string) (string, error) {
	if strings.ContainsAny(p, "\x00") {
		return "", fmt.Errorf("path contains null byte")
	}
	if strings.ContainsAny(p, "\"()") {
		return "", fmt.Errorf("path contains characters that could break the sandbox profile grammar: %q", p)
	}
	return filepath.Clean(expandHome(p)), nil
}

func overlaps(root string, other string) bool {
	root = filepath.Clean(root)
	other = filepath.Clean(other)
	if root == other {
		return true
	}
	return strings.HasPrefix(root+string(filepath.Separator), other+string(filepath.Separator)) ||
		strings.HasPrefix(other+string(filepath.Separator), root+string(filepath.Separator))
}

// ValidateWritableRoots enforces spec §4.3's overlap checks: no writable
// root may overlap the sensitive path set, the OS system directories, or
// the filesystem root.
func ValidateWritableRoots(roots []string) error {
	for _, r := range roots {
		clean, err := escapePath(r)
		if err != nil {
			return &ErrValidation{Reason: err.Error()}
		}
		if clean == "/" || clean == string(filepath.Separator) {
			return &ErrValidation{Reason: "writable root may not be the filesystem root"}
		}
		for _, sys := range systemDirs {
			if overlaps(clean, sys) {
				return &ErrValidation{Reason: fmt.Sprintf("writable root %q overlaps system directory %q", clean, sys)}
			}
		}
		for _, sens := range SensitivePaths {
			if overlaps(clean, expandHome(sens)) {
				return &ErrValidation{Reason: fmt.Sprintf("writable root %q overlaps sensitive path %q", clean, sens)}
			}
		}
	}
	return nil
}
