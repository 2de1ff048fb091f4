package sandbox

import (
	"runtime"

	"github.com/haasonsaas/cortex/internal/proto"
)

// NativeBuilder produces a profile using the platform's native
// confinement facility where one is available (sandbox-exec on macOS,
// a landlock/bwrap profile on Linux). Per spec §9, platforms without a
// native sandbox fall back to ReadOnly for any policy requesting write
// access.
type NativeBuilder struct {
	// HasNativeSandbox reports whether this OS has a confinement
	// facility wired up. Overridable in tests; defaults to GOOS=="darwin".
	HasNativeSandbox func() bool
}

// NewNativeBuilder returns the default native Builder for this process.
func NewNativeBuilder() *NativeBuilder {
	return &NativeBuilder{HasNativeSandbox: func() bool { return runtime.GOOS == "darwin" }}
}

func (b *NativeBuilder) Name() string { return "native" }

// Build validates policy and produces a Profile. Denies on sensitive
// paths are unconditional and come before any allow rule, per spec
// §4.3's ordering requirement.
func (b *NativeBuilder) Build(policy proto.SandboxPolicy) (*Profile, error) {
	p := &Profile{}

	for _, sp := range SensitivePaths {
		path, err := escapePath(sp)
		if err != nil {
			return nil, err
		}
		p.Rules = append(p.Rules, Rule{Verb: "deny-read", Path: path})
	}

	switch policy.Mode {
	case proto.SandboxReadOnly, "":
		path, _ := escapePath("/")
		p.Rules = append(p.Rules, Rule{Verb: "allow-read", Path: path})
		return p, nil

	case proto.SandboxDangerFullAccess:
		path, _ := escapePath("/")
		p.Rules = append(p.Rules, Rule{Verb: "allow-read", Path: path}, Rule{Verb: "allow-write", Path: path})
		p.Network = true
		p.AllowLocalhost = true
		return p, nil

	case proto.SandboxWorkspaceWrite:
		if !b.HasNativeSandbox() && len(policy.WritableRoots) > 0 {
			// No native confinement available: refuse write and
			// degrade to ReadOnly rather than run unconfined.
			path, _ := escapePath("/")
			p.Rules = append(p.Rules, Rule{Verb: "allow-read", Path: path})
			return p, nil
		}
		if err := ValidateWritableRoots(policy.WritableRoots); err != nil {
			return nil, err
		}
		for _, lib := range systemLibraryReadPaths() {
			path, err := escapePath(lib)
			if err != nil {
				return nil, err
			}
			p.Rules = append(p.Rules, Rule{Verb: "allow-read", Path: path})
		}
		tmp, _ := escapePath("/tmp")
		p.Rules = append(p.Rules, Rule{Verb: "allow-read", Path: tmp})
		for _, root := range policy.WritableRoots {
			path, err := escapePath(root)
			if err != nil {
				return nil, err
			}
			p.Rules = append(p.Rules, Rule{Verb: "allow-read", Path: path}, Rule{Verb: "allow-write", Path: path})
		}
		p.Network = policy.Network
		p.AllowedHosts = policy.AllowedHosts
		p.AllowLocalhost = policy.Network
		return p, nil

	default:
		return nil, &ErrValidation{Reason: "unknown sandbox mode: " + policy.Mode}
	}
}

func systemLibraryReadPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"/usr/lib", "/System/Library"}
	default:
		return []string{"/usr/lib", "/lib"}
	}
}
