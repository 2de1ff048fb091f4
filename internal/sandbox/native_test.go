package sandbox

import (
	"testing"

	"github.com/haasonsaas/cortex/internal/proto"
	"github.com/stretchr/testify/require"
)

func alwaysSandboxed() bool { return true }

func TestReadOnlyDeniesSensitivePathsFirst(t *testing.T) {
	b := &NativeBuilder{HasNativeSandbox: alwaysSandboxed}
	p, err := b.Build(proto.SandboxPolicy{Mode: proto.SandboxReadOnly})
	require.NoError(t, err)
	require.Equal(t, "deny-read", p.Rules[0].Verb, "sensitive-path denies must come before any allow rule")
}

func TestWorkspaceWriteRejectsSystemOverlap(t *testing.T) {
	b := &NativeBuilder{HasNativeSandbox: alwaysSandboxed}
	_, err := b.Build(proto.SandboxPolicy{Mode: proto.SandboxWorkspaceWrite, WritableRoots: []string{"/usr/local"}})
	require.Error(t, err)
}

func TestWorkspaceWriteRejectsSensitiveOverlap(t *testing.T) {
	b := &NativeBuilder{HasNativeSandbox: alwaysSandboxed}
	_, err := b.Build(proto.SandboxPolicy{Mode: proto.SandboxWorkspaceWrite, WritableRoots: []string{"~/.ssh"}})
	require.Error(t, err)
}

func TestWorkspaceWriteAllowsConfiguredRoot(t *testing.T) {
	b := &NativeBuilder{HasNativeSandbox: alwaysSandboxed}
	p, err := b.Build(proto.SandboxPolicy{Mode: proto.SandboxWorkspaceWrite, WritableRoots: []string{"/tmp/workspace"}, Network: true})
	require.NoError(t, err)
	require.True(t, p.Network)

	found := false
	for _, r := range p.Rules {
		if r.Verb == "allow-write" && r.Path == "/tmp/workspace" {
			found = true
		}
	}
	require.True(t, found)
}

func TestWorkspaceWriteWithoutNativeSandboxDegradesToReadOnly(t *testing.T) {
	b := &NativeBuilder{HasNativeSandbox: func() bool { return false }}
	p, err := b.Build(proto.SandboxPolicy{Mode: proto.SandboxWorkspaceWrite, WritableRoots: []string{"/tmp/workspace"}})
	require.NoError(t, err)
	for _, r := range p.Rules {
		require.NotEqual(t, "allow-write", r.Verb, "no native sandbox must refuse write operations")
	}
}

func TestDangerFullAccessAllowsNetwork(t *testing.T) {
	b := &NativeBuilder{HasNativeSandbox: alwaysSandboxed}
	p, err := b.Build(proto.SandboxPolicy{Mode: proto.SandboxDangerFullAccess})
	require.NoError(t, err)
	require.True(t, p.Network)
}

func TestEscapePathRejectsInjection(t *testing.T) {
	_, err := escapePath("/tmp/\"; rm -rf /")
	require.Error(t, err)
}
