// Package toolexec implements C5: a uniform dispatcher over a
// heterogeneous tool set, including Task (sub-agent) and Batch (parallel
// fanout) special-casing, per-call timeouts, and panic recovery.
package toolexec

// Kind is the tool taxonomy. Every registered tool declares exactly one.
type Kind string

const (
	KindReadOnly Kind = "read_only"
	KindFileWrite Kind = "file_write"
	KindShell    Kind = "shell"
	KindNetwork  Kind = "network"
	KindTask     Kind = "task"
	KindBatch    Kind = "batch"
	KindSkill    Kind = "skill"
	KindMcpProxy Kind = "mcp_proxy"
)
