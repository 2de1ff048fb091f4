package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WasmManifest is the [wasm] table of a plugin manifest (spec §6): the
// limits and entry point a WasmHandler enforces when invoking a module.
type WasmManifest struct {
	MemoryPages int  `toml:"memory_pages"`
	TimeoutMs   int  `toml:"timeout_ms"`
	WasiEnabled bool `toml:"wasi_enabled"`
	WasiCaps    []string `toml:"wasi_caps"`
}

// WasmHandler invokes a named export in a sandboxed WASM module for
// each hook firing. Memory and time limits come from the manifest; the
// module never receives host capabilities beyond what wasi_caps grants.
type WasmHandler struct {
	Binary   []byte
	Function string
	Manifest WasmManifest

	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

// Load compiles the module once; Handle then instantiates a fresh
// module instance per firing so handler state never leaks across calls.
func (h *WasmHandler) Load(ctx context.Context) error {
	cfg := wazero.NewRuntimeConfig()
	if h.Manifest.MemoryPages > 0 {
		cfg = cfg.WithMemoryLimitPages(uint32(h.Manifest.MemoryPages))
	}
	h.runtime = wazero.NewRuntimeWithConfig(ctx, cfg)

	if h.Manifest.WasiEnabled {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, h.runtime); err != nil {
			return fmt.Errorf("hooks: instantiate wasi: %w", err)
		}
	}

	compiled, err := h.runtime.CompileModule(ctx, h.Binary)
	if err != nil {
		return fmt.Errorf("hooks: compile wasm module: %w", err)
	}
	h.compiled = compiled
	return nil
}

// Close releases the runtime and its compiled module.
func (h *WasmHandler) Close(ctx context.Context) error {
	if h.runtime == nil {
		return nil
	}
	return h.runtime.Close(ctx)
}

func (h *WasmHandler) Handle(hctx Context) Response {
	timeout := time.Duration(h.Manifest.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if h.compiled == nil {
		return Response{Kind: ErrorResponse, Reason: "hooks: wasm module not loaded"}
	}

	modCfg := wazero.NewModuleConfig().WithStartFunctions()
	mod, err := h.runtime.InstantiateModule(ctx, h.compiled, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return Response{Kind: ErrorResponse, Reason: fmt.Sprintf("hooks: wasm module timed out after %s", timeout)}
		}
		return Response{Kind: ErrorResponse, Reason: fmt.Sprintf("hooks: instantiate module: %v", err)}
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(h.Function)
	if fn == nil {
		return Response{Kind: ErrorResponse, Reason: fmt.Sprintf("hooks: export %q not found", h.Function)}
	}

	wire := wireContext{
		Type: hctx.Type, ConversationID: hctx.ConversationID, TurnID: hctx.TurnID,
		CallID: hctx.CallID, Cwd: hctx.Cwd, Timestamp: hctx.Timestamp, Payload: hctx.Payload,
	}
	in, err := json.Marshal(wire)
	if err != nil {
		return Response{Kind: ErrorResponse, Reason: fmt.Sprintf("hooks: marshal context: %v", err)}
	}

	out, err := h.invoke(ctx, mod, fn, in)
	if err != nil {
		return Response{Kind: ErrorResponse, Reason: fmt.Sprintf("hooks: %v", err)}
	}

	var resp wireResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return Response{Kind: ErrorResponse, Reason: fmt.Sprintf("hooks: malformed wasm response: %v", err)}
	}
	return Response{Kind: resp.Kind, Data: resp.Data, Reason: resp.Reason, Text: resp.Text}
}

// invoke follows the common alloc/call/read convention for
// guest-managed buffers: the module exports "alloc" to reserve space for
// the request, the hook function is called with (ptr, len) and returns
// a packed (ptr<<32 | len) pointing at its response in guest memory.
func (h *WasmHandler) invoke(ctx context.Context, mod api.Module, fn api.Function, in []byte) ([]byte, error) {
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		return nil, fmt.Errorf("wasm module does not export alloc")
	}

	res, err := alloc.Call(ctx, uint64(len(in)))
	if err != nil {
		return nil, fmt.Errorf("alloc: %w", err)
	}
	ptr := uint32(res[0])

	mem := mod.Memory()
	if !mem.Write(ptr, in) {
		return nil, fmt.Errorf("write request into guest memory out of range")
	}

	res, err = fn.Call(ctx, uint64(ptr), uint64(len(in)))
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", h.Function, err)
	}

	packed := res[0]
	outPtr := uint32(packed >> 32)
	outLen := uint32(packed)

	out, ok := mem.Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("read response from guest memory out of range")
	}
	// Copy out: the returned slice aliases guest memory that is freed
	// when the module instance closes.
	buf := make([]byte, len(out))
	copy(buf, out)
	return buf, nil
}
