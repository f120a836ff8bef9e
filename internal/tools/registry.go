// Package tools implements the ToolRegistry: descriptor-based tool
// discovery, named toolsets, JSON-Schema argument validation, and dispatch.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sapphire-ai/sapphire/internal/privacy"
	"github.com/sapphire-ai/sapphire/internal/sapphireerr"
)

// Mode is a prompt-assembly mode a tool may or may not apply to.
type Mode string

const (
	ModeMonolith Mode = "monolith"
	ModeAssembled Mode = "assembled"
)

// AllToolset and NoneToolset are the two reserved toolset names: every tool,
// and no tools.
const (
	AllToolset  = "all"
	NoneToolset = "none"
)

// Result is the outcome of a tool execution.
type Result struct {
	Content string
	Success bool
}

// Handler executes a tool's body given its already-schema-validated
// arguments.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// Descriptor is a tool's registered shape: name, description, JSON Schema
// for its parameters, and the network/local/mode-filter classification used
// by PrivacyGate and prompt assembly.
type Descriptor struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Network     bool
	Local       bool
	Modes       []Mode
	// EndpointArg names the string argument PrivacyGate checks before a
	// network-classified tool runs. Defaults to "url" when empty; ignored
	// when Network is false.
	EndpointArg string

	schema  *jsonschema.Schema
	handler Handler
}

// AppliesToMode reports whether this tool's mode filter includes mode. A nil
// Modes list means the tool applies to every mode.
func (d *Descriptor) AppliesToMode(mode Mode) bool {
	if len(d.Modes) == 0 {
		return true
	}
	for _, m := range d.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// Registry is the ToolRegistry: a catalog of tool descriptors plus named
// toolsets.
type Registry struct {
	mu             sync.RWMutex
	tools          map[string]*Descriptor
	moduleToolsets map[string][]string // built-in, module-provided toolsets
	customToolsets map[string][]string // user-defined
	privacy        *privacy.Gate
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:          make(map[string]*Descriptor),
		moduleToolsets: make(map[string][]string),
		customToolsets: make(map[string][]string),
	}
}

// SetPrivacyGate wires the PrivacyGate a network-classified tool's endpoint
// is checked against before Execute dispatches to its handler. A nil gate
// (the zero-value Registry's default) disables the check entirely.
func (r *Registry) SetPrivacyGate(gate *privacy.Gate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.privacy = gate
}

// Register compiles desc's JSON Schema and adds it to the catalog, replacing
// any existing tool of the same name.
func (r *Registry) Register(desc Descriptor, handler Handler) error {
	if desc.Schema != nil {
		compiled, err := compileSchema(desc.Schema)
		if err != nil {
			return fmt.Errorf("compile schema for tool %s: %w", desc.Name, err)
		}
		desc.schema = compiled
	}
	desc.handler = handler

	r.mu.Lock()
	defer r.mu.Unlock()
	d := desc
	r.tools[desc.Name] = &d
	return nil
}

// RegisterModuleToolset records a built-in toolset that custom toolsets and
// deletes may never collide with or remove.
func (r *Registry) RegisterModuleToolset(name string, toolNames []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moduleToolsets[name] = toolNames
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	const resource = "tool-params.json"
	if err := compiler.AddResource(resource, rawMessageReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(resource)
}

// Get returns a tool's descriptor by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// GetAvailableAbilities returns the names of every known toolset (module and
// custom), plus the reserved all/none.
func (r *Registry) GetAvailableAbilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := []string{AllToolset, NoneToolset}
	for name := range r.moduleToolsets {
		names = append(names, name)
	}
	for name := range r.customToolsets {
		names = append(names, name)
	}
	return names
}

// ToolsetExists reports whether name is any known toolset, including the
// reserved ones.
func (r *Registry) ToolsetExists(name string) bool {
	if name == AllToolset || name == NoneToolset {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.moduleToolsets[name]; ok {
		return true
	}
	_, ok := r.customToolsets[name]
	return ok
}

// GetToolsetFunctions resolves a toolset name to its concrete tool names.
func (r *Registry) GetToolsetFunctions(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch name {
	case AllToolset:
		names := make([]string, 0, len(r.tools))
		for n := range r.tools {
			names = append(names, n)
		}
		return names, nil
	case NoneToolset:
		return nil, nil
	}
	if names, ok := r.moduleToolsets[name]; ok {
		return names, nil
	}
	if names, ok := r.customToolsets[name]; ok {
		return names, nil
	}
	return nil, sapphireerr.NewNotFound("toolset %q does not exist", name)
}

// SaveToolset creates or overwrites a custom toolset, refusing names that
// collide with a module-provided toolset or the reserved all/none, and
// validating each function name against the full catalog.
func (r *Registry) SaveToolset(name string, functionNames []string) error {
	if name == AllToolset || name == NoneToolset {
		return sapphireerr.NewConflict("toolset name %q is reserved", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.moduleToolsets[name]; ok {
		return sapphireerr.NewConflict("toolset %q is module-provided", name)
	}
	for _, fn := range functionNames {
		if _, ok := r.tools[fn]; !ok {
			return sapphireerr.NewInput("unknown tool %q in toolset %q", fn, name)
		}
	}
	r.customToolsets[name] = functionNames
	return nil
}

// DeleteToolset removes a custom toolset, refusing module-provided or
// reserved names.
func (r *Registry) DeleteToolset(name string) error {
	if name == AllToolset || name == NoneToolset {
		return sapphireerr.NewConflict("toolset name %q is reserved", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.moduleToolsets[name]; ok {
		return sapphireerr.NewConflict("toolset %q is module-provided", name)
	}
	if _, ok := r.customToolsets[name]; !ok {
		return sapphireerr.NewNotFound("toolset %q does not exist", name)
	}
	delete(r.customToolsets, name)
	return nil
}

// ResolveEnabledFunctions resolves names (either a single toolset name or a
// literal list of tool names) to a concrete, mode-filtered set of
// descriptors.
func (r *Registry) ResolveEnabledFunctions(names []string, mode Mode) ([]*Descriptor, error) {
	var toolNames []string
	if len(names) == 1 && r.ToolsetExists(names[0]) {
		resolved, err := r.GetToolsetFunctions(names[0])
		if err != nil {
			return nil, err
		}
		toolNames = resolved
	} else {
		toolNames = names
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(toolNames))
	for _, name := range toolNames {
		d, ok := r.tools[name]
		if !ok {
			continue
		}
		if !d.AppliesToMode(mode) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// GetNetworkFunctions returns the descriptors of every registered tool
// classified network.
func (r *Registry) GetNetworkFunctions() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Descriptor
	for _, d := range r.tools {
		if d.Network {
			out = append(out, d)
		}
	}
	return out
}

// HasNetworkToolsEnabled reports whether any of the given tool names
// resolves to a network-classified tool.
func (r *Registry) HasNetworkToolsEnabled(enabled []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range enabled {
		if d, ok := r.tools[name]; ok && d.Network {
			return true
		}
	}
	return false
}

// MaxArgsSize bounds the size of a tool's raw argument JSON, mirroring the
// registry's resource-exhaustion guard on tool name length and params size.
const MaxArgsSize = 10 << 20

// Execute validates arguments against the tool's JSON Schema (when present)
// and dispatches to its handler.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	if len(args) > MaxArgsSize {
		return Result{Content: "tool arguments exceed maximum size", Success: false}, nil
	}

	r.mu.RLock()
	d, ok := r.tools[name]
	gate := r.privacy
	r.mu.RUnlock()
	if !ok {
		return Result{Content: "tool not found: " + name, Success: false}, nil
	}

	if d.schema != nil {
		var parsed any
		if err := json.Unmarshal(args, &parsed); err != nil {
			return Result{Content: "malformed tool arguments: " + err.Error(), Success: false}, nil
		}
		if err := d.schema.Validate(parsed); err != nil {
			return Result{Content: "invalid tool arguments: " + err.Error(), Success: false}, nil
		}
	}

	if d.Network && gate != nil {
		endpoint, ok := d.extractEndpoint(args)
		if !ok {
			return Result{Content: "network tool call missing its endpoint argument", Success: false}, nil
		}
		if !gate.IsAllowedEndpoint(endpoint) {
			return Result{Content: fmt.Sprintf("privacy gate blocked endpoint %q", endpoint), Success: false}, nil
		}
	}

	return d.handler(ctx, args)
}

// extractEndpoint pulls the string argument PrivacyGate checks out of a
// network tool's raw JSON arguments.
func (d *Descriptor) extractEndpoint(args json.RawMessage) (string, bool) {
	key := d.EndpointArg
	if key == "" {
		key = "url"
	}
	var parsed map[string]any
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", false
	}
	endpoint, ok := parsed[key].(string)
	return endpoint, ok && endpoint != ""
}

// AsLLMTools returns every registered descriptor, for building the LLM
// request's tool list directly (bypassing toolset resolution).
func (r *Registry) AsLLMTools() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	return out
}
