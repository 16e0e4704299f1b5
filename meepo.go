// Package meepo is the entry point for mixing agents from different
// frameworks in one process. A Mesh binds native agents to providers,
// registers them by name, exposes them to each other as tools and hands work
// to a hierarchy coordinator.
//
// Typical use:
//  1. Create a Mesh with New (or NewFromConfig)
//  2. Bind native agents with Bind, or Register ready core.Agent values
//  3. Run agents by name, wire them as tools with AsTool, or dispatch tasks
//     with Delegate and FanOut
package meepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hupe1980/meepo/adapter"
	"github.com/hupe1980/meepo/bridge"
	"github.com/hupe1980/meepo/config"
	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/hierarchy"
	"github.com/hupe1980/meepo/logging"
	"github.com/hupe1980/meepo/memory"
	"github.com/hupe1980/meepo/provider"
	"github.com/hupe1980/meepo/provider/builtin"
	"github.com/hupe1980/meepo/telemetry"
)

// Options configure a Mesh.
type Options struct {
	// Registry resolves provider tags (default builtin.DefaultRegistry()).
	Registry *provider.Registry
	// Provider holds defaults for every provider the mesh constructs.
	Provider core.ProviderConfig
	// Memory is shared by bound agents (default: in-memory store).
	Memory core.Memory
	// Coordinator tunes the hierarchy coordinator.
	Coordinator func(o *hierarchy.Options)
	// Bridge tunes tools created by AsTool.
	Bridge func(o *bridge.Options)

	Logger    logging.Logger
	Telemetry *telemetry.Instruments
}

// Mesh is a registry of agents sharing providers, memory and telemetry.
type Mesh struct {
	opts        Options
	coordinator *hierarchy.Coordinator

	mu      sync.RWMutex
	agents  map[string]core.Agent
	closers []func() error
}

// New creates a Mesh. Unset services default to in-memory implementations.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Registry == nil {
		opts.Registry = builtin.DefaultRegistry()
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Default()
	}
	if opts.Memory == nil {
		opts.Memory = memory.NewFacade(memory.NewInMemoryStore(), func(o *memory.FacadeOptions) { o.Logger = opts.Logger })
	}

	coordinator := hierarchy.New(func(o *hierarchy.Options) {
		if opts.Coordinator != nil {
			opts.Coordinator(o)
		}
		o.Logger = opts.Logger
		o.Telemetry = opts.Telemetry
	})

	return &Mesh{opts: opts, coordinator: coordinator, agents: map[string]core.Agent{}}
}

// NewFromConfig creates a Mesh from loaded configuration. Logs go to w. The
// configured memory store is closed by Close.
func NewFromConfig(cfg *config.Config, w io.Writer, optFns ...func(o *Options)) (*Mesh, error) {
	if cfg == nil {
		return nil, core.NewError(core.KindInvalidConfig, "meepo", "config must be set", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := cfg.Log.Logger(w)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := cfg.Memory.OpenStore()
	if err != nil {
		return nil, core.MemoryError("meepo.open_store", err)
	}

	m := New(append([]func(o *Options){func(o *Options) {
		o.Logger = logger
		o.Provider = cfg.Provider.Defaults()
		o.Memory = memory.NewFacade(store, func(fo *memory.FacadeOptions) { fo.Logger = logger })
		o.Coordinator = cfg.Coordinator.Apply
		o.Bridge = cfg.Bridge.Apply
	}}, optFns...)...)
	m.closers = append(m.closers, closeStore)
	return m, nil
}

// Bind wraps native through the adapter layer and registers the result under
// its descriptor name.
func (m *Mesh) Bind(native any, providerTag string, creds core.Credentials) (core.Agent, error) {
	a, err := adapter.FromAgent(native, providerTag, creds, func(o *adapter.Options) {
		o.Registry = m.opts.Registry
		o.Provider = m.opts.Provider
		o.Memory = m.opts.Memory
		o.Logger = m.opts.Logger
		o.Telemetry = m.opts.Telemetry
	})
	if err != nil {
		return nil, err
	}
	if err := m.Register(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Register adds a ready agent. Names are unique within a mesh.
func (m *Mesh) Register(a core.Agent) error {
	if a == nil {
		return core.NewError(core.KindInvalidConfig, "meepo.register", "agent is nil", nil)
	}
	name := a.Describe().Name
	if name == "" {
		return core.NewError(core.KindInvalidConfig, "meepo.register", "agent name must be set", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[name]; ok {
		return core.NewError(core.KindInvalidConfig, "meepo.register", fmt.Sprintf("agent %q already registered", name), nil)
	}
	m.agents[name] = a
	m.opts.Logger.Info("meepo.agent.registered", "agent", name, "framework", a.Describe().Framework)
	return nil
}

// Agent returns the agent registered under name.
func (m *Mesh) Agent(name string) (core.Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[name]
	return a, ok
}

// Agents returns the descriptors of all registered agents sorted by name.
func (m *Mesh) Agents() []core.Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Descriptor, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a.Describe())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Mesh) lookup(op string, name string) (core.Agent, error) {
	a, ok := m.Agent(name)
	if !ok {
		return nil, core.NewError(core.KindInvalidConfig, op, fmt.Sprintf("agent %q is not registered", name), nil)
	}
	return a, nil
}

// Run executes the named agent once.
func (m *Mesh) Run(ctx context.Context, name string, input core.Message, cfg core.RunConfig) (*core.RunResult, error) {
	a, err := m.lookup("meepo.run", name)
	if err != nil {
		return nil, err
	}
	return a.Run(ctx, input, cfg)
}

// AsTool exposes the named agent as a tool through the bridge.
func (m *Mesh) AsTool(agentName, toolName, description string) (*core.ToolSpec, error) {
	a, err := m.lookup("meepo.as_tool", agentName)
	if err != nil {
		return nil, err
	}
	return bridge.WrapAsTool(a, toolName, description, func(o *bridge.Options) {
		o.Logger = m.opts.Logger
		o.Telemetry = m.opts.Telemetry
		if m.opts.Bridge != nil {
			m.opts.Bridge(o)
		}
	})
}

// Delegate hands description to the named agent under the coordinator's
// retry policy.
func (m *Mesh) Delegate(ctx context.Context, description, worker string) (*hierarchy.Task, error) {
	w, err := m.lookup("meepo.delegate", worker)
	if err != nil {
		return nil, err
	}
	return m.coordinator.Delegate(ctx, description, w)
}

// FanOut runs description on every named agent concurrently.
func (m *Mesh) FanOut(ctx context.Context, description string, workers ...string) (*hierarchy.Aggregate, error) {
	ws := make([]hierarchy.Worker, 0, len(workers))
	for _, name := range workers {
		w, err := m.lookup("meepo.fanout", name)
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	return m.coordinator.FanOut(ctx, description, ws...)
}

// Coordinator returns the mesh's coordinator.
func (m *Mesh) Coordinator() *hierarchy.Coordinator { return m.coordinator }

// Memory returns the shared memory.
func (m *Mesh) Memory() core.Memory { return m.opts.Memory }

// Close releases resources opened by the mesh.
func (m *Mesh) Close() error {
	m.mu.Lock()
	closers := m.closers
	m.closers = nil
	m.mu.Unlock()

	var errs []error
	for _, c := range closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
