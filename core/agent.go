package core

import "context"

// Agent is the capability contract every wrapped agent satisfies regardless
// of the framework it was built with.
//
// Implementations must:
//   - Respect context cancellation (Run suspends only on provider calls and nested tool calls)
//   - Never retry provider failures on their own
//   - Return taxonomy errors (*Error) rather than native framework errors
type Agent interface {
	// Run executes one turn of the agent on input and returns its result.
	Run(ctx context.Context, input Message, cfg RunConfig) (*RunResult, error)
	// AsTool exposes the agent as a tool other agents can call. Empty name or
	// description default to the descriptor's values. Fails with
	// CapabilityUnsupported when the agent does not advertise tool support.
	AsTool(name, description string) (*ToolSpec, error)
	// Memory returns the agent's memory facade. Fails with
	// CapabilityUnsupported when the agent does not advertise memory support.
	Memory() (Memory, error)
	// Describe returns the immutable descriptor.
	Describe() Descriptor
}

// AgentKind categorizes the role an agent plays in a multi-agent system.
type AgentKind string

const (
	AgentKindAssistant     AgentKind = "assistant"
	AgentKindCodeExecutor  AgentKind = "code_executor"
	AgentKindUserProxy     AgentKind = "user_proxy"
	AgentKindSocietyOfMind AgentKind = "society_of_mind"
	AgentKindCustom        AgentKind = "custom"
)

// Descriptor is the static identity of a wrapped agent. It is returned by value
// and never changes after the agent is constructed.
type Descriptor struct {
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Framework      string    `json:"framework"`
	Provider       string    `json:"provider"`
	Kind           AgentKind `json:"kind,omitempty"`
	SupportsTools  bool      `json:"supports_tools"`
	SupportsMemory bool      `json:"supports_memory"`
}

// RunConfig carries per-call settings for Agent.Run.
type RunConfig struct {
	// Provider overrides fields of the agent's default provider configuration.
	// Zero fields keep the agent's defaults.
	Provider ProviderConfig
	// Tools are foreign tools made available for this run only.
	Tools []*ToolSpec
	// SessionKey selects the memory session. Empty disables memory for the run.
	SessionKey string
	// Variables feed templated instructions.
	Variables map[string]any
}
