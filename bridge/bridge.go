// Package bridge exposes any core.Agent as a core.ToolSpec so agents from
// different frameworks and providers can call each other. The calling agent
// only ever sees the ToolSpec, never the callee's native type.
//
// Every bridged call is logged at the boundary (bridge.call.start,
// bridge.call.success, bridge.call.error) and traced with an OpenTelemetry
// span plus a call counter and a duration histogram.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/internal/util"
	"github.com/hupe1980/meepo/logging"
	"github.com/hupe1980/meepo/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Metadata keys set on every bridged tool result.
const (
	MetaAgent      = "bridge.agent"
	MetaDurationMS = "bridge.duration_ms"
)

// Args is the argument object of a bridged tool.
type Args struct {
	Input      string `json:"input" jsonschema:"description=Task or question for the agent"`
	SessionKey string `json:"session_key,omitempty" jsonschema:"description=Optional memory session of the called agent"`
}

// Options configure a bridged tool.
type Options struct {
	Logger    logging.Logger
	Telemetry *telemetry.Instruments

	// Provider overrides the callee's provider configuration on every call.
	Provider core.ProviderConfig

	// SessionKey is used when the caller does not pass session_key.
	SessionKey string

	// PreviewLen bounds the argument/output previews in log records.
	PreviewLen int
}

var parameters = func() map[string]any {
	s := util.MustCreateSchema(&Args{})
	// Extra argument fields are forwarded as structured data.
	delete(s, "additionalProperties")
	return s
}()

// Parameters returns a copy of the parameter schema of bridged tools.
func Parameters() map[string]any {
	raw, _ := json.Marshal(parameters)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

// WrapAsTool returns a ToolSpec whose invocation runs agent. Empty name and
// description default to the agent descriptor. Agents that do not advertise
// tool support fail with CapabilityUnsupported.
func WrapAsTool(agent core.Agent, name, description string, optFns ...func(o *Options)) (*core.ToolSpec, error) {
	if agent == nil {
		return nil, core.NewError(core.KindInvalidConfig, "bridge", "agent is nil", nil)
	}
	desc := agent.Describe()
	if !desc.SupportsTools {
		return nil, core.CapabilityUnsupported(desc.Name, "as_tool")
	}
	if name == "" {
		name = desc.Name
	}
	if description == "" {
		description = desc.Description
	}
	if name == "" {
		return nil, core.NewError(core.KindInvalidConfig, "bridge", "tool name must be set", nil)
	}

	opts := Options{PreviewLen: 200}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Default()
	}

	b := &bridged{agent: agent, desc: desc, name: name, opts: opts}
	return &core.ToolSpec{
		Name:        name,
		Description: description,
		Parameters:  Parameters(),
		Invoke:      b.invoke,
	}, nil
}

type bridged struct {
	agent core.Agent
	desc  core.Descriptor
	name  string
	opts  Options
}

func (b *bridged) invoke(ctx context.Context, call core.ToolCall) (core.Message, error) {
	start := time.Now()
	ctx, span := b.opts.Telemetry.Tracer.Start(ctx, "bridge.call "+b.name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(telemetry.AttrToolName, b.name),
			attribute.String(telemetry.AttrToolCallID, call.ID),
			attribute.String(telemetry.AttrAgentName, b.desc.Name),
			attribute.String(telemetry.AttrAgentFramework, b.desc.Framework),
			attribute.String(telemetry.AttrProvider, b.desc.Provider),
		),
	)

	fields := []any{
		"tool", b.name,
		"agent", b.desc.Name,
		"framework", b.desc.Framework,
		"call_id", call.ID,
	}
	b.opts.Logger.Info("bridge.call.start", append(fields, "arguments", util.Preview(string(call.Arguments), b.opts.PreviewLen))...)

	out, err := b.run(ctx, call, start)

	dur := time.Since(start)
	b.opts.Telemetry.RecordBridgeCall(ctx, b.name, b.desc.Name, dur, err)
	telemetry.EndSpan(span, err)

	fields = append(fields, "duration_ms", dur.Milliseconds())
	if err != nil {
		b.opts.Logger.Error("bridge.call.error", append(fields, "error", err.Error())...)
		return core.Message{}, err
	}
	b.opts.Logger.Info("bridge.call.success", append(fields, "output", util.Preview(out.Content, b.opts.PreviewLen))...)
	return out, nil
}

func (b *bridged) run(ctx context.Context, call core.ToolCall, start time.Time) (core.Message, error) {
	input, err := b.inputMessage(call)
	if err != nil {
		return core.Message{}, core.ToolInvocationError(b.name, err)
	}

	res, err := b.agent.Run(ctx, input.msg, core.RunConfig{Provider: b.opts.Provider, SessionKey: input.session})
	if err != nil {
		return core.Message{}, core.ToolInvocationError(b.name, err)
	}
	if res == nil {
		return core.Message{}, core.ToolInvocationError(b.name, fmt.Errorf("agent %q returned no result", b.desc.Name))
	}
	if !res.Terminal {
		names := make([]string, len(res.ToolCalls))
		for i, tc := range res.ToolCalls {
			names[i] = tc.Name
		}
		return core.Message{}, core.ToolInvocationError(b.name,
			core.CapabilityUnsupported(b.desc.Name, "nested tool execution").
				WithContext("pending_tools", strings.Join(names, ",")))
	}

	opts := []core.MessageOption{
		core.WithName(b.name),
		core.WithMetadata(core.Metadata{
			MetaAgent:      b.desc.Name,
			MetaDurationMS: time.Since(start).Milliseconds(),
		}),
	}
	if len(res.Output.Data) > 0 {
		opts = append(opts, core.WithData(res.Output.Data))
	}
	out, err := core.NewMessage(core.RoleTool, res.Output.Text(), opts...)
	if err != nil {
		return core.Message{}, core.ToolInvocationError(b.name, err)
	}
	out.ToolCallID = call.ID
	return out, nil
}

type invocation struct {
	msg     core.Message
	session string
}

// inputMessage maps tool arguments onto a user message: "input" becomes the
// content, "session_key" selects the callee's memory session and every other
// field is carried as structured data.
func (b *bridged) inputMessage(call core.ToolCall) (invocation, error) {
	args := map[string]any{}
	if len(bytes.TrimSpace(call.Arguments)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(call.Arguments))
		dec.UseNumber()
		if err := dec.Decode(&args); err != nil {
			return invocation{}, core.NewError(core.KindInvalidMessage, "bridge.args", "arguments are not a JSON object", err)
		}
	}
	if err := util.ValidateParameters(args, parameters); err != nil {
		return invocation{}, core.NewError(core.KindInvalidMessage, "bridge.args", err.Error(), err)
	}

	input, _ := args["input"].(string)
	session, _ := args["session_key"].(string)
	if session == "" {
		session = b.opts.SessionKey
	}
	delete(args, "input")
	delete(args, "session_key")

	var opts []core.MessageOption
	if len(args) > 0 {
		opts = append(opts, core.WithData(args))
	}
	msg, err := core.NewMessage(core.RoleUser, input, opts...)
	if err != nil {
		return invocation{}, err
	}
	return invocation{msg: msg, session: session}, nil
}
