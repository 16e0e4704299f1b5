package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/internal/util"
	"github.com/hupe1980/meepo/logging"
)

// Func is the signature of a function tool. args has already been validated
// against the tool's parameter schema.
//
// The result becomes the tool message content: a string is used as is, a
// core.Message is passed through and anything else is encoded as JSON.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Options configure a function tool.
type Options struct {
	Logger logging.Logger
}

type function struct {
	name       string
	parameters map[string]any
	fn         Func
	logger     logging.Logger
}

// NewFunction builds a tool from an explicit parameter schema.
//
// Example:
//
//	sum, err := tool.NewFunction(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunction(name, description string, parameters map[string]any, fn Func, optFns ...func(o *Options)) (*core.ToolSpec, error) {
	opts := Options{}
	for _, o := range optFns {
		o(&opts)
	}
	if fn == nil {
		return nil, core.NewError(core.KindInvalidConfig, "tool", fmt.Sprintf("tool %q has no function", name), nil)
	}
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	f := &function{name: name, parameters: parameters, fn: fn, logger: logging.OrNoOp(opts.Logger)}
	spec := &core.ToolSpec{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		Invoke:      f.invoke,
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// NewFunctionFromStruct derives the parameter schema from an argument struct.
func NewFunctionFromStruct(name, description string, structType any, fn Func, optFns ...func(o *Options)) (*core.ToolSpec, error) {
	schema, err := util.CreateSchema(structType)
	if err != nil {
		return nil, core.NewError(core.KindInvalidConfig, "tool", fmt.Sprintf("tool %q: cannot derive schema", name), err)
	}
	return NewFunction(name, description, schema, fn, optFns...)
}

// NewTyped builds a tool whose arguments decode into T. The schema is
// reflected from T.
//
//	type WeatherArgs struct {
//	  City string `json:"city" jsonschema_description:"City name"`
//	}
//
//	weather, err := tool.NewTyped("get_weather", "Current weather for a city",
//	  func(ctx context.Context, args WeatherArgs) (any, error) {
//	    return lookup(ctx, args.City)
//	  })
func NewTyped[T any](name, description string, fn func(ctx context.Context, args T) (any, error), optFns ...func(o *Options)) (*core.ToolSpec, error) {
	if fn == nil {
		return nil, core.NewError(core.KindInvalidConfig, "tool", fmt.Sprintf("tool %q has no function", name), nil)
	}
	var zero T
	return NewFunctionFromStruct(name, description, &zero, func(ctx context.Context, args map[string]any) (any, error) {
		raw, err := core.EncodeJSON(args)
		if err != nil {
			return nil, &ToolError{Tool: name, Message: err.Error(), Code: CodeInvalidArguments, cause: err}
		}
		var typed T
		if err := json.Unmarshal(raw, &typed); err != nil {
			return nil, &ToolError{Tool: name, Message: fmt.Sprintf("arguments do not match: %v", err), Code: CodeInvalidArguments, cause: err}
		}
		return fn(ctx, typed)
	}, optFns...)
}

// invoke decodes, validates and runs one call. Failures are returned as
// tool invocation errors wrapping a *ToolError.
func (f *function) invoke(ctx context.Context, call core.ToolCall) (core.Message, error) {
	start := time.Now()
	f.logger.Debug("tool.call.start", "tool", f.name, "call_id", call.ID)

	args, err := decodeArgs(call.Arguments)
	if err != nil {
		return core.Message{}, f.fail(&ToolError{Tool: f.name, Message: err.Error(), Code: CodeInvalidArguments, cause: err})
	}

	if err := util.ValidateParameters(args, f.parameters); err != nil {
		f.logger.Warn("tool.call.validation_failed", "tool", f.name, "error", err.Error())
		return core.Message{}, f.fail(&ToolError{
			Tool:    f.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
			cause:   err,
		})
	}

	result, err := f.fn(withCall(ctx, call), args)
	if err != nil {
		// Cancellation and typed errors keep their identity.
		if core.IsCancellation(err) || core.KindOf(err) != "" {
			f.logger.Error("tool.call.error", "tool", f.name, "error", err.Error())
			return core.Message{}, err
		}
		var te *ToolError
		if !errors.As(err, &te) {
			te = &ToolError{Tool: f.name, Message: err.Error(), Code: CodeExecution, cause: err}
		}
		f.logger.Error("tool.call.error", "tool", f.name, "code", te.Code, "error", te.Message)
		return core.Message{}, f.fail(te)
	}

	out, err := encodeResult(call.ID, result)
	if err != nil {
		return core.Message{}, f.fail(&ToolError{Tool: f.name, Message: err.Error(), Code: CodeEncoding, cause: err})
	}

	f.logger.Info("tool.call.success", "tool", f.name, "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

func (f *function) fail(te *ToolError) error {
	return core.NewError(core.KindToolInvocation, f.name, "function tool failed", te).WithContext("code", te.Code)
}

func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return args, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	return args, nil
}

func encodeResult(callID string, result any) (core.Message, error) {
	switch r := result.(type) {
	case core.Message:
		return r, nil
	case *core.Message:
		if r == nil {
			return core.ToolMessage(callID, ""), nil
		}
		return *r, nil
	case string:
		return core.ToolMessage(callID, r), nil
	case nil:
		return core.ToolMessage(callID, ""), nil
	}
	raw, err := core.EncodeJSON(result)
	if err != nil {
		return core.Message{}, fmt.Errorf("encode result: %w", err)
	}
	return core.ToolMessage(callID, string(raw), core.WithData(json.RawMessage(raw))), nil
}
