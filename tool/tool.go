// Package tool builds core.ToolSpec values from plain Go functions. Arguments
// are decoded from the call's JSON, validated against the tool's schema and
// handed to the function; the result is encoded into the tool message.
package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/internal/util"
)

// Error codes carried by ToolError.
const (
	CodeInvalidArguments = "INVALID_ARGUMENTS"
	CodeValidation       = "VALIDATION_ERROR"
	CodeExecution        = "EXECUTION_ERROR"
	CodeEncoding         = "ENCODING_ERROR"
)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution. Functions may
// return one directly to choose their own code.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap returns the underlying failure, if any.
func (e *ToolError) Unwrap() error { return e.cause }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// CodeOf returns the ToolError code in err's chain, or "".
func CodeOf(err error) string {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

type callKey struct{}

// CallFrom returns the tool call being served, if ctx belongs to a call made
// through a function tool.
func CallFrom(ctx context.Context) (core.ToolCall, bool) {
	c, ok := ctx.Value(callKey{}).(core.ToolCall)
	return c, ok
}

func withCall(ctx context.Context, c core.ToolCall) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}
