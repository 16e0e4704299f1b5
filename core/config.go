package core

import (
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ToolChoiceMode controls whether and how the model may call tools.
type ToolChoiceMode string

const (
	ToolChoiceAuto   ToolChoiceMode = "auto"
	ToolChoiceNone   ToolChoiceMode = "none"
	ToolChoiceForced ToolChoiceMode = "forced"
)

// ToolChoice selects the tool calling mode. Name is required for forced mode
// and must match a tool available to the call.
type ToolChoice struct {
	Mode ToolChoiceMode `json:"mode,omitempty" koanf:"mode" validate:"omitempty,oneof=auto none forced"`
	Name string         `json:"name,omitempty" koanf:"name" validate:"required_if=Mode forced"`
}

// ProviderConfig is the per-call configuration for a provider completion.
type ProviderConfig struct {
	Model       string        `json:"model,omitempty" koanf:"model"`
	Temperature *float64      `json:"temperature,omitempty" koanf:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int           `json:"max_tokens,omitempty" koanf:"max_tokens" validate:"gte=0"`
	Timeout     time.Duration `json:"timeout,omitempty" koanf:"timeout" validate:"gte=0"`
	ToolChoice  ToolChoice    `json:"tool_choice" koanf:"tool_choice"`
}

// Merge returns c with every non-zero field of override applied.
func (c ProviderConfig) Merge(override ProviderConfig) ProviderConfig {
	out := c
	if override.Model != "" {
		out.Model = override.Model
	}
	if override.Temperature != nil {
		t := *override.Temperature
		out.Temperature = &t
	}
	if override.MaxTokens != 0 {
		out.MaxTokens = override.MaxTokens
	}
	if override.Timeout != 0 {
		out.Timeout = override.Timeout
	}
	if override.ToolChoice.Mode != "" {
		out.ToolChoice = override.ToolChoice
	}
	return out
}

// Validate checks field ranges and that a forced tool choice names one of the
// available tools.
func (c ProviderConfig) Validate(toolNames ...string) error {
	if err := validate.Struct(c); err != nil {
		return NewError(KindInvalidConfig, "provider.config", "invalid provider configuration", err)
	}
	if c.ToolChoice.Mode == ToolChoiceForced && !slices.Contains(toolNames, c.ToolChoice.Name) {
		return NewError(KindInvalidConfig, "provider.config", fmt.Sprintf("forced tool %q is not in the tool set", c.ToolChoice.Name), nil)
	}
	return nil
}

// Float64 returns a pointer to v, convenient for Temperature.
func Float64(v float64) *float64 { return &v }

// Credentials authenticate against a provider backend. They are passed
// explicitly by the caller and never read from the environment by the core.
type Credentials struct {
	APIKey       string
	BaseURL      string
	Organization string
}

// String redacts the API key so credentials are safe to format.
func (c Credentials) String() string {
	key := ""
	if c.APIKey != "" {
		key = "***"
	}
	return fmt.Sprintf("Credentials{APIKey:%s BaseURL:%s Organization:%s}", key, c.BaseURL, c.Organization)
}

// GoString redacts the API key for %#v.
func (c Credentials) GoString() string { return c.String() }

// ValidateStruct exposes the shared validator for packages that tag their
// option structs with validate rules.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return NewError(KindInvalidConfig, "validate", fmt.Sprintf("%T failed validation", v), err)
	}
	return nil
}
