package core

// Cost is an estimated monetary cost in USD. Known is false when no pricing
// entry matched the provider and model.
type Cost struct {
	USD   float64 `json:"usd"`
	Known bool    `json:"known"`
}

// Add sums two costs. The result is known only if both parts are known.
func (c Cost) Add(o Cost) Cost {
	return Cost{USD: c.USD + o.USD, Known: c.Known && o.Known}
}

// Usage reports token consumption of one or more provider calls.
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Cost             Cost `json:"cost"`
}

// Add accumulates o into u. A nil receiver is not allowed; use MergeUsage.
func (u *Usage) Add(o *Usage) {
	if o == nil {
		return
	}
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
	u.Cost = u.Cost.Add(o.Cost)
}

// MergeUsage returns the sum of a and b, treating nil as absent.
func MergeUsage(a, b *Usage) *Usage {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		c := *b
		return &c
	case b == nil:
		c := *a
		return &c
	}
	c := *a
	c.Add(b)
	return &c
}

// RunResult is the outcome of one agent run or provider completion.
type RunResult struct {
	// Output is the final (or, when not terminal, the tool-requesting) message.
	Output Message `json:"output"`
	// Usage is nil when the backend does not report token counts.
	Usage *Usage `json:"usage,omitempty"`
	// ToolCalls lists tool requests the agent raised but did not execute.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// Terminal is false iff the agent stopped to request tool execution.
	Terminal bool `json:"terminal"`
}

// Final builds a terminal result.
func Final(out Message, usage *Usage) *RunResult {
	return &RunResult{Output: out, Usage: usage, Terminal: true}
}
