package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/meepo/core"
)

// Step is one scripted completion. Func takes precedence over Err, which takes
// precedence over Result.
type Step struct {
	Result *core.RunResult
	Err    error
	Func   func(ctx context.Context, req Request) (*core.RunResult, error)
	// Delay blocks before answering; the wait honours cancellation.
	Delay time.Duration
}

// Request records one call made to a Scripted provider.
type Request struct {
	Messages []core.Message
	Tools    []string
	Config   core.ProviderConfig
}

// Scripted is an in-memory Provider replaying a fixed script, useful for tests
// and examples. When the script is exhausted it echoes the last user message.
type Scripted struct {
	info     Info
	defaults core.ProviderConfig

	mu       sync.Mutex
	steps    []Step
	requests []Request
}

// NewScripted creates a scripted provider reporting the given tag.
func NewScripted(tag string, steps ...Step) *Scripted {
	return &Scripted{
		info:     Info{Name: "scripted", Provider: tag, SupportsTools: true},
		defaults: core.ProviderConfig{Model: "scripted"},
		steps:    steps,
	}
}

// Reply is a Step answering with a terminal assistant text.
func Reply(text string) Step {
	return Step{Result: Result(core.AssistantMessage(text), &core.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2})}
}

// CallTools is a Step answering with tool requests.
func CallTools(calls ...core.ToolCall) Step {
	return Step{Result: Result(core.AssistantMessage("", core.WithToolCalls(calls...)), nil)}
}

// Fail is a Step answering with err.
func Fail(err error) Step { return Step{Err: err} }

// Push appends steps to the script.
func (s *Scripted) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Requests returns the calls recorded so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Complete implements Provider.
func (s *Scripted) Complete(ctx context.Context, messages []core.Message, tools []*core.ToolSpec, cfg core.ProviderConfig) (*core.RunResult, error) {
	cfg, err := Prepare(s.defaults, cfg, messages, tools)
	if err != nil {
		return nil, err
	}

	req := Request{Config: cfg}
	for _, m := range messages {
		req.Messages = append(req.Messages, m.Clone())
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, t.Name)
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	var step *Step
	if len(s.steps) > 0 {
		st := s.steps[0]
		s.steps = s.steps[1:]
		step = &st
	}
	s.mu.Unlock()

	return Call(ctx, s.info, cfg, nil, StatusOf, func(ctx context.Context) (*core.RunResult, error) {
		if step == nil {
			return Result(core.AssistantMessage(fmt.Sprintf("echo: %s", lastUserText(messages))), nil), nil
		}
		if step.Delay > 0 {
			t := time.NewTimer(step.Delay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		switch {
		case step.Func != nil:
			return step.Func(ctx, req)
		case step.Err != nil:
			return nil, step.Err
		case step.Result != nil:
			r := *step.Result
			r.Output = r.Output.Clone()
			if r.Usage != nil {
				u := *r.Usage
				r.Usage = &u
			}
			return &r, nil
		}
		return Result(core.AssistantMessage(""), nil), nil
	})
}

// Info implements Provider.
func (s *Scripted) Info() Info { return s.info }

func lastUserText(messages []core.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == core.RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}
