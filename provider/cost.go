package provider

import (
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/meepo/core"
)

// Price is the USD cost per million tokens.
type Price struct {
	Input  float64
	Output float64
}

type priceKey struct {
	provider string
	prefix   string
}

var prices = struct {
	sync.RWMutex
	m map[priceKey]Price
}{m: map[priceKey]Price{
	{"openai", "gpt-4o-mini"}:                    {Input: 0.15, Output: 0.60},
	{"openai", "gpt-4o"}:                         {Input: 2.50, Output: 10.00},
	{"openai", "gpt-4.1-mini"}:                   {Input: 0.40, Output: 1.60},
	{"openai", "gpt-4.1"}:                        {Input: 2.00, Output: 8.00},
	{"openai", "o3-mini"}:                        {Input: 1.10, Output: 4.40},
	{"anthropic", "claude-3-5-haiku"}:            {Input: 0.80, Output: 4.00},
	{"anthropic", "claude-3-5-sonnet"}:           {Input: 3.00, Output: 15.00},
	{"anthropic", "claude-3-7-sonnet"}:           {Input: 3.00, Output: 15.00},
	{"anthropic", "claude-sonnet-4"}:             {Input: 3.00, Output: 15.00},
	{"anthropic", "claude-opus-4"}:               {Input: 15.00, Output: 75.00},
	{"gemini", "gemini-2.0-flash"}:               {Input: 0.10, Output: 0.40},
	{"gemini", "gemini-1.5-pro"}:                 {Input: 1.25, Output: 5.00},
	{"gemini", "gemini-1.5-flash"}:               {Input: 0.075, Output: 0.30},
	{"openrouter", "openai/gpt-4o-mini"}:         {Input: 0.15, Output: 0.60},
	{"openrouter", "anthropic/claude-3.5-haiku"}: {Input: 0.80, Output: 4.00},
}}

// SetPrice registers or replaces the price of models starting with prefix.
func SetPrice(provider, modelPrefix string, p Price) {
	prices.Lock()
	defer prices.Unlock()
	prices.m[priceKey{provider, modelPrefix}] = p
}

// EstimateCost prices usage with the longest matching model prefix of the
// provider. Local providers (ollama) are free. Unknown models yield
// Cost{Known: false}. It never blocks on I/O and never fails.
func EstimateCost(provider, model string, usage core.Usage) core.Cost {
	if provider == "ollama" {
		return core.Cost{USD: 0, Known: true}
	}
	p, ok := lookupPrice(provider, model)
	if !ok {
		return core.Cost{}
	}
	usd := (float64(usage.PromptTokens)*p.Input + float64(usage.CompletionTokens)*p.Output) / 1_000_000
	return core.Cost{USD: usd, Known: true}
}

func lookupPrice(provider, model string) (Price, bool) {
	prices.RLock()
	defer prices.RUnlock()
	var keys []priceKey
	for k := range prices.m {
		if k.provider == provider && strings.HasPrefix(model, k.prefix) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return Price{}, false
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i].prefix) > len(keys[j].prefix) })
	return prices.m[keys[0]], true
}
