package ai

import "context"

// Capability is a single synchronous text completion call against an analysis backend.
type Capability interface {
	Submit(ctx context.Context, systemPrompt, userPrompt, model string) (string, error)
}

// CapabilityFunc adapts a plain function to Capability.
type CapabilityFunc func(ctx context.Context, systemPrompt, userPrompt, model string) (string, error)

func (f CapabilityFunc) Submit(ctx context.Context, systemPrompt, userPrompt, model string) (string, error) {
	return f(ctx, systemPrompt, userPrompt, model)
}
