package ai

import (
	"context"

	"github.com/bryanwahyu/metro-bim/internal/infra/ai/prompt"
)

// FallbackCapability answers every request with the fixed synthetic payload.
type FallbackCapability struct{}

func (FallbackCapability) Submit(_ context.Context, _, _, _ string) (string, error) {
	return prompt.FallbackPayload()
}
