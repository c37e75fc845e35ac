package ai

import "context"

// Provider starts streaming LLM calls. Implementations convert the internal
// message list and tool definitions to their wire shapes, open the request,
// and translate wire events into StreamEvent tuples.
//
// Implementations must close the Events channel (and not panic) even when
// ctx is cancelled, so callers can always range over it safely. The final
// tuple before close is either response_done or error.
type Provider interface {
	// Name returns the provider identifier, e.g. "openai", "anthropic".
	Name() string

	// Stream starts a streaming LLM call for model. The returned Stream's
	// Cancel closure aborts the request.
	Stream(ctx context.Context, model string, req Request) (*Stream, error)
}
