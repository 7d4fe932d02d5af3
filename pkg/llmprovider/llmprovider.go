// Package llmprovider declares the LLMProvider capability (spec.md §6):
// the structural interface agent-bearing stages use to call out to a
// language model, independent of any concrete SDK. Grounded on tarsy's
// agent.LLMClient (pkg/agent/llm_client.go), generalized from tarsy's
// gRPC-streaming, tool-calling transport to a simpler request/response
// shape, since the concrete transport is explicitly out of scope
// (DESIGN.md, "Dropped teacher dependencies") and tarsy's own proto
// sources were never retrieved.
package llmprovider

import "context"

// Role mirrors tarsy's ConversationMessage roles.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation handed to Provider.
type Message struct {
	Role    Role
	Content string
}

// Usage reports token consumption for a single call or, from
// GetCumulativeUsage, for a whole provider lifetime.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the standardized envelope every generation call returns
// (spec.md §6).
type Response struct {
	Content        string
	Usage          Usage
	ResponseID     string
	Model          string
	ConversationID string
}

// Provider is the capability interface agent stages depend on. Concrete
// provider SDKs, rate limiting, and prompt templates are deliberately
// out of scope (spec.md §1); callers register a Provider implementation
// into the execution context's Capabilities bag under ProviderCapability.
type Provider interface {
	// GenerateStructured issues a single, stateless call.
	GenerateStructured(ctx context.Context, messages []Message, model string, temperature float64) (*Response, error)

	// GenerateStructuredInConversation continues (or starts, if
	// conversationID is "") a multi-turn conversation identified by an
	// opaque id (spec.md §9 "conversation state as external session").
	GenerateStructuredInConversation(ctx context.Context, userMessage, conversationID, model, systemPrompt string, temperature float64) (*Response, error)

	// GetCumulativeUsage reports usage accumulated across every call this
	// Provider instance has made.
	GetCumulativeUsage() Usage

	// ResetUsage zeroes the cumulative usage counter.
	ResetUsage()
}

// EmbeddingCapable is an optional capability-detection interface: a
// Provider that also supports embeddings implements it so callers can
// type-assert rather than call a method that always errors.
type EmbeddingCapable interface {
	SupportsEmbedding() bool
}

// ImageGenerationCapable mirrors EmbeddingCapable for image generation.
type ImageGenerationCapable interface {
	SupportsImageGeneration() bool
}

// ProviderCapability is the name under which a Provider is registered in
// an execctx.Capabilities bag.
const ProviderCapability = "llm_provider"
