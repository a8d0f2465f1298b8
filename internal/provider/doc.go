// Package provider is the LLM provider abstraction the Router &
// Failover layer drives: one Provider interface, implemented
// per backend, so the Execution Loop never branches on which model
// answered.
//
// # Providers
//
// Anthropic (direct API or Bedrock), OpenAI (native or any
// OpenAI-compatible endpoint, including Azure), and Volcengine ARK are
// built in, each behind the same Provider interface:
//
//	p, err := provider.NewAnthropicProvider(ctx, &provider.AnthropicConfig{
//	    ID:        "anthropic",
//	    APIKey:    apiKey,
//	    Model:     "claude-sonnet-4-20250514",
//	    MaxTokens: 8192,
//	})
//
// # Registry
//
// Registry holds every configured provider and resolves model strings
// ("provider/model" or a bare model name against the priority order)
// to a concrete Model:
//
//	registry := provider.NewRegistry(cfg)
//	model, err := registry.DefaultModel()
//	models := registry.AllModels()
//
// # Completions and tool calling
//
// CreateCompletion returns a CompletionStream regardless of backend.
// ConvertToEinoTools maps the runtime's tool.Tool definitions onto
// Eino's function-calling schema so a provider can offer them to the
// model; ConvertToEinoTools is the only conversion surface this
// package exposes; turning a model's tool_use response back into a
// runtime message happens in adapter.go, against the runtime's own
// session history, not here.
//
// # Built on Eino
//
// Every provider is implemented against github.com/cloudwego/eino's
// ChatModel interface, so streaming, schema.Message construction, and
// tool-call parsing all reuse Eino's handling rather than reimplementing
// per-vendor wire formats.
package provider
