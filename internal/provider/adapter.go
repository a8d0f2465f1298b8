package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"

	"github.com/agentrt/agentrt/internal/orchestrator"
	"github.com/agentrt/agentrt/internal/router"
	"github.com/agentrt/agentrt/pkg/types"
)

func nowISO() string { return time.Now().UTC().Format(time.RFC3339Nano) }

const (
	// maxToolSteps bounds the call/execute/call-again loop a single
	// Execute runs before giving up.
	maxToolSteps = 50
	// maxCompletionRetries is the per-Execute retry budget for
	// transient completion failures.
	maxCompletionRetries = 3
	retryInitialInterval = time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxElapsedTime  = 2 * time.Minute
	// authCacheTTL bounds how long a CheckAuth result is reused before
	// the probe runs again.
	authCacheTTL = 60 * time.Second
)

// AuthChecker lets a Provider expose its own cheap credential probe
// (a subprocess, an HTTP endpoint, an SDK call). Providers that don't
// implement it are considered authed as long as their chat model was
// constructed.
type AuthChecker interface {
	CheckAuth(ctx context.Context) error
}

// newRetryBackoff builds the jittered exponential backoff used between
// completion retries. Jitter spreads concurrent tasks' retries apart;
// the context bound makes cancellation win over any remaining budget.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, maxCompletionRetries), ctx)
}

// ToolExecutor authorizes and runs one tool call, returning the result
// to fold back into the conversation. internal/toolexec.Executor
// implements this by gating through the Policy Engine before
// dispatch.
type ToolExecutor interface {
	Execute(ctx context.Context, call types.ToolCallContent) types.ToolResultContent
}

// EventAdapter exposes a Eino-backed Provider as the SessionEvent
// stream contract the Orchestrator drives, guarding every call
// through a circuit breaker, classifying quota errors the way
// the Router's Failover Controller expects, and running any
// tool calls the model emits through a ToolExecutor before continuing
// the conversation.
type EventAdapter struct {
	provider  Provider
	modelID   string
	maxTokens int
	breaker   *Breaker
	tools     ToolExecutor

	authMu        sync.Mutex
	authCheckedAt time.Time
	authErr       error

	jobsMu sync.Mutex
	jobs   map[string]context.CancelFunc
}

// NewEventAdapter wraps p so it satisfies orchestrator.Provider. tools
// may be nil, in which case tool calls are surfaced as events but
// never executed (single-turn, observe-only mode).
func NewEventAdapter(p Provider, modelID string, maxTokens int, breaker *Breaker, tools ToolExecutor) *EventAdapter {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &EventAdapter{
		provider:  p,
		modelID:   modelID,
		maxTokens: maxTokens,
		breaker:   breaker,
		tools:     tools,
		jobs:      make(map[string]context.CancelFunc),
	}
}

// Name implements orchestrator.Provider.
func (a *EventAdapter) Name() string { return a.provider.ID() }

// CheckAuth probes the underlying provider's credentials, caching the
// result for authCacheTTL so availability checks stay cheap.
func (a *EventAdapter) CheckAuth(ctx context.Context) error {
	a.authMu.Lock()
	defer a.authMu.Unlock()

	if !a.authCheckedAt.IsZero() && time.Since(a.authCheckedAt) < authCacheTTL {
		return a.authErr
	}

	if checker, ok := a.provider.(AuthChecker); ok {
		a.authErr = checker.CheckAuth(ctx)
	} else if a.provider.ChatModel() == nil {
		a.authErr = errors.New("provider has no constructed chat model")
	} else {
		a.authErr = nil
	}
	a.authCheckedAt = time.Now()
	return a.authErr
}

// IsAvailable reports whether this provider can take a request right
// now: the circuit must not be open and the (cached) auth probe must
// pass.
func (a *EventAdapter) IsAvailable() bool {
	if a.breaker.State() == StateOpen {
		return false
	}
	return a.CheckAuth(context.Background()) == nil
}

// QuotaStatus exposes the breaker-derived capacity view.
func (a *EventAdapter) QuotaStatus() QuotaStatus {
	return a.breaker.QuotaStatus()
}

// Abort cancels the in-flight run for jobID, if any. Idempotent:
// aborting an unknown or already-finished job is a no-op.
func (a *EventAdapter) Abort(jobID string) {
	a.jobsMu.Lock()
	cancel := a.jobs[jobID]
	delete(a.jobs, jobID)
	a.jobsMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *EventAdapter) trackJob(ctx context.Context, jobID string) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	a.jobsMu.Lock()
	a.jobs[jobID] = cancel
	a.jobsMu.Unlock()
	return runCtx, func() {
		a.jobsMu.Lock()
		delete(a.jobs, jobID)
		a.jobsMu.Unlock()
		cancel()
	}
}

// Execute implements orchestrator.Provider: it drives a bounded
// call/execute-tools/call-again loop, translating Eino message chunks
// and tool results into types.SessionEvent values on the returned
// channel.
func (a *EventAdapter) Execute(ctx context.Context, systemPrompt string, history []types.SessionEvent, task orchestrator.Task) (<-chan types.SessionEvent, error) {
	if err := a.breaker.Allow(); err != nil {
		// An open circuit is still a stream outcome, not a synchronous
		// failure: yield a single error event with isCircuitOpen set
		// and end, so the caller's failover path sees it the same way
		// it sees any other provider error. The breaker opens on
		// repeated quota/transport failures, so rate_limit is the
		// classification an alternative-provider selection expects.
		events := make(chan types.SessionEvent, 1)
		raw, _ := json.Marshal(types.ErrorContent{
			Message:       err.Error(),
			IsCircuitOpen: true,
			Category:      string(router.ErrorRateLimit),
		})
		events <- types.SessionEvent{Type: types.EventError, Timestamp: nowISO(), Content: raw}
		close(events)
		return events, nil
	}

	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, &schema.Message{Role: schema.System, Content: systemPrompt})
	messages = append(messages, historyToMessages(history)...)
	if len(history) == 0 {
		messages = append(messages, &schema.Message{Role: schema.User, Content: task.Prompt})
	}

	events := make(chan types.SessionEvent, 16)
	runCtx, done := a.trackJob(ctx, task.JobID)
	go func() {
		defer done()
		a.runSteps(runCtx, messages, events)
	}()
	return events, nil
}

// runSteps owns the step loop: each iteration issues one completion
// call, drains its chunks into events, and if the model asked for
// tools, executes them and feeds the results back for the next call.
func (a *EventAdapter) runSteps(ctx context.Context, messages []*schema.Message, out chan<- types.SessionEvent) {
	defer close(out)

	emit := func(t types.SessionEventType, content any) {
		raw, _ := json.Marshal(content)
		select {
		case out <- types.SessionEvent{Type: t, Timestamp: nowISO(), Content: raw}:
		case <-ctx.Done():
		}
	}

	retry := newRetryBackoff(ctx)

	for step := 0; step < maxToolSteps; step++ {
		stream, err := a.provider.CreateCompletion(ctx, &CompletionRequest{
			Model:     a.modelID,
			Messages:  messages,
			MaxTokens: a.maxTokens,
		})
		if err != nil {
			a.breaker.RecordFailure()
			category := router.ClassifyError(statusCodeOf(err), err)
			// Timeouts and transient transport failures are retried
			// in place with backoff while the breaker stays closed.
			// Quota and auth failures surface immediately so the
			// Failover Controller can move the task to another
			// provider instead of hammering this one.
			if a.breaker.State() != StateOpen &&
				(category == router.ErrorTimeout || category == router.ErrorTransient) {
				if wait := retry.NextBackOff(); wait != backoff.Stop {
					select {
					case <-time.After(wait):
						continue
					case <-ctx.Done():
					}
				}
			}
			emit(types.EventError, types.ErrorContent{
				Message:       err.Error(),
				IsCircuitOpen: a.breaker.State() == StateOpen,
				Category:      string(category),
			})
			return
		}

		text, toolCalls, reason, err := a.drainStream(ctx, stream, emit)
		if err != nil {
			return // drainStream already emitted the error event
		}

		if len(toolCalls) == 0 || a.tools == nil {
			emit(types.EventDone, types.DoneContent{Text: text, FinishReason: reason})
			return
		}

		assistantMsg := &schema.Message{Role: schema.Assistant, Content: text}
		for _, tc := range toolCalls {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, *tc)
		}
		messages = append(messages, assistantMsg)

		for _, tc := range toolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			call := types.ToolCallContent{CallID: tc.ID, ToolName: tc.Function.Name, Arguments: args}
			emit(types.EventToolCall, call)

			result := a.tools.Execute(ctx, call)
			emit(types.EventToolResult, result)

			content := result.Output
			if result.Denied {
				content = "denied: " + result.Error
			} else if result.Error != "" {
				content = "error: " + result.Error
			}
			messages = append(messages, &schema.Message{Role: schema.Tool, Content: content, ToolCallID: tc.ID})
		}
	}

	emit(types.EventDone, types.DoneContent{Text: "", FinishReason: "max_steps"})
}

// drainStream receives one completion's chunks, emitting text/thinking
// events as they arrive, and returns the accumulated text, the fully
// assembled tool calls (if any), and the provider's finish reason.
func (a *EventAdapter) drainStream(ctx context.Context, stream *CompletionStream, emit func(types.SessionEventType, any)) (text string, toolCalls []*schema.ToolCall, finishReason string, err error) {
	defer stream.Close()

	pending := make(map[string]*schema.ToolCall)

	for {
		msg, recvErr := stream.Recv()
		if recvErr == io.EOF {
			a.breaker.RecordSuccess()
			return text, sortedToolCalls(pending), "stop", nil
		}
		if recvErr != nil {
			a.breaker.RecordFailure()
			emit(types.EventError, types.ErrorContent{
				Message:       recvErr.Error(),
				IsCircuitOpen: a.breaker.State() == StateOpen,
				Category:      string(router.ClassifyError(statusCodeOf(recvErr), recvErr)),
			})
			return "", nil, "", recvErr
		}

		if msg.Content != "" {
			text += msg.Content
			emit(types.EventText, types.TextContent{Text: msg.Content})
		}
		if msg.ReasoningContent != "" {
			emit(types.EventThinking, types.TextContent{Text: msg.ReasoningContent})
		}
		accumulateToolCalls(pending, msg.ToolCalls)

		if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason != "" {
			a.breaker.RecordSuccess()
			reason := msg.ResponseMeta.FinishReason
			if reason == "tool_use" {
				reason = "tool-calls"
			}
			return text, sortedToolCalls(pending), reason, nil
		}
	}
}

// sortedToolCalls drops any entries whose ID or name never completed
// and returns the rest ordered by stream index, then ID, so repeated
// drains of the same stream dispatch tools in the same order.
func sortedToolCalls(pending map[string]*schema.ToolCall) []*schema.ToolCall {
	var result []*schema.ToolCall
	for _, tc := range pending {
		if tc.ID == "" || tc.Function.Name == "" {
			continue
		}
		result = append(result, tc)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Index != nil && b.Index != nil && *a.Index != *b.Index {
			return *a.Index < *b.Index
		}
		return a.ID < b.ID
	})
	return result
}

func accumulateToolCalls(toolCalls map[string]*schema.ToolCall, deltas []schema.ToolCall) {
	for _, tc := range deltas {
		key := tc.ID
		if key == "" && tc.Index != nil {
			key = fmt.Sprintf("idx:%d", *tc.Index)
		}
		if key == "" {
			continue
		}
		existing, ok := toolCalls[key]
		if !ok {
			cp := tc
			toolCalls[key] = &cp
			continue
		}
		if existing.ID == "" && tc.ID != "" {
			existing.ID = tc.ID
		}
		if existing.Function.Name == "" && tc.Function.Name != "" {
			existing.Function.Name = tc.Function.Name
		}
		existing.Function.Arguments += tc.Function.Arguments
	}
}

// historyToMessages reconstructs a Eino conversation from a session's
// recorded event history, so a failed-over or resumed provider sees
// the same turn sequence the original stream produced.
func historyToMessages(history []types.SessionEvent) []*schema.Message {
	var messages []*schema.Message
	for _, ev := range history {
		switch ev.Type {
		case types.EventText:
			var c types.TextContent
			if err := json.Unmarshal(ev.Content, &c); err != nil || c.Text == "" {
				continue
			}
			role := schema.Assistant
			if ev.Source == "user" {
				role = schema.User
			}
			messages = append(messages, &schema.Message{Role: role, Content: c.Text})

		case types.EventSteering:
			var c types.SteeringContent
			if err := json.Unmarshal(ev.Content, &c); err != nil {
				continue
			}
			messages = append(messages, &schema.Message{Role: schema.User, Content: c.Text})

		case types.EventToolCall:
			var c types.ToolCallContent
			if err := json.Unmarshal(ev.Content, &c); err != nil {
				continue
			}
			args, _ := json.Marshal(c.Arguments)
			messages = append(messages, &schema.Message{
				Role: schema.Assistant,
				ToolCalls: []schema.ToolCall{{
					ID:       c.CallID,
					Function: schema.FunctionCall{Name: c.ToolName, Arguments: string(args)},
				}},
			})

		case types.EventToolResult:
			var c types.ToolResultContent
			if err := json.Unmarshal(ev.Content, &c); err != nil {
				continue
			}
			content := c.Output
			if c.Error != "" {
				content = "Error: " + c.Error
			}
			messages = append(messages, &schema.Message{Role: schema.Tool, Content: content, ToolCallID: c.CallID})
		}
	}
	return messages
}

// statusCodeOf extracts an HTTP status code from err's message when the
// underlying transport didn't expose one structurally; most Eino model
// clients surface it only in the error string.
func statusCodeOf(err error) int {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"):
		return http.StatusTooManyRequests
	case strings.Contains(msg, "401"):
		return http.StatusUnauthorized
	case strings.Contains(msg, "403"):
		return http.StatusForbidden
	case strings.Contains(msg, "503"):
		return http.StatusServiceUnavailable
	default:
		return 0
	}
}

// InfoFor builds the router.ProviderInfo a registered provider
// advertises for a given model, deriving capabilities and cost tier
// from the model's own metadata rather than hand-maintained tables.
func InfoFor(p Provider, modelID string, rank int) router.ProviderInfo {
	var model *types.Model
	for _, m := range p.Models() {
		if m.ID == modelID {
			model = &m
			break
		}
	}

	var caps []router.Capability
	costTier := router.CostIncluded
	if model != nil {
		if model.SupportsReasoning {
			caps = append(caps, router.CapReasoning)
		}
		if model.SupportsTools {
			caps = append(caps, router.CapCoding, router.CapStructured)
		}
		if model.ContextLength >= 128000 {
			caps = append(caps, router.CapLargeContext)
		}
		switch {
		case model.InputPrice == 0 && model.OutputPrice == 0:
			costTier = router.CostFree
		case model.InputPrice >= 10:
			costTier = router.CostPremium
		case model.InputPrice > 0:
			costTier = router.CostMetered
		}
	}

	return router.ProviderInfo{
		Name:         p.ID(),
		Rank:         rank,
		Capabilities: caps,
		CostTier:     costTier,
		Available:    true,
	}
}
