// Package orchestrator implements the Execution Loop: the
// per-task lifecycle wiring every other component together.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentrt/agentrt/internal/audit"
	"github.com/agentrt/agentrt/internal/capsule"
	"github.com/agentrt/agentrt/internal/compressor"
	"github.com/agentrt/agentrt/internal/journal"
	"github.com/agentrt/agentrt/internal/memory"
	"github.com/agentrt/agentrt/internal/policy"
	"github.com/agentrt/agentrt/internal/promptdefense"
	"github.com/agentrt/agentrt/internal/reflector"
	"github.com/agentrt/agentrt/internal/router"
	"github.com/agentrt/agentrt/internal/steering"
	"github.com/agentrt/agentrt/pkg/types"
)

const steeringPollInterval = time.Second

// Task is one unit of work submitted to the Orchestrator.
type Task struct {
	JobID   string
	Prompt  string
	Mandate string // the Intent Capsule's mandate text; defaults to Prompt
}

// Provider is the subset of the provider contract the
// Orchestrator drives directly.
type Provider interface {
	Name() string
	Execute(ctx context.Context, systemPrompt string, history []types.SessionEvent, task Task) (<-chan types.SessionEvent, error)
}

// Hooks are the four ordered hook lists run at their named point in
// the lifecycle. Each hook's error is logged and isolated; it never
// aborts the remaining hooks or the task.
type Hooks struct {
	OnTaskStart       []func(ctx context.Context, task *Task) error
	BeforeToolExecute []func(ctx context.Context, call *types.ToolCallContent) (allow bool, err error)
	AfterToolExecute  []func(ctx context.Context, result *types.ToolResultContent) error
	OnTaskEnd         []func(ctx context.Context, task Task) (followUp *Task)
}

// Orchestrator wires the Policy Engine, Intent Capsule, Memory
// Manager, Router, Session Journal, Context Compressor, Steering
// Ingress, Audit Log, and Reflector around a provider's event stream.
type Orchestrator struct {
	router      *router.Router
	failover    *router.FailoverController
	policy      *policy.Engine
	capsule     *capsule.Manager
	leakScanner *promptdefense.LeakDetector
	memory      *memory.Manager
	mailbox     *steering.Mailbox
	auditLog    *audit.Log
	journalDir  string
	hooks       Hooks

	newCompressor func(sessionID string) *compressor.Compressor
	newReflector  func() *reflector.Reflector

	systemPreamble string
}

// Dependencies bundles everything New needs; every field is required
// except Hooks, which defaults to empty.
type Dependencies struct {
	Router         *router.Router
	Failover       *router.FailoverController
	Policy         *policy.Engine
	Capsule        *capsule.Manager
	Memory         *memory.Manager
	Mailbox        *steering.Mailbox
	AuditLog       *audit.Log
	JournalDir     string
	NewCompressor  func(sessionID string) *compressor.Compressor
	NewReflector   func() *reflector.Reflector
	SystemPreamble string
	Hooks          Hooks
}

// New returns an Orchestrator built from deps.
func New(deps Dependencies) *Orchestrator {
	return &Orchestrator{
		router:         deps.Router,
		failover:       deps.Failover,
		policy:         deps.Policy,
		capsule:        deps.Capsule,
		leakScanner:    promptdefense.New(),
		memory:         deps.Memory,
		mailbox:        deps.Mailbox,
		auditLog:       deps.AuditLog,
		journalDir:     deps.JournalDir,
		hooks:          deps.Hooks,
		newCompressor:  deps.NewCompressor,
		newReflector:   deps.NewReflector,
		systemPreamble: deps.SystemPreamble,
	}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Run executes task to completion against providers (candidates for
// the initial selection and any failover), returning the final
// provider's name or an error if none could be selected or the
// provider stream failed without a viable failover.
func (o *Orchestrator) Run(ctx context.Context, task Task, providerInfos []router.ProviderInfo, providers map[string]Provider, routerTask router.Task) (string, error) {
	if task.Mandate == "" {
		task.Mandate = task.Prompt
	}

	memoryBlock, err := o.memory.LoadContext(ctx)
	if err != nil {
		return "", fmt.Errorf("memory index: %w", err)
	}
	systemPrompt := o.systemPreamble + "\n\n" + memoryBlock

	mandate := o.capsule.Create(task.Mandate, capsule.CreateOptions{})

	chosen, ok := o.router.SelectProvider(providerInfos, routerTask)
	if !ok {
		return "", fmt.Errorf("no capable provider available")
	}
	current := providers[chosen.Name]
	if current == nil {
		return "", fmt.Errorf("provider %q not registered", chosen.Name)
	}

	w := journal.New(o.journalDir, task.JobID, journal.Options{})
	defer w.Close()

	comp := o.newCompressor(task.JobID)
	defer comp.Close()

	// Watch the job's steering directory so a message injected by an
	// external writer invalidates the poll cache immediately instead
	// of waiting out the TTL. Degrades to a no-op stop func if the
	// watch can't be established.
	stopWatch, _ := o.mailbox.WatchInvalidation(task.JobID)
	defer stopWatch()

	for _, hook := range o.hooks.OnTaskStart {
		if err := hook(ctx, &task); err != nil {
			continue // logged and ignored per the hook contract
		}
	}

	w.Append(sessionEvent(types.EventTaskStart, chosen.Name, nil))

	var history []types.SessionEvent
	var toolHistory []router.ToolCallRecord

	for {
		events, err := current.Execute(ctx, systemPrompt, history, task)
		if err != nil {
			class := router.ClassifyError(0, err)
			alt, bundle, failoverOK := o.failover.HandleFailure(class, chosen, providerInfos, routerTask, toolHistory, systemPrompt)
			if !failoverOK {
				return "", err
			}
			systemPrompt = bundle.SystemPrompt + "\n\n" + bundle.Summary
			chosen = alt
			current = providers[alt.Name]
			continue
		}

		done, errContent, runErr := o.drain(ctx, events, w, comp, &mandate, &history, &toolHistory, task.JobID, chosen.Name)
		if runErr != nil {
			return "", runErr
		}
		if errContent != nil {
			// Providers classify their own failures at the point the
			// status code is still in hand; only classify here when an
			// event arrived without a category.
			class := router.ErrorClass(errContent.Category)
			if class == "" {
				class = router.ClassifyError(0, fmt.Errorf("%s", errContent.Message))
			}
			alt, bundle, failoverOK := o.failover.HandleFailure(class, chosen, providerInfos, routerTask, toolHistory, systemPrompt)
			if !failoverOK {
				return "", fmt.Errorf("provider error: %s", errContent.Message)
			}
			systemPrompt = bundle.SystemPrompt + "\n\n" + bundle.Summary
			chosen = alt
			current = providers[alt.Name]
			continue
		}
		if done {
			break
		}
	}

	end := types.TaskEndContent{}
	if ctx.Err() != nil {
		end.Aborted = true
		end.Reason = "canceled"
	}
	w.Append(sessionEvent(types.EventTaskEnd, chosen.Name, end))

	var followUp *Task
	for _, hook := range o.hooks.OnTaskEnd {
		if fu := hook(ctx, task); fu != nil && followUp == nil {
			followUp = fu
		}
	}

	_ = comp.Flush(ctx)
	snapshot, snapErr := comp.BuildContext()
	if snapErr == nil {
		if refl := o.newReflector(); refl != nil {
			if _, err := refl.ReflectAndPersist(ctx, snapshot.SessionObservations, task.JobID); err != nil {
				// reflection failure must not fail the task
			}
		}
	}

	if followUp != nil {
		return o.Run(ctx, *followUp, providerInfos, providers, routerTask)
	}

	return chosen.Name, nil
}

// drain iterates one provider stream to completion or until an error
// event requires failover. It returns done=true when a task-ending
// event (done) was observed, or a non-nil errContent when the stream
// yielded an error event that the caller should hand to the Failover
// Controller.
func (o *Orchestrator) drain(
	ctx context.Context,
	events <-chan types.SessionEvent,
	w *journal.Writer,
	comp *compressor.Compressor,
	mandate *types.IntentCapsule,
	history *[]types.SessionEvent,
	toolHistory *[]router.ToolCallRecord,
	jobID, providerName string,
) (done bool, errContent *types.ErrorContent, err error) {
	toolNames := make(map[string]string)
	lastPoll := time.Now()

	for ev := range events {
		*history = append(*history, ev)

		switch ev.Type {
		case types.EventText, types.EventThinking, types.EventTurnStart, types.EventTurnEnd:
			w.Append(ev)
			comp.Ingest(ingestEvent(ev))

		case types.EventToolCall:
			var call types.ToolCallContent
			_ = json.Unmarshal(ev.Content, &call)
			toolNames[call.CallID] = call.ToolName

			allowed := true
			denyReason := ""
			auditKind := types.AuditEventPolicyDeny
			for _, hook := range o.hooks.BeforeToolExecute {
				a, herr := hook(ctx, &call)
				if herr != nil {
					continue
				}
				if !a {
					allowed = false
					denyReason = "blocked by pre-execution hook"
					break
				}
			}

			if allowed {
				auth := o.policy.NewToolAuthorizer().Authorize(call.ToolName, call.Arguments)
				switch {
				case !auth.Allowed:
					allowed = false
					denyReason = auth.Reason
				default:
					if drift := o.capsule.CheckDrift(*mandate, call.ToolName, fmt.Sprint(call.Arguments)); !drift.Consistent {
						allowed = false
						denyReason = drift.Reason
						auditKind = types.AuditEventDriftDeny
					} else if verr := promptdefense.ValidateToolOutput(call.ToolName, call.Arguments); verr != nil {
						allowed = false
						denyReason = verr.Error()
					} else {
						call.Arguments = auth.Arguments
					}
				}
			}

			o.audit(jobID, providerName, call, allowed, auditKind)
			w.Append(ev)
			comp.Ingest(ingestEvent(ev))

			if !allowed {
				denial, _ := json.Marshal(types.ToolResultContent{CallID: call.CallID, Denied: true, Error: denyReason})
				denialEvent := types.SessionEvent{Type: types.EventToolResult, Timestamp: nowISO(), Content: denial}
				w.Append(denialEvent)
				comp.Ingest(ingestEvent(denialEvent))
			}

		case types.EventToolResult:
			var result types.ToolResultContent
			_ = json.Unmarshal(ev.Content, &result)
			for _, hook := range o.hooks.AfterToolExecute {
				if herr := hook(ctx, &result); herr != nil {
					continue
				}
			}

			redacted := o.leakScanner.Redact(result.Output)
			*toolHistory = append(*toolHistory, router.ToolCallRecord{ToolName: toolNames[result.CallID], Result: redacted, Tokens: len(redacted) / 4})

			patched, _ := json.Marshal(types.ToolResultContent{CallID: result.CallID, Output: redacted, Error: result.Error, Denied: result.Denied})
			patchedEvent := types.SessionEvent{Type: types.EventToolResult, Timestamp: ev.Timestamp, Content: patched}
			w.Append(patchedEvent)
			comp.Ingest(ingestEvent(patchedEvent))

		case types.EventError:
			var parsed types.ErrorContent
			_ = json.Unmarshal(ev.Content, &parsed)
			w.Append(ev)
			return false, &parsed, nil

		case types.EventDone:
			w.Append(ev)
			return true, nil, nil
		}

		_ = comp.Tick(ctx)

		if time.Since(lastPoll) >= steeringPollInterval {
			o.pollSteering(jobID, w, history)
			lastPoll = time.Now()
		}
	}

	return true, nil, nil
}

func (o *Orchestrator) pollSteering(jobID string, w *journal.Writer, history *[]types.SessionEvent) {
	messages, err := o.mailbox.CachedGetPendingMessages(jobID, steeringPollInterval)
	if err != nil {
		return
	}
	for _, msg := range messages {
		content, _ := json.Marshal(types.SteeringContent{MessageID: msg.ID, Text: msg.Text})
		ev := types.SessionEvent{Type: types.EventSteering, Timestamp: nowISO(), Content: content}
		w.Append(ev)
		*history = append(*history, ev)
		_ = o.mailbox.ArchiveMessage(jobID, msg.ID)
	}
}

func (o *Orchestrator) audit(jobID, providerName string, call types.ToolCallContent, allowed bool, denyKind string) {
	result := types.AuditEventPolicyAllow
	if !allowed {
		result = denyKind
	}
	_, _ = o.auditLog.Append(types.AuditEntry{
		JobID:      jobID,
		EventKind:  result,
		Timestamp:  nowISO(),
		Provider:   providerName,
		ToolName:   call.ToolName,
		Parameters: call.Arguments,
	})
}

func sessionEvent(t types.SessionEventType, source string, content any) types.SessionEvent {
	var raw json.RawMessage
	if content != nil {
		raw, _ = json.Marshal(content)
	}
	return types.SessionEvent{Type: t, Timestamp: nowISO(), Source: source, Content: raw}
}

func ingestEvent(ev types.SessionEvent) string {
	data, _ := json.Marshal(ev)
	return string(data)
}
