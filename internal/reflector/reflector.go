// Package reflector implements the Reflector: at session end it
// condenses working observations into a shorter cross-session summary
// and extracts persistent facts into structured memory.
package reflector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentrt/agentrt/pkg/types"
)

// ReflectFunc produces the raw two-section reflection output for a
// block of observations. It is typically backed by a cheap model
// invocation, the same shape as the compressor's CompressFunc.
type ReflectFunc func(ctx context.Context, observations string) (string, error)

// ItemStore is the subset of the structured memory store the
// Reflector needs: persisting extracted facts and invalidating the
// salience index once any are written.
type ItemStore interface {
	CreateItem(item types.MemoryItem) error
	InvalidateIndex() error
}

// ObservationAppender is the subset of the observation store needed to
// persist condensed output as a new cross-session block.
type ObservationAppender interface {
	Append(block types.ObservationBlock) error
}

const reflectionPromptTemplate = `You are reviewing a session's working observations before they are
discarded. Produce exactly two sections.

FACTS: a single-line JSON array of objects, each {"summary","kind","tags"}.
kind is one of profile, event, knowledge, behavior, skill, tool.
Only include facts worth remembering across sessions. Use [] if none.

CONDENSED:
A condensed version of the observations below, preserving what a
future session would need to continue the work.

Observations:
%s`

// BuildPrompt renders the reflection prompt for a block of
// observations, matching the structure the underlying model must
// follow for parseSections to succeed.
func BuildPrompt(observations string) string {
	return fmt.Sprintf(reflectionPromptTemplate, observations)
}

// Reflector owns the condense-and-extract step run once per completed
// session.
type Reflector struct {
	items        ItemStore
	observations ObservationAppender
	reflect      ReflectFunc
}

// New returns a Reflector. observations may be nil when callers only
// need ReflectOnly (no cross-session block persistence).
func New(items ItemStore, observations ObservationAppender, reflect ReflectFunc) *Reflector {
	return &Reflector{items: items, observations: observations, reflect: reflect}
}

// Result is the outcome of a reflection pass.
type Result struct {
	ItemsCreated          int
	CondensedObservations string
	CondensedTokens       int
}

type factDraft struct {
	Summary string   `json:"summary"`
	Kind    string   `json:"kind"`
	Tags    []string `json:"tags"`
}

// Reflect condenses observations and extracts facts into structured
// memory, without persisting the condensed text anywhere. On callback
// failure it returns the input observations unchanged and zero items,
// per the no-data-loss contract: a flaky summarizer must never erase
// what it could not condense.
func (r *Reflector) Reflect(ctx context.Context, observations, sessionID string) (Result, error) {
	output, err := r.reflect(ctx, observations)
	if err != nil {
		return Result{CondensedObservations: observations, CondensedTokens: estimateTokens(observations)}, nil
	}

	facts, condensed := parseSections(output)
	if condensed == "" {
		condensed = observations
	}

	created := 0
	now := time.Now().UTC().Format(time.RFC3339)
	for _, f := range facts {
		kind := coerceKind(f.Kind)
		item := types.MemoryItem{
			ID:           ulid.Make().String(),
			Kind:         kind,
			Summary:      f.Summary,
			SessionID:    sessionID,
			SourceKind:   types.SourceAgentAnalysis,
			CreatedAt:    now,
			LastAccessed: now,
			Tags:         f.Tags,
			Category:     string(kind) + "/reflected",
		}
		if err := r.items.CreateItem(item); err != nil {
			continue
		}
		created++
	}

	if created > 0 {
		_ = r.items.InvalidateIndex()
	}

	return Result{
		ItemsCreated:          created,
		CondensedObservations: condensed,
		CondensedTokens:       estimateTokens(condensed),
	}, nil
}

// ReflectAndPersist runs Reflect and, when it produced condensed text,
// also appends it as a new cross-session observation block so future
// sessions can recall it via the observation store.
func (r *Reflector) ReflectAndPersist(ctx context.Context, observations, sessionID string) (Result, error) {
	result, err := r.Reflect(ctx, observations, sessionID)
	if err != nil {
		return result, err
	}

	if r.observations != nil && result.CondensedObservations != "" {
		block := types.ObservationBlock{
			ID:        ulid.Make().String(),
			SessionID: sessionID,
			Tier:      types.TierCrossSession,
			Text:      result.CondensedObservations,
		}
		if err := r.observations.Append(block); err != nil {
			return result, err
		}
	}

	return result, nil
}

func estimateTokens(text string) int {
	return len(text) / 4
}

var knownKinds = map[string]types.MemoryKind{
	"profile":   types.MemoryKindProfile,
	"event":     types.MemoryKindEvent,
	"knowledge": types.MemoryKindKnowledge,
	"behavior":  types.MemoryKindBehavior,
	"skill":     types.MemoryKindSkill,
	"tool":      types.MemoryKindTool,
}

func coerceKind(raw string) types.MemoryKind {
	if kind, ok := knownKinds[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return kind
	}
	return types.MemoryKindKnowledge
}

// parseSections extracts the FACTS: JSON array and CONDENSED: body
// from a reflection callback's raw output. Either section may be
// absent; an absent or malformed FACTS line yields no facts rather
// than an error, since a partial reflection is still useful.
func parseSections(output string) ([]factDraft, string) {
	lines := strings.Split(output, "\n")

	var facts []factDraft
	condensedStart := -1

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "FACTS:"):
			payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "FACTS:"))
			_ = json.Unmarshal([]byte(payload), &facts)
		case trimmed == "CONDENSED:" || strings.HasPrefix(trimmed, "CONDENSED:"):
			condensedStart = i
			if rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "CONDENSED:")); rest != "" {
				lines[i] = rest
			} else {
				condensedStart = i + 1
			}
		}
	}

	if condensedStart < 0 || condensedStart > len(lines) {
		return facts, ""
	}
	return facts, strings.TrimSpace(strings.Join(lines[condensedStart:], "\n"))
}
