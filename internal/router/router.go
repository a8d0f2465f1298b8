// Package router implements task classification, provider selection,
// and failover handoff construction.
package router

import (
	"strings"
	"sync"
)

// Complexity is classifyTask's complexity bucket.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// ResourceType is classifyTask's resource bucket.
type ResourceType string

const (
	ResourceReasoning ResourceType = "reasoning"
	ResourceCoding    ResourceType = "coding"
	ResourceCreative  ResourceType = "creative"
	ResourceSearch    ResourceType = "search"
	ResourceData      ResourceType = "data"
)

// TaskClass is the result of classifyTask.
type TaskClass struct {
	Complexity   Complexity
	ResourceType ResourceType
}

var codingKeywords = []string{"implement", "refactor", "write code", "function", "bug", "compile", "debug"}
var reasoningAnalysisKeywords = []string{"analyze", "explain", "why", "reason about", "evaluate"}
var creativeKeywords = []string{"write a story", "poem", "brainstorm", "creative"}
var searchKeywords = []string{"search", "look up", "find information", "browse"}
var dataKeywords = []string{"csv", "json", "spreadsheet", "table", "dataset", "parse data"}

const simplePromptWordLimit = 8

// ClassifyTask buckets a prompt by resource type and complexity.
// "analyze"/"explain" applied to code is reasoning, not coding: the
// analysis keywords are checked before the coding ones specifically
// so that ordering holds.
func ClassifyTask(prompt string) TaskClass {
	lower := strings.ToLower(prompt)

	resourceType := ResourceCoding
	domainsMatched := 0
	switch {
	case containsAny(lower, reasoningAnalysisKeywords):
		resourceType = ResourceReasoning
	case containsAny(lower, codingKeywords):
		resourceType = ResourceCoding
	case containsAny(lower, creativeKeywords):
		resourceType = ResourceCreative
	case containsAny(lower, searchKeywords):
		resourceType = ResourceSearch
	case containsAny(lower, dataKeywords):
		resourceType = ResourceData
	default:
		resourceType = ResourceReasoning
	}

	for _, keywords := range [][]string{codingKeywords, reasoningAnalysisKeywords, creativeKeywords, searchKeywords, dataKeywords} {
		if containsAny(lower, keywords) {
			domainsMatched++
		}
	}

	words := strings.Fields(prompt)
	complexity := ComplexityModerate
	switch {
	case len(words) <= simplePromptWordLimit:
		complexity = ComplexitySimple
	case domainsMatched >= 3:
		complexity = ComplexityComplex
	}

	return TaskClass{Complexity: complexity, ResourceType: resourceType}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// CostTier orders provider pricing, cheapest first.
type CostTier int

const (
	CostFree CostTier = iota
	CostIncluded
	CostMetered
	CostPremium
)

// Capability is a single capability a provider may advertise.
type Capability string

const (
	CapReasoning    Capability = "reasoning"
	CapCoding       Capability = "coding"
	CapCreative     Capability = "creative"
	CapSearch       Capability = "search"
	CapStructured   Capability = "structured-data"
	CapLargeContext Capability = "large-context"
	CapLongRunning  Capability = "long-running"
)

// ProviderInfo is the subset of provider metadata the Router needs.
// Concrete providers (internal/provider) are adapted to this shape at
// the Orchestrator wiring boundary rather than this package importing
// internal/provider directly, keeping the router independently
// testable.
type ProviderInfo struct {
	Name         string
	Rank         int // 1 = preferred
	Capabilities []Capability
	CostTier     CostTier
	Available    bool
}

func (p ProviderInfo) hasAll(required []Capability) bool {
	have := make(map[Capability]bool, len(p.Capabilities))
	for _, c := range p.Capabilities {
		have[c] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}

// Mode selects the selection strategy for selectProvider.
type Mode string

const (
	ModeRespectRanking Mode = "respect_ranking"
	ModeOptimizeCost   Mode = "optimize_cost"
	ModeRoundRobin     Mode = "round_robin"
	ModeProviderOnly   Mode = "provider_only"
)

// Task is the selection request passed to selectProvider.
type Task struct {
	RequiredCapabilities []Capability
	MaxCostTier          *CostTier // nil means no ceiling
	ModelPreference      string    // overrides Mode/MaxCostTier if set and available+capable
	ProviderOnly         string    // used when Mode == ModeProviderOnly
}

// Router selects a provider for a task under a selection Mode.
type Router struct {
	mode Mode

	mu          sync.Mutex
	roundRobinN int
}

// New returns a Router using the given default mode.
func New(mode Mode) *Router {
	return &Router{mode: mode}
}

func capableSet(providers []ProviderInfo, required []Capability) []ProviderInfo {
	var out []ProviderInfo
	for _, p := range providers {
		if p.Available && p.hasAll(required) {
			out = append(out, p)
		}
	}
	return out
}

// SelectProvider picks a provider for task among providers, honoring
// modelPreference overrides and falling back to the unfiltered
// capable set when a cost ceiling would empty it.
func (r *Router) SelectProvider(providers []ProviderInfo, task Task) (ProviderInfo, bool) {
	if task.ModelPreference != "" {
		for _, p := range providers {
			if p.Name == task.ModelPreference && p.Available && p.hasAll(task.RequiredCapabilities) {
				return p, true
			}
		}
	}

	capable := capableSet(providers, task.RequiredCapabilities)
	if len(capable) == 0 {
		return ProviderInfo{}, false
	}

	// A model preference that wasn't available or capable falls back
	// to the configured mode.
	switch r.mode {
	case ModeProviderOnly:
		for _, p := range capable {
			if p.Name == task.ProviderOnly {
				return p, true
			}
		}
		return ProviderInfo{}, false

	case ModeOptimizeCost:
		best := capable[0]
		for _, p := range capable[1:] {
			if p.CostTier < best.CostTier || (p.CostTier == best.CostTier && p.Rank < best.Rank) {
				best = p
			}
		}
		return best, true

	case ModeRoundRobin:
		r.mu.Lock()
		idx := r.roundRobinN % len(capable)
		r.roundRobinN++
		r.mu.Unlock()
		return capable[idx], true

	default: // ModeRespectRanking
		pool := capable
		if task.MaxCostTier != nil {
			var ceilinged []ProviderInfo
			for _, p := range capable {
				if p.CostTier <= *task.MaxCostTier {
					ceilinged = append(ceilinged, p)
				}
			}
			if len(ceilinged) > 0 {
				pool = ceilinged
			}
		}
		best := pool[0]
		for _, p := range pool[1:] {
			if p.Rank < best.Rank {
				best = p
			}
		}
		return best, true
	}
}
