package reflector

import (
	"context"
	"errors"
	"testing"

	"github.com/agentrt/agentrt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeItemStore struct {
	items       []types.MemoryItem
	invalidated bool
	failOn      string // Summary value that should fail to persist
}

func (f *fakeItemStore) CreateItem(item types.MemoryItem) error {
	if item.Summary == f.failOn {
		return errors.New("create failed")
	}
	f.items = append(f.items, item)
	return nil
}

func (f *fakeItemStore) InvalidateIndex() error {
	f.invalidated = true
	return nil
}

type fakeObservations struct {
	blocks []types.ObservationBlock
}

func (f *fakeObservations) Append(block types.ObservationBlock) error {
	f.blocks = append(f.blocks, block)
	return nil
}

func TestReflect_ExtractsFactsAndCondensesRemainder(t *testing.T) {
	items := &fakeItemStore{}
	output := `FACTS: [{"summary":"user prefers terse output","kind":"behavior","tags":["style"]}]
CONDENSED:
ran the build, fixed two failing tests, pushed the branch`

	r := New(items, nil, func(ctx context.Context, observations string) (string, error) {
		return output, nil
	})

	result, err := r.Reflect(context.Background(), "raw session log", "sess-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.ItemsCreated)
	assert.Contains(t, result.CondensedObservations, "pushed the branch")
	require.Len(t, items.items, 1)
	assert.Equal(t, types.MemoryKindBehavior, items.items[0].Kind)
	assert.Equal(t, "behavior/reflected", items.items[0].Category)
	assert.Equal(t, "sess-1", items.items[0].SessionID)
	assert.Equal(t, types.SourceAgentAnalysis, items.items[0].SourceKind)
	assert.True(t, items.invalidated)
}

func TestReflect_UnknownKindCoercedToKnowledge(t *testing.T) {
	items := &fakeItemStore{}
	output := `FACTS: [{"summary":"something notable","kind":"mystery","tags":[]}]
CONDENSED:
rest of the log`

	r := New(items, nil, func(ctx context.Context, observations string) (string, error) {
		return output, nil
	})

	result, err := r.Reflect(context.Background(), "raw", "sess-2")
	require.NoError(t, err)
	require.Equal(t, 1, result.ItemsCreated)
	assert.Equal(t, types.MemoryKindKnowledge, items.items[0].Kind)
	assert.Equal(t, "knowledge/reflected", items.items[0].Category)
	_ = result
}

func TestReflect_EmptyFactsArrayCreatesNoItems(t *testing.T) {
	items := &fakeItemStore{}
	output := "FACTS: []\nCONDENSED:\nnothing worth remembering"

	r := New(items, nil, func(ctx context.Context, observations string) (string, error) {
		return output, nil
	})

	result, err := r.Reflect(context.Background(), "raw", "sess-3")
	require.NoError(t, err)
	assert.Equal(t, 0, result.ItemsCreated)
	assert.False(t, items.invalidated)
	assert.Contains(t, result.CondensedObservations, "nothing worth remembering")
}

func TestReflect_CallbackFailureReturnsInputUnchanged(t *testing.T) {
	items := &fakeItemStore{}
	r := New(items, nil, func(ctx context.Context, observations string) (string, error) {
		return "", errors.New("model unavailable")
	})

	result, err := r.Reflect(context.Background(), "the original observations text", "sess-4")
	require.NoError(t, err)
	assert.Equal(t, 0, result.ItemsCreated)
	assert.Equal(t, "the original observations text", result.CondensedObservations)
}

func TestReflect_OneFactFailingToPersistStillCountsOthers(t *testing.T) {
	items := &fakeItemStore{failOn: "bad fact"}
	output := `FACTS: [{"summary":"bad fact","kind":"event","tags":[]},{"summary":"good fact","kind":"event","tags":[]}]
CONDENSED:
rest`

	r := New(items, nil, func(ctx context.Context, observations string) (string, error) {
		return output, nil
	})

	result, err := r.Reflect(context.Background(), "raw", "sess-5")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ItemsCreated)
	require.Len(t, items.items, 1)
	assert.Equal(t, "good fact", items.items[0].Summary)
}

func TestReflect_MalformedFactsLineYieldsNoFactsNotError(t *testing.T) {
	items := &fakeItemStore{}
	output := "FACTS: not valid json at all\nCONDENSED:\nkeep this"

	r := New(items, nil, func(ctx context.Context, observations string) (string, error) {
		return output, nil
	})

	result, err := r.Reflect(context.Background(), "raw", "sess-6")
	require.NoError(t, err)
	assert.Equal(t, 0, result.ItemsCreated)
	assert.Contains(t, result.CondensedObservations, "keep this")
}

func TestReflectAndPersist_AppendsCondensedAsCrossSessionBlock(t *testing.T) {
	items := &fakeItemStore{}
	obs := &fakeObservations{}
	output := "FACTS: []\nCONDENSED:\nsummary of everything that happened"

	r := New(items, obs, func(ctx context.Context, observations string) (string, error) {
		return output, nil
	})

	_, err := r.ReflectAndPersist(context.Background(), "raw", "sess-7")
	require.NoError(t, err)

	require.Len(t, obs.blocks, 1)
	assert.Equal(t, types.TierCrossSession, obs.blocks[0].Tier)
	assert.Equal(t, "sess-7", obs.blocks[0].SessionID)
	assert.Contains(t, obs.blocks[0].Text, "summary of everything that happened")
}

func TestBuildPrompt_EmbedsObservations(t *testing.T) {
	prompt := BuildPrompt("the raw log contents")
	assert.Contains(t, prompt, "the raw log contents")
	assert.Contains(t, prompt, "FACTS:")
	assert.Contains(t, prompt, "CONDENSED:")
}
