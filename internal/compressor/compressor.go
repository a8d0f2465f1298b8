// Package compressor implements the Context Compressor: a
// three-tier rolling window (working / session / cross-session) that
// keeps a running conversation inside its token budget by summarizing
// the oldest chunk of raw events into an observation block once a
// threshold is crossed.
package compressor

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentrt/agentrt/internal/observation"
	"github.com/agentrt/agentrt/pkg/types"
)

// CompressFunc produces a compressed block body from a chunk of raw
// event text, given the existing session observations for dedup
// context. It is typically backed by a cheap model invocation.
type CompressFunc func(ctx context.Context, sessionObservations string, chunk []string) (string, error)

// Config controls the compressor's thresholds.
type Config struct {
	SoftThresholdTokens int // background compression kicks in above this
	BlockAfterTokens    int // 0 means 2x SoftThresholdTokens
	ChunkSize           int // number of events compressed per chunk
	AsyncBuffer         bool
}

func (c Config) blockAfter() int {
	if c.BlockAfterTokens > 0 {
		return c.BlockAfterTokens
	}
	return c.SoftThresholdTokens * 2
}

// rawEvent is one working-tier entry awaiting compression.
type rawEvent struct {
	text   string
	tokens int
}

// Stats summarizes the compressor's current state.
type Stats struct {
	WorkingTokens int
	WorkingEvents int
	MessageIndex  int
}

// Snapshot is the non-blocking result of buildContext.
type Snapshot struct {
	SessionObservations string
	CrossSessionContext string
	WorkingMessages     []string
	Stats               Stats
}

type precomputed struct {
	block              types.ObservationBlock
	rangeStart         int
	rangeEnd           int
	snapshotGeneration int
}

// Compressor owns one session's three-tier rolling window.
type Compressor struct {
	sessionID string
	store     *observation.Store
	compress  CompressFunc
	cfg       Config

	mu           sync.Mutex
	working      []rawEvent
	tokenCount   int
	messageIndex int
	rangeStart   int
	generation   int // bumped when the queue head or the session tier changes

	pending  *precomputed
	inflight sync.WaitGroup

	bgCtx  context.Context
	cancel context.CancelFunc
}

// New returns a Compressor for sessionID, persisting compressed blocks
// to store. Background compression work is scoped to an internal
// context that Close cancels, independent of whatever context a
// particular Tick call was made with.
func New(sessionID string, store *observation.Store, compress CompressFunc, cfg Config) *Compressor {
	bgCtx, cancel := context.WithCancel(context.Background())
	return &Compressor{
		sessionID: sessionID,
		store:     store,
		compress:  compress,
		cfg:       cfg,
		bgCtx:     bgCtx,
		cancel:    cancel,
	}
}

// Ingest appends a raw event to the working tier. Non-blocking: it
// updates the running token count and global message index only.
// Appending at the tail does not invalidate a held pre-computed block,
// whose snapshot covers only the head of the queue.
func (c *Compressor) Ingest(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tokens := estimateTokens(text)
	c.working = append(c.working, rawEvent{text: text, tokens: tokens})
	c.tokenCount += tokens
	c.messageIndex++
}

func estimateTokens(text string) int {
	return len(text) / 4
}

// Tick polls the compression thresholds and acts according to which one
// was crossed. It is the compressor's only entry point that may block
// (in the hard-ceiling case).
func (c *Compressor) Tick(ctx context.Context) error {
	c.mu.Lock()
	tokenCount := c.tokenCount
	blockAfter := c.cfg.blockAfter()
	soft := c.cfg.SoftThresholdTokens
	c.mu.Unlock()

	switch {
	case tokenCount > blockAfter:
		return c.compressOldestChunk(ctx, true)
	case tokenCount > soft:
		if c.activatePrecomputed() {
			return nil
		}
		return c.compressOldestChunk(ctx, false)
	case c.cfg.AsyncBuffer && tokenCount > soft*7/10:
		c.startPrecompute(ctx)
		return nil
	}
	return nil
}

// compressOldestChunk compresses the oldest chunk, synchronously when
// sync is true, otherwise in the background.
func (c *Compressor) compressOldestChunk(ctx context.Context, sync bool) error {
	c.mu.Lock()
	chunk, start, end := c.takeChunk()
	sessionObs, _ := c.sessionObservationsLocked()
	c.mu.Unlock()

	if len(chunk) == 0 {
		return nil
	}

	doCompress := func(compressCtx context.Context) error {
		text, err := c.compress(compressCtx, sessionObs, chunk)
		if err != nil {
			c.restoreChunk(chunk, start)
			return fmt.Errorf("compress chunk: %w", err)
		}
		block := types.ObservationBlock{
			ID:        observation.NewBlockID(),
			SessionID: c.sessionID,
			Tier:      types.TierSession,
			Text:      text,
			Start:     start,
			End:       end,
		}
		if err := c.store.Append(block); err != nil {
			c.restoreChunk(chunk, start)
			return fmt.Errorf("persist compressed block: %w", err)
		}
		return nil
	}

	if sync {
		return doCompress(ctx)
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		select {
		case <-c.bgCtx.Done():
			return
		default:
		}
		_ = doCompress(c.bgCtx)
	}()
	return nil
}

// takeChunk removes and returns up to cfg.ChunkSize oldest events,
// adjusting the running token count.
func (c *Compressor) takeChunk() ([]string, int, int) {
	n := c.cfg.ChunkSize
	if n > len(c.working) {
		n = len(c.working)
	}
	if n == 0 {
		return nil, 0, 0
	}

	chunk := make([]string, n)
	removedTokens := 0
	for i := 0; i < n; i++ {
		chunk[i] = c.working[i].text
		removedTokens += c.working[i].tokens
	}
	start := c.rangeStart
	end := start + n

	c.working = c.working[n:]
	c.tokenCount -= removedTokens
	c.rangeStart = end
	c.generation++

	return chunk, start, end
}

// restoreChunk returns a chunk to the head of the working queue after a
// failed compression, restoring token counts.
func (c *Compressor) restoreChunk(chunk []string, start int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	restored := make([]rawEvent, len(chunk))
	tokens := 0
	for i, text := range chunk {
		t := estimateTokens(text)
		restored[i] = rawEvent{text: text, tokens: t}
		tokens += t
	}
	c.working = append(restored, c.working...)
	c.tokenCount += tokens
	c.rangeStart = start
	c.generation++
}

func (c *Compressor) sessionObservationsLocked() (string, error) {
	return c.store.BuildSessionContext(c.sessionID)
}

// startPrecompute snapshots the oldest chunk and begins compressing it
// in the background, holding the result until a threshold activates
// it. Messages are not removed from the working queue until then.
func (c *Compressor) startPrecompute(ctx context.Context) {
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return
	}
	n := c.cfg.ChunkSize
	if n > len(c.working) {
		n = len(c.working)
	}
	if n == 0 {
		c.mu.Unlock()
		return
	}
	chunk := make([]string, n)
	for i := 0; i < n; i++ {
		chunk[i] = c.working[i].text
	}
	start := c.rangeStart
	end := start + n
	snapshotGeneration := c.generation
	sessionObs, _ := c.sessionObservationsLocked()
	c.mu.Unlock()

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		select {
		case <-c.bgCtx.Done():
			return
		default:
		}
		text, err := c.compress(c.bgCtx, sessionObs, chunk)
		if err != nil {
			return // pre-compute failures are logged and discarded by the caller
		}
		block := types.ObservationBlock{
			ID:        observation.NewBlockID(),
			SessionID: c.sessionID,
			Tier:      types.TierSession,
			Text:      text,
			Start:     start,
			End:       end,
		}
		c.mu.Lock()
		c.pending = &precomputed{block: block, rangeStart: start, rangeEnd: end, snapshotGeneration: snapshotGeneration}
		c.mu.Unlock()
	}()
}

// activatePrecomputed activates a held pre-computed block if its source
// range still matches the head of the working queue and nothing has
// mutated the queue since the snapshot; otherwise it is discarded
// silently.
func (c *Compressor) activatePrecomputed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return false
	}
	p := c.pending
	c.pending = nil

	if p.rangeStart != c.rangeStart || p.snapshotGeneration != c.generation {
		return false // stale: discard silently
	}

	n := p.rangeEnd - p.rangeStart
	if n > len(c.working) {
		return false
	}

	// Persist before removing the source messages so a failed append
	// loses nothing; they stay queued for the next threshold event.
	if err := c.store.Append(p.block); err != nil {
		return false
	}

	removedTokens := 0
	for i := 0; i < n; i++ {
		removedTokens += c.working[i].tokens
	}
	c.working = c.working[n:]
	c.tokenCount -= removedTokens
	c.rangeStart = p.rangeEnd
	c.generation++
	return true
}

// BuildContext returns a non-blocking snapshot of the three tiers.
func (c *Compressor) BuildContext() (Snapshot, error) {
	c.mu.Lock()
	working := make([]string, len(c.working))
	for i, e := range c.working {
		working[i] = e.text
	}
	stats := Stats{WorkingTokens: c.tokenCount, WorkingEvents: len(c.working), MessageIndex: c.messageIndex}
	c.mu.Unlock()

	sessionObs, err := c.store.BuildSessionContext(c.sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	crossSession, err := c.store.BuildCrossSessionContext()
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		SessionObservations: sessionObs,
		CrossSessionContext: crossSession,
		WorkingMessages:     working,
		Stats:               stats,
	}, nil
}

// Flush awaits in-flight pre-computation, activates any ready block,
// compresses the residual working tier if it holds more than 5
// messages, and awaits every pending task before returning. It is the
// only await point callers should need at session end.
func (c *Compressor) Flush(ctx context.Context) error {
	c.inflight.Wait()
	c.activatePrecomputed()

	c.mu.Lock()
	residual := len(c.working)
	c.mu.Unlock()

	if residual > 5 {
		for residual > 0 {
			if err := c.compressOldestChunk(ctx, true); err != nil {
				return err
			}
			c.mu.Lock()
			next := len(c.working)
			c.mu.Unlock()
			if next == residual {
				break // chunk size 0: nothing can make progress
			}
			residual = next
		}
	}
	c.inflight.Wait()
	return nil
}

// Close aborts any in-flight background compression. It does not wait
// for completion; use Flush for a graceful drain.
func (c *Compressor) Close() {
	c.cancel()
}
