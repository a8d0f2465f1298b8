package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// DoomLoopThreshold is how many consecutive identical tool calls in a
// session are tolerated before Check reports a loop.
const DoomLoopThreshold = 3

// historyDepth bounds how much per-session call history is retained;
// only the last DoomLoopThreshold-1 entries are ever compared, so
// anything beyond this is pure growth protection.
const historyDepth = 10

// DoomLoopDetector watches each session's tool-call history for the
// same tool invoked with the same arguments, over and over, and flags
// it so the caller can break the cycle instead of letting an agent
// spin forever on a call that keeps failing or keeps "succeeding"
// without making progress.
type DoomLoopDetector struct {
	mu      sync.RWMutex
	history map[string][]string // sessionID -> recent call hashes, oldest first
}

// NewDoomLoopDetector creates an empty detector.
func NewDoomLoopDetector() *DoomLoopDetector {
	return &DoomLoopDetector{history: make(map[string][]string)}
}

// Check records a tool call for sessionID and reports whether it
// completes a run of DoomLoopThreshold identical (tool, input) calls
// in a row.
func (d *DoomLoopDetector) Check(sessionID, toolName string, input any) bool {
	hash := hashCall(toolName, input)

	d.mu.Lock()
	defer d.mu.Unlock()

	history := d.history[sessionID]
	looping := len(history) >= DoomLoopThreshold-1 && allMatch(history[len(history)-(DoomLoopThreshold-1):], hash)

	d.history[sessionID] = appendBounded(history, hash, historyDepth)
	return looping
}

// allMatch reports whether every entry in recent equals hash.
func allMatch(recent []string, hash string) bool {
	for _, h := range recent {
		if h != hash {
			return false
		}
	}
	return true
}

// appendBounded appends hash to history, trimming from the front once
// the result exceeds depth entries.
func appendBounded(history []string, hash string, depth int) []string {
	history = append(history, hash)
	if len(history) > depth {
		history = history[len(history)-depth:]
	}
	return history
}

// hashCall fingerprints a tool invocation by name and input so two
// calls with the same arguments (in any key order, via json.Marshal's
// map-key sorting) hash identically.
func hashCall(toolName string, input any) string {
	data, _ := json.Marshal(map[string]any{"tool": toolName, "input": input})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Clear drops sessionID's call history, e.g. once its task ends.
func (d *DoomLoopDetector) Clear(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, sessionID)
}
