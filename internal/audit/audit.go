// Package audit implements the hash-chained, append-only audit log (the
// Audit Log). The chain is the ground truth: there is no separate
// index, and verification walks the file itself.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentrt/agentrt/internal/storage"
	"github.com/agentrt/agentrt/pkg/types"
)

// Log is a single-writer, hash-chained audit file.
type Log struct {
	path string

	mu           sync.Mutex
	initialized  bool
	lastHash     string
	nextEntryID  int64
}

// New returns an audit Log backed by the NDJSON file at path. The file
// is not read until the first Append or Read/VerifyChain call.
func New(path string) *Log {
	return &Log{path: path}
}

// Append computes entry's hash over its canonical serialization
// (including PreviousHash) and writes one line to the chain. Callers
// are linearized by an internal lock, so concurrent Append calls never
// race on PreviousHash/EntryID.
func (l *Log) Append(entry types.AuditEntry) (types.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		if err := l.recover(); err != nil {
			return types.AuditEntry{}, err
		}
	}

	entry.EntryID = l.nextEntryID
	entry.PreviousHash = l.lastHash
	entry.Hash = canonicalHash(entry)

	if err := storage.AppendLine(l.path, entry); err != nil {
		return types.AuditEntry{}, fmt.Errorf("append audit entry: %w", err)
	}

	l.lastHash = entry.Hash
	l.nextEntryID++
	return entry, nil
}

// recover scans the existing file (if any) to recover the last hash and
// next entry id counter. Malformed trailing lines are ignored; the last
// well-formed entry wins.
func (l *Log) recover() error {
	l.lastHash = types.GenesisHash
	l.nextEntryID = 0

	err := storage.ReadLines(l.path, func(raw []byte) error {
		var e types.AuditEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil // skip malformed line
		}
		l.lastHash = e.Hash
		l.nextEntryID = e.EntryID + 1
		return nil
	})
	if err != nil {
		return err
	}
	l.initialized = true
	return nil
}

// Filter restricts Read to entries matching the given fields; zero
// values are wildcards.
type Filter struct {
	JobID     string
	EventKind string
}

func (f Filter) matches(e types.AuditEntry) bool {
	if f.JobID != "" && e.JobID != f.JobID {
		return false
	}
	if f.EventKind != "" && e.EventKind != f.EventKind {
		return false
	}
	return true
}

// Read returns every entry matching filter, in chain order. A missing
// file yields an empty result, not an error.
func (l *Log) Read(filter Filter) ([]types.AuditEntry, error) {
	var out []types.AuditEntry
	err := storage.ReadLines(l.path, func(raw []byte) error {
		var e types.AuditEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil
		}
		if filter.matches(e) {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// VerifyResult is the outcome of VerifyChain.
type VerifyResult struct {
	Valid       bool
	BrokenIndex int    // -1 if Valid
	Reason      string // empty if Valid
}

// VerifyChain walks the file from the beginning, starting with the
// genesis sentinel as the expected previous hash, recomputing each
// entry's hash and checking both the link and the recomputed hash. A
// missing file is a valid empty chain.
func (l *Log) VerifyChain() (VerifyResult, error) {
	expectedPrev := types.GenesisHash
	index := 0
	result := VerifyResult{Valid: true, BrokenIndex: -1}

	err := storage.ReadLines(l.path, func(raw []byte) error {
		if !result.Valid {
			return nil
		}
		var e types.AuditEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			result.Valid = false
			result.BrokenIndex = index
			result.Reason = "malformed entry"
			return nil
		}
		if e.PreviousHash != expectedPrev {
			result.Valid = false
			result.BrokenIndex = index
			result.Reason = "previousHash does not match prior entry's hash"
			return nil
		}
		if canonicalHash(e) != e.Hash {
			result.Valid = false
			result.BrokenIndex = index
			result.Reason = "recomputed hash does not match stored hash"
			return nil
		}
		expectedPrev = e.Hash
		index++
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}
	return result, nil
}

// canonicalHash computes SHA-256 over the entry's canonical
// serialization, including PreviousHash but excluding the Hash field
// itself.
func canonicalHash(e types.AuditEntry) string {
	e.Hash = ""
	// json.Marshal on a struct with fixed field order is a stable,
	// canonical serialization for our purposes (field order is source
	// order, not alphabetical, and never changes between runs).
	data, _ := json.Marshal(e)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
