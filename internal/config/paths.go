// Package config provides configuration loading and path management.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard paths for agent runtime data. Unlike the
// XDG-split layout some CLIs use, the runtime keeps everything that
// matters for a single user's agent state under one root directory
// so the policy file, the audit
// chain, and the secrets vault travel together and can be backed up or
// locked down as one unit.
type Paths struct {
	Root string // ~/.config/agentrt (or $AGENTRT_HOME)

	Cache string // ~/.cache/agentrt
	State string // root/state
}

// GetPaths returns the standard paths for agent runtime data.
func GetPaths() *Paths {
	root := getEnvOrDefault("AGENTRT_HOME", filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "agentrt"))
	return &Paths{
		Root:  root,
		Cache: filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), "agentrt"),
		State: filepath.Join(root, "state"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{
		p.Root,
		p.Cache,
		p.State,
		p.SessionsDir(),
		p.MemoryDir(),
		filepath.Join(p.MemoryDir(), "daily", "archive"),
		filepath.Join(p.MemoryDir(), "items"),
		filepath.Join(p.MemoryDir(), "categories"),
		filepath.Join(p.MemoryDir(), "index"),
		p.ObservationsDir(),
		p.SteeringDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// Config is the main settings file.
func (p *Paths) Config() string { return filepath.Join(p.Root, "config") }

// Policy is the on-disk policy file.
func (p *Paths) Policy() string { return filepath.Join(p.Root, "policy") }

// Secrets is the encrypted secrets vault.
func (p *Paths) Secrets() string { return filepath.Join(p.Root, "secrets.enc") }

// Audit is the hash-chained audit log.
func (p *Paths) Audit() string { return filepath.Join(p.Root, "audit") }

// SessionsDir holds per-job session journals.
func (p *Paths) SessionsDir() string { return filepath.Join(p.Root, "sessions") }

// SessionJournal returns the path to a job's session journal file.
func (p *Paths) SessionJournal(jobID string) string {
	return filepath.Join(p.SessionsDir(), jobID+".jsonl")
}

// MemoryDir holds the long-term doc, daily notes, and structured items.
func (p *Paths) MemoryDir() string { return filepath.Join(p.Root, "memory") }

// MemoryDoc is the long-term, read-mostly memory document.
func (p *Paths) MemoryDoc() string { return filepath.Join(p.MemoryDir(), "MEMORY.md") }

// DailyNote returns the path to a daily note file for the given date (YYYY-MM-DD).
func (p *Paths) DailyNote(date string) string {
	return filepath.Join(p.MemoryDir(), "daily", date+".md")
}

// DailyArchiveDir holds archived daily notes after consolidation.
func (p *Paths) DailyArchiveDir() string {
	return filepath.Join(p.MemoryDir(), "daily", "archive")
}

// MemoryItemsDir holds one JSON file per structured memory item.
func (p *Paths) MemoryItemsDir() string { return filepath.Join(p.MemoryDir(), "items") }

// MemoryItemPath returns the path to a structured memory item's file.
func (p *Paths) MemoryItemPath(itemID string) string {
	return filepath.Join(p.MemoryItemsDir(), itemID+".json")
}

// MemoryCategoriesDir holds per-category rollups.
func (p *Paths) MemoryCategoriesDir() string { return filepath.Join(p.MemoryDir(), "categories") }

// MemoryIndexDir holds the serialized BM25 index.
func (p *Paths) MemoryIndexDir() string { return filepath.Join(p.MemoryDir(), "index") }

// ObservationsDir holds per-session and cross-session observation logs.
func (p *Paths) ObservationsDir() string { return filepath.Join(p.Root, "observations") }

// SessionObservations returns the path to a session's observation log.
func (p *Paths) SessionObservations(sessionID string) string {
	return filepath.Join(p.ObservationsDir(), sessionID+".jsonl")
}

// CrossSessionObservations is the shared cross-session observation log.
func (p *Paths) CrossSessionObservations() string {
	return filepath.Join(p.ObservationsDir(), "cross-session.jsonl")
}

// SteeringDir holds the steering ingress mailbox.
func (p *Paths) SteeringDir() string { return filepath.Join(p.Root, "steering") }

// SteeringJobDir returns a job's pending-message directory.
func (p *Paths) SteeringJobDir(jobID string) string {
	return filepath.Join(p.SteeringDir(), jobID)
}

// SteeringArchiveDir returns a job's archived-message directory.
func (p *Paths) SteeringArchiveDir(jobID string) string {
	return filepath.Join(p.SteeringDir(), jobID, "archive")
}

// AuthPath returns the path to the provider auth file.
func (p *Paths) AuthPath() string {
	return filepath.Join(p.Root, "auth.json")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return GetPaths().Config()
}

// ProjectConfigPath returns the path to a project-local config override.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, ".agentrt", "config.json")
}
