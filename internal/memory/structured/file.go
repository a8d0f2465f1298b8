package structured

import (
	"os"
	"path/filepath"
)

// readFile returns the raw bytes of path, propagating any error
// including os.ErrNotExist so callers can distinguish missing-index
// (rebuild) from corrupt-index (also rebuild, but worth knowing).
func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// writeFileAtomic writes data via a temp-file-then-rename, matching
// the single-writer discipline used by the rest of the runtime's
// file-backed stores.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
