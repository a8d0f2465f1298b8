package vault

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/agentrt/agentrt/pkg/types"
)

// readFile returns the raw bytes of the vault file, or nil if it does
// not exist yet.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func unmarshalSecretsFile(data []byte, v *types.SecretsFile) error {
	return json.Unmarshal(data, v)
}

// writeFileAtomic writes the secrets file via a temp-file-then-rename,
// matching the single-writer discipline used by the rest of the
// runtime's file-backed stores.
func writeFileAtomic(path string, file types.SecretsFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
