// Package vault implements the Secrets Vault: an AES-256-GCM
// encrypted, PBKDF2-keyed store of named secrets. The vault never
// retains the master passphrase or caches decrypted plaintext between
// calls; both are supplied fresh by the caller each time.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/agentrt/agentrt/pkg/types"
)

const (
	pbkdf2Iterations = 100_000
	keyLenBytes      = 32 // AES-256
	saltLenBytes     = 32
	ivLenBytes       = 16
)

// ErrInvalidSecret is returned for any cryptographic failure: a bad
// authentication tag, truncated ciphertext, or an unknown name.
type ErrInvalidSecret struct {
	Reason string
}

func (e *ErrInvalidSecret) Error() string { return "invalid secret: " + e.Reason }

// Vault is a file-backed collection of encrypted secrets.
type Vault struct {
	path string
	mu   sync.Mutex
}

// New returns a Vault backed by the file at path.
func New(path string) *Vault {
	return &Vault{path: path}
}

func (v *Vault) load() (types.SecretsFile, error) {
	var file types.SecretsFile
	data, err := readFile(v.path)
	if err != nil {
		return types.SecretsFile{}, err
	}
	if data == nil {
		return types.SecretsFile{}, nil
	}
	if err := unmarshalSecretsFile(data, &file); err != nil {
		return types.SecretsFile{}, fmt.Errorf("corrupt secrets file: %w", err)
	}
	return file, nil
}

func (v *Vault) save(file types.SecretsFile) error {
	return writeFileAtomic(v.path, file)
}

// Store encrypts value under a freshly generated salt and IV, derives a
// 256-bit key via PBKDF2-HMAC-SHA-256 (100000 iterations) from
// passphrase and the salt, and replaces any existing entry with the
// same name.
func (v *Vault) Store(passphrase, name, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	salt := make([]byte, saltLenBytes)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	iv := make([]byte, ivLenBytes)
	if _, err := rand.Read(iv); err != nil {
		return fmt.Errorf("generate iv: %w", err)
	}

	key := deriveKey(passphrase, salt)
	aead, err := newAEAD(key)
	if err != nil {
		return err
	}

	sealed := aead.Seal(nil, iv, []byte(value), nil)
	tagStart := len(sealed) - aead.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	file, err := v.load()
	if err != nil {
		return err
	}

	entry := types.SecretEntry{
		Name:           name,
		EncryptedValue: hex.EncodeToString(ciphertext),
		IV:             hex.EncodeToString(iv),
		AuthTag:        hex.EncodeToString(tag),
		Salt:           hex.EncodeToString(salt),
	}

	replaced := false
	for i, e := range file.Secrets {
		if e.Name == name {
			file.Secrets[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		file.Secrets = append(file.Secrets, entry)
	}

	return v.save(file)
}

// Get decrypts and returns the plaintext for name, re-deriving the key
// from the stored salt. It never caches the result.
func (v *Vault) Get(passphrase, name string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	file, err := v.load()
	if err != nil {
		return "", err
	}

	var entry *types.SecretEntry
	for i := range file.Secrets {
		if file.Secrets[i].Name == name {
			entry = &file.Secrets[i]
			break
		}
	}
	if entry == nil {
		return "", &ErrInvalidSecret{Reason: fmt.Sprintf("no secret named %q", name)}
	}

	salt, err := hex.DecodeString(entry.Salt)
	if err != nil {
		return "", &ErrInvalidSecret{Reason: "malformed salt"}
	}
	iv, err := hex.DecodeString(entry.IV)
	if err != nil {
		return "", &ErrInvalidSecret{Reason: "malformed iv"}
	}
	ciphertext, err := hex.DecodeString(entry.EncryptedValue)
	if err != nil {
		return "", &ErrInvalidSecret{Reason: "malformed ciphertext"}
	}
	tag, err := hex.DecodeString(entry.AuthTag)
	if err != nil {
		return "", &ErrInvalidSecret{Reason: "malformed auth tag"}
	}

	key := deriveKey(passphrase, salt)
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	sealed := append(ciphertext, tag...)
	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", &ErrInvalidSecret{Reason: "authentication failed (bad tag or truncated ciphertext)"}
	}
	return string(plaintext), nil
}

// Delete removes name from the vault; deleting a nonexistent name is a
// no-op.
func (v *Vault) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	file, err := v.load()
	if err != nil {
		return err
	}

	out := file.Secrets[:0]
	for _, e := range file.Secrets {
		if e.Name != name {
			out = append(out, e)
		}
	}
	file.Secrets = out
	return v.save(file)
}

// ListNames returns only the names currently stored, never their
// ciphertext or metadata.
func (v *Vault) ListNames() ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	file, err := v.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(file.Secrets))
	for i, e := range file.Secrets {
		names[i] = e.Name
	}
	return names, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keyLenBytes, sha256.New)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	// 16-byte IVs, so the GCM must be built with a matching nonce size
	// rather than the 12-byte default.
	return cipher.NewGCMWithNonceSize(block, ivLenBytes)
}
