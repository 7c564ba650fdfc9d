package secure

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/coupuas/threadauto/internal/common"
)

// envelope is the on-disk format of a sealed entry.
type envelope struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Vault stores sealed JSON blobs in a directory, one file per name.
// The secret is combined with a per-file random salt, so two vaults with the
// same secret never share keys.
type Vault struct {
	dir    string
	secret []byte
}

// NewVault returns a vault rooted at dir. The directory is created lazily
// with owner-only permissions.
func NewVault(dir string, secret []byte) *Vault {
	return &Vault{dir: dir, secret: append([]byte(nil), secret...)}
}

// sanitizeName keeps vault file names to a safe charset. Account names can
// contain '@' and dots (emails); everything else maps to '_'.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}

func (v *Vault) path(name string) string {
	return filepath.Join(v.dir, sanitizeName(name)+".sealed")
}

// Save seals value under name, replacing any previous entry.
func (v *Vault) Save(name string, value any) error {
	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create vault dir: %w", err)
	}

	salt := common.GenerateRandByteArray(16)
	key := DeriveKey(v.secret, salt)
	defer common.WipeByteArray(key)

	ciphertext, nonce, err := EncryptEntry(value, key)
	if err != nil {
		return fmt.Errorf("failed to seal %s: %w", name, err)
	}

	data, err := json.Marshal(envelope{Salt: salt, Nonce: nonce, Ciphertext: ciphertext})
	if err != nil {
		return err
	}
	if err := os.WriteFile(v.path(name), data, 0o600); err != nil {
		return fmt.Errorf("failed to write vault entry: %w", err)
	}
	return nil
}

// Load opens the sealed entry under name into value. A missing entry returns
// common.ErrorNotFound.
func (v *Vault) Load(name string, value any) error {
	data, err := os.ReadFile(v.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("failed to read vault entry: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to parse vault entry: %w", err)
	}

	key := DeriveKey(v.secret, env.Salt)
	defer common.WipeByteArray(key)

	if err := DecryptEntry(env.Ciphertext, env.Nonce, key, value); err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	return nil
}

// Delete removes the sealed entry under name. Deleting a missing entry is a
// no-op.
func (v *Vault) Delete(name string) error {
	err := os.Remove(v.path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
