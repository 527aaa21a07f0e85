package vault

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mtzanidakis/crewbridge/internal/store"
)

// RefPrefix marks a configuration value that names a stored secret.
const RefPrefix = "secret:"

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrNoVault        = errors.New("vault passphrase not configured")
)

// Secrets stores and reads named secrets, sealed by a Vault.
type Secrets struct {
	vault *Vault
	store *store.Store
}

// NewSecrets returns a secret store. A nil vault is allowed; every
// operation that needs decryption then fails with ErrNoVault.
func NewSecrets(v *Vault, s *store.Store) *Secrets {
	return &Secrets{vault: v, store: s}
}

// Put creates or replaces the secret called name.
func (s *Secrets) Put(name, description string, value []byte) error {
	if s.vault == nil {
		return ErrNoVault
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("secret name is required")
	}

	ciphertext, nonce, err := s.vault.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt secret %s: %w", name, err)
	}

	id := uuid.New().String()
	if existing, err := s.store.GetSecretByName(name); err != nil {
		return err
	} else if existing != nil {
		id = existing.ID
	}

	return s.store.SaveSecret(&store.Secret{
		ID:          id,
		Name:        name,
		Description: description,
		Value:       ciphertext,
		Nonce:       nonce,
	})
}

// Get returns the decrypted value of the secret called name.
func (s *Secrets) Get(name string) ([]byte, error) {
	if s.vault == nil {
		return nil, ErrNoVault
	}
	sec, err := s.store.GetSecretByName(name)
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return s.vault.Decrypt(sec.Value, sec.Nonce)
}

// Delete removes the secret called name.
func (s *Secrets) Delete(name string) error {
	sec, err := s.store.GetSecretByName(name)
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return s.store.DeleteSecret(sec.ID)
}

func (s *Secrets) List() ([]store.Secret, error) {
	return s.store.ListSecrets()
}

// Resolve returns value unchanged unless it is a "secret:<name>" reference,
// in which case the named secret is decrypted and returned.
func (s *Secrets) Resolve(value string) (string, error) {
	name, ok := strings.CutPrefix(value, RefPrefix)
	if !ok {
		return value, nil
	}
	plain, err := s.Get(strings.TrimSpace(name))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", value, err)
	}
	return string(plain), nil
}
