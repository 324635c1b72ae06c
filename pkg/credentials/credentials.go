// Package credentials keeps the session-emulation account password out of
// config files. Accounts are looked up through a chain of stores: the OS
// keychain, an AES-GCM encrypted file, then environment variables.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

var (
	ErrNotFound         = errors.New("credentials not found")
	ErrInvalidAccount   = errors.New("invalid account")
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// Account is one Instagram login used by the session strategy
type Account struct {
	Username     string    `json:"username"`
	Password     string    `json:"password"`
	LastModified time.Time `json:"last_modified"`
}

// Store persists accounts
type Store interface {
	Name() string
	Store(account *Account) error
	Retrieve(username string) (*Account, error)
	List() ([]*Account, error)
	Delete(username string) error
}

// Manager walks its stores in order
type Manager struct {
	stores []Store
}

// NewManager builds the default chain rooted at dir; an empty dir means the
// per-user config directory. The keychain is skipped when unavailable.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		d, err := ConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config directory: %w", err)
		}
		dir = d
	}

	var stores []Store
	if ks, err := NewKeyringStore(); err == nil {
		stores = append(stores, ks)
	}

	fs, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"), "")
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted store: %w", err)
	}
	stores = append(stores, fs, NewEnvStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores builds a manager over an explicit chain
func NewManagerWithStores(stores ...Store) *Manager {
	return &Manager{stores: stores}
}

// Stores returns the names of the stores in lookup order
func (m *Manager) Stores() []string {
	names := make([]string, len(m.stores))
	for i, s := range m.stores {
		names[i] = s.Name()
	}
	return names
}

// Save writes the account into the first store that accepts it and
// returns that store's name
func (m *Manager) Save(account *Account) (string, error) {
	if account == nil || account.Username == "" {
		return "", fmt.Errorf("%w: username is required", ErrInvalidAccount)
	}
	if account.Password == "" {
		return "", fmt.Errorf("%w: password is required", ErrInvalidAccount)
	}
	account.LastModified = time.Now()

	var errs []error
	for _, s := range m.stores {
		err := s.Store(account)
		if err == nil {
			return s.Name(), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	if len(errs) == 0 {
		return "", ErrStoreUnavailable
	}
	return "", fmt.Errorf("failed to save credentials: %w", errors.Join(errs...))
}

// Get returns the account for username from the first store holding it
func (m *Manager) Get(username string) (*Account, error) {
	for _, s := range m.stores {
		if acc, err := s.Retrieve(username); err == nil && acc != nil {
			return acc, nil
		}
	}
	return nil, fmt.Errorf("%w for %s", ErrNotFound, username)
}

// Default resolves the account to use when none is named. The environment
// wins so containers can override a stored login.
func (m *Manager) Default() (*Account, error) {
	for _, s := range m.stores {
		if env, ok := s.(*EnvStore); ok {
			if acc, err := env.Retrieve(""); err == nil {
				return acc, nil
			}
		}
	}
	accounts, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNotFound
	}
	return accounts[0], nil
}

// List merges every store, keeping the newest copy of each username
func (m *Manager) List() ([]*Account, error) {
	latest := make(map[string]*Account)
	var order []string
	for _, s := range m.stores {
		accounts, err := s.List()
		if err != nil {
			continue
		}
		for _, acc := range accounts {
			cur, ok := latest[acc.Username]
			if !ok {
				order = append(order, acc.Username)
			}
			if !ok || acc.LastModified.After(cur.LastModified) {
				latest[acc.Username] = acc
			}
		}
	}

	out := make([]*Account, 0, len(order))
	for _, name := range order {
		out = append(out, latest[name])
	}
	return out, nil
}

// Delete removes the account from every store that has it
func (m *Manager) Delete(username string) error {
	deleted := false
	for _, s := range m.stores {
		if err := s.Delete(username); err == nil {
			deleted = true
		}
	}
	if !deleted {
		return fmt.Errorf("%w for %s", ErrNotFound, username)
	}
	return nil
}

// Resolve fills empty username/password from the vault. Explicit values win.
func (m *Manager) Resolve(username, password string) (string, string, error) {
	if username != "" && password != "" {
		return username, password, nil
	}
	var (
		acc *Account
		err error
	)
	if username != "" {
		acc, err = m.Get(username)
	} else {
		acc, err = m.Default()
	}
	if err != nil {
		return username, password, err
	}
	return acc.Username, acc.Password, nil
}

// Masked returns a copy safe to print
func Masked(account *Account) *Account {
	if account == nil {
		return nil
	}
	cp := *account
	cp.Password = mask(cp.Password)
	return &cp
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// ConfigDir returns the per-user igsync directory, creating it
func ConfigDir() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "Application Support", "igsync")
	case "windows":
		dir = filepath.Join(os.Getenv("APPDATA"), "igsync")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			dir = filepath.Join(xdg, "igsync")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dir = filepath.Join(home, ".config", "igsync")
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}
