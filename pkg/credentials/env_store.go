package credentials

import (
	"os"
	"time"
)

const (
	EnvUsername = "IGSYNC_SESSION_USERNAME"
	EnvPassword = "IGSYNC_SESSION_PASSWORD"
)

// EnvStore reads a single read-only account from the environment
type EnvStore struct{}

func NewEnvStore() *EnvStore { return &EnvStore{} }

func (e *EnvStore) Name() string { return "env" }

func (e *EnvStore) Store(*Account) error { return ErrStoreUnavailable }

// Retrieve returns the environment account when username is empty or matches it
func (e *EnvStore) Retrieve(username string) (*Account, error) {
	user, pass := os.Getenv(EnvUsername), os.Getenv(EnvPassword)
	if user == "" || pass == "" {
		return nil, ErrNotFound
	}
	if username != "" && username != user {
		return nil, ErrNotFound
	}
	return &Account{Username: user, Password: pass, LastModified: time.Time{}}, nil
}

func (e *EnvStore) List() ([]*Account, error) {
	acc, err := e.Retrieve("")
	if err != nil {
		return nil, nil
	}
	return []*Account{acc}, nil
}

func (e *EnvStore) Delete(string) error { return ErrStoreUnavailable }
