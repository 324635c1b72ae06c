package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// EnvPassphrase overrides the generated passphrase of the encrypted store
const EnvPassphrase = "IGSYNC_PASSPHRASE"

const (
	saltLen          = 32
	keyLen           = 32
	pbkdf2Iterations = 100_000
)

// EncryptedFileStore keeps all accounts in one AES-GCM sealed JSON file.
// The key is derived with PBKDF2 from a passphrase that comes from
// IGSYNC_PASSPHRASE or a generated .passphrase file next to the store.
type EncryptedFileStore struct {
	path       string
	passphrase string
	mu         sync.Mutex
}

type sealedFile struct {
	Version  int       `json:"version"`
	Salt     string    `json:"salt"`
	Data     string    `json:"data"`
	Modified time.Time `json:"modified"`
}

// NewEncryptedFileStore opens the store at path. An empty passphrase is
// resolved from the environment or the passphrase file.
func NewEncryptedFileStore(path, passphrase string) (*EncryptedFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if passphrase == "" {
		p, err := loadPassphrase(filepath.Join(filepath.Dir(path), ".passphrase"))
		if err != nil {
			return nil, err
		}
		passphrase = p
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

func (s *EncryptedFileStore) Name() string { return "encrypted-file" }

func (s *EncryptedFileStore) Store(account *Account) error {
	if account == nil || account.Username == "" {
		return ErrInvalidAccount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.load()
	if err != nil {
		return err
	}
	accounts[account.Username] = *account
	return s.save(accounts)
}

func (s *EncryptedFileStore) Retrieve(username string) (*Account, error) {
	if username == "" {
		return nil, ErrInvalidAccount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.load()
	if err != nil {
		return nil, err
	}
	acc, ok := accounts[username]
	if !ok {
		return nil, ErrNotFound
	}
	return &acc, nil
}

func (s *EncryptedFileStore) List() ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(accounts))
	for _, acc := range accounts {
		acc := acc
		out = append(out, &acc)
	}
	return out, nil
}

func (s *EncryptedFileStore) Delete(username string) error {
	if username == "" {
		return ErrInvalidAccount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := accounts[username]; !ok {
		return ErrNotFound
	}
	delete(accounts, username)
	if len(accounts) == 0 {
		return os.Remove(s.path)
	}
	return s.save(accounts)
}

// load returns an empty map when the file does not exist yet
func (s *EncryptedFileStore) load() (map[string]Account, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Account{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var f sealedFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	salt, err := base64.StdEncoding.DecodeString(f.Salt)
	if err != nil {
		return nil, fmt.Errorf("bad salt: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, fmt.Errorf("bad payload: %w", err)
	}
	plain, err := open(sealed, s.key(salt))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s (wrong passphrase?): %w", s.path, err)
	}

	accounts := map[string]Account{}
	if err := json.Unmarshal(plain, &accounts); err != nil {
		return nil, fmt.Errorf("failed to decode accounts: %w", err)
	}
	return accounts, nil
}

// save reseals with a fresh salt and replaces the file atomically
func (s *EncryptedFileStore) save(accounts map[string]Account) error {
	plain, err := json.Marshal(accounts)
	if err != nil {
		return err
	}
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	sealed, err := seal(plain, s.key(salt))
	if err != nil {
		return fmt.Errorf("failed to encrypt: %w", err)
	}

	out, err := json.MarshalIndent(sealedFile{
		Version:  1,
		Salt:     base64.StdEncoding.EncodeToString(salt),
		Data:     base64.StdEncoding.EncodeToString(sealed),
		Modified: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	return os.Rename(tmp, s.path)
}

func (s *EncryptedFileStore) key(salt []byte) []byte {
	return pbkdf2.Key([]byte(s.passphrase), salt, pbkdf2Iterations, keyLen, sha256.New)
}

func loadPassphrase(path string) (string, error) {
	if p := os.Getenv(EnvPassphrase); p != "" {
		return p, nil
	}
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		return string(b), nil
	}

	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	p := base64.RawURLEncoding.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(p), 0o600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return p, nil
}

func seal(plain, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func open(sealed, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
