package credentials

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"gopkg.in/yaml.v3"
)

// File layout: magic | salt | nonce | XChaCha20-Poly1305(YAML map)
var fileMagic = []byte("EMCP1\n")

const (
	saltSize = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// ErrDecrypt credential file could not be opened with the given passphrase
var ErrDecrypt = errors.New("failed to decrypt credential file (wrong passphrase?)")

// FileStore passphrase-sealed credential file
type FileStore struct {
	path       string
	passphrase []byte

	mu sync.Mutex
}

func NewFileStore(path, passphrase string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("credentials file path is required")
	}
	if passphrase == "" {
		return nil, fmt.Errorf("credentials passphrase is required (set CREDENTIALS_PASSPHRASE)")
	}
	return &FileStore{path: path, passphrase: []byte(passphrase)}, nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(values)
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(values)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	headerSize := len(fileMagic) + saltSize + chacha20poly1305.NonceSizeX
	if len(data) < headerSize || !bytes.Equal(data[:len(fileMagic)], fileMagic) {
		return nil, fmt.Errorf("credential file %s is not in the expected format", s.path)
	}
	salt := data[len(fileMagic) : len(fileMagic)+saltSize]
	nonce := data[len(fileMagic)+saltSize : headerSize]

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, data[headerSize:], fileMagic)
	if err != nil {
		return nil, ErrDecrypt
	}

	values := map[string]string{}
	if err := yaml.Unmarshal(plaintext, &values); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	return values, nil
}

func (s *FileStore) save(values map[string]string) error {
	plaintext, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	salt := make([]byte, saltSize)
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return err
	}

	out := make([]byte, 0, len(fileMagic)+len(salt)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, fileMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, fileMagic)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) deriveKey(salt []byte) []byte {
	return argon2.IDKey(s.passphrase, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}
