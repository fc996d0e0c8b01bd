package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps encrypted keys in a JSON file mapping service to
// ciphertext.
type FileStore struct {
	path  string
	codec *codec
	mu    sync.Mutex
}

// NewFileStore opens a file store at path. The file is created on first
// Save.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("credentials file store: path is required")
	}
	c, err := newCodec("file")
	if err != nil {
		return nil, fmt.Errorf("credentials file store: %w", err)
	}
	return &FileStore{path: path, codec: c}, nil
}

// APIKey implements Store.
func (s *FileStore) APIKey(_ context.Context, service string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.read()
	if err != nil {
		return "", err
	}
	enc, ok := keys[service]
	if !ok {
		return "", ErrNotFound
	}
	return s.codec.decrypt(enc)
}

// Save encrypts and stores apiKey for service.
func (s *FileStore) Save(_ context.Context, service, apiKey string) error {
	if err := checkSave(service, apiKey); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.read()
	if err != nil {
		return err
	}
	enc, err := s.codec.encrypt(apiKey)
	if err != nil {
		return err
	}
	keys[service] = enc
	return s.write(keys)
}

// Delete removes the key for service. Deleting an absent key returns
// ErrNotFound.
func (s *FileStore) Delete(_ context.Context, service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := keys[service]; !ok {
		return ErrNotFound
	}
	delete(keys, service)
	return s.write(keys)
}

// Services lists services with a stored key, sorted.
func (s *FileStore) Services(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.read()
	if err != nil {
		return nil, err
	}
	return sortedKeys(keys), nil
}

func (s *FileStore) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credentials file store: %w", err)
	}
	keys := map[string]string{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return keys, nil
	}
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("credentials file store: parsing %s: %w", s.path, err)
	}
	return keys, nil
}

func (s *FileStore) write(keys map[string]string) error {
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("credentials file store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("credentials file store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("credentials file store: %w", err)
	}
	return nil
}

func checkSave(service, apiKey string) error {
	if strings.TrimSpace(service) == "" {
		return errors.New("credentials: service is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return errors.New("credentials: api key is empty")
	}
	return nil
}

var _ Manager = (*FileStore)(nil)
