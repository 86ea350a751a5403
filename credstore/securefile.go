package credstore

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltLength  = 16
	nonceLength = 24
)

// scrypt cost parameters. Interactive-grade: the store is opened once per
// launch on a phone-class CPU.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// SecureFileStore keeps all credentials in a single JSON document sealed
// with NaCl secretbox. The sealing key is derived from a device secret via
// scrypt; the salt lives in the file header so the same secret reopens the
// store across launches.
type SecureFileStore struct {
	path string
	salt []byte
	key  [32]byte

	mu     sync.Mutex
	values map[string]string
}

var _ Store = (*SecureFileStore)(nil)

// NewSecureFileStore opens the store at path, creating it when absent.
func NewSecureFileStore(path, deviceSecret string) (*SecureFileStore, error) {
	s := &SecureFileStore{
		path:   path,
		values: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.salt = make([]byte, saltLength)
		if _, err := rand.Read(s.salt); err != nil {
			return nil, fmt.Errorf("[NewSecureFileStore] generate salt: %w", err)
		}
		if err := s.deriveKey(deviceSecret); err != nil {
			return nil, err
		}
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[NewSecureFileStore] read %s: %w", path, err)
	}
	if len(data) < saltLength+nonceLength+secretbox.Overhead {
		return nil, fmt.Errorf("[NewSecureFileStore] store file %s is truncated", path)
	}

	s.salt = append([]byte(nil), data[:saltLength]...)
	if err := s.deriveKey(deviceSecret); err != nil {
		return nil, err
	}

	var nonce [nonceLength]byte
	copy(nonce[:], data[saltLength:saltLength+nonceLength])
	plain, ok := secretbox.Open(nil, data[saltLength+nonceLength:], &nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("[NewSecureFileStore] cannot unseal %s: wrong device secret or corrupt file", path)
	}
	if err := json.Unmarshal(plain, &s.values); err != nil {
		return nil, fmt.Errorf("[NewSecureFileStore] decode store: %w", err)
	}
	return s, nil
}

func (s *SecureFileStore) deriveKey(deviceSecret string) error {
	key, err := scrypt.Key([]byte(deviceSecret), s.salt, scryptN, scryptR, scryptP, len(s.key))
	if err != nil {
		return fmt.Errorf("[SecureFileStore.deriveKey] scrypt: %w", err)
	}
	copy(s.key[:], key)
	return nil
}

func (s *SecureFileStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *SecureFileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return s.save()
}

func (s *SecureFileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.save()
}

// save seals the document and replaces the file atomically. Callers hold mu.
func (s *SecureFileStore) save() error {
	plain, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("[SecureFileStore.save] encode: %w", err)
	}

	var nonce [nonceLength]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("[SecureFileStore.save] generate nonce: %w", err)
	}

	out := make([]byte, 0, saltLength+nonceLength+len(plain)+secretbox.Overhead)
	out = append(out, s.salt...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plain, &nonce, &s.key)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("[SecureFileStore.save] mkdir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("[SecureFileStore.save] write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("[SecureFileStore.save] rename: %w", err)
	}
	return nil
}
