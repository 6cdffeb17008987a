package tokenstore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	keySize   = 32
	nonceSize = 24

	// scrypt parameters for deriving the file key
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// sealer encrypts and decrypts file contents with NaCl secretbox.
// The key stays encrypted in memory and is only opened for a single seal or open.
type sealer struct {
	key *memguard.Enclave
}

func newSealer(key []byte) (*sealer, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}
	// NewEnclave wipes its input
	buf := make([]byte, keySize)
	copy(buf, key)
	return &sealer{key: memguard.NewEnclave(buf)}, nil
}

// deriveKey derives the file key from the service name, bound to the local host and user.
func deriveKey(service string) ([]byte, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("resolving hostname: %w", err)
	}
	username := os.Getenv("USER")
	if u, err := user.Current(); err == nil {
		username = u.Username
	}

	salt := fmt.Sprintf("%s-%s-%s", host, username, service)
	key, err := scrypt.Key([]byte(service), []byte(salt), scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("deriving encryption key: %w", err)
	}
	return key, nil
}

// seal returns nonce || secretbox(plaintext).
func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	key, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer key.Destroy()

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, key.ByteArray32()), nil
}

// open reverses seal. Fails if the data was tampered with or sealed under another key.
func (s *sealer) open(box []byte) ([]byte, error) {
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, errors.New("encrypted data too short")
	}

	key, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer key.Destroy()

	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])

	plaintext, ok := secretbox.Open(nil, box[nonceSize:], &nonce, key.ByteArray32())
	if !ok {
		return nil, errors.New("decryption failed (wrong key or corrupted data)")
	}
	return plaintext, nil
}
