package encryption

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"ndr-go/internal/ndr"
)

// testHeader marks ciphertext produced by TestEncryptor.
var testHeader = []byte("NDRENC\x00\x00")

// TestEncryptor is a deterministic stand-in for AgeEncryptor. Encrypt
// prepends testHeader, so ciphertext checksums differ from plaintext while
// staying reproducible. If Setup was called with a passphrase, Unlock
// requires the same one.
type TestEncryptor struct {
	mu         sync.Mutex
	passphrase string
	encrypted  int
}

var _ ndr.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}

	e.mu.Lock()
	e.encrypted++
	e.mu.Unlock()
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (ndr.DecryptionContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, fmt.Errorf("decrypting private key: wrong passphrase")
	}
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// Encrypted returns how many payloads have been encrypted.
func (e *TestEncryptor) Encrypted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encrypted
}

// TestDecryptionContext strips the header added by TestEncryptor.
type TestDecryptionContext struct{}

var _ ndr.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("invalid test encryption header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
