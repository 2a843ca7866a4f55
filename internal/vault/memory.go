package vault

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"ndr-go/internal/ndr"
)

// ErrNotFound is wrapped by every vault when a blob does not exist.
var ErrNotFound = errors.New("not found in vault")

// MemoryVault keeps blobs in memory. It is safe for concurrent use and
// backs tests and throwaway archives.
type MemoryVault struct {
	name     string
	mu       sync.RWMutex
	content  map[string][]byte
	metadata map[string]versioned // "archiveID/name"
}

type versioned struct {
	data    []byte
	version int64
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		content:  make(map[string][]byte),
		metadata: make(map[string]versioned),
	}
}

func metadataKey(archiveID, name string) string {
	return archiveID + "/" + name
}

// readExactly reads r to EOF and fails unless exactly size bytes arrive.
func readExactly(r io.Reader, size int64) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	return data, nil
}

func (m *MemoryVault) PutContent(checksum string, r io.Reader, size int64) error {
	data, err := readExactly(r, size)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[checksum] = data
	return nil
}

func (m *MemoryVault) GetContent(checksum string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.content[checksum]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("content %s: %w", checksum, ErrNotFound)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

func (m *MemoryVault) PutMetadata(archiveID string, name string, r io.Reader, size int64, version int64) error {
	data, err := readExactly(r, size)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[metadataKey(archiveID, name)] = versioned{data: data, version: version}
	return nil
}

func (m *MemoryVault) GetMetadata(archiveID string, name string, w io.Writer) error {
	m.mu.RLock()
	item, ok := m.metadata[metadataKey(archiveID, name)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("metadata %q for archive %s: %w", name, archiveID, ErrNotFound)
	}

	if _, err := io.Copy(w, bytes.NewReader(item.data)); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// GetMetadataVersion returns 0 when nothing has been stored.
func (m *MemoryVault) GetMetadataVersion(archiveID string, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadata[metadataKey(archiveID, name)].version, nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

// Compile-time check that MemoryVault implements ndr.Vault interface
var _ ndr.Vault = (*MemoryVault)(nil)
