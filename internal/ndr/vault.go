package ndr

import "io"

// Vault provides an interface for blob storage backends.
// Configuration texts are stored by checksum; the archive index is stored as
// versioned metadata per archive.
type Vault interface {
	// PutContent stores content identified by its checksum.
	// The operation is idempotent: storing the same checksum multiple times is safe.
	// size is the number of bytes that will be read from r.
	PutContent(checksum string, r io.Reader, size int64) error

	// GetContent retrieves content by checksum and writes it to w.
	GetContent(checksum string, w io.Writer) error

	// PutMetadata stores a named metadata item for an archive.
	// Known names: "db" (SQLite index), "public_key".
	PutMetadata(archiveID string, name string, r io.Reader, size int64, version int64) error

	// GetMetadata retrieves a named metadata item for an archive and writes it to w.
	GetMetadata(archiveID string, name string, w io.Writer) error

	// GetMetadataVersion returns the stored version, or 0 if nothing was stored.
	GetMetadataVersion(archiveID string, name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
