package model

import (
	"database/sql"
	"time"
)

// Device is a managed network device as known to the archive.
// Hostname is the unique key; Address and Kind are refreshed from the
// inventory every time a configuration is captured.
type Device struct {
	Hostname string // Unique key
	Address  string // Management IP or DNS name
	Kind     string // Vendor/platform tag, e.g. "cisco_ios"
}

// ArchivedDevice is a Device row together with its pointer bookkeeping.
type ArchivedDevice struct {
	Device
	CurrentSnapshotID sql.NullString // Foreign key to the Snapshot the device is believed to run
	CreatedAt         time.Time
}

// Content represents content-addressable configuration text in the vault.
// The ID is the SHA-256 checksum of the normalized plaintext.
type Content struct {
	ID                 string         // SHA-256 checksum (not a UUID)
	EncryptedContentID sql.NullString // Checksum of the ciphertext blob when encrypted at rest
	Size               int64          // Plaintext size in bytes
	CreatedAt          time.Time
}

// Snapshot is one stored configuration version for one device.
type Snapshot struct {
	ID         string    // UUID
	Hostname   string    // Foreign key to Device
	Sequence   int64     // Strictly increasing per device, assigned by the store
	ContentID  string    // Checksum (foreign key to Content)
	CapturedAt time.Time // Store-assigned, non-decreasing per device
	Label      string    // Human-readable summary
}

// ShortID returns the first seven characters of the snapshot ID.
func (s *Snapshot) ShortID() string {
	if len(s.ID) > 7 {
		return s.ID[:7]
	}
	return s.ID
}

// Operation records one mutating invocation of the tool.
type Operation struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Operation  string
	Parameters string
	Status     string
}
