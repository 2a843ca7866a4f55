package ndr

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	ndrerrors "ndr-go/internal/errors"
	"ndr-go/internal/model"
)

// SnapshotStore is the append-only, deduplicated archive of device
// configurations. The index lives in the Database and the normalized text
// lives in the Vault keyed by checksum, optionally age-encrypted.
//
// The store does not lock devices itself; callers serialize per device with
// DeviceLocks. Each mutation is a single database transaction.
type SnapshotStore struct {
	database  Database
	vault     Vault
	encryptor Encryptor
	detector  *ChangeDetector
	clock     Clock
	idgen     IDGenerator
	logger    Logger

	mu      sync.RWMutex
	decrypt DecryptionContext
}

// NewSnapshotStore creates a store. encryptor may be nil for plaintext archives.
func NewSnapshotStore(database Database, vault Vault, encryptor Encryptor, detector *ChangeDetector, clock Clock, idgen IDGenerator, logger Logger) *SnapshotStore {
	return &SnapshotStore{
		database:  database,
		vault:     vault,
		encryptor: encryptor,
		detector:  detector,
		clock:     clock,
		idgen:     idgen,
		logger:    logger,
	}
}

// SetDecryptionContext installs the unlocked key used by Fetch for
// encrypted content.
func (s *SnapshotStore) SetDecryptionContext(dc DecryptionContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decrypt = dc
}

// Append normalizes raw and stores it as a new snapshot of device unless it
// equals the device's latest snapshot. It returns the stored snapshot (or
// the unchanged latest one) and whether a snapshot was created. A new
// snapshot becomes the device's pointer.
func (s *SnapshotStore) Append(device model.Device, raw string, label string) (*model.Snapshot, bool, error) {
	normalized, err := s.detector.Normalize(raw)
	if err != nil {
		return nil, false, err
	}

	latest, err := s.database.LatestSnapshot(device.Hostname)
	if err != nil {
		return nil, false, storeFault("loading latest snapshot", err)
	}
	if !s.detector.Changed(latest, normalized) {
		s.logger.Debug("configuration unchanged", "hostname", device.Hostname, "snapshot", latest.ID)
		return latest, false, nil
	}

	checksum := Checksum(normalized)
	content, err := s.putContent(checksum, normalized)
	if err != nil {
		return nil, false, err
	}

	snapshot := &model.Snapshot{
		ID:         s.idgen.New(),
		Hostname:   device.Hostname,
		ContentID:  checksum,
		CapturedAt: s.clock.Now(),
		Label:      label,
	}
	stored, created, err := s.database.AppendSnapshot(device, content, snapshot)
	if err != nil {
		return nil, false, storeFault("recording snapshot", err)
	}

	if created {
		s.logger.Info("snapshot stored", "hostname", device.Hostname, "snapshot", stored.ID, "sequence", stored.Sequence)
	}
	return stored, created, nil
}

// putContent uploads normalized text to the vault unless a content record
// for checksum already exists, and returns the record to index.
func (s *SnapshotStore) putContent(checksum string, normalized string) (*model.Content, error) {
	existing, err := s.database.FindContentByChecksum(checksum)
	if err != nil {
		return nil, storeFault("checking for existing content", err)
	}
	if existing != nil {
		s.logger.Debug("content deduplicated", "checksum", checksum)
		return existing, nil
	}

	content := &model.Content{
		ID:        checksum,
		Size:      int64(len(normalized)),
		CreatedAt: s.clock.Now(),
	}

	if s.encryptor == nil {
		if err := s.vault.PutContent(checksum, strings.NewReader(normalized), content.Size); err != nil {
			return nil, storeFault("uploading content to vault", err)
		}
		return content, nil
	}

	var buf bytes.Buffer
	if err := s.encryptor.Encrypt(strings.NewReader(normalized), &buf); err != nil {
		return nil, fmt.Errorf("encrypting content: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	encChecksum := hex.EncodeToString(sum[:])
	if err := s.vault.PutContent(encChecksum, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		return nil, storeFault("uploading encrypted content to vault", err)
	}
	content.EncryptedContentID = sql.NullString{String: encChecksum, Valid: true}
	return content, nil
}

// History returns up to limit snapshots of the device, newest first.
func (s *SnapshotStore) History(hostname string, limit int) ([]*model.Snapshot, error) {
	snapshots, err := s.database.ListSnapshots(hostname, limit)
	if err != nil {
		return nil, storeFault("listing snapshots", err)
	}
	return snapshots, nil
}

// Recent returns up to limit snapshots across the whole fleet, newest first.
func (s *SnapshotStore) Recent(limit int) ([]*model.Snapshot, error) {
	snapshots, err := s.database.ListRecentSnapshots(limit)
	if err != nil {
		return nil, storeFault("listing recent snapshots", err)
	}
	return snapshots, nil
}

// Latest returns the device's newest snapshot, or nil without history.
func (s *SnapshotStore) Latest(hostname string) (*model.Snapshot, error) {
	latest, err := s.database.LatestSnapshot(hostname)
	if err != nil {
		return nil, storeFault("loading latest snapshot", err)
	}
	return latest, nil
}

// Resolve finds a snapshot of the device by ID, or by sequence number when
// handle is numeric. It fails with NOT_FOUND if nothing matches.
func (s *SnapshotStore) Resolve(hostname string, handle string) (*model.Snapshot, error) {
	var (
		snap *model.Snapshot
		err  error
	)
	if seq, perr := strconv.ParseInt(handle, 10, 64); perr == nil {
		snap, err = s.database.FindSnapshotBySequence(hostname, seq)
	} else {
		snap, err = s.database.FindSnapshot(hostname, handle)
	}
	if err != nil {
		return nil, storeFault("finding snapshot", err)
	}
	if snap == nil {
		return nil, ndrerrors.NewWithContext(ndrerrors.ErrCodeNotFound,
			fmt.Sprintf("no snapshot %s for device %s", handle, hostname),
			map[string]any{"hostname": hostname, "snapshot": handle})
	}
	return snap, nil
}

// Fetch returns the normalized configuration text of a snapshot.
func (s *SnapshotStore) Fetch(hostname string, snapshotID string) (string, error) {
	snap, err := s.Resolve(hostname, snapshotID)
	if err != nil {
		return "", err
	}

	content, err := s.database.FindContentByChecksum(snap.ContentID)
	if err != nil {
		return "", storeFault("finding content record", err)
	}
	if content == nil {
		return "", ndrerrors.NewWithContext(ndrerrors.ErrCodeStoreFault,
			"snapshot references missing content record",
			map[string]any{"snapshot": snap.ID, "checksum": snap.ContentID})
	}

	var buf bytes.Buffer
	if content.EncryptedContentID.Valid {
		s.mu.RLock()
		dc := s.decrypt
		s.mu.RUnlock()
		if dc == nil {
			return "", ndrerrors.New(ndrerrors.ErrCodeInvalidRequest, "archive content is encrypted but no passphrase was provided")
		}
		var cipher bytes.Buffer
		if err := s.vault.GetContent(content.EncryptedContentID.String, &cipher); err != nil {
			return "", storeFault("retrieving encrypted content from vault", err)
		}
		if err := dc.Decrypt(&cipher, &buf); err != nil {
			return "", fmt.Errorf("decrypting content: %w", err)
		}
	} else {
		if err := s.vault.GetContent(content.ID, &buf); err != nil {
			return "", storeFault("retrieving content from vault", err)
		}
	}

	text := buf.String()
	if Checksum(text) != snap.ContentID {
		return "", ndrerrors.NewWithContext(ndrerrors.ErrCodeStoreFault,
			"content checksum mismatch",
			map[string]any{"snapshot": snap.ID, "checksum": snap.ContentID})
	}
	return text, nil
}

// Pointer returns the snapshot ID the device is believed to run, or "" when
// the device has no history.
func (s *SnapshotStore) Pointer(hostname string) (string, error) {
	device, err := s.database.FindDevice(hostname)
	if err != nil {
		return "", storeFault("finding device", err)
	}
	if device == nil || !device.CurrentSnapshotID.Valid {
		return "", nil
	}
	return device.CurrentSnapshotID.String, nil
}

// ReconcilePointer sets the device pointer to snapshotID without creating a
// snapshot. Setting the same value twice is a no-op.
func (s *SnapshotStore) ReconcilePointer(hostname string, snapshotID string) error {
	if err := s.database.UpdateCurrentSnapshot(hostname, snapshotID); err != nil {
		return storeFault("updating pointer", err)
	}
	s.logger.Debug("pointer reconciled", "hostname", hostname, "snapshot", snapshotID)
	return nil
}

// Devices returns every device that has been archived.
func (s *SnapshotStore) Devices() ([]*model.ArchivedDevice, error) {
	devices, err := s.database.ListDevices()
	if err != nil {
		return nil, storeFault("listing devices", err)
	}
	return devices, nil
}

// Count returns the number of snapshots stored for the device.
func (s *SnapshotStore) Count(hostname string) (int64, error) {
	n, err := s.database.CountSnapshots(hostname)
	if err != nil {
		return 0, storeFault("counting snapshots", err)
	}
	return n, nil
}

func storeFault(message string, err error) error {
	return ndrerrors.Wrap(ndrerrors.ErrCodeStoreFault, message, err)
}
