package ndr

import "ndr-go/internal/model"

// Database provides the archive index: devices, snapshots, content records
// and the operation log. Lookups return (nil, nil) when nothing matches.
// Every mutating method runs in its own transaction.
type Database interface {
	// Device operations

	// FindDevice returns the archived device with the given hostname.
	FindDevice(hostname string) (*model.ArchivedDevice, error)

	// ListDevices returns all archived devices ordered by hostname.
	ListDevices() ([]*model.ArchivedDevice, error)

	// UpdateCurrentSnapshot sets the device pointer to snapshotID.
	// It fails if snapshotID does not belong to the device.
	UpdateCurrentSnapshot(hostname string, snapshotID string) error

	// Snapshot operations

	// AppendSnapshot atomically upserts the device, records the content if it
	// is new, and compares content against the device's latest snapshot. If
	// equal it returns the latest snapshot and false. Otherwise it assigns the
	// next sequence, clamps CapturedAt to be non-decreasing, inserts the
	// snapshot, advances the pointer, and returns it with true.
	AppendSnapshot(device model.Device, content *model.Content, snapshot *model.Snapshot) (*model.Snapshot, bool, error)

	// FindSnapshot returns a snapshot of the device by ID.
	FindSnapshot(hostname string, id string) (*model.Snapshot, error)

	// FindSnapshotBySequence returns a snapshot of the device by sequence.
	FindSnapshotBySequence(hostname string, sequence int64) (*model.Snapshot, error)

	// LatestSnapshot returns the snapshot with the highest sequence for the device.
	LatestSnapshot(hostname string) (*model.Snapshot, error)

	// ListSnapshots returns up to limit snapshots for the device, newest first.
	ListSnapshots(hostname string, limit int) ([]*model.Snapshot, error)

	// ListRecentSnapshots returns up to limit snapshots across all devices, newest first.
	ListRecentSnapshots(limit int) ([]*model.Snapshot, error)

	// CountSnapshots returns the number of snapshots stored for the device.
	CountSnapshots(hostname string) (int64, error)

	// Content operations

	// FindContentByChecksum returns content metadata by checksum.
	FindContentByChecksum(checksum string) (*model.Content, error)

	// Operation log

	CreateOperation(operation string, parameters string) (*model.Operation, error)
	FinishOperation(id int64, status string) error
	ListOperations(limit int) ([]*model.Operation, error)
	MaxOperationID() (int64, error)

	// Close closes the database connection.
	Close() error
}
