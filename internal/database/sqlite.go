package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ndr-go/internal/database/migrations"
	"ndr-go/internal/model"
	"ndr-go/internal/ndr"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements the archive index on SQLite.
// It uses a single connection, so transactions are serialized and an
// in-memory database survives for the lifetime of the handle.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the database at path (or ":memory:") and applies
// any pending migrations.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the archive relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const snapshotColumns = "id, hostname, sequence, content_id, captured_at, label"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(r rowScanner) (*model.Snapshot, error) {
	var s model.Snapshot
	if err := r.Scan(&s.ID, &s.Hostname, &s.Sequence, &s.ContentID, &s.CapturedAt, &s.Label); err != nil {
		return nil, err
	}
	return &s, nil
}

func querySnapshot(ctx context.Context, q queryer, query string, args ...any) (*model.Snapshot, error) {
	snap, err := scanSnapshot(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	return snap, err
}

func querySnapshots(ctx context.Context, q queryer, query string, args ...any) ([]*model.Snapshot, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Device operations

func (s *SQLiteDatabase) FindDevice(hostname string) (*model.ArchivedDevice, error) {
	var d model.ArchivedDevice
	err := s.db.QueryRowContext(context.Background(),
		"SELECT hostname, address, kind, current_snapshot_id, created_at FROM devices WHERE hostname = ?",
		hostname,
	).Scan(&d.Hostname, &d.Address, &d.Kind, &d.CurrentSnapshotID, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding device: %w", err)
	}
	return &d, nil
}

func (s *SQLiteDatabase) ListDevices() ([]*model.ArchivedDevice, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT hostname, address, kind, current_snapshot_id, created_at FROM devices ORDER BY hostname")
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var out []*model.ArchivedDevice
	for rows.Next() {
		var d model.ArchivedDevice
		if err := rows.Scan(&d.Hostname, &d.Address, &d.Kind, &d.CurrentSnapshotID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return out, nil
}

func (s *SQLiteDatabase) UpdateCurrentSnapshot(hostname string, snapshotID string) error {
	res, err := s.db.ExecContext(context.Background(), `
		UPDATE devices SET current_snapshot_id = ?
		WHERE hostname = ?
		  AND EXISTS (SELECT 1 FROM snapshots WHERE id = ? AND hostname = ?)`,
		snapshotID, hostname, snapshotID, hostname)
	if err != nil {
		return fmt.Errorf("updating current snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating current snapshot: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("snapshot %s does not belong to device %s", snapshotID, hostname)
	}
	return nil
}

// Snapshot operations

// AppendSnapshot records a captured configuration in one transaction:
//  1. Upserts the device, refreshing address and kind.
//  2. Creates the content record if it doesn't already exist.
//  3. Compares against the device's latest snapshot. Equal content is a
//     no-op and returns the latest snapshot.
//  4. Otherwise inserts the snapshot with the next sequence and a capture
//     time no earlier than the latest, and advances the pointer.
func (s *SQLiteDatabase) AppendSnapshot(device model.Device, content *model.Content, snapshot *model.Snapshot) (*model.Snapshot, bool, error) {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. Upsert the device.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices (hostname, address, kind, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(hostname) DO UPDATE SET address = excluded.address, kind = excluded.kind`,
		device.Hostname, device.Address, device.Kind, snapshot.CapturedAt.UTC())
	if err != nil {
		return nil, false, fmt.Errorf("upserting device: %w", err)
	}

	// 2. Create the content record if needed.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO contents (id, encrypted_content_id, size, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		content.ID, content.EncryptedContentID, content.Size, content.CreatedAt.UTC())
	if err != nil {
		return nil, false, fmt.Errorf("creating content: %w", err)
	}

	// 3. Compare against the latest snapshot.
	latest, err := querySnapshot(ctx, tx,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE hostname = ? ORDER BY sequence DESC LIMIT 1",
		device.Hostname)
	if err != nil {
		return nil, false, fmt.Errorf("loading latest snapshot: %w", err)
	}
	if latest != nil && latest.ContentID == content.ID {
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("committing transaction: %w", err)
		}
		return latest, false, nil
	}

	// 4. Insert and advance the pointer.
	stored := *snapshot
	stored.Hostname = device.Hostname
	stored.ContentID = content.ID
	stored.CapturedAt = snapshot.CapturedAt.UTC()
	stored.Sequence = 1
	if latest != nil {
		stored.Sequence = latest.Sequence + 1
		if stored.CapturedAt.Before(latest.CapturedAt) {
			stored.CapturedAt = latest.CapturedAt
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO snapshots ("+snapshotColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		stored.ID, stored.Hostname, stored.Sequence, stored.ContentID, stored.CapturedAt, stored.Label)
	if err != nil {
		return nil, false, fmt.Errorf("creating snapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE devices SET current_snapshot_id = ? WHERE hostname = ?",
		stored.ID, stored.Hostname)
	if err != nil {
		return nil, false, fmt.Errorf("updating current snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing transaction: %w", err)
	}
	return &stored, true, nil
}

func (s *SQLiteDatabase) FindSnapshot(hostname string, id string) (*model.Snapshot, error) {
	snap, err := querySnapshot(context.Background(), s.db,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE hostname = ? AND id = ?",
		hostname, id)
	if err != nil {
		return nil, fmt.Errorf("finding snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLiteDatabase) FindSnapshotBySequence(hostname string, sequence int64) (*model.Snapshot, error) {
	snap, err := querySnapshot(context.Background(), s.db,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE hostname = ? AND sequence = ?",
		hostname, sequence)
	if err != nil {
		return nil, fmt.Errorf("finding snapshot by sequence: %w", err)
	}
	return snap, nil
}

func (s *SQLiteDatabase) LatestSnapshot(hostname string) (*model.Snapshot, error) {
	snap, err := querySnapshot(context.Background(), s.db,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE hostname = ? ORDER BY sequence DESC LIMIT 1",
		hostname)
	if err != nil {
		return nil, fmt.Errorf("finding latest snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLiteDatabase) ListSnapshots(hostname string, limit int) ([]*model.Snapshot, error) {
	snaps, err := querySnapshots(context.Background(), s.db,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE hostname = ? ORDER BY sequence DESC LIMIT ?",
		hostname, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return snaps, nil
}

func (s *SQLiteDatabase) ListRecentSnapshots(limit int) ([]*model.Snapshot, error) {
	snaps, err := querySnapshots(context.Background(), s.db,
		"SELECT "+snapshotColumns+" FROM snapshots ORDER BY captured_at DESC, hostname, sequence DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent snapshots: %w", err)
	}
	return snaps, nil
}

func (s *SQLiteDatabase) CountSnapshots(hostname string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM snapshots WHERE hostname = ?", hostname).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting snapshots: %w", err)
	}
	return n, nil
}

// Content operations

func (s *SQLiteDatabase) FindContentByChecksum(checksum string) (*model.Content, error) {
	var c model.Content
	err := s.db.QueryRowContext(context.Background(),
		"SELECT id, encrypted_content_id, size, created_at FROM contents WHERE id = ?", checksum,
	).Scan(&c.ID, &c.EncryptedContentID, &c.Size, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding content by checksum: %w", err)
	}
	return &c, nil
}

// Operation log

func (s *SQLiteDatabase) CreateOperation(operation string, parameters string) (*model.Operation, error) {
	op := &model.Operation{
		StartedAt:  time.Now().UTC(),
		Operation:  operation,
		Parameters: parameters,
	}
	res, err := s.db.ExecContext(context.Background(),
		"INSERT INTO operations (started_at, operation, parameters) VALUES (?, ?, ?)",
		op.StartedAt, op.Operation, op.Parameters)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	op.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	_, err := s.db.ExecContext(context.Background(),
		"UPDATE operations SET finished_at = ?, status = ? WHERE id = ?",
		time.Now().UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(limit int) ([]*model.Operation, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT id, started_at, finished_at, operation, parameters, status FROM operations ORDER BY id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var out []*model.Operation
	for rows.Next() {
		var op model.Operation
		if err := rows.Scan(&op.ID, &op.StartedAt, &op.FinishedAt, &op.Operation, &op.Parameters, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		out = append(out, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return out, nil
}

func (s *SQLiteDatabase) MaxOperationID() (int64, error) {
	var id int64
	err := s.db.QueryRowContext(context.Background(),
		"SELECT COALESCE(MAX(id), 0) FROM operations").Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("getting max operation ID: %w", err)
	}
	return id, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a complete copy of the database to destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements ndr.Database interface
var _ ndr.Database = (*SQLiteDatabase)(nil)
