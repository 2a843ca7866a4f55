package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ndr-go/internal/config"
	"ndr-go/internal/database"
	"ndr-go/internal/encryption"
	"ndr-go/internal/inventory"
	"ndr-go/internal/model"
	"ndr-go/internal/ndr"
	"ndr-go/internal/notify"
	"ndr-go/internal/transport"
	"ndr-go/internal/vault"
)

// NDRApp is the application layer between the CLI and NDRService.
// It constructs all dependencies from config, resolves hostnames against
// the inventory, and manages the index lifecycle on Close.
type NDRApp struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	vault     ndr.Vault
	encryptor ndr.Encryptor
	inventory *inventory.YAMLInventory
	service   *ndr.NDRService
	op        *Operation
	logFile   *os.File
}

// Option overrides a collaborator NewNDRApp would otherwise build from config.
type Option func(*options)

type options struct {
	sessions ndr.SessionFactory
	notifier ndr.Notifier
	clock    ndr.Clock
}

// WithSessionFactory replaces the SSH transport.
func WithSessionFactory(f ndr.SessionFactory) Option {
	return func(o *options) { o.sessions = f }
}

// WithNotifier replaces the configured notifier.
func WithNotifier(n ndr.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithClock replaces the wall clock.
func WithClock(c ndr.Clock) Option {
	return func(o *options) { o.clock = c }
}

// NewNDRApp creates a fully wired NDRApp from the given config.
// operation identifies the CLI command being run (e.g. "Backup", "Restore").
// The caller must call Close when done.
func NewNDRApp(ctx context.Context, cfg *config.Config, operation string, opts ...Option) (*NDRApp, error) {
	o := &options{clock: ndr.RealClock{}}
	for _, opt := range opts {
		opt(o)
	}

	if len(cfg.Vaults) == 0 {
		return nil, fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.ArchiveID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	// Check local index version against the copy in the vault.
	remoteVersion, err := v.GetMetadataVersion(cfg.ArchiveID, "db")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking remote metadata version: %w", err)
	}

	localMax, err := db.MaxOperationID()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking local metadata version: %w", err)
	}

	if remoteVersion > localMax {
		db.Close()
		return nil, fmt.Errorf("local database is behind remote (local=%d, remote=%d): restore from vault or re-initialize", localMax, remoteVersion)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	adapter := &slogAdapter{l: logger}

	sessions := o.sessions
	if sessions == nil {
		sessions = &lazySessions{cfg: cfg.Transport, logger: adapter}
	}
	notifier := o.notifier
	if notifier == nil {
		notifier = notify.NewNotifierFromConfig(cfg.Notify, adapter)
	}

	svc, err := ndr.NewNDRService(db, v, enc, sessions, notifier, adapter, o.clock, ndr.UUIDGenerator{}, policyFromConfig(cfg))
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating service: %w", err)
	}

	return &NDRApp{
		cfg:       cfg,
		db:        db,
		vault:     v,
		encryptor: enc,
		inventory: inventory.NewYAMLInventory(cfg.InventoryPath),
		service:   svc,
		op:        NewOperation(operation, ""),
		logFile:   logFile,
	}, nil
}

func policyFromConfig(cfg *config.Config) ndr.Policy {
	return ndr.Policy{
		Dwell:            cfg.Policy.Dwell.Duration,
		Volatility:       cfg.Policy.Volatility.Duration,
		Window:           cfg.Policy.Window,
		Workers:          cfg.Policy.Workers,
		ApplyTimeout:     cfg.Transport.ApplyTimeout.Duration,
		CommandTimeout:   cfg.Transport.CommandTimeout.Duration,
		VolatilePatterns: cfg.Policy.VolatilePatterns,
		RollbackMarkers:  cfg.Policy.RollbackMarkers,
	}
}

// lazySessions builds the SSH factory on first use, so commands that never
// touch a device do not need router credentials in the environment.
type lazySessions struct {
	cfg    config.TransportConfig
	logger ndr.Logger

	once    sync.Once
	factory ndr.SessionFactory
	err     error
}

func (l *lazySessions) Open(ctx context.Context, device model.Device) (ndr.DeviceSession, error) {
	l.once.Do(func() {
		l.factory, l.err = transport.NewSessionFactoryFromConfig(l.cfg, l.logger)
	})
	if l.err != nil {
		return nil, l.err
	}
	return l.factory.Open(ctx, device)
}

// persistOperation saves the operation to the database, giving it an auto-increment ID.
// This should only be called for index-mutating commands.
func (a *NDRApp) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// Encrypted reports whether archived content is encrypted, i.e. whether
// restores need Unlock first.
func (a *NDRApp) Encrypted() bool {
	return a.encryptor != nil
}

// Unlock decrypts the private key with passphrase for this session.
func (a *NDRApp) Unlock(passphrase string) error {
	if a.encryptor == nil {
		return nil
	}
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return err
	}
	a.service.Unlock(dc)
	return nil
}

// InventoryPath returns the inventory file in use.
func (a *NDRApp) InventoryPath() string {
	return a.inventory.Path()
}

// Devices returns the archive state of every inventory device.
func (a *NDRApp) Devices() ([]*ndr.DeviceOverview, error) {
	devices, err := a.inventory.Devices()
	if err != nil {
		return nil, err
	}
	return a.service.Overview(devices)
}

// Backup archives one inventory device.
func (a *NDRApp) Backup(ctx context.Context, hostname string) (*ndr.BackupResult, error) {
	device, err := a.inventory.Find(hostname)
	if err != nil {
		return nil, err
	}
	if err := a.persistOperation(hostname); err != nil {
		return nil, err
	}

	result, err := a.service.Backup(ctx, device)
	if err != nil || result.Status == ndr.BackupFailed {
		a.op.Status = StatusError
	}
	return result, err
}

// BackupAll archives every inventory device, continuing past failures.
func (a *NDRApp) BackupAll(ctx context.Context) ([]*ndr.BackupResult, error) {
	devices, err := a.inventory.Devices()
	if err != nil {
		return nil, err
	}
	if err := a.persistOperation("all"); err != nil {
		return nil, err
	}

	results, err := a.service.BackupAll(ctx, devices)
	if err != nil {
		a.op.Status = StatusError
	}
	for _, r := range results {
		if r.Status == ndr.BackupFailed {
			a.op.Status = StatusError
		}
	}
	return results, err
}

// HistoryEntry is one snapshot in a device log.
type HistoryEntry struct {
	*model.Snapshot
	Current bool // The device pointer references this snapshot
}

// Log returns up to limit snapshots of hostname, newest first, marking the
// one the device is believed to run.
func (a *NDRApp) Log(hostname string, limit int) ([]*HistoryEntry, error) {
	snapshots, err := a.service.History(hostname, limit)
	if err != nil {
		return nil, err
	}
	pointer, err := a.service.Store().Pointer(hostname)
	if err != nil {
		return nil, err
	}

	entries := make([]*HistoryEntry, 0, len(snapshots))
	for _, s := range snapshots {
		entries = append(entries, &HistoryEntry{Snapshot: s, Current: s.ID == pointer})
	}
	return entries, nil
}

// Restore rolls hostname back to the snapshot identified by handle.
func (a *NDRApp) Restore(ctx context.Context, hostname string, handle string) (*ndr.RestoreResult, error) {
	device, err := a.inventory.Find(hostname)
	if err != nil {
		return nil, err
	}
	if err := a.persistOperation(hostname + " " + handle); err != nil {
		return nil, err
	}

	result, err := a.service.Restore(ctx, device, handle)
	if err != nil || !result.Success {
		a.op.Status = StatusError
	}
	return result, err
}

// Scan reports which inventory devices changed recently.
func (a *NDRApp) Scan() ([]*ndr.SuspectReport, error) {
	devices, err := a.inventory.Devices()
	if err != nil {
		return nil, err
	}
	return a.service.ScanSuspects(devices)
}

// Remediate restores every suspect device to its stable candidate. Dry
// runs leave no trace in the operation log.
func (a *NDRApp) Remediate(ctx context.Context, dryRun bool) (*ndr.RemediationReport, error) {
	devices, err := a.inventory.Devices()
	if err != nil {
		return nil, err
	}
	if !dryRun {
		if err := a.persistOperation(""); err != nil {
			return nil, err
		}
	}

	report, err := a.service.AutoRemediate(ctx, devices, dryRun)
	if err != nil || (report != nil && report.Failed > 0) {
		a.op.Status = StatusError
	}
	return report, err
}

// AuditLog returns the newest snapshots across the fleet.
func (a *NDRApp) AuditLog(limit int) ([]*model.Snapshot, error) {
	return a.service.AuditLog(limit)
}

// Operations returns the most recent operations.
func (a *NDRApp) Operations(limit int) ([]*model.Operation, error) {
	return a.db.ListOperations(limit)
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record, backs up the index, and uploads it to the vault.
// For non-persisted operations: just closes the database.
func (a *NDRApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}

		// Snapshot the index to a temp file
		tmpFile, err := os.CreateTemp("", "ndr-db-backup-*.db")
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("creating temp file for db backup: %w", err)
			}
		}

		var tmpPath string
		if tmpFile != nil {
			tmpPath = tmpFile.Name()
			tmpFile.Close()
			// VACUUM INTO refuses to overwrite an existing file.
			os.Remove(tmpPath)

			if err := a.db.BackupTo(tmpPath); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("backing up database: %w", err)
				}
				tmpPath = ""
			}
		}

		if err := a.db.Close(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("closing database: %w", err)
			}
		}

		// Upload index snapshot to vault with version = operation ID
		if tmpPath != "" {
			if err := a.uploadMetadata(tmpPath, a.op.ID); err != nil {
				if firstErr == nil {
					firstErr = err
				}
			}
			os.Remove(tmpPath)
		}
	} else {
		if err := a.db.Close(); err != nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}

	if err := a.writeMetrics(); err != nil && firstErr == nil {
		firstErr = err
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// uploadMetadata opens the temp index file and uploads it to the vault as metadata.
func (a *NDRApp) uploadMetadata(path string, version int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening db backup for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat db backup: %w", err)
	}

	if err := a.vault.PutMetadata(a.cfg.ArchiveID, "db", f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading metadata to vault: %w", err)
	}

	return nil
}

// writeMetrics exports this run's counters for the node_exporter textfile
// collector.
func (a *NDRApp) writeMetrics() error {
	path := a.cfg.Metrics.TextfilePath
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

// SetupKeys generates the age key pair configured in cfg, protecting the
// private key with passphrase, and returns the public key.
func SetupKeys(cfg *config.Config, passphrase string) (string, error) {
	if strings.TrimSpace(passphrase) == "" {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	enc := encryption.NewAgeEncryptor(cfg.Encryption)
	if err := enc.Setup(passphrase); err != nil {
		return "", err
	}
	return enc.PublicKey()
}
