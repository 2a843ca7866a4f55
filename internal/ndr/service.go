package ndr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	ndrerrors "ndr-go/internal/errors"
	"ndr-go/internal/model"
)

// DefaultWorkers bounds how many devices batch operations touch at once.
const DefaultWorkers = 4

// LabelTimeFormat is the timestamp layout used in backup labels.
const LabelTimeFormat = "2006-01-02 15:04:05"

// Policy holds the tunables of the engine. Zero values fall back to the
// package defaults.
type Policy struct {
	Dwell            time.Duration
	Volatility       time.Duration
	Window           int
	Workers          int
	ApplyTimeout     time.Duration
	CommandTimeout   time.Duration
	VolatilePatterns []string // Extra normalization patterns on top of DefaultVolatilePatterns
	RollbackMarkers  []string // Replaces DefaultRollbackMarkers when non-empty
}

// BackupStatus is the outcome of one backup.
type BackupStatus string

const (
	BackupUnchanged BackupStatus = "unchanged"
	BackupChanged   BackupStatus = "changed"
	BackupFailed    BackupStatus = "failed"
)

// BackupResult reports one device's backup. Snapshot is the new snapshot
// when changed and the existing latest one when unchanged.
type BackupResult struct {
	Device   model.Device
	Status   BackupStatus
	Message  string
	Kind     ndrerrors.ErrorCode
	Snapshot *model.Snapshot
}

// RemediationOutcome is one suspect device's result in a remediation pass.
type RemediationOutcome struct {
	Report  *SuspectReport
	Target  *model.Snapshot // nil when no candidate exists
	Result  *RestoreResult  // nil in dry runs or without a candidate
	Message string
}

// RemediationReport aggregates a remediation pass.
type RemediationReport struct {
	Scanned   int
	Suspects  int
	Succeeded int
	Failed    int
	Skipped   int
	Outcomes  []*RemediationOutcome
}

// NDRService is the orchestration layer that ties the archive, the restore
// engine and the device transport together for the CLI.
type NDRService struct {
	store        *SnapshotStore
	selector     *StabilitySelector
	scanner      *SuspectScanner
	orchestrator *RestoreOrchestrator
	sessions     SessionFactory
	notifier     Notifier
	locks        *DeviceLocks
	logger       Logger
	clock        Clock
	policy       Policy
}

// NewNDRService wires the engine. encryptor may be nil for a plaintext
// archive and notifier may be nil to disable notifications.
func NewNDRService(database Database, vault Vault, encryptor Encryptor, sessions SessionFactory, notifier Notifier, logger Logger, clock Clock, idgen IDGenerator, policy Policy) (*NDRService, error) {
	patterns := append(append([]string{}, DefaultVolatilePatterns...), policy.VolatilePatterns...)
	detector, err := NewChangeDetector(patterns)
	if err != nil {
		return nil, fmt.Errorf("building change detector: %w", err)
	}
	if policy.Workers <= 0 {
		policy.Workers = DefaultWorkers
	}
	if policy.CommandTimeout <= 0 {
		policy.CommandTimeout = DefaultCommandTimeout
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}

	locks := NewDeviceLocks()
	store := NewSnapshotStore(database, vault, encryptor, detector, clock, idgen, logger)

	orchestrator := NewRestoreOrchestrator(store, sessions, locks, logger, clock)
	orchestrator.CommandTimeout = policy.CommandTimeout
	if policy.ApplyTimeout > 0 {
		orchestrator.ApplyTimeout = policy.ApplyTimeout
	}
	if len(policy.RollbackMarkers) > 0 {
		orchestrator.Markers = policy.RollbackMarkers
	}

	return &NDRService{
		store:        store,
		selector:     NewStabilitySelector(policy.Dwell, policy.Window),
		scanner:      NewSuspectScanner(store, clock, policy.Volatility),
		orchestrator: orchestrator,
		sessions:     sessions,
		notifier:     notifier,
		locks:        locks,
		logger:       logger,
		clock:        clock,
		policy:       policy,
	}, nil
}

// Store exposes the snapshot store for read-only callers.
func (s *NDRService) Store() *SnapshotStore {
	return s.store
}

// Unlock installs a decryption context so encrypted snapshots can be restored.
func (s *NDRService) Unlock(dc DecryptionContext) {
	s.store.SetDecryptionContext(dc)
}

// Backup captures the device's running configuration and archives it if it
// changed. Expected failures are reported in the result; only a store fault
// is returned as an error.
//
// The device lock covers capture and append only; notifications go out after
// it is released.
func (s *NDRService) Backup(ctx context.Context, device model.Device) (*BackupResult, error) {
	start := s.clock.Now()
	result, err := s.backup(ctx, device)
	backupDuration.Observe(s.clock.Now().Sub(start).Seconds())
	backupTotal.WithLabelValues(string(result.Status)).Inc()

	switch result.Status {
	case BackupChanged:
		s.notify(ctx, "Configuration changed", fmt.Sprintf("%s: new snapshot %s archived.", device.Hostname, result.Snapshot.ShortID()), SeverityInfo)
	case BackupFailed:
		s.logger.Warn("backup failed", "hostname", device.Hostname, "kind", result.Kind, "message", result.Message)
		s.notify(ctx, "Backup failed", fmt.Sprintf("%s: %s", device.Hostname, result.Message), SeverityError)
	}
	return result, err
}

func (s *NDRService) backup(ctx context.Context, device model.Device) (*BackupResult, error) {
	result := &BackupResult{Device: device}
	fail := func(err error) *BackupResult {
		result.Status = BackupFailed
		result.Kind = ndrerrors.CodeOf(err)
		if result.Kind == "" {
			result.Kind = ndrerrors.ErrCodeTransport
		}
		result.Message = err.Error()
		return result
	}

	unlock, err := s.locks.Lock(ctx, device.Hostname)
	if err != nil {
		return fail(ndrerrors.Wrap(ndrerrors.ErrCodeTransport, "waiting for device lock", err)), nil
	}
	defer unlock()

	raw, err := s.capture(ctx, device)
	if err != nil {
		return fail(err), nil
	}

	label := fmt.Sprintf("Backup %s at %s", device.Hostname, s.clock.Now().Format(LabelTimeFormat))
	snapshot, created, err := s.store.Append(device, raw, label)
	if err != nil {
		if ndrerrors.Is(err, ndrerrors.ErrCodeStoreFault) {
			return fail(err), err
		}
		return fail(err), nil
	}

	result.Snapshot = snapshot
	if created {
		result.Status = BackupChanged
		result.Message = "change detected and archived"
	} else {
		result.Status = BackupUnchanged
		result.Message = "configuration identical"
	}
	return result, nil
}

func (s *NDRService) capture(ctx context.Context, device model.Device) (string, error) {
	openCtx, cancel := context.WithTimeout(ctx, s.policy.CommandTimeout)
	session, err := s.sessions.Open(openCtx, device)
	cancel()
	if err != nil {
		return "", asTransport("opening session", err)
	}
	defer session.Close()

	captureCtx, cancel := context.WithTimeout(ctx, s.policy.CommandTimeout)
	defer cancel()
	raw, err := session.Capture(captureCtx)
	if err != nil {
		return "", asTransport("capturing configuration", err)
	}
	return raw, nil
}

// BackupAll backs up every device on a bounded worker pool. One device's
// failure never stops the others. Results are returned in input order;
// store faults are joined into the returned error.
func (s *NDRService) BackupAll(ctx context.Context, devices []model.Device) ([]*BackupResult, error) {
	results := make([]*BackupResult, len(devices))
	var (
		mu     sync.Mutex
		faults []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.policy.Workers)
	for i, device := range devices {
		g.Go(func() error {
			result, err := s.Backup(gctx, device)
			results[i] = result
			if err != nil {
				mu.Lock()
				faults = append(faults, fmt.Errorf("%s: %w", device.Hostname, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(faults...)
}

// Restore rolls the device back to the snapshot identified by handle (ID
// or sequence number).
func (s *NDRService) Restore(ctx context.Context, device model.Device, handle string) (*RestoreResult, error) {
	result, err := s.orchestrator.Restore(ctx, RestorePlan{Device: device, TargetID: handle, Reason: ReasonManual})
	s.notifyRestore(ctx, result)
	return result, err
}

func (s *NDRService) notifyRestore(ctx context.Context, result *RestoreResult) {
	if result == nil {
		return
	}
	if result.Success {
		s.notify(ctx, "Restore succeeded", result.Message, SeveritySuccess)
		return
	}
	s.notify(ctx, "Restore failed", fmt.Sprintf("%s: %s", result.Hostname, result.Message), SeverityError)
}

// History returns up to limit snapshots of the device, newest first.
func (s *NDRService) History(hostname string, limit int) ([]*model.Snapshot, error) {
	return s.store.History(hostname, limit)
}

// AuditLog returns the newest snapshots across the fleet.
func (s *NDRService) AuditLog(limit int) ([]*model.Snapshot, error) {
	return s.store.Recent(limit)
}

// ScanSuspects reports which devices changed within the volatility threshold.
func (s *NDRService) ScanSuspects(devices []model.Device) ([]*SuspectReport, error) {
	reports, err := s.scanner.Scan(devices)
	if err != nil {
		return nil, err
	}
	suspectDevices.Set(float64(len(Suspects(reports))))
	return reports, nil
}

// SelectTarget returns the automatic restore candidate for the device, or
// nil when its history is too short.
func (s *NDRService) SelectTarget(hostname string) (*model.Snapshot, error) {
	history, err := s.store.History(hostname, s.selector.Window)
	if err != nil {
		return nil, err
	}
	return s.selector.Select(history), nil
}

// AutoRemediate scans devices and restores every suspect to its stable
// candidate on a bounded worker pool, continuing past failures. With dryRun
// it only reports the chosen targets.
func (s *NDRService) AutoRemediate(ctx context.Context, devices []model.Device, dryRun bool) (*RemediationReport, error) {
	reports, err := s.ScanSuspects(devices)
	if err != nil {
		return nil, err
	}
	suspects := Suspects(reports)

	report := &RemediationReport{
		Scanned:  len(reports),
		Suspects: len(suspects),
		Outcomes: make([]*RemediationOutcome, len(suspects)),
	}
	if len(suspects) == 0 {
		return report, nil
	}
	s.logger.Info("remediation started", "suspects", len(suspects), "dry_run", dryRun)

	var (
		mu     sync.Mutex
		faults []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.policy.Workers)
	for i, suspect := range suspects {
		g.Go(func() error {
			outcome, err := s.remediate(gctx, suspect, dryRun)
			report.Outcomes[i] = outcome
			if err != nil {
				mu.Lock()
				faults = append(faults, fmt.Errorf("%s: %w", suspect.Device.Hostname, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range report.Outcomes {
		switch {
		case o.Result == nil:
			report.Skipped++
		case o.Result.Success:
			report.Succeeded++
		default:
			report.Failed++
		}
	}

	if !dryRun {
		s.notify(ctx, "Auto-remediation finished",
			fmt.Sprintf("%d suspect device(s): %d restored, %d failed, %d skipped.", report.Suspects, report.Succeeded, report.Failed, report.Skipped),
			remediationSeverity(report))
	}
	return report, errors.Join(faults...)
}

func (s *NDRService) remediate(ctx context.Context, suspect *SuspectReport, dryRun bool) (*RemediationOutcome, error) {
	outcome := &RemediationOutcome{Report: suspect}
	hostname := suspect.Device.Hostname

	target, err := s.SelectTarget(hostname)
	if err != nil {
		outcome.Message = err.Error()
		return outcome, err
	}
	if target == nil {
		outcome.Message = "no earlier snapshot to restore"
		return outcome, nil
	}
	outcome.Target = target

	if dryRun {
		outcome.Message = fmt.Sprintf("would restore %s to %s (sequence %d)", hostname, target.ShortID(), target.Sequence)
		return outcome, nil
	}

	result, err := s.orchestrator.Restore(ctx, RestorePlan{Device: suspect.Device, TargetID: target.ID, Reason: ReasonAutoStable})
	outcome.Result = result
	if result != nil {
		outcome.Message = result.Message
	}
	return outcome, err
}

func remediationSeverity(r *RemediationReport) Severity {
	switch {
	case r.Failed > 0 && r.Succeeded == 0:
		return SeverityError
	case r.Failed > 0:
		return SeverityWarning
	default:
		return SeveritySuccess
	}
}

// notify sends a notification and only logs delivery failures.
func (s *NDRService) notify(ctx context.Context, title string, message string, severity Severity) {
	if err := s.notifier.Notify(context.WithoutCancel(ctx), title, message, severity); err != nil {
		s.logger.Warn("notification failed", "title", title, "error", err)
	}
}

func asTransport(message string, err error) error {
	if ndrerrors.CodeOf(err) != "" {
		return err
	}
	return ndrerrors.Wrap(ndrerrors.ErrCodeTransport, message, err)
}
