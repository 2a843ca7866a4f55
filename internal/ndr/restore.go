package ndr

import (
	"context"
	"fmt"
	"strings"
	"time"

	ndrerrors "ndr-go/internal/errors"
	"ndr-go/internal/model"
)

const (
	// DefaultApplyTimeout bounds the configuration replace on the device.
	DefaultApplyTimeout = 90 * time.Second

	// DefaultCommandTimeout bounds opening a session and staging a candidate.
	DefaultCommandTimeout = 15 * time.Second
)

// DefaultRollbackMarkers are device outputs that mean the device discarded
// the applied configuration and reverted on its own.
var DefaultRollbackMarkers = []string{"Rollback Done"}

// RestoreState is a step of one restore attempt.
type RestoreState string

const (
	StateRequested RestoreState = "requested"
	StateFetching  RestoreState = "fetching"
	StateStaging   RestoreState = "staging"
	StateApplying  RestoreState = "applying"
	StateVerifying RestoreState = "verifying"
	StateSucceeded RestoreState = "succeeded"
	StateFailed    RestoreState = "failed"
)

// RestoreReason records why a restore was requested.
type RestoreReason string

const (
	ReasonManual     RestoreReason = "manual"
	ReasonAutoStable RestoreReason = "auto-stable"
)

// RestorePlan describes one restore request. It is never persisted.
type RestorePlan struct {
	Device   model.Device
	TargetID string // Snapshot ID or sequence number
	Reason   RestoreReason
}

// RestoreResult is the outcome of a restore attempt. Kind is empty on
// success and names the failure category otherwise.
type RestoreResult struct {
	Hostname string
	TargetID string
	Success  bool
	Message  string
	State    RestoreState // Terminal state
	Failed   RestoreState // State the attempt was in when it failed
	Kind     ndrerrors.ErrorCode
}

// RestoreOrchestrator moves a device's running configuration to a stored
// snapshot. Whatever happens, the device pointer ends up at the target on
// success and where it was before the attempt otherwise.
type RestoreOrchestrator struct {
	store    *SnapshotStore
	sessions SessionFactory
	locks    *DeviceLocks
	logger   Logger
	clock    Clock

	ApplyTimeout   time.Duration
	CommandTimeout time.Duration
	Markers        []string
}

// NewRestoreOrchestrator creates an orchestrator with default timeouts and
// rollback markers.
func NewRestoreOrchestrator(store *SnapshotStore, sessions SessionFactory, locks *DeviceLocks, logger Logger, clock Clock) *RestoreOrchestrator {
	return &RestoreOrchestrator{
		store:          store,
		sessions:       sessions,
		locks:          locks,
		logger:         logger,
		clock:          clock,
		ApplyTimeout:   DefaultApplyTimeout,
		CommandTimeout: DefaultCommandTimeout,
		Markers:        DefaultRollbackMarkers,
	}
}

// attempt tracks one restore through its states.
type attempt struct {
	plan   RestorePlan
	state  RestoreState
	result *RestoreResult
}

func (a *attempt) advance(state RestoreState) {
	a.state = state
}

func (a *attempt) fail(err error) *RestoreResult {
	kind := ndrerrors.CodeOf(err)
	if kind == "" {
		kind = ndrerrors.ErrCodeTransport
	}
	a.result.Success = false
	a.result.State = StateFailed
	a.result.Failed = a.state
	a.result.Kind = kind
	a.result.Message = fmt.Sprintf("restore failed while %s (%s): %v", a.state, kind, err)
	a.state = StateFailed
	return a.result
}

// Restore runs plan to completion while holding the device lock.
//
// Expected failures (NOT_FOUND, TRANSPORT, DEVICE_REJECTED, EMPTY_CONFIG,
// INVALID_REQUEST) are reported in the result with a nil error. A
// STORE_FAULT is returned as an error alongside the failed result. If ctx
// is cancelled the pointer is still reconciled, and ctx's error is returned.
// A restore that gives up while waiting for the device lock fails in the
// requested state without touching the pointer.
func (o *RestoreOrchestrator) Restore(ctx context.Context, plan RestorePlan) (*RestoreResult, error) {
	hostname := plan.Device.Hostname
	start := o.clock.Now()
	a := &attempt{
		plan:   plan,
		state:  StateRequested,
		result: &RestoreResult{Hostname: hostname, TargetID: plan.TargetID},
	}

	var (
		result *RestoreResult
		err    error
	)
	unlock, lerr := o.locks.Lock(ctx, hostname)
	if lerr != nil {
		result, err = a.fail(ndrerrors.Wrap(ndrerrors.ErrCodeTransport, "waiting for device lock", lerr)), lerr
	} else {
		defer unlock()
		o.logger.Info("restore started", "hostname", hostname, "target", plan.TargetID, "reason", plan.Reason)
		result, err = o.run(ctx, a)
	}

	restoreDuration.Observe(o.clock.Now().Sub(start).Seconds())
	restoreTotal.WithLabelValues(string(result.State), string(result.Kind)).Inc()
	if result.Success {
		o.logger.Info("restore succeeded", "hostname", hostname, "target", result.TargetID)
	} else {
		o.logger.Warn("restore failed", "hostname", hostname, "target", plan.TargetID, "state", result.Failed, "kind", result.Kind, "message", result.Message)
	}
	if err == nil && !result.Success && ctx.Err() != nil {
		err = ctx.Err()
	}
	return result, err
}

func (o *RestoreOrchestrator) run(ctx context.Context, a *attempt) (*RestoreResult, error) {
	hostname := a.plan.Device.Hostname

	latest, err := o.store.Latest(hostname)
	if err != nil {
		return a.fail(err), err
	}
	if latest == nil {
		return a.fail(ndrerrors.NewWithContext(ndrerrors.ErrCodeNotFound,
			"device has no archived history", map[string]any{"hostname": hostname})), nil
	}

	// baseline is what the device is believed to run right now. After an
	// earlier successful restore that is the restored snapshot, not latest.
	baseline, err := o.store.Pointer(hostname)
	if err != nil {
		return a.fail(err), err
	}
	if baseline == "" {
		baseline = latest.ID
	}

	a.advance(StateFetching)
	target, err := o.store.Resolve(hostname, a.plan.TargetID)
	if err != nil {
		return o.abort(a, err, baseline)
	}
	a.result.TargetID = target.ID
	content, err := o.store.Fetch(hostname, target.ID)
	if err != nil {
		return o.abort(a, err, baseline)
	}

	a.advance(StateStaging)
	if err := o.store.ReconcilePointer(hostname, target.ID); err != nil {
		return o.abort(a, err, baseline)
	}

	session, err := o.openSession(ctx, a.plan.Device)
	if err != nil {
		return o.abort(a, err, baseline)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			o.logger.Debug("closing session", "hostname", hostname, "error", cerr)
		}
	}()

	stageCtx, cancel := context.WithTimeout(ctx, o.CommandTimeout)
	err = session.Stage(stageCtx, content)
	cancel()
	if err != nil {
		return o.abort(a, o.transportErr(ctx, "staging restore candidate", err), baseline)
	}

	a.advance(StateApplying)
	applyCtx, cancel := context.WithTimeout(ctx, o.ApplyTimeout)
	output, err := session.Apply(applyCtx)
	cancel()
	if err != nil {
		return o.abort(a, o.transportErr(ctx, "applying restore candidate", err), baseline)
	}

	a.advance(StateVerifying)
	if marker, rejected := o.rejected(output); rejected {
		return o.abort(a, ndrerrors.NewWithContext(ndrerrors.ErrCodeDeviceRejected,
			"device reverted the applied configuration",
			map[string]any{"hostname": hostname, "marker": marker}), baseline)
	}

	// The pointer already references the target; assert it once more so a
	// concurrent writer bug can never leave it elsewhere.
	if err := o.store.ReconcilePointer(hostname, target.ID); err != nil {
		return o.abort(a, err, baseline)
	}

	a.state = StateSucceeded
	a.result.Success = true
	a.result.State = StateSucceeded
	a.result.Message = fmt.Sprintf("%s restored to %s (sequence %d)", hostname, target.ShortID(), target.Sequence)
	return a.result, nil
}

// abort fails the attempt and puts the pointer back on baseline, whether or
// not it was moved. Reconciliation ignores the caller's context.
func (o *RestoreOrchestrator) abort(a *attempt, cause error, baseline string) (*RestoreResult, error) {
	result := a.fail(cause)

	if err := o.reconcile(a.plan.Device.Hostname, baseline); err != nil {
		pointerReconcileFailures.Inc()
		o.logger.Error("pointer reconciliation failed", "hostname", a.plan.Device.Hostname, "snapshot", baseline, "error", err)
	}

	if ndrerrors.Is(cause, ndrerrors.ErrCodeStoreFault) {
		return result, cause
	}
	return result, nil
}

// reconcile restores the pointer, converting a panic in the store into an
// error so a failure during reconciliation cannot escape the attempt.
func (o *RestoreOrchestrator) reconcile(hostname string, snapshotID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during reconciliation: %v", r)
		}
	}()
	return o.store.ReconcilePointer(hostname, snapshotID)
}

func (o *RestoreOrchestrator) openSession(ctx context.Context, device model.Device) (DeviceSession, error) {
	openCtx, cancel := context.WithTimeout(ctx, o.CommandTimeout)
	defer cancel()
	session, err := o.sessions.Open(openCtx, device)
	if err != nil {
		return nil, o.transportErr(ctx, "opening session", err)
	}
	return session, nil
}

// transportErr tags err as TRANSPORT unless it already carries a code.
func (o *RestoreOrchestrator) transportErr(ctx context.Context, message string, err error) error {
	if ctx.Err() != nil {
		return ndrerrors.Wrap(ndrerrors.ErrCodeTransport, message+": cancelled", err)
	}
	if ndrerrors.CodeOf(err) != "" {
		return err
	}
	return ndrerrors.Wrap(ndrerrors.ErrCodeTransport, message, err)
}

func (o *RestoreOrchestrator) rejected(output string) (string, bool) {
	for _, m := range o.Markers {
		if m != "" && strings.Contains(output, m) {
			return m, true
		}
	}
	return "", false
}
