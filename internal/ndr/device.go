package ndr

import (
	"context"

	"ndr-go/internal/model"
)

// DeviceSession is an open management session to one device.
// Every method may block on the network and fails with an
// errors.ErrCodeTransport error on connectivity, auth or timeout problems.
type DeviceSession interface {
	// Capture returns the device's raw running configuration.
	Capture(ctx context.Context) (string, error)

	// Stage uploads content to the device as the restore candidate.
	Stage(ctx context.Context, content string) error

	// Apply replaces the running configuration with the staged candidate and
	// returns the device's output. This can take far longer than an ordinary
	// command; callers bound it with their own deadline.
	Apply(ctx context.Context) (string, error)

	// Close releases the session.
	Close() error
}

// SessionFactory opens sessions to devices.
type SessionFactory interface {
	Open(ctx context.Context, device model.Device) (DeviceSession, error)
}

// InventorySource lists the managed devices.
type InventorySource interface {
	Devices() ([]model.Device, error)
}

// Severity classifies a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// Notifier pushes a human-readable message to an external channel.
// Delivery is fire-and-forget: the engine logs a returned error and moves on.
type Notifier interface {
	Notify(ctx context.Context, title string, message string, severity Severity) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string, Severity) error { return nil }
