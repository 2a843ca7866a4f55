package notify

import (
	"context"
	"errors"

	"ndr-go/internal/ndr"
)

// LogNotifier writes notifications to the engine log.
type LogNotifier struct {
	logger ndr.Logger
}

func NewLogNotifier(logger ndr.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, title string, message string, severity ndr.Severity) error {
	args := []any{"title", title, "severity", string(severity), "message", message}
	switch severity {
	case ndr.SeverityError:
		n.logger.Error("notification", args...)
	case ndr.SeverityWarning:
		n.logger.Warn("notification", args...)
	default:
		n.logger.Info("notification", args...)
	}
	return nil
}

// MultiNotifier fans a notification out to every target. All targets are
// attempted; their errors are joined.
type MultiNotifier []ndr.Notifier

func (m MultiNotifier) Notify(ctx context.Context, title string, message string, severity ndr.Severity) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, title, message, severity); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ ndr.Notifier = (*LogNotifier)(nil)
	_ ndr.Notifier = MultiNotifier(nil)
)
