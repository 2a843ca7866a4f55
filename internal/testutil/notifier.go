package testutil

import (
	"context"
	"sync"

	"ndr-go/internal/ndr"
)

// Notification is one message captured by RecordingNotifier.
type Notification struct {
	Title    string
	Message  string
	Severity ndr.Severity
}

// RecordingNotifier keeps every notification it receives. If Err is set it
// is returned from Notify after recording.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	Err  error
}

var _ ndr.Notifier = (*RecordingNotifier)(nil)

func (n *RecordingNotifier) Notify(_ context.Context, title string, message string, severity ndr.Severity) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{Title: title, Message: message, Severity: severity})
	return n.Err
}

func (n *RecordingNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}
