package ndr

import (
	"time"

	"ndr-go/internal/model"
)

const (
	// DefaultDwell is how long a configuration must have gone unchanged to
	// count as stable.
	DefaultDwell = 24 * time.Hour

	// DefaultWindow is how many recent snapshots the selector considers.
	DefaultWindow = 10
)

// StabilitySelector picks the snapshot to restore to in automatic mode:
// the newest snapshot that stayed unchanged for at least Dwell, or the
// second-newest snapshot when no such gap exists in the window.
type StabilitySelector struct {
	Dwell  time.Duration
	Window int
}

// NewStabilitySelector returns a selector with the given dwell and window,
// falling back to the defaults for non-positive values.
func NewStabilitySelector(dwell time.Duration, window int) *StabilitySelector {
	if dwell <= 0 {
		dwell = DefaultDwell
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &StabilitySelector{Dwell: dwell, Window: window}
}

// Select returns the candidate from history (newest first), or nil when
// fewer than two snapshots exist. Only the first Window entries are used.
//
// Gaps between the oldest snapshot in the window and history outside the
// window are not considered.
func (s *StabilitySelector) Select(history []*model.Snapshot) *model.Snapshot {
	if len(history) > s.Window {
		history = history[:s.Window]
	}
	if len(history) < 2 {
		return nil
	}

	for i := 1; i < len(history); i++ {
		if history[i-1].CapturedAt.Sub(history[i].CapturedAt) >= s.Dwell {
			return history[i]
		}
	}
	return history[1]
}
