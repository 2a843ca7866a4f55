package ndr

import (
	"fmt"
	"time"

	"ndr-go/internal/model"
)

// DefaultVolatility is the age below which a device's latest change makes
// it suspect.
const DefaultVolatility = 60 * time.Minute

// SuspectStatus classifies a device after a scan.
type SuspectStatus string

const (
	StatusSuspect SuspectStatus = "suspect"
	StatusStable  SuspectStatus = "stable"
	StatusUnknown SuspectStatus = "unknown"
)

// SuspectReport is the scan outcome for one device. SinceChange and
// LatestAt are zero for devices with no history.
type SuspectReport struct {
	Device      model.Device
	Status      SuspectStatus
	SinceChange time.Duration
	LatestAt    time.Time
	LatestID    string
}

// SuspectScanner flags devices whose newest snapshot is younger than the
// volatility threshold. It only reads the archive.
type SuspectScanner struct {
	store      *SnapshotStore
	clock      Clock
	Volatility time.Duration
}

func NewSuspectScanner(store *SnapshotStore, clock Clock, volatility time.Duration) *SuspectScanner {
	if volatility <= 0 {
		volatility = DefaultVolatility
	}
	return &SuspectScanner{store: store, clock: clock, Volatility: volatility}
}

// Scan returns one report per device, in input order.
func (s *SuspectScanner) Scan(devices []model.Device) ([]*SuspectReport, error) {
	now := s.clock.Now()
	reports := make([]*SuspectReport, 0, len(devices))

	for _, device := range devices {
		latest, err := s.store.Latest(device.Hostname)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", device.Hostname, err)
		}

		report := &SuspectReport{Device: device, Status: StatusUnknown}
		if latest != nil {
			report.LatestAt = latest.CapturedAt
			report.LatestID = latest.ID
			report.SinceChange = now.Sub(latest.CapturedAt)
			if report.SinceChange < s.Volatility {
				report.Status = StatusSuspect
			} else {
				report.Status = StatusStable
			}
		}
		reports = append(reports, report)
	}

	return reports, nil
}

// Suspects filters reports down to suspect devices.
func Suspects(reports []*SuspectReport) []*SuspectReport {
	var out []*SuspectReport
	for _, r := range reports {
		if r.Status == StatusSuspect {
			out = append(out, r)
		}
	}
	return out
}
