package ndr

import (
	"fmt"
	"time"

	"ndr-go/internal/model"
)

// DeviceOverview summarizes one inventory device's archive state.
type DeviceOverview struct {
	Device    model.Device
	Snapshots int64
	LatestAt  time.Time // Zero when the device has no history
	LatestID  string
	PointerID string
	// Diverged is set when the pointer references something other than the
	// latest snapshot, i.e. the device was restored to an older version.
	Diverged bool
}

// Overview returns the archive state of each device, in input order.
func (s *NDRService) Overview(devices []model.Device) ([]*DeviceOverview, error) {
	s.logger.Debug("computing overview", "devices", len(devices))

	overviews := make([]*DeviceOverview, 0, len(devices))
	for _, device := range devices {
		ov, err := s.deviceOverview(device)
		if err != nil {
			return nil, fmt.Errorf("getting overview for %s: %w", device.Hostname, err)
		}
		overviews = append(overviews, ov)
	}
	return overviews, nil
}

func (s *NDRService) deviceOverview(device model.Device) (*DeviceOverview, error) {
	ov := &DeviceOverview{Device: device}

	count, err := s.store.Count(device.Hostname)
	if err != nil {
		return nil, err
	}
	ov.Snapshots = count
	if count == 0 {
		return ov, nil
	}

	latest, err := s.store.Latest(device.Hostname)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		ov.LatestAt = latest.CapturedAt
		ov.LatestID = latest.ID
	}

	pointer, err := s.store.Pointer(device.Hostname)
	if err != nil {
		return nil, err
	}
	ov.PointerID = pointer
	ov.Diverged = pointer != "" && pointer != ov.LatestID

	return ov, nil
}
