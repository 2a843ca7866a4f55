package ndr_test

import (
	"testing"
	"time"

	"ndr-go/internal/model"
	"ndr-go/internal/ndr"
)

func TestScanSuspects(t *testing.T) {
	f := newFixture(t, ndr.Policy{Volatility: time.Hour})

	f.backupRev(t, r2, 1)
	f.clock.Advance(48 * time.Hour)
	recent := f.backupRev(t, r1, 1)
	f.clock.Advance(10 * time.Minute)

	reports, err := f.svc.ScanSuspects([]model.Device{r1, r2, r3})
	if err != nil {
		t.Fatalf("ScanSuspects() error = %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("len(reports) = %d, want 3", len(reports))
	}

	want := []struct {
		hostname string
		status   ndr.SuspectStatus
		since    time.Duration
	}{
		{"r1", ndr.StatusSuspect, 10 * time.Minute},
		{"r2", ndr.StatusStable, 48*time.Hour + 10*time.Minute},
		{"r3", ndr.StatusUnknown, 0},
	}
	for i, w := range want {
		got := reports[i]
		if got.Device.Hostname != w.hostname {
			t.Errorf("reports[%d].Device = %s, want %s", i, got.Device.Hostname, w.hostname)
		}
		if got.Status != w.status {
			t.Errorf("%s: Status = %s, want %s", w.hostname, got.Status, w.status)
		}
		if got.SinceChange != w.since {
			t.Errorf("%s: SinceChange = %v, want %v", w.hostname, got.SinceChange, w.since)
		}
	}
	if reports[0].LatestID != recent.ID {
		t.Errorf("r1 LatestID = %s, want %s", reports[0].LatestID, recent.ID)
	}
	if !reports[2].LatestAt.IsZero() {
		t.Errorf("r3 LatestAt = %v, want zero", reports[2].LatestAt)
	}

	suspects := ndr.Suspects(reports)
	if len(suspects) != 1 || suspects[0].Device.Hostname != "r1" {
		t.Errorf("Suspects() = %v, want only r1", suspects)
	}
}

func TestScanSuspects_Boundary(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    ndr.SuspectStatus
	}{
		{name: "just inside threshold", elapsed: time.Hour - time.Second, want: ndr.StatusSuspect},
		{name: "exactly at threshold", elapsed: time.Hour, want: ndr.StatusStable},
		{name: "past threshold", elapsed: time.Hour + time.Second, want: ndr.StatusStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, ndr.Policy{Volatility: time.Hour})
			f.backupRev(t, r1, 1)
			f.clock.Advance(tt.elapsed)

			reports, err := f.svc.ScanSuspects([]model.Device{r1})
			if err != nil {
				t.Fatalf("ScanSuspects() error = %v", err)
			}
			if reports[0].Status != tt.want {
				t.Errorf("Status = %s, want %s", reports[0].Status, tt.want)
			}
		})
	}
}

func TestScanSuspects_ReadOnly(t *testing.T) {
	f := newFixture(t, ndr.Policy{})
	f.backupRev(t, r1, 1)
	before := len(f.sessions.Calls())

	if _, err := f.svc.ScanSuspects([]model.Device{r1, r2}); err != nil {
		t.Fatalf("ScanSuspects() error = %v", err)
	}
	if n := len(f.sessions.Calls()); n != before {
		t.Errorf("scan contacted devices: %v", f.sessions.Calls()[before:])
	}
	if n, _ := f.svc.Store().Count("r2"); n != 0 {
		t.Errorf("scan created history for r2")
	}
}
