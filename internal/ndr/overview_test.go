package ndr_test

import (
	"testing"
	"time"

	"ndr-go/internal/model"
	"ndr-go/internal/ndr"
)

func TestOverview(t *testing.T) {
	f := newFixture(t, ndr.Policy{})
	first := f.backupRev(t, r1, 1)
	f.clock.Advance(time.Hour)
	latest := f.backupRev(t, r1, 2)
	f.backupRev(t, r2, 1)

	if res, err := f.svc.Restore(t.Context(), r1, first.ID); err != nil || !res.Success {
		t.Fatalf("Restore() = %+v, %v", res, err)
	}

	overviews, err := f.svc.Overview([]model.Device{r1, r2, r3})
	if err != nil {
		t.Fatalf("Overview() error = %v", err)
	}
	if len(overviews) != 3 {
		t.Fatalf("len(Overview()) = %d, want 3", len(overviews))
	}

	o1 := overviews[0]
	if o1.Snapshots != 2 || o1.LatestID != latest.ID || o1.PointerID != first.ID || !o1.Diverged {
		t.Errorf("r1 overview = %+v", o1)
	}

	o2 := overviews[1]
	if o2.Snapshots != 1 || o2.Diverged {
		t.Errorf("r2 overview = %+v", o2)
	}

	o3 := overviews[2]
	if o3.Snapshots != 0 || !o3.LatestAt.IsZero() || o3.PointerID != "" {
		t.Errorf("r3 overview = %+v", o3)
	}
}
