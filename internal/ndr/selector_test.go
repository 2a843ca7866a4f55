package ndr_test

import (
	"testing"
	"time"

	"ndr-go/internal/model"
	"ndr-go/internal/ndr"
)

func TestStabilitySelector_Select(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	h := time.Hour

	tests := []struct {
		name    string
		window  int
		history []*model.Snapshot
		want    string // "" means nil
	}{
		{
			name:    "no history",
			history: nil,
		},
		{
			name:    "single snapshot",
			history: []*model.Snapshot{snap("v1", now)},
		},
		{
			name: "first snapshot that dwelled long enough",
			history: []*model.Snapshot{
				snap("v3", now),
				snap("v2", now.Add(-2*h)),
				snap("v1", now.Add(-50*h)),
			},
			want: "v1",
		},
		{
			name: "gap exactly at dwell counts",
			history: []*model.Snapshot{
				snap("v3", now),
				snap("v2", now.Add(-24*h)),
				snap("v1", now.Add(-25*h)),
			},
			want: "v2",
		},
		{
			name: "falls back to second newest",
			history: []*model.Snapshot{
				snap("v4", now),
				snap("v3", now.Add(-1*h)),
				snap("v2", now.Add(-2*h)),
				snap("v1", now.Add(-3*h)),
			},
			want: "v3",
		},
		{
			name:   "gap outside the window is ignored",
			window: 3,
			history: []*model.Snapshot{
				snap("v4", now),
				snap("v3", now.Add(-1*h)),
				snap("v2", now.Add(-2*h)),
				snap("v1", now.Add(-100*h)),
			},
			want: "v3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ndr.NewStabilitySelector(24*h, tt.window)
			got := s.Select(tt.history)

			if tt.want == "" {
				if got != nil {
					t.Errorf("Select() = %s, want nil", got.ID)
				}
				return
			}
			if got == nil {
				t.Fatalf("Select() = nil, want %s", tt.want)
			}
			if got.ID != tt.want {
				t.Errorf("Select() = %s, want %s", got.ID, tt.want)
			}
		})
	}
}

func TestStabilitySelector_Deterministic(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	history := []*model.Snapshot{
		snap("v3", now),
		snap("v2", now.Add(-2*time.Hour)),
		snap("v1", now.Add(-50*time.Hour)),
	}
	s := ndr.NewStabilitySelector(0, 0)

	first := s.Select(history)
	for i := 0; i < 10; i++ {
		if got := s.Select(history); got != first {
			t.Fatalf("Select() call %d = %v, want %v", i, got, first)
		}
	}
}

func TestNewStabilitySelector_Defaults(t *testing.T) {
	s := ndr.NewStabilitySelector(-1, 0)
	if s.Dwell != ndr.DefaultDwell {
		t.Errorf("Dwell = %v, want %v", s.Dwell, ndr.DefaultDwell)
	}
	if s.Window != ndr.DefaultWindow {
		t.Errorf("Window = %d, want %d", s.Window, ndr.DefaultWindow)
	}
}
