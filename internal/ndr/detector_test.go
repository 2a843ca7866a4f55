package ndr_test

import (
	"testing"

	ndrerrors "ndr-go/internal/errors"
	"ndr-go/internal/model"
	"ndr-go/internal/ndr"
)

func TestChangeDetector_Normalize(t *testing.T) {
	d := ndr.MustChangeDetector(ndr.DefaultVolatilePatterns)

	tests := []struct {
		name     string
		raw      string
		want     string
		wantCode ndrerrors.ErrorCode
	}{
		{
			name: "strips volatile banner lines",
			raw:  "! Last configuration change at 10:00:00 UTC\n! NVRAM config last updated at 09:00:00 UTC\nhostname r1\n",
			want: "hostname r1",
		},
		{
			name: "trims surrounding whitespace",
			raw:  "\n\n  hostname r1\ninterface Gi0/1\n\n",
			want: "hostname r1\ninterface Gi0/1",
		},
		{
			name: "keeps inner comment lines",
			raw:  "hostname r1\n! managed by ndr\nend",
			want: "hostname r1\n! managed by ndr\nend",
		},
		{
			name:     "empty capture",
			raw:      "",
			wantCode: ndrerrors.ErrCodeEmptyConfig,
		},
		{
			name:     "only volatile lines",
			raw:      "! Last configuration change at 10:00:00 UTC\n   \n",
			wantCode: ndrerrors.ErrCodeEmptyConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Normalize(tt.raw)
			if tt.wantCode != "" {
				if !ndrerrors.Is(err, tt.wantCode) {
					t.Fatalf("Normalize() error = %v, want code %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChangeDetector_CustomPatterns(t *testing.T) {
	d, err := ndr.NewChangeDetector([]string{`^ntp clock-period \d+$`})
	if err != nil {
		t.Fatalf("NewChangeDetector() error = %v", err)
	}

	a, _ := d.Normalize("hostname r1\nntp clock-period 17179861\n")
	b, _ := d.Normalize("hostname r1\nntp clock-period 17179870\n")
	if a != b {
		t.Errorf("captures differing only in clock-period normalized differently: %q vs %q", a, b)
	}

	if _, err := ndr.NewChangeDetector([]string{"("}); err == nil {
		t.Error("NewChangeDetector() with invalid pattern should fail")
	}
}

func TestChangeDetector_Changed(t *testing.T) {
	d := ndr.MustChangeDetector(nil)
	latest := &model.Snapshot{ID: "s1", ContentID: ndr.Checksum("hostname r1")}

	if !d.Changed(nil, "hostname r1") {
		t.Error("Changed(nil, ...) = false, want true for a device without history")
	}
	if d.Changed(latest, "hostname r1") {
		t.Error("Changed() = true for identical content")
	}
	if !d.Changed(latest, "hostname r2") {
		t.Error("Changed() = false for different content")
	}
}
