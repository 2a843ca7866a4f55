package vault

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestMemoryVault_PutAndGetContent(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	tests := []struct {
		name     string
		checksum string
		content  string
	}{
		{name: "store and retrieve content", checksum: "abc123", content: "hostname r1\n"},
		{name: "store empty content", checksum: "empty", content: ""},
		{name: "store large content", checksum: "large", content: strings.Repeat("x", 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := vault.PutContent(tt.checksum, strings.NewReader(tt.content), int64(len(tt.content)))
			if err != nil {
				t.Fatalf("PutContent() error = %v", err)
			}

			var buf bytes.Buffer
			if err := vault.GetContent(tt.checksum, &buf); err != nil {
				t.Fatalf("GetContent() unexpected error: %v", err)
			}
			if got := buf.String(); got != tt.content {
				t.Errorf("GetContent() = %q, want %q", got, tt.content)
			}
		})
	}
}

func TestMemoryVault_PutContentIdempotent(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	content := "interface Gi0/1\n"
	for i := 0; i < 2; i++ {
		if err := vault.PutContent("sum", strings.NewReader(content), int64(len(content))); err != nil {
			t.Fatalf("PutContent() iteration %d error: %v", i+1, err)
		}
	}

	var buf bytes.Buffer
	if err := vault.GetContent("sum", &buf); err != nil {
		t.Fatalf("GetContent() error: %v", err)
	}
	if got := buf.String(); got != content {
		t.Errorf("GetContent() = %q, want %q", got, content)
	}
}

func TestMemoryVault_GetContentNotFound(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	var buf bytes.Buffer
	err := vault.GetContent("nonexistent", &buf)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetContent() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryVault_PutContentSizeMismatch(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	err := vault.PutContent("checksum", strings.NewReader("test"), 14)
	if err == nil {
		t.Error("PutContent() expected error for size mismatch, got nil")
	}
}

func TestMemoryVault_Metadata(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	if v, err := vault.GetMetadataVersion("fleet", "db"); err != nil || v != 0 {
		t.Fatalf("GetMetadataVersion() on empty vault = %d, %v; want 0, nil", v, err)
	}

	for i, data := range []string{"version 1", "version 2"} {
		if err := vault.PutMetadata("fleet", "db", strings.NewReader(data), int64(len(data)), int64(i+1)); err != nil {
			t.Fatalf("PutMetadata() error: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := vault.GetMetadata("fleet", "db", &buf); err != nil {
		t.Fatalf("GetMetadata() error: %v", err)
	}
	if got := buf.String(); got != "version 2" {
		t.Errorf("GetMetadata() = %q, want %q", got, "version 2")
	}

	v, err := vault.GetMetadataVersion("fleet", "db")
	if err != nil {
		t.Fatalf("GetMetadataVersion() error: %v", err)
	}
	if v != 2 {
		t.Errorf("GetMetadataVersion() = %d, want 2", v)
	}

	buf.Reset()
	if err := vault.GetMetadata("other-fleet", "db", &buf); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMetadata() for other archive error = %v, want ErrNotFound", err)
	}
}

func TestMemoryVault_ValidateSetup(t *testing.T) {
	if err := NewMemoryVault("test-vault").ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() unexpected error: %v", err)
	}
}
