package encryption

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestTestEncryptor_EncryptDecrypt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "running config", input: []byte("hostname r1\ninterface Gi0/1\n")},
		{name: "empty", input: []byte{}},
		{name: "large", input: bytes.Repeat([]byte("ip route 0.0.0.0 0.0.0.0 10.0.0.1\n"), 2000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewTestEncryptor()

			var encrypted bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &encrypted); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if !bytes.HasPrefix(encrypted.Bytes(), testHeader) {
				t.Error("encrypted output does not start with test header")
			}

			dc, err := e.Unlock("")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}

			var decrypted bytes.Buffer
			if err := dc.Decrypt(bytes.NewReader(encrypted.Bytes()), &decrypted); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted.Bytes(), tt.input) {
				t.Errorf("round-trip failed: got %q, want %q", decrypted.Bytes(), tt.input)
			}
		})
	}
}

func TestTestEncryptor_DeterministicAndDistinct(t *testing.T) {
	t.Parallel()

	input := []byte("hostname r1\n")
	e := NewTestEncryptor()

	var enc1, enc2 bytes.Buffer
	if err := e.Encrypt(bytes.NewReader(input), &enc1); err != nil {
		t.Fatalf("first Encrypt() error = %v", err)
	}
	if err := e.Encrypt(bytes.NewReader(input), &enc2); err != nil {
		t.Fatalf("second Encrypt() error = %v", err)
	}

	if !bytes.Equal(enc1.Bytes(), enc2.Bytes()) {
		t.Error("same input produced different encrypted output")
	}
	if sha256.Sum256(input) == sha256.Sum256(enc1.Bytes()) {
		t.Error("plaintext and encrypted checksums should differ")
	}
	if got := e.Encrypted(); got != 2 {
		t.Errorf("Encrypted() = %d, want 2", got)
	}
}

func TestTestEncryptor_UnlockPassphrase(t *testing.T) {
	t.Parallel()

	e := NewTestEncryptor()
	if err := e.Setup("secret"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	if _, err := e.Unlock("wrong"); err == nil {
		t.Error("Unlock() with wrong passphrase should return error")
	}
	if _, err := e.Unlock("secret"); err != nil {
		t.Errorf("Unlock() error = %v", err)
	}
}

func TestTestDecryptionContext_BadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "invalid header", input: []byte("NOT_VALID_HEADER_data")},
		{name: "truncated header", input: []byte("NDR")},
		{name: "empty", input: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := (&TestDecryptionContext{}).Decrypt(bytes.NewReader(tt.input), &out); err == nil {
				t.Error("Decrypt() should return error")
			}
		})
	}
}
