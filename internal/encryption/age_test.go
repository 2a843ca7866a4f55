package encryption

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"ndr-go/internal/config"
)

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	return NewAgeEncryptor(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "ndr.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "ndr.key"),
	})
}

func TestAgeEncryptor_Setup(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)

	if e.IsConfigured() {
		t.Fatal("IsConfigured() = true before Setup, want false")
	}
	if err := e.Setup("test-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false after Setup, want true")
	}

	pub, err := e.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}
	if !strings.HasPrefix(pub, "age1") {
		t.Errorf("PublicKey() = %q, want age1 prefix", pub)
	}

	if err := e.Setup("other"); !errors.Is(err, ErrKeysExist) {
		t.Errorf("second Setup() error = %v, want ErrKeysExist", err)
	}
}

func TestAgeEncryptor_SetupEmptyPassphrase(t *testing.T) {
	t.Parallel()
	if err := newTestAgeEncryptor(t).Setup(""); err == nil {
		t.Error("Setup(\"\") should return error")
	}
}

func TestAgeEncryptor_EncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	passphrase := "test-passphrase"
	e := newTestAgeEncryptor(t)
	if err := e.Setup(passphrase); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	dc, err := e.Unlock(passphrase)
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "running config", input: []byte("hostname r1\n!\ninterface Gi0/1\n ip address 10.0.0.1 255.255.255.0\n")},
		{name: "empty", input: []byte{}},
		{name: "large", input: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var encrypted bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &encrypted); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Contains(encrypted.Bytes(), tt.input) {
				t.Error("encrypted output contains plaintext")
			}

			var decrypted bytes.Buffer
			if err := dc.Decrypt(bytes.NewReader(encrypted.Bytes()), &decrypted); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted.Bytes(), tt.input) {
				t.Errorf("round-trip failed: got %d bytes, want %d bytes", decrypted.Len(), len(tt.input))
			}
		})
	}
}

func TestAgeEncryptor_UnlockWrongPassphrase(t *testing.T) {
	t.Parallel()

	e := newTestAgeEncryptor(t)
	if err := e.Setup("correct-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, err := e.Unlock("wrong-passphrase"); err == nil {
		t.Error("Unlock() with wrong passphrase should return error")
	}
}

func TestAgeEncryptor_BeforeSetup(t *testing.T) {
	t.Parallel()

	e := newTestAgeEncryptor(t)
	var buf bytes.Buffer
	if err := e.Encrypt(strings.NewReader("data"), &buf); err == nil {
		t.Error("Encrypt() before Setup should return error")
	}
	if _, err := e.Unlock("passphrase"); err == nil {
		t.Error("Unlock() before Setup should return error")
	}
}

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EncryptionConfig
		wantNil bool
		wantErr bool
	}{
		{name: "disabled", cfg: config.EncryptionConfig{Type: "age"}, wantNil: true},
		{name: "age", cfg: config.EncryptionConfig{Enabled: true, PublicKeyPath: "a.pub", PrivateKeyPath: "a.key"}},
		{name: "age without keys", cfg: config.EncryptionConfig{Enabled: true, Type: "age"}, wantNil: true, wantErr: true},
		{name: "test", cfg: config.EncryptionConfig{Enabled: true, Type: "test"}},
		{name: "unknown", cfg: config.EncryptionConfig{Enabled: true, Type: "rot13"}, wantNil: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (got == nil) != tt.wantNil {
				t.Errorf("NewEncryptorFromConfig() = %v, wantNil %v", got, tt.wantNil)
			}
		})
	}
}
