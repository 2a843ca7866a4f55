package testutil

import (
	"ndr-go/internal/encryption"
)

// NewTestEncryptor returns a deterministic, reversible encryptor.
func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}
