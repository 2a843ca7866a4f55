package encryption

import (
	"fmt"

	"ndr-go/internal/config"
	"ndr-go/internal/ndr"
)

// NewEncryptorFromConfig returns nil when encryption is disabled, leaving
// the archive in plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (ndr.Encryptor, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Type {
	case "age", "":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
