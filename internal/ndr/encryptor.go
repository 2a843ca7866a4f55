package ndr

import "io"

// Encryptor handles at-rest encryption of archived configurations.
// Encryption uses the public key only, so unattended backups never need a
// passphrase. Fetching an encrypted snapshot requires an unlocked
// DecryptionContext.
type Encryptor interface {
	// Setup generates a key pair, stores the public key in plaintext, and
	// encrypts the private key with the provided passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using the passphrase.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist at configured paths.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for the
// duration of a restore session.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
