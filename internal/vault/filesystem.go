package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ndr-go/internal/ndr"
)

// FileSystemVault stores blobs as files:
//
//	<root>/
//	  content/
//	    <ab>/<checksum>          (sharded by the first two hex digits)
//	  metadata/
//	    <archiveID>/<name>
//	    <archiveID>/<name>.version
type FileSystemVault struct {
	name        string
	root        string
	contentDir  string
	metadataDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	v := &FileSystemVault{
		name:        name,
		root:        root,
		contentDir:  filepath.Join(root, "content"),
		metadataDir: filepath.Join(root, "metadata"),
	}
	for _, dir := range []string{v.contentDir, v.metadataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create vault directory: %w", err)
		}
	}
	return v, nil
}

func (v *FileSystemVault) contentPath(checksum string) string {
	if len(checksum) < 2 {
		return filepath.Join(v.contentDir, checksum)
	}
	return filepath.Join(v.contentDir, checksum[:2], checksum)
}

func (v *FileSystemVault) metadataPath(archiveID, name string) string {
	return filepath.Join(v.metadataDir, archiveID, name)
}

// PutContent stores content identified by its checksum. Existing content is
// left untouched, but r is still drained and its size checked.
func (v *FileSystemVault) PutContent(checksum string, r io.Reader, size int64) error {
	dest := v.contentPath(checksum)

	if _, err := os.Stat(dest); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	return writeAtomic(dest, r, size)
}

func (v *FileSystemVault) GetContent(checksum string, w io.Writer) error {
	return copyFrom(v.contentPath(checksum), w, "content "+checksum)
}

// PutMetadata stores the item first and its version second, so a reader
// never sees a version newer than the data it describes.
func (v *FileSystemVault) PutMetadata(archiveID string, name string, r io.Reader, size int64, version int64) error {
	dest := v.metadataPath(archiveID, name)
	if err := writeAtomic(dest, r, size); err != nil {
		return err
	}

	data := strconv.FormatInt(version, 10)
	return writeAtomic(dest+".version", strings.NewReader(data), int64(len(data)))
}

func (v *FileSystemVault) GetMetadata(archiveID string, name string, w io.Writer) error {
	return copyFrom(v.metadataPath(archiveID, name), w, fmt.Sprintf("metadata %q for archive %s", name, archiveID))
}

// GetMetadataVersion returns 0 if no version file exists.
func (v *FileSystemVault) GetMetadataVersion(archiveID string, name string) (int64, error) {
	data, err := os.ReadFile(v.metadataPath(archiveID, name) + ".version")
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks that the vault directories exist and are writable.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.contentDir, v.metadataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}

	probe, err := os.CreateTemp(v.contentDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("vault is not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// writeAtomic writes r to dest through a temp file in the same directory.
func writeAtomic(dest string, r io.Reader, expectedSize int64) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	committed = true
	return nil
}

func copyFrom(src string, w io.Writer, what string) error {
	f, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

// Compile-time check that FileSystemVault implements ndr.Vault interface
var _ ndr.Vault = (*FileSystemVault)(nil)
