package ndr

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	ndrerrors "ndr-go/internal/errors"
	"ndr-go/internal/model"
)

// DefaultVolatilePatterns strip the banner lines IOS rewrites on every
// "show running-config" even when nothing changed.
var DefaultVolatilePatterns = []string{
	`^! Last configuration.*`,
	`^! NVRAM config.*`,
}

// ChangeDetector normalizes captured configurations and decides whether they
// differ from the last stored snapshot. It holds no state besides its
// compiled patterns and is safe for concurrent use.
type ChangeDetector struct {
	patterns []*regexp.Regexp
}

// NewChangeDetector compiles the given line patterns. Each pattern is
// applied in multi-line mode, so ^ and $ anchor at line boundaries.
func NewChangeDetector(patterns []string) (*ChangeDetector, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?m)" + p)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &ChangeDetector{patterns: compiled}, nil
}

// MustChangeDetector is NewChangeDetector for patterns known to be valid.
func MustChangeDetector(patterns []string) *ChangeDetector {
	d, err := NewChangeDetector(patterns)
	if err != nil {
		panic(err)
	}
	return d
}

// Normalize removes volatile lines and surrounding whitespace.
// A capture that normalizes to nothing is an EMPTY_CONFIG error: it almost
// always means the command or the transport failed.
func (d *ChangeDetector) Normalize(raw string) (string, error) {
	clean := raw
	for _, re := range d.patterns {
		clean = re.ReplaceAllString(clean, "")
	}
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return "", ndrerrors.New(ndrerrors.ErrCodeEmptyConfig, "captured configuration is empty after normalization")
	}
	return clean, nil
}

// Changed reports whether normalized differs from the latest stored
// snapshot. A device without history always counts as changed.
func (d *ChangeDetector) Changed(latest *model.Snapshot, normalized string) bool {
	return latest == nil || latest.ContentID != Checksum(normalized)
}

// Checksum returns the SHA-256 of normalized content as lowercase hex.
// The archive dedups on this value, so equal checksums mean equal text.
func Checksum(normalized string) string {
	h := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(h[:])
}
