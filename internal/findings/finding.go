// Package findings defines the Finding type and the aggregation rules that
// fuse reports from independent scanners into a deduplicated, corroborated,
// confidence-gated result set.
package findings

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/hydrasec/hydra/internal/classify"
	hydraerr "github.com/hydrasec/hydra/internal/errors"
)

// Finding is a coordinate-addressed vulnerability report. After aggregation
// a finding is immutable; the aggregator works on copies.
type Finding struct {
	ID           string             `json:"id"`
	ScannerID    string             `json:"scanner_id"`
	VulnClass    classify.VulnClass `json:"vuln_class"`
	Severity     classify.Severity  `json:"severity"`
	Confidence   int                `json:"confidence"`
	File         string             `json:"file"`
	Line         int                `json:"line"`
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	Evidence     string             `json:"evidence,omitempty"`
	Corroborated bool               `json:"corroborated,omitempty"`
}

// ComputeID returns the stable identity of a finding: the first 12 hex
// characters of the SHA-256 over its coordinates. The same scanner reporting
// the same class at the same location always yields the same id.
func ComputeID(scannerID string, class classify.VulnClass, file string, line int) string {
	return ShortHash(fmt.Sprintf("%s|%s|%s|%d", scannerID, class, file, line))
}

// ShortHash returns the first 12 hex characters of the SHA-256 of s.
// Used for finding ids, repo ids, and cache key path segments.
func ShortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// WithID returns a copy of f with ID computed from its coordinates
func (f Finding) WithID() Finding {
	f.ID = ComputeID(f.ScannerID, f.VulnClass, f.File, f.Line)
	return f
}

// Validate reports whether the finding is acceptable at aggregator ingress
func (f Finding) Validate() error {
	if f.ScannerID == "" {
		return hydraerr.ValidationError("finding has no scanner_id")
	}
	if !f.VulnClass.Valid() {
		return hydraerr.ValidationErrorf("unknown vulnerability class %q", f.VulnClass)
	}
	if !f.Severity.Valid() {
		return hydraerr.ValidationErrorf("unknown severity %q", f.Severity)
	}
	if f.File == "" {
		return hydraerr.ValidationError("finding has no file")
	}
	if f.Line < 1 {
		return hydraerr.ValidationErrorf("finding line %d out of range", f.Line)
	}
	return nil
}
