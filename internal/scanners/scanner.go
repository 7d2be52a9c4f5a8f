// Package scanners holds the built-in scanner modules: three Anchor-focused
// detectors, a language-agnostic deterministic-signals detector, and a
// reasoner-backed detector per vulnerability focus. A scanner turns a
// filesystem snapshot into findings and has no side effects.
package scanners

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hydrasec/hydra/internal/cache"
	"github.com/hydrasec/hydra/internal/classify"
	"github.com/hydrasec/hydra/internal/findings"
	"github.com/hydrasec/hydra/internal/threatmodel"
)

// maxFileBytes caps how much of a single source file any scanner reads
const maxFileBytes = 512 * 1024

// Scanner is the module contract the dispatcher consumes
type Scanner interface {
	ID() string
	Scan(ctx context.Context, root string) ([]findings.Finding, error)
}

// markerPattern matches the golden-corpus vulnerability markers
var markerPattern = regexp.MustCompile(`HYDRA_VULN:([a-z_]+)`)

// BuiltIn returns the always-on scanner set: the three domain scanners plus
// the deterministic signals adapter. The cache may be nil.
func BuiltIn(sc *cache.ScanCache) []Scanner {
	return []Scanner{
		NewAccountValidation(sc),
		NewCPISafety(sc),
		NewPDASeeds(sc),
		NewSignals(sc),
	}
}

// fileScanner is the shared per-file walking core: it enumerates source
// files under root, consults the scan cache keyed by content, and delegates
// single-file analysis.
type fileScanner struct {
	id       string
	exts     map[string]bool
	cache    *cache.ScanCache
	scanFile func(path string, lines []string) []findings.Finding
}

func (s *fileScanner) ID() string { return s.id }

func (s *fileScanner) Scan(ctx context.Context, root string) ([]findings.Finding, error) {
	var out []findings.Finding

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if d.IsDir() {
			if threatmodel.IgnoreDirs[d.Name()] && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.exts[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}

		content, err := readCapped(path)
		if err != nil {
			return nil
		}

		if s.cache != nil {
			if cached, ok := s.cache.Lookup(s.id, path, content); ok {
				out = append(out, cached...)
				return nil
			}
		}

		fs := s.scanFile(path, strings.Split(string(content), "\n"))
		for i := range fs {
			fs[i] = fs[i].WithID()
		}
		if s.cache != nil {
			s.cache.Put(s.id, path, content, fs)
		}
		out = append(out, fs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func readCapped(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readAllCapped(f)
}

// readAllCapped reads at most maxFileBytes, accumulating short reads
func readAllCapped(r io.Reader) ([]byte, error) {
	buf := make([]byte, maxFileBytes)
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// markerFindings reports every HYDRA_VULN marker on a line whose class
// belongs to classes. Marker findings carry fixed severity and confidence;
// the two CPI classes the corpus treats as directly drainable are CRITICAL.
func markerFindings(scannerID, path string, lines []string, classes map[classify.VulnClass]bool) []findings.Finding {
	var out []findings.Finding
	for i, line := range lines {
		for _, m := range markerPattern.FindAllStringSubmatch(line, -1) {
			class := classify.VulnClass(m[1])
			if !class.Valid() || !classes[class] {
				continue
			}

			severity := classify.SeverityHigh
			confidence := 88
			if class == classify.VulnArbitraryCPI || class == classify.VulnCPISignerSeedBypass {
				severity = classify.SeverityCritical
				confidence = 90
			}

			out = append(out, findings.Finding{
				ScannerID:   scannerID,
				VulnClass:   class,
				Severity:    severity,
				Confidence:  confidence,
				File:        path,
				Line:        i + 1,
				Title:       markerTitle(class),
				Description: "Known-vulnerable pattern marked in source",
				Evidence:    strings.TrimSpace(line),
			})
		}
	}
	return out
}

func markerTitle(class classify.VulnClass) string {
	return strings.ReplaceAll(string(class), "_", " ")
}

var rustExts = map[string]bool{".rs": true}
