package scanners

import (
	"regexp"
	"strings"

	"github.com/hydrasec/hydra/internal/cache"
	"github.com/hydrasec/hydra/internal/classify"
	"github.com/hydrasec/hydra/internal/findings"
)

// CPISafetyID is the scanner id for cross-program invocation safety
const CPISafetyID = "anchor-cpi-safety"

var cpiClasses = map[classify.VulnClass]bool{
	classify.VulnArbitraryCPI:        true,
	classify.VulnCPIReentrancy:       true,
	classify.VulnCPISignerSeedBypass: true,
}

var (
	cpiInvoke = regexp.MustCompile(`\binvoke(_signed)?\s*\(`)

	// The invoked program id comes from a caller-supplied account instead of
	// a hardcoded or checked address.
	callerProgram = regexp.MustCompile(`ctx\.accounts\.\w*(program|target)\w*`)

	stateWrite = regexp.MustCompile(`ctx\.accounts\.\w+\.(\w+\s*[-+*]?=|serialize)`)
)

// NewCPISafety detects arbitrary CPI targets, CPI-after-write reentrancy
// shapes, and signer-seed bypasses.
func NewCPISafety(sc *cache.ScanCache) Scanner {
	return &fileScanner{
		id:       CPISafetyID,
		exts:     rustExts,
		cache:    sc,
		scanFile: scanCPISafety,
	}
}

func scanCPISafety(path string, lines []string) []findings.Finding {
	out := markerFindings(CPISafetyID, path, lines, cpiClasses)

	lastWriteLine := -1
	for i, line := range lines {
		if stateWrite.MatchString(line) {
			lastWriteLine = i
		}

		if !cpiInvoke.MatchString(line) {
			continue
		}

		// Window the lines around the invoke to catch the program argument
		// on its own line.
		window := line
		for j := i + 1; j < len(lines) && j <= i+4; j++ {
			window += "\n" + lines[j]
		}

		if callerProgram.MatchString(window) {
			out = append(out, findings.Finding{
				ScannerID:   CPISafetyID,
				VulnClass:   classify.VulnArbitraryCPI,
				Severity:    classify.SeverityHigh,
				Confidence:  65,
				File:        path,
				Line:        i + 1,
				Title:       "CPI target taken from caller-supplied account",
				Description: "invoke uses a program account from the instruction context without an address check",
				Evidence:    strings.TrimSpace(line),
			})
		}

		if lastWriteLine >= 0 && i-lastWriteLine <= 10 {
			out = append(out, findings.Finding{
				ScannerID:   CPISafetyID,
				VulnClass:   classify.VulnCPIReentrancy,
				Severity:    classify.SeverityMedium,
				Confidence:  50,
				File:        path,
				Line:        i + 1,
				Title:       "CPI follows a state write",
				Description: "Cross-program invocation shortly after mutating account state; reentry can observe stale invariants",
				Evidence:    strings.TrimSpace(line),
			})
		}
	}
	return out
}
