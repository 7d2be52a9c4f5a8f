package scanners

import (
	"regexp"
	"strings"

	"github.com/hydrasec/hydra/internal/cache"
	"github.com/hydrasec/hydra/internal/classify"
	"github.com/hydrasec/hydra/internal/findings"
)

// SignalsID is the scanner id for the deterministic signals adapter
const SignalsID = "deterministic-signals"

var signalExts = map[string]bool{
	".rs": true, ".go": true, ".ts": true, ".tsx": true,
	".js": true, ".jsx": true, ".py": true, ".rb": true, ".php": true,
}

// signal is one language-agnostic regex detector
type signal struct {
	class      classify.VulnClass
	severity   classify.Severity
	confidence int
	title      string
	pattern    *regexp.Regexp
}

var signals = []signal{
	{
		class:      classify.VulnSQLInjection,
		severity:   classify.SeverityHigh,
		confidence: 70,
		title:      "SQL built by string concatenation",
		pattern:    regexp.MustCompile(`(?i)(query|execute|exec)\s*\(\s*["'](SELECT|INSERT|UPDATE|DELETE)[^"']*["']\s*(\+|%|\.format|\|\|)|(SELECT|INSERT|UPDATE|DELETE)[^"']*["']\s*\+\s*\w`),
	},
	{
		class:      classify.VulnCommandInjection,
		severity:   classify.SeverityHigh,
		confidence: 70,
		title:      "shell command built from interpolated input",
		pattern:    regexp.MustCompile("(?i)(exec|spawn|system|popen|execSync)\\s*\\([^)]*(\\$\\{|\\+\\s*\\w|%s|\\{\\}|`)"),
	},
	{
		class:      classify.VulnPathTraversal,
		severity:   classify.SeverityMedium,
		confidence: 60,
		title:      "path assembled with parent traversal",
		pattern:    regexp.MustCompile(`(?i)(join|open|readfile|read_to_string)\s*\([^)]*\.\.[/\\]`),
	},
	{
		class:      classify.VulnHardcodedSecret,
		severity:   classify.SeverityHigh,
		confidence: 85,
		title:      "hardcoded credential material",
		pattern:    regexp.MustCompile(`AKIA[0-9A-Z]{16}|-----BEGIN (RSA |EC )?PRIVATE KEY-----|(?i)(api_key|secret|password)\s*[:=]\s*["'][A-Za-z0-9+/=_-]{20,}["']`),
	},
	{
		class:      classify.VulnIntegerOverflow,
		severity:   classify.SeverityMedium,
		confidence: 55,
		title:      "unchecked arithmetic on balance-like value",
		pattern:    regexp.MustCompile(`(balance|amount|supply|total)\w*\s*[-+*]=\s*\w|\.wrapping_(add|sub|mul)\(`),
	},
}

// NewSignals returns the deterministic signals adapter: fast regex-level
// detections that corroborate or seed the domain scanners.
func NewSignals(sc *cache.ScanCache) Scanner {
	return &fileScanner{
		id:       SignalsID,
		exts:     signalExts,
		cache:    sc,
		scanFile: scanSignals,
	}
}

func scanSignals(path string, lines []string) []findings.Finding {
	var out []findings.Finding
	for i, line := range lines {
		// Comments trip the patterns constantly and carry no executable risk
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") {
			continue
		}

		for _, sig := range signals {
			if !sig.pattern.MatchString(line) {
				continue
			}
			out = append(out, findings.Finding{
				ScannerID:   SignalsID,
				VulnClass:   sig.class,
				Severity:    sig.severity,
				Confidence:  sig.confidence,
				File:        path,
				Line:        i + 1,
				Title:       sig.title,
				Description: "Deterministic signal matched",
				Evidence:    trimmed,
			})
		}
	}
	return out
}
