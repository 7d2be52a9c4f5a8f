package scanners

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hydrasec/hydra/internal/classify"
	"github.com/hydrasec/hydra/internal/findings"
	"github.com/hydrasec/hydra/internal/llm"
	"github.com/hydrasec/hydra/internal/threatmodel"
)

// Focus is one vulnerability area a reasoner-backed scanner concentrates on
type Focus struct {
	Name    string
	Classes []classify.VulnClass
	Brief   string
}

// Focuses enumerates the reasoner scanner split. One scanner per focus keeps
// prompts small and lets the dispatcher time them out independently.
func Focuses() []Focus {
	return []Focus{
		{
			Name:    "account-validation",
			Classes: []classify.VulnClass{classify.VulnMissingSignerCheck, classify.VulnMissingHasOne, classify.VulnAccountTypeConfusion},
			Brief:   "Anchor account validation: signer checks, has_one/owner constraints, account type confusion",
		},
		{
			Name:    "cpi-safety",
			Classes: []classify.VulnClass{classify.VulnArbitraryCPI, classify.VulnCPIReentrancy, classify.VulnCPISignerSeedBypass},
			Brief:   "cross-program invocation safety: arbitrary CPI targets, reentrancy after state writes, signer seed bypass",
		},
		{
			Name:    "pda-seeds",
			Classes: []classify.VulnClass{classify.VulnNonCanonicalBump, classify.VulnSeedCollision, classify.VulnAttackerControlled},
			Brief:   "PDA derivation: canonical bumps, seed collisions, attacker-controlled seed material",
		},
		{
			Name:    "injection",
			Classes: []classify.VulnClass{classify.VulnSQLInjection, classify.VulnCommandInjection, classify.VulnPathTraversal},
			Brief:   "injection surfaces: SQL construction, shell execution, filesystem path handling",
		},
	}
}

const (
	// llmMaxScopeFiles bounds how many files one reasoner scanner reads
	llmMaxScopeFiles = 12
	// llmMaxFileChars bounds the excerpt included per file
	llmMaxFileChars = 8_000
)

// LLMScanner asks the reasoner to analyze scoped source for one focus area.
// Responses pass a strict validator; anything unparseable yields zero
// findings rather than an error.
type LLMScanner struct {
	focus    Focus
	reasoner llm.Reasoner
	summary  threatmodel.Summary
}

// NewLLMScanners builds one scanner per focus
func NewLLMScanners(r llm.Reasoner, summary threatmodel.Summary) []Scanner {
	out := make([]Scanner, 0, len(Focuses()))
	for _, f := range Focuses() {
		out = append(out, &LLMScanner{focus: f, reasoner: r, summary: summary})
	}
	return out
}

func (s *LLMScanner) ID() string {
	return "llm-" + s.focus.Name
}

func (s *LLMScanner) Scan(ctx context.Context, root string) ([]findings.Finding, error) {
	sources := s.collectSources(root)
	if sources == "" {
		return nil, nil
	}

	response, err := s.reasoner.CompleteJSON(ctx, s.systemPrompt(), s.userPrompt(sources))
	if err != nil {
		return nil, fmt.Errorf("reasoner scan failed: %w", err)
	}
	return s.parseFindings(root, response), nil
}

func (s *LLMScanner) collectSources(root string) string {
	var b strings.Builder
	count := 0
	for _, rel := range s.summary.ScanScopeFiles {
		if count >= llmMaxScopeFiles {
			break
		}
		path := filepath.Join(root, rel)
		content, err := readCapped(path)
		if err != nil {
			continue
		}
		text := string(content)
		if len(text) > llmMaxFileChars {
			text = text[:llmMaxFileChars]
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n", rel, text)
		count++
	}
	return b.String()
}

func (s *LLMScanner) systemPrompt() string {
	classes := make([]string, len(s.focus.Classes))
	for i, c := range s.focus.Classes {
		classes[i] = string(c)
	}
	return fmt.Sprintf(`You are a security auditor specializing in %s.
Report only vulnerabilities in these classes: %s.
Respond with a JSON object: {"findings": [{"vuln_class": "...", "severity": "CRITICAL|HIGH|MEDIUM|LOW", "confidence": 0-100, "file": "relative path", "line": 1, "title": "...", "description": "...", "evidence": "the offending line"}]}.
Report an empty findings array when nothing qualifies. Never invent file paths or line numbers.`,
		s.focus.Brief, strings.Join(classes, ", "))
}

func (s *LLMScanner) userPrompt(sources string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository profile: primary language %s, frameworks %s.\n",
		s.summary.PrimaryLanguage, strings.Join(s.summary.DetectedFrameworks, ", "))
	if len(s.summary.AttackSurface) > 0 {
		fmt.Fprintf(&b, "Attack surface: %s.\n", strings.Join(s.summary.AttackSurface, "; "))
	}
	b.WriteString("\nSource files:\n")
	b.WriteString(sources)
	return b.String()
}

// llmFinding is the wire shape the validator accepts from the reasoner
type llmFinding struct {
	VulnClass   string `json:"vuln_class"`
	Severity    string `json:"severity"`
	Confidence  int    `json:"confidence"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Evidence    string `json:"evidence"`
}

func (s *LLMScanner) parseFindings(root, response string) []findings.Finding {
	var payload struct {
		Findings []llmFinding `json:"findings"`
	}
	if err := llm.DecodeJSON(response, &payload); err != nil {
		return nil
	}

	allowed := make(map[classify.VulnClass]bool, len(s.focus.Classes))
	for _, c := range s.focus.Classes {
		allowed[c] = true
	}

	var out []findings.Finding
	for _, raw := range payload.Findings {
		class, err := classify.ParseVulnClass(raw.VulnClass)
		if err != nil || !allowed[class] {
			continue
		}
		severity, err := classify.ParseSeverity(raw.Severity)
		if err != nil {
			continue
		}
		if raw.Line < 1 || raw.File == "" {
			continue
		}

		abs := raw.File
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, raw.File)
		}

		f := findings.Finding{
			ScannerID:   s.ID(),
			VulnClass:   class,
			Severity:    severity,
			Confidence:  raw.Confidence,
			File:        abs,
			Line:        raw.Line,
			Title:       raw.Title,
			Description: raw.Description,
			Evidence:    raw.Evidence,
		}
		if err := f.Validate(); err != nil {
			continue
		}
		out = append(out, f.WithID())
	}
	return out
}
