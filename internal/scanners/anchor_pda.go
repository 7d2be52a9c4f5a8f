package scanners

import (
	"regexp"
	"strings"

	"github.com/hydrasec/hydra/internal/cache"
	"github.com/hydrasec/hydra/internal/classify"
	"github.com/hydrasec/hydra/internal/findings"
)

// PDASeedsID is the scanner id for PDA derivation safety
const PDASeedsID = "anchor-pda-seeds"

var pdaClasses = map[classify.VulnClass]bool{
	classify.VulnNonCanonicalBump:   true,
	classify.VulnSeedCollision:      true,
	classify.VulnAttackerControlled: true,
}

var (
	// bump = some_arg, a bump taken from instruction data instead of the
	// canonical bump Anchor derives.
	bumpFromArg = regexp.MustCompile(`bump\s*=\s*[a-z_]+\.[a-z_]*bump|bump\s*=\s*bump[a-z_]*\b`)

	// Seeds built from raw caller bytes.
	rawSeedMaterial = regexp.MustCompile(`seeds\s*=\s*\[[^\]]*\b(data|input|user_seed|args)\b`)

	createWithSeed = regexp.MustCompile(`create_program_address|Pubkey::create_with_seed`)
)

// NewPDASeeds detects non-canonical bump usage, seed collisions, and
// attacker-controlled seed material in PDA derivations.
func NewPDASeeds(sc *cache.ScanCache) Scanner {
	return &fileScanner{
		id:       PDASeedsID,
		exts:     rustExts,
		cache:    sc,
		scanFile: scanPDASeeds,
	}
}

func scanPDASeeds(path string, lines []string) []findings.Finding {
	out := markerFindings(PDASeedsID, path, lines, pdaClasses)

	for i, line := range lines {
		if bumpFromArg.MatchString(line) {
			out = append(out, findings.Finding{
				ScannerID:   PDASeedsID,
				VulnClass:   classify.VulnNonCanonicalBump,
				Severity:    classify.SeverityMedium,
				Confidence:  55,
				File:        path,
				Line:        i + 1,
				Title:       "bump sourced from instruction data",
				Description: "PDA constraint uses a caller-supplied bump; non-canonical bumps allow shadow accounts",
				Evidence:    strings.TrimSpace(line),
			})
		}

		if rawSeedMaterial.MatchString(line) {
			out = append(out, findings.Finding{
				ScannerID:   PDASeedsID,
				VulnClass:   classify.VulnAttackerControlled,
				Severity:    classify.SeverityMedium,
				Confidence:  60,
				File:        path,
				Line:        i + 1,
				Title:       "attacker-influenced PDA seed material",
				Description: "Seed slice includes raw caller bytes; colliding derivations become reachable",
				Evidence:    strings.TrimSpace(line),
			})
		}

		// create_program_address bypasses the canonical-bump search that
		// find_program_address performs.
		if createWithSeed.MatchString(line) {
			out = append(out, findings.Finding{
				ScannerID:   PDASeedsID,
				VulnClass:   classify.VulnNonCanonicalBump,
				Severity:    classify.SeverityMedium,
				Confidence:  55,
				File:        path,
				Line:        i + 1,
				Title:       "manual program address derivation",
				Description: "create_program_address accepts any bump; use find_program_address for the canonical one",
				Evidence:    strings.TrimSpace(line),
			})
		}
	}
	return out
}
