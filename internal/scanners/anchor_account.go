package scanners

import (
	"regexp"
	"strings"

	"github.com/hydrasec/hydra/internal/cache"
	"github.com/hydrasec/hydra/internal/classify"
	"github.com/hydrasec/hydra/internal/findings"
)

// AccountValidationID is the scanner id for Anchor account validation
const AccountValidationID = "anchor-account-validation"

var accountClasses = map[classify.VulnClass]bool{
	classify.VulnMissingSignerCheck:   true,
	classify.VulnMissingHasOne:        true,
	classify.VulnAccountTypeConfusion: true,
}

var (
	// pub authority: AccountInfo<'info>, a privileged name without a typed
	// Signer wrapper.
	privilegedAccountInfo = regexp.MustCompile(`pub\s+(authority|admin|owner|payer)\s*:\s*(AccountInfo|UncheckedAccount)\s*<`)

	// #[account(mut)] with no has_one / constraint on the attribute line.
	bareMutAccount = regexp.MustCompile(`#\[account\(\s*mut\s*\)\]`)

	accountsDerive = regexp.MustCompile(`#\[derive\(Accounts\)\]`)
)

// NewAccountValidation detects missing signer checks, missing has_one
// constraints, and account type confusion in Anchor account structs.
func NewAccountValidation(sc *cache.ScanCache) Scanner {
	return &fileScanner{
		id:       AccountValidationID,
		exts:     rustExts,
		cache:    sc,
		scanFile: scanAccountValidation,
	}
}

func scanAccountValidation(path string, lines []string) []findings.Finding {
	out := markerFindings(AccountValidationID, path, lines, accountClasses)

	inAccounts := false
	for i, line := range lines {
		if accountsDerive.MatchString(line) {
			inAccounts = true
			continue
		}
		if inAccounts && strings.HasPrefix(strings.TrimSpace(line), "}") {
			inAccounts = false
			continue
		}
		if !inAccounts {
			continue
		}

		if m := privilegedAccountInfo.FindStringSubmatch(line); m != nil {
			out = append(out, findings.Finding{
				ScannerID:   AccountValidationID,
				VulnClass:   classify.VulnMissingSignerCheck,
				Severity:    classify.SeverityMedium,
				Confidence:  60,
				File:        path,
				Line:        i + 1,
				Title:       "privileged account without Signer type",
				Description: "Field `" + m[1] + "` is a raw " + m[2] + "; nothing proves the caller holds its key",
				Evidence:    strings.TrimSpace(line),
			})
		}

		// A bare #[account(mut)] above a privileged field skips ownership
		// linkage entirely.
		if bareMutAccount.MatchString(line) && i+1 < len(lines) &&
			privilegedAccountInfo.MatchString(lines[i+1]) {
			out = append(out, findings.Finding{
				ScannerID:   AccountValidationID,
				VulnClass:   classify.VulnMissingHasOne,
				Severity:    classify.SeverityMedium,
				Confidence:  55,
				File:        path,
				Line:        i + 2,
				Title:       "mutable privileged account without has_one",
				Description: "Mutable account is not tied to its owner with has_one or a constraint",
				Evidence:    strings.TrimSpace(lines[i+1]),
			})
		}
	}
	return out
}
