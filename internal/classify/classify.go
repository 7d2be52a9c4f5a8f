// Package classify defines the closed vocabularies shared by every scanning
// component: finding severities and vulnerability classes.
package classify

import "fmt"

// Severity is the impact level of a finding
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Rank returns the ordering weight of a severity (higher is worse).
// Unknown severities rank below LOW.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the four known severities
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// ParseSeverity converts a string to a Severity, rejecting unknown values
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// VulnClass is a vulnerability classification tag. The set is closed: the
// aggregator rejects findings carrying tags outside this vocabulary so that
// grouping keys stay stable across scanner versions.
type VulnClass string

// Solana/Anchor classes
const (
	VulnMissingSignerCheck   VulnClass = "missing_signer_check"
	VulnMissingHasOne        VulnClass = "missing_has_one"
	VulnAccountTypeConfusion VulnClass = "account_type_confusion"
	VulnArbitraryCPI         VulnClass = "arbitrary_cpi"
	VulnCPIReentrancy        VulnClass = "cpi_reentrancy"
	VulnCPISignerSeedBypass  VulnClass = "cpi_signer_seed_bypass"
	VulnNonCanonicalBump     VulnClass = "non_canonical_bump"
	VulnSeedCollision        VulnClass = "seed_collision"
	VulnAttackerControlled   VulnClass = "attacker_controlled_seed"
)

// General classes
const (
	VulnSQLInjection     VulnClass = "sql_injection"
	VulnCommandInjection VulnClass = "command_injection"
	VulnPathTraversal    VulnClass = "path_traversal"
	VulnHardcodedSecret  VulnClass = "hardcoded_secret"
	VulnIntegerOverflow  VulnClass = "integer_overflow"
)

var knownClasses = map[VulnClass]bool{
	VulnMissingSignerCheck:   true,
	VulnMissingHasOne:        true,
	VulnAccountTypeConfusion: true,
	VulnArbitraryCPI:         true,
	VulnCPIReentrancy:        true,
	VulnCPISignerSeedBypass:  true,
	VulnNonCanonicalBump:     true,
	VulnSeedCollision:        true,
	VulnAttackerControlled:   true,
	VulnSQLInjection:         true,
	VulnCommandInjection:     true,
	VulnPathTraversal:        true,
	VulnHardcodedSecret:      true,
	VulnIntegerOverflow:      true,
}

// Valid reports whether c is in the known vocabulary
func (c VulnClass) Valid() bool {
	return knownClasses[c]
}

// ParseVulnClass converts a string to a VulnClass, rejecting unknown tags
func ParseVulnClass(s string) (VulnClass, error) {
	c := VulnClass(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown vulnerability class %q", s)
	}
	return c, nil
}

// Classes returns the full vocabulary in stable order, for report rule
// tables and prompt construction.
func Classes() []VulnClass {
	return []VulnClass{
		VulnMissingSignerCheck,
		VulnMissingHasOne,
		VulnAccountTypeConfusion,
		VulnArbitraryCPI,
		VulnCPIReentrancy,
		VulnCPISignerSeedBypass,
		VulnNonCanonicalBump,
		VulnSeedCollision,
		VulnAttackerControlled,
		VulnSQLInjection,
		VulnCommandInjection,
		VulnPathTraversal,
		VulnHardcodedSecret,
		VulnIntegerOverflow,
	}
}
