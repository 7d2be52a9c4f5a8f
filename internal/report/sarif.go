package report

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/hydrasec/hydra/internal/classify"
	"github.com/hydrasec/hydra/internal/scan"
)

const (
	sarifVersion = "2.1.0"
	sarifSchema  = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json"
)

// SARIFRenderer emits a SARIF 2.1.0 log for code-scanning uploads
type SARIFRenderer struct{}

func (SARIFRenderer) Format() Format { return FormatSARIF }

type sarifLog struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string       `json:"id"`
	ShortDescription sarifMessage `json:"shortDescription"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine"`
}

func (SARIFRenderer) Render(res *scan.Result) ([]byte, error) {
	ruleSeen := map[string]bool{}
	var rules []sarifRule
	results := make([]sarifResult, 0, len(res.Findings))

	for _, f := range res.Findings {
		ruleID := string(f.VulnClass)
		if !ruleSeen[ruleID] {
			ruleSeen[ruleID] = true
			rules = append(rules, sarifRule{
				ID:               ruleID,
				ShortDescription: sarifMessage{Text: strings.ReplaceAll(ruleID, "_", " ")},
			})
		}

		message := f.Title
		if f.Description != "" {
			message += ": " + f.Description
		}
		results = append(results, sarifResult{
			RuleID:  ruleID,
			Level:   sarifLevel(f.Severity),
			Message: sarifMessage{Text: message},
			Locations: []sarifLocation{{
				PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{URI: sarifURI(res.Target, f.File)},
					Region:           sarifRegion{StartLine: f.Line},
				},
			}},
		})
	}

	log := sarifLog{
		Schema:  sarifSchema,
		Version: sarifVersion,
		Runs: []sarifRun{{
			Tool: sarifTool{Driver: sarifDriver{
				Name:           "hydra",
				InformationURI: "https://github.com/hydrasec/hydra",
				Rules:          rules,
			}},
			Results: results,
		}},
	}
	return json.MarshalIndent(log, "", "  ")
}

func sarifLevel(sev classify.Severity) string {
	switch sev {
	case classify.SeverityCritical, classify.SeverityHigh:
		return "error"
	case classify.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}

// sarifURI prefers a root-relative forward-slash path
func sarifURI(root, file string) string {
	if rel, err := filepath.Rel(root, file); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(file)
}
