package findings

import (
	"log/slog"
	"sort"
	"strings"
)

// MinUncorroboratedConfidence is the emission gate for findings reported by
// a single scanner. Corroborated findings always pass.
const MinUncorroboratedConfidence = 80

const corroboratedMarker = "(corroborated)"

type groupKey struct {
	class string
	file  string
	line  int
}

// group accumulates the fusion state for one (vuln_class, file, line)
// coordinate while findings stream in.
type group struct {
	finding      Finding
	scanners     []string // contribution order, deduped
	scannerSet   map[string]bool
	descriptions []string
	evidences    []string
	corroborated bool
}

// Aggregator fuses findings from independent scanners. It is deterministic
// for a given input ordering and idempotent: feeding its own output back in
// reproduces the same output.
type Aggregator struct {
	minConfidence int
	groups        map[groupKey]*group
	order         []groupKey
	rejected      int
	log           *slog.Logger
}

// NewAggregator returns an aggregator with the default emission gate
func NewAggregator() *Aggregator {
	return &Aggregator{
		minConfidence: MinUncorroboratedConfidence,
		groups:        make(map[groupKey]*group),
		log:           slog.Default().With("component", "aggregator"),
	}
}

// Rejected returns how many findings were dropped at ingress validation
func (a *Aggregator) Rejected() int {
	return a.rejected
}

// Add ingests one finding. Findings failing validation (unknown class,
// missing file, line < 1) are dropped with a warning, never a panic.
func (a *Aggregator) Add(f Finding) {
	if err := f.Validate(); err != nil {
		a.rejected++
		a.log.Warn("rejecting finding at ingress", "error", err, "scanner", f.ScannerID, "file", f.File)
		return
	}
	f.Confidence = clampConfidence(f.Confidence)

	key := groupKey{string(f.VulnClass), f.File, f.Line}
	g, ok := a.groups[key]
	if !ok {
		g = &group{
			finding:      f,
			scanners:     []string{f.ScannerID},
			scannerSet:   map[string]bool{f.ScannerID: true},
			corroborated: f.Corroborated,
		}
		if f.Description != "" {
			g.descriptions = append(g.descriptions, f.Description)
		}
		if f.Evidence != "" {
			g.evidences = append(g.evidences, f.Evidence)
		}
		a.groups[key] = g
		a.order = append(a.order, key)
		return
	}

	// Winner keeps the representative title and severity. Ties keep the
	// incumbent.
	if f.Severity.Rank() > g.finding.Severity.Rank() {
		g.finding.Severity = f.Severity
		g.finding.Title = f.Title
	}

	if !g.scannerSet[f.ScannerID] {
		g.scannerSet[f.ScannerID] = true
		g.scanners = append(g.scanners, f.ScannerID)
	}
	if len(g.scanners) >= 2 {
		g.corroborated = true
	}
	if f.Corroborated {
		g.corroborated = true
	}

	conf := g.finding.Confidence
	if f.Confidence > conf {
		conf = f.Confidence
	}
	if g.corroborated {
		conf += 5
	}
	if conf > 99 {
		conf = 99
	}
	g.finding.Confidence = conf

	if f.Description != "" && !containsString(g.descriptions, f.Description) {
		g.descriptions = append(g.descriptions, f.Description)
	}
	if f.Evidence != "" && !containsString(g.evidences, f.Evidence) {
		g.evidences = append(g.evidences, f.Evidence)
	}
}

// AddAll ingests a batch in order
func (a *Aggregator) AddAll(fs []Finding) {
	for _, f := range fs {
		a.Add(f)
	}
}

// Result applies the emission gate and returns findings sorted by severity
// descending, then confidence descending. Ties preserve first-seen order.
func (a *Aggregator) Result() []Finding {
	out := make([]Finding, 0, len(a.order))
	for _, key := range a.order {
		g := a.groups[key]
		f := g.finding
		f.ScannerID = strings.Join(g.scanners, " + ")
		f.Description = strings.Join(g.descriptions, " | ")
		f.Evidence = strings.Join(g.evidences, "\n")
		f.Corroborated = g.corroborated
		if g.corroborated && !strings.Contains(f.Title, corroboratedMarker) {
			f.Title = strings.TrimRight(f.Title, " ") + " " + corroboratedMarker
		}
		f = f.WithID()

		if !f.Corroborated && f.Confidence < a.minConfidence {
			continue
		}
		out = append(out, f)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// Aggregate is the pure one-shot form: fuse, gate, and sort a batch
func Aggregate(in []Finding) []Finding {
	a := NewAggregator()
	a.AddAll(in)
	return a.Result()
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
