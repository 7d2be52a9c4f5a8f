package scanners

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrasec/hydra/internal/cache"
	"github.com/hydrasec/hydra/internal/classify"
	"github.com/hydrasec/hydra/internal/threatmodel"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

// markerAtLine returns rust source with a HYDRA_VULN marker landing exactly
// on the requested line.
func markerAtLine(class string, line int) string {
	var b strings.Builder
	for i := 1; i < line; i++ {
		b.WriteString("// padding\n")
	}
	b.WriteString("let _ = 0; // HYDRA_VULN:" + class + "\n")
	return b.String()
}

func TestAccountValidation_MarkerLine42(t *testing.T) {
	root := writeTree(t, map[string]string{
		"programs/vault/src/lib.rs": markerAtLine("missing_signer_check", 42),
	})

	s := NewAccountValidation(nil)
	fs, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, fs, 1)

	f := fs[0]
	assert.Equal(t, classify.VulnMissingSignerCheck, f.VulnClass)
	assert.Equal(t, classify.SeverityHigh, f.Severity)
	assert.Equal(t, 88, f.Confidence)
	assert.Equal(t, 42, f.Line)
	assert.Equal(t, filepath.Join(root, "programs/vault/src/lib.rs"), f.File)
	assert.Equal(t, AccountValidationID, f.ScannerID)
	assert.NotEmpty(t, f.ID)
}

func TestAccountValidation_IgnoresForeignMarkers(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/lib.rs": markerAtLine("arbitrary_cpi", 5),
	})

	fs, err := NewAccountValidation(nil).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, fs, "CPI markers belong to the CPI scanner")
}

func TestAccountValidation_Heuristics(t *testing.T) {
	source := `use anchor_lang::prelude::*;

#[derive(Accounts)]
pub struct Withdraw<'info> {
    #[account(mut)]
    pub authority: AccountInfo<'info>,
    pub vault: Account<'info, Vault>,
}
`
	root := writeTree(t, map[string]string{"src/lib.rs": source})

	fs, err := NewAccountValidation(nil).Scan(context.Background(), root)
	require.NoError(t, err)

	classes := map[classify.VulnClass]bool{}
	for _, f := range fs {
		classes[f.VulnClass] = true
		assert.Less(t, f.Confidence, 80, "heuristics stay below the uncorroborated gate")
	}
	assert.True(t, classes[classify.VulnMissingSignerCheck])
	assert.True(t, classes[classify.VulnMissingHasOne])
}

func TestCPISafety_CriticalMarkers(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/cpi.rs": markerAtLine("arbitrary_cpi", 7),
	})

	fs, err := NewCPISafety(nil).Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, fs, 1)
	assert.Equal(t, classify.SeverityCritical, fs[0].Severity)
	assert.Equal(t, 90, fs[0].Confidence)
}

func TestCPISafety_CallerSuppliedProgram(t *testing.T) {
	source := `pub fn route(ctx: Context<Route>) -> Result<()> {
    invoke(
        &ix,
        &[ctx.accounts.target_program.clone()],
    )?;
    Ok(())
}
`
	root := writeTree(t, map[string]string{"src/lib.rs": source})

	fs, err := NewCPISafety(nil).Scan(context.Background(), root)
	require.NoError(t, err)
	require.NotEmpty(t, fs)
	assert.Equal(t, classify.VulnArbitraryCPI, fs[0].VulnClass)
	assert.Equal(t, 2, fs[0].Line)
}

func TestPDASeeds_Heuristics(t *testing.T) {
	source := `let addr = Pubkey::create_program_address(&seeds, program_id)?;
#[account(seeds = [b"vault", data.as_ref()], bump = args.bump)]
`
	root := writeTree(t, map[string]string{"src/pda.rs": source})

	fs, err := NewPDASeeds(nil).Scan(context.Background(), root)
	require.NoError(t, err)

	classes := map[classify.VulnClass]int{}
	for _, f := range fs {
		classes[f.VulnClass]++
	}
	assert.Positive(t, classes[classify.VulnNonCanonicalBump])
	assert.Positive(t, classes[classify.VulnAttackerControlled])
}

func TestSignals_DetectsAndSkipsComments(t *testing.T) {
	source := `const q = db.query("SELECT * FROM users WHERE id = " + userId);
// const q = db.query("SELECT * FROM users WHERE id = " + userId);
const key = "AKIAIOSFODNN7EXAMPLE12";
`
	root := writeTree(t, map[string]string{"server/app.js": source})

	fs, err := NewSignals(nil).Scan(context.Background(), root)
	require.NoError(t, err)

	var sqlLines []int
	var secret bool
	for _, f := range fs {
		if f.VulnClass == classify.VulnSQLInjection {
			sqlLines = append(sqlLines, f.Line)
		}
		if f.VulnClass == classify.VulnHardcodedSecret {
			secret = true
		}
	}
	assert.Equal(t, []int{1}, sqlLines, "the commented copy must not fire")
	assert.True(t, secret)
}

func TestFileScanner_SkipsIgnoredDirs(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/lib.rs":            markerAtLine("missing_signer_check", 3),
		"target/debug/gen.rs":   markerAtLine("missing_signer_check", 3),
		"node_modules/x/lib.rs": markerAtLine("missing_signer_check", 3),
	})

	fs, err := NewAccountValidation(nil).Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, fs, 1)
	assert.Contains(t, fs[0].File, filepath.Join(root, "src"))
}

func TestFileScanner_UsesCache(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/lib.rs": markerAtLine("missing_signer_check", 2),
	})

	sc := cache.Open(t.TempDir())
	s := NewAccountValidation(sc)

	first, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	second, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, sc.Stats().Hits)
}

type fakeReasoner struct {
	response string
	err      error
}

func (f *fakeReasoner) Complete(ctx context.Context, system, user string) (string, error) {
	return f.response, f.err
}

func (f *fakeReasoner) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	return f.response, f.err
}

func TestLLMScanner_ValidatesResponse(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/lib.rs": "pub fn noop() {}\n",
	})
	summary := threatmodel.Summary{
		PrimaryLanguage: "rust",
		ScanScopeFiles:  []string{"src/lib.rs"},
	}

	response := `{"findings": [
		{"vuln_class": "missing_signer_check", "severity": "HIGH", "confidence": 82,
		 "file": "src/lib.rs", "line": 1, "title": "no signer", "description": "d", "evidence": "e"},
		{"vuln_class": "made_up_class", "severity": "HIGH", "confidence": 90,
		 "file": "src/lib.rs", "line": 1, "title": "bogus", "description": "d"},
		{"vuln_class": "arbitrary_cpi", "severity": "HIGH", "confidence": 90,
		 "file": "src/lib.rs", "line": 1, "title": "out of focus", "description": "d"},
		{"vuln_class": "missing_has_one", "severity": "HIGH", "confidence": 70,
		 "file": "src/lib.rs", "line": 0, "title": "bad line", "description": "d"}
	]}`

	scanners := NewLLMScanners(&fakeReasoner{response: response}, summary)
	var account Scanner
	for _, s := range scanners {
		if s.ID() == "llm-account-validation" {
			account = s
		}
	}
	require.NotNil(t, account)

	fs, err := account.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, fs, 1, "only the valid in-focus finding survives")
	assert.Equal(t, classify.VulnMissingSignerCheck, fs[0].VulnClass)
	assert.Equal(t, filepath.Join(root, "src/lib.rs"), fs[0].File)
}

func TestLLMScanner_GarbageResponseYieldsNothing(t *testing.T) {
	root := writeTree(t, map[string]string{"src/lib.rs": "x\n"})
	summary := threatmodel.Summary{ScanScopeFiles: []string{"src/lib.rs"}}

	s := &LLMScanner{focus: Focuses()[0], reasoner: &fakeReasoner{response: "not json at all"}, summary: summary}
	fs, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, fs)
}

func TestReadAllCapped_AccumulatesShortReads(t *testing.T) {
	content := strings.Repeat("a", 4096)
	got, err := readAllCapped(iotest.OneByteReader(strings.NewReader(content)))
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestReadAllCapped_TruncatesAtCap(t *testing.T) {
	content := strings.Repeat("b", maxFileBytes+100)
	got, err := readAllCapped(strings.NewReader(content))
	require.NoError(t, err)
	assert.Len(t, got, maxFileBytes)
}

func TestBuiltIn_ComposesFourScanners(t *testing.T) {
	set := BuiltIn(nil)
	require.Len(t, set, 4)
	ids := map[string]bool{}
	for _, s := range set {
		ids[s.ID()] = true
	}
	assert.True(t, ids[AccountValidationID])
	assert.True(t, ids[CPISafetyID])
	assert.True(t, ids[PDASeedsID])
	assert.True(t, ids[SignalsID])
}
