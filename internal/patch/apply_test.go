package patch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hydraerr "github.com/hydrasec/hydra/internal/errors"
)

const applySource = `pub fn withdraw(ctx: Context<Withdraw>) -> Result<()> {
    let vault = &mut ctx.accounts.vault;
    vault.balance = 0;
    Ok(())
}`

func TestApply_SingleHunk(t *testing.T) {
	diff := `--- a/lib.rs
+++ b/lib.rs
@@ -1,3 +1,4 @@
 pub fn withdraw(ctx: Context<Withdraw>) -> Result<()> {
+    require!(ctx.accounts.authority.is_signer, ErrorCode::Unauthorized);
     let vault = &mut ctx.accounts.vault;
     vault.balance = 0;`

	patched, err := Apply(applySource, diff)
	require.NoError(t, err)
	assert.Contains(t, patched, "require!(ctx.accounts.authority.is_signer")
	assert.Contains(t, patched, "Ok(())", "trailing lines survive")
}

func TestApply_RemovesAndReplaces(t *testing.T) {
	diff := `@@ -3,1 +3,1 @@
-    vault.balance = 0;
+    vault.balance = vault.balance.checked_sub(amount).unwrap();`

	patched, err := Apply(applySource, diff)
	require.NoError(t, err)
	assert.NotContains(t, patched, "vault.balance = 0;")
	assert.Contains(t, patched, "checked_sub(amount)")
}

func TestApply_MultipleHunksTrackOffset(t *testing.T) {
	source := strings.Join([]string{"a", "b", "c", "d", "e", "f"}, "\n")
	diff := `@@ -1,2 +1,3 @@
 a
+inserted
 b
@@ -5,1 +6,1 @@
-e
+E`

	patched, err := Apply(source, diff)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{"a", "inserted", "b", "c", "d", "E", "f"}, "\n"), patched)
}

func TestApply_ContextMismatchRefuses(t *testing.T) {
	diff := `@@ -2,1 +2,1 @@
-    let vault = ctx.accounts.other;
+    let vault = &ctx.accounts.vault;`

	patched, err := Apply(applySource, diff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context mismatch")
	assert.Equal(t, applySource, patched, "source is untouched on refusal")
}

func TestApply_HunkBeyondSource(t *testing.T) {
	diff := `@@ -40,1 +40,1 @@
-nothing here
+still nothing`

	_, err := Apply(applySource, diff)
	require.Error(t, err)
}

func TestParseUnifiedDiff_NoHunks(t *testing.T) {
	_, err := ParseUnifiedDiff("this is prose, not a diff")
	require.Error(t, err)
}

func TestApply_ErrorsCarryPatchCategory(t *testing.T) {
	for name, diff := range map[string]string{
		"no hunks":         "this is prose, not a diff",
		"malformed line":   "@@ -1,1 +1,1 @@\n-x\n+y\n*junk",
		"beyond source":    "@@ -40,1 +40,1 @@\n-nothing here\n+still nothing",
		"context mismatch": "@@ -2,1 +2,1 @@\n-    let vault = ctx.accounts.other;\n+    let vault = &ctx.accounts.vault;",
	} {
		_, err := Apply(applySource, diff)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, hydraerr.New(hydraerr.ErrorTypePatch, hydraerr.SeverityMedium, ""), name)
	}
}

func TestParseUnifiedDiff_DefaultCounts(t *testing.T) {
	hunks, err := ParseUnifiedDiff("@@ -3 +3 @@\n-x\n+y")
	require.NoError(t, err)
	require.Len(t, hunks, 1)
	assert.Equal(t, 3, hunks[0].OldStart)
	assert.Equal(t, 1, hunks[0].OldCount)
}
