package gitx

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// initTestRepo creates a git repository with one committed file and returns
// its root. Tests are skipped when git is unavailable.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	if err := exec.Command("git", "-C", dir, "init").Run(); err != nil {
		t.Skip("git not available")
	}
	exec.Command("git", "-C", dir, "config", "user.email", "test@example.com").Run()
	exec.Command("git", "-C", dir, "config", "user.name", "Test User").Run()

	if err := os.WriteFile(filepath.Join(dir, "main.rs"), []byte("fn main() {}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := exec.Command("git", "-C", dir, "add", ".").Run(); err != nil {
		t.Fatal(err)
	}
	if err := exec.Command("git", "-C", dir, "commit", "-m", "initial").Run(); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestReadContext(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()

	gc := ReadContext(ctx, dir)
	if gc.Commit == "" {
		t.Error("expected a commit sha")
	}
	if gc.Tree == "" {
		t.Error("expected a tree sha")
	}
	if gc.Dirty {
		t.Error("fresh commit should not be dirty")
	}

	// Touch a tracked file, repo becomes dirty
	if err := os.WriteFile(filepath.Join(dir, "main.rs"), []byte("fn main() { }\n"), 0644); err != nil {
		t.Fatal(err)
	}
	gc = ReadContext(ctx, dir)
	if !gc.Dirty {
		t.Error("modified working tree should be dirty")
	}
}

func TestReadContext_NotARepo(t *testing.T) {
	dir := t.TempDir()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	gc := ReadContext(context.Background(), dir)
	if gc.Commit != "" || gc.Tree != "" || gc.Dirty {
		t.Errorf("expected zero context outside a repo, got %+v", gc)
	}
}

func TestChangedFiles(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()

	// Second commit modifying one file and adding another
	if err := os.WriteFile(filepath.Join(dir, "main.rs"), []byte("fn main() { run() }\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lib.rs"), []byte("pub fn run() {}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	exec.Command("git", "-C", dir, "add", ".").Run()
	if err := exec.Command("git", "-C", dir, "commit", "-m", "second").Run(); err != nil {
		t.Fatal(err)
	}

	// Untracked file joins the scope
	if err := os.WriteFile(filepath.Join(dir, "untracked.rs"), []byte("// new\n"), 0644); err != nil {
		t.Fatal(err)
	}

	files, err := ChangedFiles(ctx, dir, "HEAD~1", "HEAD")
	if err != nil {
		t.Fatalf("ChangedFiles() error = %v", err)
	}

	want := map[string]bool{
		filepath.Join(mustEval(t, dir), "main.rs"):      false,
		filepath.Join(mustEval(t, dir), "lib.rs"):       false,
		filepath.Join(mustEval(t, dir), "untracked.rs"): false,
	}
	if len(files) != len(want) {
		t.Fatalf("expected %d files, got %d: %v", len(want), len(files), files)
	}
	for _, f := range files {
		resolved, _ := filepath.EvalSymlinks(f)
		if _, ok := want[resolved]; !ok {
			t.Errorf("unexpected file in scope: %s", f)
		}
	}
}

func TestChangedFiles_RequiresBase(t *testing.T) {
	dir := initTestRepo(t)
	if _, err := ChangedFiles(context.Background(), dir, "", "HEAD"); err == nil {
		t.Error("expected error without a base ref")
	}
}

func TestNormalize(t *testing.T) {
	dir := t.TempDir()
	inside := filepath.Join(dir, "a.rs")
	if err := os.WriteFile(inside, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	got := Normalize(dir, []string{
		"a.rs",         // exists, relative
		"missing.rs",   // does not exist
		"sub",          // directory, not a file
		"../escape.rs", // outside root
		inside,         // absolute duplicate of a.rs
		"/etc/passwd",  // absolute outside root
	})

	if len(got) != 1 || got[0] != inside {
		t.Errorf("Normalize() = %v, want [%s]", got, inside)
	}
}

func mustEval(t *testing.T, p string) string {
	t.Helper()
	r, err := filepath.EvalSymlinks(p)
	if err != nil {
		t.Fatal(err)
	}
	return r
}
