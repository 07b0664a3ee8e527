package archive

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// initGitRemote creates a bare remote with a main branch and returns a
// working clone configured for commits.
func initGitRemote(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}

	remoteDir := t.TempDir()
	run(t, remoteDir, "git", "init", "--bare")

	workDir := t.TempDir()
	run(t, workDir, "git", "clone", remoteDir, "repo")
	repoDir := filepath.Join(workDir, "repo")

	// Git needs user identity for commits.
	run(t, repoDir, "git", "config", "user.email", "test@test.com")
	run(t, repoDir, "git", "config", "user.name", "Test")
	run(t, repoDir, "git", "branch", "-m", "main")

	// Create an initial commit so the branch exists.
	initFile := filepath.Join(repoDir, ".gitkeep")
	if err := os.WriteFile(initFile, []byte(""), 0o644); err != nil {
		t.Fatalf("write .gitkeep: %v", err)
	}
	run(t, repoDir, "git", "add", ".")
	run(t, repoDir, "git", "commit", "-m", "init")
	run(t, repoDir, "git", "push", "origin", "main")

	return repoDir
}

func TestGitDestination(t *testing.T) {
	repoDir := initGitRemote(t)
	dest := NewGitDestination(repoDir, "requests.jsonl", "main")

	// First batch.
	batch1 := []byte(`{"version":"1","type":"header"}` + "\n")
	if err := dest.Write(context.Background(), batch1); err != nil {
		t.Fatalf("first write: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(repoDir, "requests.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(got) != string(batch1) {
		t.Fatalf("file content mismatch: got %q", string(got))
	}

	// Second batch appends rather than overwrites.
	batch2 := []byte(`{"type":"request","data":{}}` + "\n")
	if err := dest.Write(context.Background(), batch2); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err = os.ReadFile(filepath.Join(repoDir, "requests.jsonl"))
	if err != nil {
		t.Fatalf("read file after append: %v", err)
	}
	want := string(batch1) + string(batch2)
	if string(got) != want {
		t.Fatalf("file content after append: got %q, want %q", string(got), want)
	}
}

func TestGitDestination_SubDirectory(t *testing.T) {
	repoDir := initGitRemote(t)
	dest := NewGitDestination(repoDir, "audit/requests.jsonl", "main")

	data := []byte(`{"type":"header"}` + "\n")
	if err := dest.Write(context.Background(), data); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(repoDir, "audit", "requests.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("content mismatch: got %q", string(got))
	}
}

func run(t *testing.T, dir string, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("%s %v failed: %v", name, args, err)
	}
}
