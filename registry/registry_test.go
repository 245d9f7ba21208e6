package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "registry.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func writeCSV(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
}

func TestLoad_BuildsRegistryAndComputesMissingVersionHash(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "tickets.csv", "id,status\n1,open\n")

	manifest := `[{
		"id": "support",
		"name": "Support tickets",
		"files": [{"name": "tickets", "path": "tickets.csv", "schema": [{"column": "id", "type": "int"}]}],
		"example_prompts": ["how many open tickets"]
	}]`
	path := writeManifest(t, dir, manifest)

	r, err := Load(path, dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	d, ok := r.Get("support")
	if !ok {
		t.Fatal("expected dataset \"support\" to be registered")
	}
	if d.VersionHash == "" {
		t.Error("expected a computed version hash")
	}
}

func TestLoad_RespectsDeclaredVersionHash(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "tickets.csv", "id,status\n1,open\n")

	manifest := `[{
		"id": "support",
		"name": "Support tickets",
		"files": [{"name": "tickets", "path": "tickets.csv", "schema": [{"column": "id", "type": "int"}]}],
		"version_hash": "sha256:pinned"
	}]`
	path := writeManifest(t, dir, manifest)

	r, err := Load(path, dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d, _ := r.Get("support")
	if d.VersionHash != "sha256:pinned" {
		t.Errorf("VersionHash = %q, want sha256:pinned", d.VersionHash)
	}
}

func TestLoad_RejectsMissingFile(t *testing.T) {
	dir := t.TempDir()
	manifest := `[{
		"id": "support",
		"name": "Support tickets",
		"files": [{"name": "tickets", "path": "tickets.csv", "schema": []}]
	}]`
	path := writeManifest(t, dir, manifest)

	if _, err := Load(path, dir); err == nil {
		t.Fatal("expected error for a manifest referencing a missing file")
	}
}

func TestLoad_RejectsDuplicateDatasetID(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "a.csv", "x\n1\n")
	manifest := `[
		{"id": "dup", "name": "A", "files": [{"name": "a", "path": "a.csv", "schema": []}]},
		{"id": "dup", "name": "B", "files": [{"name": "a", "path": "a.csv", "schema": []}]}
	]`
	path := writeManifest(t, dir, manifest)

	if _, err := Load(path, dir); err == nil {
		t.Fatal("expected error for duplicate dataset id")
	}
}

func TestList_ReturnsSortedByID(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "a.csv", "x\n1\n")
	manifest := `[
		{"id": "zebra", "name": "Z", "files": [{"name": "a", "path": "a.csv", "schema": []}]},
		{"id": "apple", "name": "A", "files": [{"name": "a", "path": "a.csv", "schema": []}]}
	]`
	path := writeManifest(t, dir, manifest)

	r, err := Load(path, dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := r.List()
	if len(got) != 2 || got[0].ID != "apple" || got[1].ID != "zebra" {
		t.Errorf("List() ids = %v, want [apple zebra]", []string{got[0].ID, got[1].ID})
	}
}

func TestResolvePath_JoinsDatasetsRoot(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "tickets.csv", "id\n1\n")
	manifest := `[{"id": "support", "name": "S", "files": [{"name": "tickets", "path": "tickets.csv", "schema": []}]}]`
	path := writeManifest(t, dir, manifest)

	r, err := Load(path, dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	resolved, err := r.ResolvePath("support", "tickets")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if resolved != filepath.Join(dir, "tickets.csv") {
		t.Errorf("ResolvePath() = %q, want %q", resolved, filepath.Join(dir, "tickets.csv"))
	}
}

func TestResolvePath_UnknownDatasetReturnsError(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "a.csv", "x\n1\n")
	manifest := `[{"id": "support", "name": "S", "files": [{"name": "a", "path": "a.csv", "schema": []}]}]`
	path := writeManifest(t, dir, manifest)

	r, err := Load(path, dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := r.ResolvePath("missing", "a"); err == nil {
		t.Fatal("expected error for unknown dataset id")
	}
}
