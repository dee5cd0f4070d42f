package admin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nilsbr/rushd/internal/backend"
)

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestParseManifestDecodesEntries(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
backends:
  - name: blog
    tls: true
    auto_start: true
  - name: status
    doc_root: /srv/status
`)

	m, err := ParseManifest(path)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(m.Backends) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(m.Backends))
	}
	if m.Backends[0].Name != "blog" || !m.Backends[0].TLS || !m.Backends[0].AutoStart {
		t.Fatalf("unexpected first entry: %+v", m.Backends[0])
	}
	if m.Backends[1].DocRoot != "/srv/status" {
		t.Fatalf("unexpected second entry: %+v", m.Backends[1])
	}
}

func TestParseManifestMissingFile(t *testing.T) {
	if _, err := ParseManifest(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing manifest")
	}
}

func TestParseManifestInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "backends: [this is not a valid list of maps")

	if _, err := ParseManifest(path); err == nil {
		t.Fatalf("expected error for malformed manifest")
	}
}

func TestImportCreatesEveryBackendAndFlagsAutoStart(t *testing.T) {
	m := testManager(t)
	manifest := Manifest{Backends: []ManifestEntry{
		{Name: "blog", TLS: true, AutoStart: true},
		{Name: "status"},
	}}

	res := Import(context.Background(), m, manifest)
	if !res.OK {
		t.Fatalf("expected OK, got message %q", res.Message)
	}
	if len(res.Backends) != 2 {
		t.Fatalf("expected 2 created backends, got %d", len(res.Backends))
	}

	all := m.List()
	if len(all) != 2 {
		t.Fatalf("expected 2 backends in registry, got %d", len(all))
	}

	var blog backend.Backend
	for _, b := range all {
		if b.Name == "blog" {
			blog = b
		}
	}
	if !blog.AutoStart {
		t.Fatalf("expected blog to be flagged auto-start")
	}
}

func TestImportPartialFailureContinuesAndReportsFailures(t *testing.T) {
	m := testManager(t)
	Dispatch(context.Background(), m, "create dup")

	manifest := Manifest{Backends: []ManifestEntry{
		{Name: "dup"},
		{Name: "fresh"},
	}}

	res := Import(context.Background(), m, manifest)
	if res.OK {
		t.Fatalf("expected failure reported for duplicate entry")
	}
	if len(res.Backends) != 1 || res.Backends[0].Name != "fresh" {
		t.Fatalf("expected only fresh to be created, got %+v", res.Backends)
	}
	if res.Message == "" {
		t.Fatalf("expected a failure message")
	}
}

func TestImportYieldsAcrossLargeManifests(t *testing.T) {
	m := testManager(t)
	entries := make([]ManifestEntry, 0, bulkYieldChunk*2+3)
	for i := 0; i < bulkYieldChunk*2+3; i++ {
		entries = append(entries, ManifestEntry{Name: "site" + string(rune('a'+i))})
	}

	res := Import(context.Background(), m, Manifest{Backends: entries})
	if !res.OK {
		t.Fatalf("expected OK, got message %q", res.Message)
	}
	if len(res.Backends) != len(entries) {
		t.Fatalf("expected %d created backends, got %d", len(entries), len(res.Backends))
	}
}

func TestDispatchImportWiresThroughDispatch(t *testing.T) {
	m := testManager(t)
	dir := t.TempDir()
	path := writeManifest(t, dir, `
backends:
  - name: blog
    auto_start: true
`)

	res := Dispatch(context.Background(), m, "import "+path)
	if !res.OK {
		t.Fatalf("expected OK, got message %q", res.Message)
	}
	if len(res.Backends) != 1 || res.Backends[0].Name != "blog" {
		t.Fatalf("unexpected backends: %+v", res.Backends)
	}
}

func TestDispatchImportRequiresPath(t *testing.T) {
	m := testManager(t)
	res := Dispatch(context.Background(), m, "import")
	if res.OK {
		t.Fatalf("expected failure for missing manifest path")
	}
}

func TestDispatchImportReportsParseError(t *testing.T) {
	m := testManager(t)
	res := Dispatch(context.Background(), m, "import "+filepath.Join(t.TempDir(), "missing.yaml"))
	if res.OK {
		t.Fatalf("expected failure for unreadable manifest")
	}
}
