package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedCatalogRenders(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := c.Render("duel.solved", map[string]any{
		"User": "alice", "Problem": "1850A", "Elapsed": "5m12s", "Delta": "+25",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out == "" {
		t.Fatalf("empty render")
	}
	for _, key := range []string{"duel.started", "duel.completed", "duel.cancelled", "duel.streak", "handle.linked", "rating.show", "help.text"} {
		if !c.Has(key) {
			t.Fatalf("missing embedded key %s", key)
		}
	}
}

func TestRenderMissingKeyFails(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Render("duel.nope", nil); err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if _, err := c.Render("handle.linked", map[string]any{"User": "a"}); err == nil {
		t.Fatalf("expected error for missing data field")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "override.yaml"),
		[]byte("duel:\n  no_active: \"nothing running\"\n"), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := c.Render("duel.no_active", nil)
	if err != nil || out != "nothing running" {
		t.Fatalf("override not applied: %q %v", out, err)
	}
	// untouched keys keep their defaults
	if !c.Has("duel.started") {
		t.Fatalf("default keys must survive overrides")
	}
}

func TestBrokenOverrideFailsAtLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"),
		[]byte("duel:\n  started: \"{{.Unclosed\"\n"), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected load failure for a broken template")
	}
}
