package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildSystemPrompt(t *testing.T) {
	root := t.TempDir()
	scripts := filepath.Join(root, "ai_models", "scripts")
	if err := os.MkdirAll(scripts, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := BuildSystemPrompt("", scripts)
	if err != nil {
		t.Fatalf("BuildSystemPrompt() error: %v", err)
	}
	if got != basePrompt {
		t.Error("without SKILL.md the base prompt should be returned unchanged")
	}

	skill := "---\nname: ai_models\ndescription: run models\n---\n\n# AI Models\nUse flux.\n"
	if err := os.WriteFile(filepath.Join(root, "ai_models", SkillFile), []byte(skill), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = BuildSystemPrompt("custom", scripts)
	if err != nil {
		t.Fatalf("BuildSystemPrompt() error: %v", err)
	}
	if !strings.HasPrefix(got, "custom\n---\n") {
		t.Errorf("prompt should start with the override, got %q", got)
	}
	if !strings.HasSuffix(got, "# AI Models\nUse flux.") {
		t.Errorf("skill body missing, got %q", got)
	}
	if strings.Contains(got, "description: run models") {
		t.Error("frontmatter should be stripped")
	}
}

func TestLoadSystemPrompt_MissingFile(t *testing.T) {
	if _, err := LoadSystemPrompt(filepath.Join(t.TempDir(), "nope.md"), ""); err == nil {
		t.Error("missing prompt file should fail")
	}
}

func TestStripFrontmatter(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"---\na: b\n---\nbody", "body"},
		{"---\nunterminated", "---\nunterminated"},
	}
	for _, tt := range tests {
		if got := stripFrontmatter(tt.in); got != tt.want {
			t.Errorf("stripFrontmatter(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
