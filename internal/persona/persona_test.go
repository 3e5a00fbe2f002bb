// ABOUTME: Tests for persona loading
// ABOUTME: Covers TOML parsing, env expansion, defaults and validation

package persona

import (
	"os"
	"path/filepath"
	"testing"
)

func writePersona(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "persona.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing persona file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writePersona(t, `
[bot]
name = "ivy"
aliases = ["iv"]

[personality]
prompt = ["You are ivy.", "You like tea."]
reply_style = "short"

[followup]
prompt_template = "Should ivy reply? yes or no."
`)

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if p.Bot.Name != "ivy" {
		t.Errorf("name: got %q", p.Bot.Name)
	}
	if got := p.Names(); len(got) != 2 || got[1] != "iv" {
		t.Errorf("Names: got %v", got)
	}
	if p.PromptHeader() != "You are ivy.\nYou like tea." {
		t.Errorf("PromptHeader: got %q", p.PromptHeader())
	}
	if p.FollowUpPrompt() != "Should ivy reply? yes or no." {
		t.Errorf("FollowUpPrompt: got %q", p.FollowUpPrompt())
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("LINGER_TEST_NAME", "echo")
	path := writePersona(t, `
[bot]
name = "${LINGER_TEST_NAME}"

[personality]
prompt = ["hi"]
`)

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.Bot.Name != "echo" {
		t.Errorf("expected env-expanded name, got %q", p.Bot.Name)
	}
}

func TestLoadRequiresName(t *testing.T) {
	path := writePersona(t, `
[personality]
prompt = ["hi"]

[bot]
name = ""
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing bot name")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultFollowUpPromptUsesBotName(t *testing.T) {
	p := Default()
	p.Bot.Name = "ivy"
	got := p.FollowUpPrompt()
	if got == "" {
		t.Fatal("expected a default prompt")
	}
	if want := "You are ivy"; got[:len(want)] != want {
		t.Errorf("expected prompt to open with %q, got %q", want, got)
	}
}

func TestStarterFileParses(t *testing.T) {
	path := writePersona(t, StarterFile)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("starter persona should load cleanly: %v", err)
	}
	if p.Bot.Name != "linger" {
		t.Errorf("starter name: got %q", p.Bot.Name)
	}
}
