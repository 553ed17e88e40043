package content

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsCompile(t *testing.T) {
	pats := Defaults()
	if pats.navTokens == nil || pats.footerPhrases == nil {
		t.Fatal("embedded defaults missing core patterns")
	}
	if len(pats.CaptchaSelectors()) == 0 {
		t.Error("embedded defaults have no CAPTCHA selectors")
	}
	if len(pats.contentTypes) != 5 {
		t.Errorf("content type sets = %d, want 5", len(pats.contentTypes))
	}
}

func TestCompileSkipsInvalidPatterns(t *testing.T) {
	pats := compile(PatternSet{
		Meaningful: []string{`\b(valid)\b`, `[unclosed`},
		ContentTypes: map[string][]string{
			"news": {`\bnews\b`, `(?P<broken`},
		},
	})
	if len(pats.meaningful) != 1 {
		t.Errorf("meaningful patterns = %d, want the invalid one skipped", len(pats.meaningful))
	}
	if len(pats.contentTypes["news"]) != 1 {
		t.Errorf("news patterns = %d, want the invalid one skipped", len(pats.contentTypes["news"]))
	}
}

func TestManagerServesDefaultsWithoutPath(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()
	if m.Active() != Defaults() {
		t.Error("empty path should serve the embedded defaults")
	}
}

func TestManagerMergesOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	override := "nav_tokens:\n  - CUSTOMNAV\ncaptcha_phrases:\n  - custom challenge phrase\n"
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path, false)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	pats := m.Active()
	got := Normalize(pats, "CUSTOMNAV real content stays")
	if strings.Contains(got, "CUSTOMNAV") {
		t.Errorf("override nav token not stripped: %q", got)
	}
	// Overridden field replaces the embedded list entirely.
	if flagged, _ := DetectCaptchaText(pats, strings.Repeat("word ", 120)+"recaptcha"); flagged {
		t.Error("embedded phrase should be gone after override")
	}
	if flagged, _ := DetectCaptchaText(pats, strings.Repeat("word ", 120)+"custom challenge phrase"); !flagged {
		t.Error("override phrase not applied")
	}
	// Untouched fields keep their defaults.
	if len(pats.CaptchaSelectors()) == 0 {
		t.Error("unset override field should fall back to defaults")
	}
}

func TestManagerKeepsDefaultsOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	if err := os.WriteFile(path, []byte(":\nnot yaml at all ["), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path, false)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if m.Active() != Defaults() {
		t.Error("broken override file should leave the defaults active")
	}
	if stats := m.Stats(); stats["last_error"] == "" {
		t.Error("parse failure should be recorded in stats")
	}
}
