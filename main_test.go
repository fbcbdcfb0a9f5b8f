package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgnsrekt/readaloud/internal/synth"
)

func TestSourceFromArgs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(file, []byte("# Title\n\nBody."), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		args      []string
		wantText  string
		wantTitle string
		wantErr   bool
	}{
		{"literal words", []string{"Hello", "world."}, "Hello world.", "", false},
		{"literal sentence", []string{"Not a file."}, "Not a file.", "", false},
		{"file", []string{file}, "# Title\n\nBody.", file, false},
		{"directory", []string{dir}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := sourceFromArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if src.text != tt.wantText {
				t.Errorf("text = %q, want %q", src.text, tt.wantText)
			}
			if src.title != tt.wantTitle {
				t.Errorf("title = %q, want %q", src.title, tt.wantTitle)
			}
		})
	}
}

func TestIsMarkdownFile(t *testing.T) {
	for name, want := range map[string]bool{
		"README.md":    true,
		"doc.MARKDOWN": true,
		"notes.txt":    false,
		"":             false,
	} {
		if got := isMarkdownFile(name); got != want {
			t.Errorf("isMarkdownFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestFilterVoices(t *testing.T) {
	voices := []synth.Voice{
		{ID: "af_bella", Name: "Bella", Language: "en-US"},
		{ID: "bf_emma", Name: "Emma", Language: "en-GB"},
		{ID: "jf_alpha", Name: "Alpha", Language: "ja"},
	}

	got := filterVoices(voices, "emma")
	if len(got) != 1 || got[0].ID != "bf_emma" {
		t.Errorf("filterVoices(emma) = %v", got)
	}
	if got := filterVoices(voices, "zzz"); len(got) != 0 {
		t.Errorf("filterVoices(zzz) = %v", got)
	}
}

func TestFormatVoice(t *testing.T) {
	line := formatVoice(synth.Voice{ID: "af_bella", Name: "Bella", Language: "en-US"}, "af_bella")
	if !strings.HasPrefix(line, "* ") {
		t.Errorf("current voice not marked: %q", line)
	}
	if !strings.Contains(line, "Bella") || !strings.Contains(line, "en-US") {
		t.Errorf("details missing: %q", line)
	}

	line = formatVoice(synth.Voice{ID: "plain"}, "af_bella")
	if line != "  plain" {
		t.Errorf("formatVoice = %q", line)
	}
}
