package internal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandDocuments(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"a.pdf",
		"notes.txt",
		filepath.Join("sub", "b.pdf"),
		filepath.Join("sub", "deep", "c.PDF"),
	}
	for _, f := range files {
		path := filepath.Join(dir, f)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"plain file", []string{filepath.Join(dir, "a.pdf")}, 1},
		{"recursive glob", []string{filepath.Join(dir, "**", "*.pdf")}, 2},
		{"any extension case", []string{filepath.Join(dir, "**", "*")}, 3},
		{"duplicates collapse", []string{filepath.Join(dir, "a.pdf"), filepath.Join(dir, "*.pdf")}, 1},
		{"no match", []string{filepath.Join(dir, "*.epub")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandDocuments(tt.args)
			if err != nil {
				t.Fatalf("ExpandDocuments() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("ExpandDocuments() = %v, want %d files", got, tt.want)
			}
		})
	}

	if _, err := ExpandDocuments([]string{filepath.Join(dir, "missing.pdf")}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "doc"},
		{"My Book (2nd ed)", "My_Book__2nd_ed_"},
		{"paper-v1.2", "paper-v1.2"},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
