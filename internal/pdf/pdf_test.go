package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writePDF writes a one-page PDF showing text in Helvetica.
func writePDF(t *testing.T, path, text string) {
	t.Helper()

	content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFilePages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.pdf")
	writePDF(t, path, "Bonjour tout le monde")

	pages, err := NewFile(path).Pages(context.Background())
	if err != nil {
		t.Fatalf("Pages() error = %v", err)
	}
	if len(pages) != 1 || pages[0].Number != 1 {
		t.Fatalf("pages = %+v", pages)
	}
	if !strings.Contains(pages[0].Text, "Bonjour tout le monde") {
		t.Errorf("page text = %q", pages[0].Text)
	}
}

func TestFileRetriesAfterFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.pdf")
	f := NewFile(path)
	ctx := context.Background()

	if _, err := f.Pages(ctx); err == nil {
		t.Fatal("Pages() error = nil, want error for missing file")
	}

	writePDF(t, path, "Bonjour")
	pages, err := f.Pages(ctx)
	if err != nil {
		t.Fatalf("Pages() after the file appeared error = %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("len(pages) = %d, want 1", len(pages))
	}

	// A successful read is kept.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Pages(ctx); err != nil {
		t.Errorf("Pages() after a successful read error = %v", err)
	}
}

func TestFileCancelledReadIsRetried(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.pdf")
	writePDF(t, path, "Bonjour")
	f := NewFile(path)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Pages(ctx); err == nil {
		t.Fatal("Pages() with a cancelled context error = nil")
	}
	if _, err := f.Pages(context.Background()); err != nil {
		t.Fatalf("Pages() after cancellation error = %v", err)
	}
}

func TestFileNotAPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.pdf")
	if err := os.WriteFile(path, []byte("just some text, no xref here"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(path).Pages(context.Background()); err == nil {
		t.Fatal("Pages() error = nil, want error for non-pdf content")
	}
}

func TestMemoryPages(t *testing.T) {
	m := &Memory{Name: "book", PageTexts: []string{"first", "  ", "third"}}

	pages, err := m.Pages(context.Background())
	if err != nil {
		t.Fatalf("Pages() error = %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("len(pages) = %d, want 2", len(pages))
	}
	if pages[0].Number != 1 || pages[1].Number != 3 {
		t.Errorf("page numbers = %d, %d, want 1, 3", pages[0].Number, pages[1].Number)
	}
	if m.Path() != "book" {
		t.Errorf("Path() = %s", m.Path())
	}
}

func TestJoinPages(t *testing.T) {
	got := JoinPages([]Page{{1, "a"}, {2, "b"}})
	if got != "a\n\nb" {
		t.Errorf("JoinPages() = %q", got)
	}
}

func TestAbsPath(t *testing.T) {
	if _, err := AbsPath(""); err == nil {
		t.Fatal("expected error for empty path")
	}

	dir := t.TempDir()
	real := filepath.Join(dir, "book.pdf")
	if err := os.WriteFile(real, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link.pdf")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	want, err := AbsPath(real)
	if err != nil {
		t.Fatal(err)
	}
	got, err := AbsPath(link)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("AbsPath(link) = %q, want %q", got, want)
	}
	if !filepath.IsAbs(got) {
		t.Errorf("AbsPath() = %q is not absolute", got)
	}
}
