// Package pdf reads page-level plain text from PDF files.
package pdf

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lpdf "github.com/ledongthuc/pdf"
)

// Page is the plain text of one page. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// File is a PDF on disk whose text is extracted on first use.
type File struct {
	path string

	mu    sync.Mutex
	pages []Page
}

// NewFile returns a lazily loaded PDF source for path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the file path the document was opened with.
func (f *File) Path() string {
	return f.path
}

// Pages extracts the text of every non-empty page. A successful read is
// cached; a failed one is retried on the next call.
func (f *File) Pages(ctx context.Context) ([]Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pages != nil {
		return f.pages, nil
	}
	pages, err := readPages(ctx, f.path)
	if err != nil {
		return nil, err
	}
	f.pages = pages
	return pages, nil
}

// Text joins all pages with blank lines, mainly for explain context.
func (f *File) Text(ctx context.Context) (string, error) {
	pages, err := f.Pages(ctx)
	if err != nil {
		return "", err
	}
	return JoinPages(pages), nil
}

func readPages(ctx context.Context, path string) ([]Page, error) {
	file, reader, err := lpdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf %s: %w", path, err)
	}
	defer file.Close()

	total := reader.NumPage()
	pages := make([]Page, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}

	return pages, nil
}

// Memory is an in-memory document, useful for hosts that already hold the text.
type Memory struct {
	Name      string
	PageTexts []string
}

// Path returns the document name.
func (m *Memory) Path() string {
	return m.Name
}

// Pages numbers PageTexts from 1, skipping blank pages.
func (m *Memory) Pages(ctx context.Context) ([]Page, error) {
	pages := make([]Page, 0, len(m.PageTexts))
	for i, text := range m.PageTexts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: i + 1, Text: text})
	}
	return pages, nil
}

// JoinPages concatenates page texts separated by blank lines.
func JoinPages(pages []Page) string {
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	return strings.Join(texts, "\n\n")
}
