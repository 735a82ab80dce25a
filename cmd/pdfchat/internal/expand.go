package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/DreamCats/pdfchat/internal/pdf"
)

// ExpandDocuments resolves file arguments, which may be doublestar globs
// such as "papers/**/*.pdf", to a sorted, de-duplicated list of absolute paths.
func ExpandDocuments(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	add := func(path string) error {
		abs, err := pdf.AbsPath(path)
		if err != nil {
			return err
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
		return nil
	}

	for _, arg := range args {
		if !strings.ContainsAny(arg, "*?[{") {
			if err := add(arg); err != nil {
				return nil, err
			}
			continue
		}

		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			fmt.Fprintf(os.Stderr, "Warning: pattern %q matched no files\n", arg)
		}
		for _, m := range matches {
			if !strings.EqualFold(filepath.Ext(m), ".pdf") {
				continue
			}
			if err := add(m); err != nil {
				return nil, err
			}
		}
	}

	sort.Strings(out)
	return out, nil
}
