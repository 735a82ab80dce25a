package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/cmd/pdfchat/internal"
	"github.com/DreamCats/pdfchat/internal/fingerprint"
	"github.com/DreamCats/pdfchat/internal/pdf"
)

// handleIndex implements the index subcommand
func handleIndex(a *app, args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	force := fs.Bool("force", false, "Discard existing indexes and rebuild")
	noProgress := fs.Bool("no-progress", false, "Disable the progress bar")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    pdfchat index [options] <file.pdf | pattern>...

DESCRIPTION:
    Embed PDF documents so they can be queried.
    For each document this will:
      1. Extract the text of every page
      2. Split it into overlapping chunks
      3. Embed the chunks and store them under database.root/<fingerprint>
    Documents that are already indexed are skipped unless -force is given.

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
    # Index one document
    pdfchat index book.pdf

    # Index a directory tree
    pdfchat index "library/**/*.pdf"

    # Rebuild after changing the embedding model
    pdfchat index -force book.pdf
`)
	}

	if err := fs.Parse(args); err != nil {
		logrus.Fatalf("Failed to parse arguments: %v", err)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(1)
	}
	if *noProgress {
		a.progress = false
	}

	docs, err := internal.ExpandDocuments(fs.Args())
	if err != nil {
		logrus.Fatalf("Failed to resolve documents: %v", err)
	}
	if len(docs) == 0 {
		logrus.Fatal("No PDF documents matched")
	}

	emb, err := a.embedder()
	if err != nil {
		logrus.Fatalf("Failed to create embedder: %v", err)
	}

	indexes := a.store()
	failed := 0
	for _, path := range docs {
		fp := fingerprint.Of(path)
		if indexes.Exists(fp) && !*force {
			fmt.Printf("✓ %s (already indexed)\n", path)
			continue
		}

		fmt.Printf("🏗️  Building index for: %s\n", path)
		start := time.Now()
		src := pdf.NewFile(path)
		if *force {
			_, err = indexes.Rebuild(a.ctx, fp, src, emb)
		} else {
			_, err = indexes.Resolve(a.ctx, fp, src, emb)
		}
		if err != nil {
			failed++
			a.log.WithError(err).WithField("path", path).Error("indexing failed")
			continue
		}

		stats, err := indexes.Stats(fp)
		if err != nil {
			logrus.Fatalf("Failed to read index stats: %v", err)
		}
		fmt.Printf("✅ %s\n", path)
		fmt.Printf("   Duration:  %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Chunks:    %6d\n", stats.Chunks)
		fmt.Printf("   Dimension: %6d\n", stats.Dimension)
		fmt.Printf("   Index:     %s\n", stats.Dir)
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "\n%d of %d documents failed\n", failed, len(docs))
		os.Exit(1)
	}
}
