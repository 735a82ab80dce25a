package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/cmd/pdfchat/internal"
	"github.com/DreamCats/pdfchat/internal/fingerprint"
	"github.com/DreamCats/pdfchat/internal/vectorindex"
)

// handleStats implements the stats subcommand
func handleStats(a *app, args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	var jsonOutput bool
	fs.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    pdfchat stats [options] [<file.pdf | pattern>...]

DESCRIPTION:
    Show statistics about indexed documents. Without arguments every index
    under database.root is listed.

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
    pdfchat stats
    pdfchat stats -json book.pdf
`)
	}

	if err := fs.Parse(args); err != nil {
		logrus.Fatalf("Failed to parse arguments: %v", err)
	}

	indexes := a.store()
	var fps []string
	if fs.NArg() > 0 {
		docs, err := internal.ExpandDocuments(fs.Args())
		if err != nil {
			logrus.Fatalf("Failed to resolve documents: %v", err)
		}
		for _, doc := range docs {
			fps = append(fps, fingerprint.Of(doc))
		}
	} else {
		var err error
		fps, err = indexes.Fingerprints()
		if err != nil {
			logrus.Fatalf("Failed to list indexes: %v", err)
		}
	}

	all := make([]*vectorindex.Stats, 0, len(fps))
	for _, fp := range fps {
		stats, err := indexes.Stats(fp)
		if err != nil {
			a.log.WithError(err).WithField("fingerprint", fp).Warn("no index")
			continue
		}
		all = append(all, stats)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(all, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	if len(all) == 0 {
		fmt.Println("No indexes found")
		return
	}
	fmt.Println("📊 Index Statistics")
	for _, st := range all {
		fmt.Println()
		fmt.Printf("Document:   %s\n", st.SourcePath)
		fmt.Printf("Chunks:     %6d\n", st.Chunks)
		fmt.Printf("Dimension:  %6d\n", st.Dimension)
		fmt.Printf("Model:      %s\n", st.Model)
		fmt.Printf("Built:      %s\n", st.BuiltAt.Local().Format(time.DateTime))
		fmt.Printf("Size:       %.1f KB\n", float64(st.SizeBytes)/1024)
		if reason := st.StaleReason(st.SourcePath); reason != "" {
			fmt.Printf("Stale:      %s\n", reason)
		}
	}
}
