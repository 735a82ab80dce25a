package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/internal/fingerprint"
	"github.com/DreamCats/pdfchat/internal/pdf"
	"github.com/DreamCats/pdfchat/internal/vectorindex"
)

// handleSearch implements the search subcommand
func handleSearch(a *app, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	topK := fs.Int("k", 0, "Number of chunks to return (default: search.top_k)")
	keywordOnly := fs.Bool("keyword-only", false, "Use keyword search only")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	verbose := fs.Bool("v", false, "Show per-signal scores")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    pdfchat search [options] <file.pdf> <query>

DESCRIPTION:
    Show the chunks that would be handed to the chat model for a query.

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
    pdfchat search -k 5 paper.pdf "training data"
    pdfchat search -keyword-only -json paper.pdf "ResNet"
`)
	}

	if err := fs.Parse(args); err != nil {
		logrus.Fatalf("Failed to parse arguments: %v", err)
	}
	if fs.NArg() < 2 {
		fs.Usage()
		os.Exit(1)
	}

	path, err := pdf.AbsPath(fs.Arg(0))
	if err != nil {
		logrus.Fatalf("Failed to resolve document: %v", err)
	}
	query := strings.Join(fs.Args()[1:], " ")

	k := *topK
	if k <= 0 {
		k = a.provider.Current().Search.TopK
	}

	emb, err := a.embedder()
	if err != nil {
		logrus.Fatalf("Failed to create embedder: %v", err)
	}
	idx, err := a.store().Resolve(a.ctx, fingerprint.Of(path), pdf.NewFile(path), emb)
	if err != nil {
		logrus.Fatalf("Failed to open index: %v", err)
	}

	var results []vectorindex.Result
	if *keywordOnly {
		results, err = idx.KeywordSearch(query, k)
	} else {
		results, err = idx.Search(a.ctx, query, k)
	}
	if err != nil {
		logrus.Fatalf("Search failed: %v", err)
	}

	if *jsonOutput {
		outputJSON(results, query)
	} else {
		outputText(results, query, *verbose)
	}
}

// outputText outputs search results as human-readable text
func outputText(results []vectorindex.Result, query string, verbose bool) {
	if len(results) == 0 {
		fmt.Println("No results found")
		return
	}

	fmt.Printf("Found %d result(s) for: %s\n\n", len(results), query)

	for i, r := range results {
		fmt.Printf("%d. Page %d, chunk %d\n", i+1, r.Page, r.Seq)
		if verbose {
			if r.VectorScore > 0 {
				fmt.Printf("   Vector:  %.3f\n", r.VectorScore)
			}
			if r.KeywordScore > 0 {
				fmt.Printf("   Keyword: %.3f\n", r.KeywordScore)
			}
			fmt.Printf("   Score:   %.3f\n", r.Score)
		}
		fmt.Printf("   %s\n\n", snippet(r.Content, 200))
	}
}

// outputJSON outputs search results as JSON
func outputJSON(results []vectorindex.Result, query string) {
	output := map[string]interface{}{
		"query":   query,
		"count":   len(results),
		"results": results,
	}

	jsonData, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		logrus.Fatalf("Failed to marshal results: %v", err)
	}

	fmt.Println(string(jsonData))
}
