package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/cmd/pdfchat/internal"
	"github.com/DreamCats/pdfchat/internal/chat"
	"github.com/DreamCats/pdfchat/internal/pdf"
)

// handleAsk implements the ask subcommand
func handleAsk(a *app, args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	stream := fs.Bool("stream", false, "Print the answer as it is generated")
	showSources := fs.Bool("sources", false, "Print the retrieved chunks after the answer")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    pdfchat ask [options] <file.pdf> <question>

DESCRIPTION:
    Answer one question about a document. The document is indexed first if needed.

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
    pdfchat ask paper.pdf "What is the main contribution?"
    pdfchat ask -stream paper.pdf "Summarize the conclusion"
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
	question := strings.Join(fs.Args()[1:], " ")

	p := a.pipeline(path)
	defer p.Close()
	if err := p.Rebuild(a.ctx); err != nil {
		logrus.Fatalf("Failed to prepare document: %v", err)
	}

	if *stream {
		chunks, err := p.AskStreaming(a.ctx, question)
		if err != nil {
			logrus.Fatalf("Ask failed: %v", err)
		}
		for c := range chunks {
			if c.Err != nil {
				fmt.Println()
				logrus.Fatalf("Ask failed: %v", c.Err)
			}
			fmt.Print(c.Content)
		}
		fmt.Println()
	} else {
		stop := internal.StartSpinner(a.progress, "thinking")
		answer, err := p.Ask(a.ctx, question)
		stop()
		if err != nil {
			logrus.Fatalf("Ask failed: %v", err)
		}
		fmt.Println(answer)
	}

	if *showSources {
		printSources(p, a, question)
	}
}

func printSources(p *chat.Pipeline, a *app, question string) {
	results, err := p.Retrieve(a.ctx, question)
	if err != nil {
		a.log.WithError(err).Warn("failed to retrieve sources")
		return
	}
	fmt.Println("\n📚 Sources:")
	for _, r := range results {
		fmt.Printf("   [page %d] %s\n", r.Page, snippet(r.Content, 120))
	}
}

// snippet flattens whitespace and cuts s to at most n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
