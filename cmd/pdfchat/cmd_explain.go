package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/internal/explain"
	"github.com/DreamCats/pdfchat/internal/llm"
	"github.com/DreamCats/pdfchat/internal/logging"
	"github.com/DreamCats/pdfchat/internal/pdf"
	"github.com/DreamCats/pdfchat/internal/vectorindex"
)

// handleExplain implements the explain subcommand
func handleExplain(a *app, args []string) {
	fs := flag.NewFlagSet("explain", flag.ExitOnError)
	modeFlag := fs.String("mode", "target", "Answer language: target or mother")
	contextFile := fs.String("context", "", "File holding the surrounding text (- for stdin)")
	doc := fs.String("doc", "", "PDF to retrieve the surrounding text from")
	noStream := fs.Bool("no-stream", false, "Print the explanation only when complete")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    pdfchat explain [options] <word or phrase>

DESCRIPTION:
    Explain a word or phrase as it is used in its context.
    The context comes from -context, or is retrieved from -doc.
    Press Ctrl-C to stop a running explanation.

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
    pdfchat explain -doc novel.pdf "flâner"
    pdfchat explain -mode mother -context paragraph.txt "nevertheless"
    echo "Il pleut des cordes." | pdfchat explain -context - "des cordes"
`)
	}

	if err := fs.Parse(args); err != nil {
		logrus.Fatalf("Failed to parse arguments: %v", err)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(1)
	}
	selected := strings.Join(fs.Args(), " ")

	mode, err := explain.ParseMode(*modeFlag)
	if err != nil {
		logrus.Fatalf("Invalid mode: %v", err)
	}

	var passage string
	switch {
	case *contextFile == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			logrus.Fatalf("Failed to read context: %v", err)
		}
		passage = string(data)
	case *contextFile != "":
		data, err := os.ReadFile(*contextFile)
		if err != nil {
			logrus.Fatalf("Failed to read context: %v", err)
		}
		passage = string(data)
	case *doc != "":
		passage = retrieveContext(a, *doc, selected)
	default:
		logrus.Fatal("Either -context or -doc is required")
	}

	opts := []explain.Option{
		explain.OnFragment(func(f string) { fmt.Print(f) }),
		explain.WithLogger(logging.For("explain")),
		explain.WithMetrics(a.metrics),
	}
	if *noStream {
		opts = append(opts, explain.WithStream(false))
	}
	task := explain.New(a.provider, llm.New, explain.Request{
		Selected: selected,
		Context:  passage,
		Mode:     mode,
	}, opts...)

	if state := runExplain(a, task); state == explain.StateFailed {
		os.Exit(1)
	}
}

func retrieveContext(a *app, doc, selected string) string {
	path, err := pdf.AbsPath(doc)
	if err != nil {
		logrus.Fatalf("Failed to resolve document: %v", err)
	}
	p := a.pipeline(path)
	defer p.Close()
	if err := p.Rebuild(a.ctx); err != nil {
		logrus.Fatalf("Failed to prepare document: %v", err)
	}
	results, err := p.Retrieve(a.ctx, selected)
	if err != nil {
		logrus.Fatalf("Failed to retrieve context: %v", err)
	}
	return strings.Join(vectorindex.Contents(results), "\n\n")
}

// runExplain starts task and waits for it, cancelling it on Ctrl-C.
func runExplain(a *app, task *explain.Task) explain.State {
	task.Start(a.ctx)
	select {
	case <-task.Done():
	case <-a.ctx.Done():
		task.Cancel()
		<-task.Done()
	}
	fmt.Println()

	switch state := task.State(); state {
	case explain.StateFailed:
		if err := task.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
		}
		return state
	case explain.StateCancelled:
		fmt.Fprintln(os.Stderr, "(cancelled)")
		return state
	default:
		return state
	}
}
