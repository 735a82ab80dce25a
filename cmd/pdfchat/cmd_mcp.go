package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/cmd/pdfchat/internal"
	"github.com/DreamCats/pdfchat/internal/config"
	"github.com/DreamCats/pdfchat/internal/event"
	"github.com/DreamCats/pdfchat/internal/logging"
	"github.com/DreamCats/pdfchat/internal/mcpserver"
	"github.com/DreamCats/pdfchat/internal/pdf"
)

// handleMCP implements the MCP stdio server subcommand
func handleMCP(a *app, args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	doc := fs.String("doc", "", "Default PDF for tool calls without a path")
	noWatch := fs.Bool("no-watch", false, "Do not reload when the config file changes")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    pdfchat mcp [options]

DESCRIPTION:
    Run an MCP stdio server exposing:
      - pdf_ask
      - pdf_explain
      - pdf_search
      - pdf_status

OPTIONS:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		logrus.Fatalf("Failed to parse arguments: %v", err)
	}

	opts := []mcpserver.Option{
		mcpserver.WithVersion(internal.Version),
		mcpserver.WithLogger(logging.For("mcp")),
		mcpserver.WithMetrics(a.metrics),
	}
	if *doc != "" {
		path, err := pdf.AbsPath(*doc)
		if err != nil {
			logrus.Fatalf("Failed to resolve document: %v", err)
		}
		opts = append(opts, mcpserver.WithDefaultDocument(path))
	}

	if !*noWatch {
		changes := event.NewBus[config.Change]()
		watcher, err := config.NewWatcher(a.provider, changes, logging.For("config"))
		if err != nil {
			a.log.WithError(err).Warn("config reload disabled")
		} else {
			defer watcher.Close()
			go func() {
				if err := watcher.Run(a.ctx); err != nil {
					a.log.WithError(err).Warn("config watcher stopped")
				}
			}()
			opts = append(opts, mcpserver.WithConfigChanges(changes))
		}
	}

	server := mcpserver.New(a.provider, a.store(), opts...)
	if err := server.Run(a.ctx); err != nil {
		logrus.Fatalf("MCP server failed: %v", err)
	}
}
